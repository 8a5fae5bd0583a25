// Package commands implements CLI command handlers for vrd.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/vrd/pkg/config"
	"github.com/Sumatoshi-tech/vrd/pkg/observability"
	"github.com/Sumatoshi-tech/vrd/pkg/version"
	"github.com/Sumatoshi-tech/vrd/pkg/vrd"
)

// Persistent flag names.
const (
	flagConfig  = "config"
	flagVerbose = "verbose"
	flagQuiet   = "quiet"
	flagPrefix  = "prefix"
)

var (
	// ErrNoPrefix is returned when neither --prefix nor storage.prefix names an index.
	ErrNoPrefix = errors.New("no index prefix: pass --prefix or set storage.prefix")
	// ErrNoSamples is returned when a command needs at least one sample id.
	ErrNoSamples = errors.New("no samples selected: pass --samples")
)

// session bundles the configuration, telemetry and index of one command run.
type session struct {
	cfg       *config.Config
	providers observability.Providers
	logger    *slog.Logger
	index     *vrd.Index
	prefix    string
}

type sessionOptions struct {
	prometheus bool
}

func openSession(cmd *cobra.Command, opts sessionOptions) (*session, error) {
	configPath, _ := cmd.Flags().GetString(flagConfig)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	obsCfg := cfg.Observability(version.Version)
	obsCfg.Prometheus = opts.prometheus

	if verbose, _ := cmd.Flags().GetBool(flagVerbose); verbose {
		obsCfg.LogLevel = slog.LevelDebug
	}

	if quiet, _ := cmd.Flags().GetBool(flagQuiet); quiet {
		obsCfg.LogLevel = slog.LevelError
	}

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	metrics, err := observability.NewIndexMetrics(providers.Meter)
	if err != nil {
		return nil, errors.Join(err, providers.Shutdown(cmd.Context()))
	}

	index, err := vrd.New(capacities(cfg.Index),
		vrd.WithLogger(providers.Logger),
		vrd.WithMetrics(metrics),
		vrd.WithTracer(providers.Tracer),
		vrd.WithCompression(cfg.Storage.Compress),
	)
	if err != nil {
		return nil, errors.Join(err, providers.Shutdown(cmd.Context()))
	}

	prefix, _ := cmd.Flags().GetString(flagPrefix)
	if prefix == "" {
		prefix = cfg.Storage.Prefix
	}

	return &session{
		cfg:       cfg,
		providers: providers,
		logger:    providers.Logger,
		index:     index,
		prefix:    prefix,
	}, nil
}

func capacities(cfg config.IndexConfig) vrd.Capacities {
	return vrd.Capacities{
		References:    cfg.References,
		Coverage:      cfg.Coverage,
		Region:        cfg.Region,
		SNV:           cfg.SNV,
		MNV:           cfg.MNV,
		Sequences:     cfg.Sequences,
		SequenceNodes: cfg.SequenceNodes,
	}
}

// load reads the index at the session prefix. With create set, a prefix
// holding no table at all leaves the index empty; a partial file set is
// still an error.
func (s *session) load(ctx context.Context, create bool) error {
	if s.prefix == "" {
		return ErrNoPrefix
	}

	if create {
		exists, err := vrd.Exists(s.prefix)
		if err != nil {
			return err
		}

		if !exists {
			s.logger.InfoContext(ctx, "creating new index", "prefix", s.prefix)

			return nil
		}
	}

	return s.index.Load(ctx, s.prefix)
}

func (s *session) save(ctx context.Context) error {
	return s.index.Save(ctx, s.prefix)
}

func (s *session) close(ctx context.Context) error {
	s.index.Destroy()

	return s.providers.Shutdown(ctx)
}

// withSession runs fn against a loaded session and always closes it.
func withSession(cmd *cobra.Command, opts sessionOptions, create bool, fn func(ctx context.Context, s *session) error) (err error) {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	defer func() {
		err = errors.Join(err, s.close(context.WithoutCancel(ctx)))
	}()

	err = s.load(ctx, create)
	if err != nil {
		return err
	}

	return fn(ctx, s)
}

// Package config provides configuration loading and validation for vrd.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/vrd/pkg/arena"
	"github.com/Sumatoshi-tech/vrd/pkg/observability"
)

// Sentinel validation errors.
var (
	ErrInvalidCapacity    = errors.New("capacity must be positive and addressable")
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidLogFormat   = errors.New("invalid log format")
	ErrInvalidSampleRatio = errors.New("trace sample ratio must be within [0, 1]")
)

// Default configuration values.
const (
	DefaultReferences    = 256
	DefaultPerReference  = 1 << 16
	DefaultSequences     = 1 << 16
	DefaultSequenceNodes = 1 << 16
	DefaultLogLevel      = "info"
	DefaultLogFormat     = formatText

	formatText = "text"
	formatJSON = "json"

	envPrefix = "VRD"
)

// Config holds all configuration for vrd.
type Config struct {
	Index     IndexConfig     `mapstructure:"index"     yaml:"index"`
	Storage   StorageConfig   `mapstructure:"storage"   yaml:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// IndexConfig holds the construction-time capacities of the index tables.
type IndexConfig struct {
	References    int `mapstructure:"references"     yaml:"references"`
	Coverage      int `mapstructure:"coverage"       yaml:"coverage"`
	Region        int `mapstructure:"region"         yaml:"region"`
	SNV           int `mapstructure:"snv"            yaml:"snv"`
	MNV           int `mapstructure:"mnv"            yaml:"mnv"`
	Sequences     int `mapstructure:"sequences"      yaml:"sequences"`
	SequenceNodes int `mapstructure:"sequence_nodes" yaml:"sequence_nodes"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	Prefix   string `mapstructure:"prefix"   yaml:"prefix"`
	Compress bool   `mapstructure:"compress" yaml:"compress"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Environment  string  `mapstructure:"environment"   yaml:"environment"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"  yaml:"otlp_headers"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure" yaml:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"  yaml:"sample_ratio"`
}

// LoadConfig loads configuration from file and environment variables.
// With an empty configPath, vrd.yaml is looked up in the working
// directory, ./config and /etc/vrd; a missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("vrd")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/vrd")
	}

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("index.references", DefaultReferences)
	viperCfg.SetDefault("index.coverage", DefaultPerReference)
	viperCfg.SetDefault("index.region", DefaultPerReference)
	viperCfg.SetDefault("index.snv", DefaultPerReference)
	viperCfg.SetDefault("index.mnv", DefaultPerReference)
	viperCfg.SetDefault("index.sequences", DefaultSequences)
	viperCfg.SetDefault("index.sequence_nodes", DefaultSequenceNodes)

	viperCfg.SetDefault("storage.prefix", "")
	viperCfg.SetDefault("storage.compress", true)

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)

	viperCfg.SetDefault("telemetry.environment", "")
	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.sample_ratio", 0.0)
}

func validateConfig(config *Config) error {
	capacities := []struct {
		key   string
		value int
	}{
		{"index.references", config.Index.References},
		{"index.coverage", config.Index.Coverage},
		{"index.region", config.Index.Region},
		{"index.snv", config.Index.SNV},
		{"index.mnv", config.Index.MNV},
		{"index.sequences", config.Index.Sequences},
		{"index.sequence_nodes", config.Index.SequenceNodes},
	}

	for _, capacity := range capacities {
		if capacity.value <= 0 || uint64(capacity.value) > arena.MaxCapacity {
			return fmt.Errorf("%w: %s = %d", ErrInvalidCapacity, capacity.key, capacity.value)
		}
	}

	_, err := parseLevel(config.Logging.Level)
	if err != nil {
		return err
	}

	switch config.Logging.Format {
	case formatText, formatJSON:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, config.Logging.Format)
	}

	if config.Telemetry.SampleRatio < 0 || config.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRatio, config.Telemetry.SampleRatio)
	}

	return nil
}

func parseLevel(name string) (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(name))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, name)
	}

	return level, nil
}

// Observability derives the telemetry configuration for a binary of the
// given version.
func (c *Config) Observability(version string) observability.Config {
	obs := observability.DefaultConfig()
	obs.ServiceVersion = version
	obs.Environment = c.Telemetry.Environment
	obs.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	obs.OTLPHeaders = observability.ParseOTLPHeaders(c.Telemetry.OTLPHeaders)
	obs.OTLPInsecure = c.Telemetry.OTLPInsecure
	obs.SampleRatio = c.Telemetry.SampleRatio
	obs.LogJSON = c.Logging.Format == formatJSON
	obs.LogLevel, _ = parseLevel(c.Logging.Level)

	return obs
}

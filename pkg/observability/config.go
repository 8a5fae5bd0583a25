// Package observability wires OpenTelemetry traces and metrics, a Prometheus
// exposition and trace-aware slog output for the vrd index and its CLI.
package observability

import "log/slog"

// AppMode says who drives the index: the vrd binary or an embedding program.
type AppMode string

const (
	ModeCLI     AppMode = "cli"
	ModeLibrary AppMode = "library"
)

const (
	defaultServiceName        = "vrd"
	defaultShutdownTimeoutSec = 5
)

// Config selects exporters and log output. The zero endpoint and a false
// Prometheus flag leave every provider a no-op.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Mode           AppMode

	// OTLPEndpoint is a gRPC collector address such as "localhost:4317".
	OTLPEndpoint string
	OTLPHeaders  map[string]string
	OTLPInsecure bool

	// SampleRatio applies to root spans; 0 keeps all of them.
	SampleRatio float64

	Prometheus bool

	LogLevel slog.Level
	LogJSON  bool

	// ShutdownTimeoutSec bounds the final flush.
	ShutdownTimeoutSec int
}

// DefaultConfig is the CLI's starting point: text logs at info, no export.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}

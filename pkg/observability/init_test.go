package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/vrd/pkg/observability"
)

func TestDefaultConfig_HasSensibleDefaults(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()

	assert.Equal(t, "vrd", cfg.ServiceName)
	assert.Equal(t, observability.ModeCLI, cfg.Mode)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 5, cfg.ShutdownTimeoutSec)
	assert.Empty(t, cfg.OTLPEndpoint)
	assert.False(t, cfg.Prometheus)
}

func TestInit_NoopWhenNoEndpoint(t *testing.T) {
	t.Parallel()

	providers, err := observability.Init(observability.DefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Logger)
	assert.Nil(t, providers.Registry)

	// Creating a span should work even in no-op mode.
	_, span := providers.Tracer.Start(context.Background(), "test-op")
	span.End()

	assert.NoError(t, providers.Shutdown(context.Background()))
}

// TestInit_PrometheusRegistry verifies that instruments created from the
// meter show up in the text exposition.
func TestInit_PrometheusRegistry(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()
	cfg.Prometheus = true
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "test"

	providers, err := observability.Init(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })
	require.NotNil(t, providers.Registry)

	metrics, err := observability.NewIndexMetrics(providers.Meter)
	require.NoError(t, err)

	metrics.RecordOp(context.Background(), "insert", "coverage", observability.StatusOK, time.Millisecond)
	metrics.RecordRemoved(context.Background(), "snv", 4)

	var buf bytes.Buffer

	require.NoError(t, observability.WriteMetrics(&buf, providers.Registry))
	assert.Regexp(t, `vrd[._]index[._]ops`, buf.String())
	assert.Regexp(t, `vrd[._]index[._]removed`, buf.String())
	assert.Contains(t, buf.String(), `table="coverage"`)
}

func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "single", raw: "api-key=secret", want: map[string]string{"api-key": "secret"}},
		{name: "multiple with spaces", raw: " a = 1 , b=2", want: map[string]string{"a": "1", "b": "2"}},
		{name: "malformed", raw: "novalue", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, observability.ParseOTLPHeaders(tt.raw))
		})
	}
}

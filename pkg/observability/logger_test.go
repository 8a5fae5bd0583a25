package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/vrd/pkg/observability"
)

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var record map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	return record
}

func jsonLogger(buf *bytes.Buffer, cfg observability.Config) *slog.Logger {
	inner := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	return slog.New(observability.NewTracingHandler(inner, cfg))
}

func spanContext(t *testing.T, flags trace.TraceFlags) context.Context {
	t.Helper()

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: flags})

	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestTracingHandler_TraceContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		flags   trace.TraceFlags
		sampled bool
	}{
		{name: "sampled", flags: trace.FlagsSampled, sampled: true},
		{name: "unsampled", flags: 0, sampled: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer

			jsonLogger(&buf, observability.DefaultConfig()).InfoContext(spanContext(t, tt.flags), "query")

			record := decodeRecord(t, &buf)
			assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", record[observability.KeyTraceID])
			assert.Equal(t, "0102030405060708", record[observability.KeySpanID])
			assert.Equal(t, tt.sampled, record[observability.KeySampled])
		})
	}
}

func TestTracingHandler_NoSpan(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	jsonLogger(&buf, observability.DefaultConfig()).InfoContext(context.Background(), "no span")

	record := decodeRecord(t, &buf)
	assert.NotContains(t, record, observability.KeyTraceID)
	assert.NotContains(t, record, observability.KeySampled)
	assert.Equal(t, "vrd", record[observability.KeyService])
}

func TestTracingHandler_Identity(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = "1.4.0"
	cfg.Environment = "staging"
	cfg.Mode = observability.ModeLibrary

	jsonLogger(&buf, cfg).Info("saved")

	record := decodeRecord(t, &buf)
	assert.Equal(t, "vrd", record[observability.KeyService])
	assert.Equal(t, "1.4.0", record[observability.KeyVersion])
	assert.Equal(t, "staging", record[observability.KeyEnv])
	assert.Equal(t, "library", record[observability.KeyMode])
}

func TestTracingHandler_OmitsEmptyIdentity(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.Mode = ""

	jsonLogger(&buf, cfg).Info("loaded")

	record := decodeRecord(t, &buf)
	assert.NotContains(t, record, observability.KeyVersion)
	assert.NotContains(t, record, observability.KeyEnv)
	assert.NotContains(t, record, observability.KeyMode)
}

func TestTracingHandler_GroupsAndAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := jsonLogger(&buf, observability.DefaultConfig()).With(slog.String("op", "remove"))
	logger.WithGroup("table").Info("shard written", slog.String("ref", "chr1"))

	record := decodeRecord(t, &buf)
	assert.Equal(t, "vrd", record[observability.KeyService])
	assert.Equal(t, "remove", record["op"])

	group, ok := record["table"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "chr1", group["ref"])
}

func TestNewLogger_RespectsLevelAndFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.LogJSON = true
	cfg.LogLevel = slog.LevelWarn

	logger := observability.NewLogger(&buf, cfg)
	logger.InfoContext(context.Background(), "dropped")
	assert.Zero(t, buf.Len())

	logger.WarnContext(context.Background(), "kept", slog.Int("shards", 3))

	record := decodeRecord(t, &buf)
	assert.Equal(t, "kept", record["msg"])
	assert.InDelta(t, 3, record["shards"], 0)
}

func TestNewLogger_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	observability.NewLogger(&buf, observability.DefaultConfig()).Info("hello")

	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "service=vrd")
}

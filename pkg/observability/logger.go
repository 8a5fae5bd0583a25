package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Log keys the handler owns.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"
	KeySampled = "trace_sampled"
	KeyService = "service"
	KeyVersion = "version"
	KeyEnv     = "env"
	KeyMode    = "mode"
)

// TracingHandler stamps every record with the service identity and, when the
// record's context carries a span, the span's trace coordinates.
type TracingHandler struct {
	next slog.Handler
}

// NewTracingHandler wraps next. Identity attributes come from cfg and are
// bound before any group so they stay at the top level.
func NewTracingHandler(next slog.Handler, cfg Config) *TracingHandler {
	return &TracingHandler{next: next.WithAttrs(identity(cfg))}
}

func identity(cfg Config) []slog.Attr {
	attrs := make([]slog.Attr, 0, 4)
	attrs = append(attrs, slog.String(KeyService, cfg.ServiceName))

	optional := [...]struct{ key, val string }{
		{KeyVersion, cfg.ServiceVersion},
		{KeyEnv, cfg.Environment},
		{KeyMode, string(cfg.Mode)},
	}
	for _, o := range optional {
		if o.val != "" {
			attrs = append(attrs, slog.String(o.key, o.val))
		}
	}

	return attrs
}

// Enabled reports whether the wrapped handler accepts level.
func (h *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements [slog.Handler].
func (h *TracingHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String(KeyTraceID, sc.TraceID().String()),
			slog.String(KeySpanID, sc.SpanID().String()),
			slog.Bool(KeySampled, sc.IsSampled()),
		)
	}

	if err := h.next.Handle(ctx, record); err != nil {
		return fmt.Errorf("observability: log: %w", err)
	}

	return nil
}

// WithAttrs implements [slog.Handler].
func (h *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{next: h.next.WithAttrs(attrs)}
}

// WithGroup implements [slog.Handler].
func (h *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{next: h.next.WithGroup(name)}
}

// NewLogger builds the logger cfg describes, writing text or JSON to w.
func NewLogger(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	if cfg.LogJSON {
		return slog.New(NewTracingHandler(slog.NewJSONHandler(w, opts), cfg))
	}

	return slog.New(NewTracingHandler(slog.NewTextHandler(w, opts), cfg))
}

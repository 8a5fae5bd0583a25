package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricOpsTotal     = "vrd.index.ops.total"
	metricOpDuration   = "vrd.index.op.duration.seconds"
	metricRemovedTotal = "vrd.index.removed.total"

	attrOp     = "op"
	attrTable  = "table"
	attrStatus = "status"

	// StatusOK marks a successful operation.
	StatusOK = "ok"
	// StatusError marks a failed operation.
	StatusError = "error"
)

// durationBucketBoundaries covers 1µs tree descents up to 30s persistence runs.
var durationBucketBoundaries = []float64{
	0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 30,
}

// IndexMetrics holds the OTel instruments recorded by index operations.
type IndexMetrics struct {
	opsTotal     metric.Int64Counter
	opDuration   metric.Float64Histogram
	removedTotal metric.Int64Counter
}

// NewIndexMetrics creates the index instruments from the given meter.
func NewIndexMetrics(mt metric.Meter) (*IndexMetrics, error) {
	ops, err := mt.Int64Counter(metricOpsTotal,
		metric.WithDescription("Total number of index operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricOpsTotal, err)
	}

	duration, err := mt.Float64Histogram(metricOpDuration,
		metric.WithDescription("Index operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricOpDuration, err)
	}

	removed, err := mt.Int64Counter(metricRemovedTotal,
		metric.WithDescription("Total number of entries removed"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRemovedTotal, err)
	}

	return &IndexMetrics{
		opsTotal:     ops,
		opDuration:   duration,
		removedTotal: removed,
	}, nil
}

// RecordOp records a completed operation on table with its status and duration.
func (im *IndexMetrics) RecordOp(ctx context.Context, op, table, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrOp, op),
		attribute.String(attrTable, table),
		attribute.String(attrStatus, status),
	)

	im.opsTotal.Add(ctx, 1, attrs)
	im.opDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordRemoved adds n removed entries for table.
func (im *IndexMetrics) RecordRemoved(ctx context.Context, table string, n uint64) {
	im.removedTotal.Add(ctx, int64(min(n, 1<<62)), metric.WithAttributes(attribute.String(attrTable, table)))
}

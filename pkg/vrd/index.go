package vrd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/vrd/pkg/avl"
	"github.com/Sumatoshi-tech/vrd/pkg/observability"
	"github.com/Sumatoshi-tech/vrd/pkg/seqtable"
	"github.com/Sumatoshi-tech/vrd/pkg/table"
)

const tracerName = "vrd"

// Table names used in metrics, logs and file suffixes.
const (
	TableCoverage = "coverage"
	TableRegion   = "region"
	TableSNV      = "snv"
	TableMNV      = "mnv"
)

const (
	opInsert  = "insert"
	opQuery   = "query"
	opRegion  = "query_region"
	opRemove  = "remove"
	opReorder = "reorder"
	opSave    = "save"
	opLoad    = "load"
)

// Capacities fixes the size of every table at construction.
type Capacities struct {
	// References bounds the distinct reference names per table.
	References int
	// Coverage, Region, SNV and MNV bound the entries per reference.
	Coverage int
	Region   int
	SNV      int
	MNV      int
	// Sequences bounds distinct inserted sequences; SequenceNodes bounds
	// the trie indexing them.
	Sequences     int
	SequenceNodes int
}

// Option configures an Index.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	metrics  *observability.IndexMetrics
	tracer   trace.Tracer
	compress bool
}

// WithLogger sets the logger used for remove, reorder and persistence events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records every operation on the given instruments.
func WithMetrics(metrics *observability.IndexMetrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithTracer sets the tracer for bulk operations. Defaults to the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithCompression toggles LZ4 compression of saved trees. On by default.
func WithCompression(enabled bool) Option {
	return func(o *options) { o.compress = enabled }
}

// Index owns the coverage, region, SNV and MNV tables and the sequence
// table backing MNV payloads. It is not safe for concurrent mutation.
type Index struct {
	caps Capacities
	opts options

	coverage  *table.Coverage
	regions   *table.Region
	snv       *table.SNV
	mnv       *table.MNV
	sequences *seqtable.Table
}

// New creates an empty index.
func New(caps Capacities, opts ...Option) (*Index, error) {
	o := options{compress: true}
	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = slog.Default()
	}

	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	return build(caps, o)
}

func build(caps Capacities, o options) (*Index, error) {
	ix := &Index{caps: caps, opts: o}
	tableOpts := []table.Option{table.WithCompression(o.compress), table.WithLogger(o.logger)}

	var err error

	ix.coverage, err = table.NewCoverage(caps.References, caps.Coverage, tableOpts...)
	if err != nil {
		return nil, fmt.Errorf("vrd: coverage table: %w", err)
	}

	ix.regions, err = table.NewRegion(caps.References, caps.Region, tableOpts...)
	if err != nil {
		ix.Destroy()

		return nil, fmt.Errorf("vrd: region table: %w", err)
	}

	ix.snv, err = table.NewSNV(caps.References, caps.SNV, tableOpts...)
	if err != nil {
		ix.Destroy()

		return nil, fmt.Errorf("vrd: snv table: %w", err)
	}

	ix.sequences, err = seqtable.New(caps.Sequences, caps.SequenceNodes)
	if err != nil {
		ix.Destroy()

		return nil, fmt.Errorf("vrd: sequence table: %w", err)
	}

	ix.mnv, err = table.NewMNV(caps.References, caps.MNV, ix.sequences, tableOpts...)
	if err != nil {
		ix.Destroy()

		return nil, fmt.Errorf("vrd: mnv table: %w", err)
	}

	return ix, nil
}

// Capacities returns the construction-time capacities.
func (ix *Index) Capacities() Capacities { return ix.caps }

// Coverage returns the coverage table.
func (ix *Index) Coverage() *table.Coverage { return ix.coverage }

// Regions returns the genotype region table.
func (ix *Index) Regions() *table.Region { return ix.regions }

// SNVs returns the single-nucleotide variant table.
func (ix *Index) SNVs() *table.SNV { return ix.snv }

// MNVs returns the multi-nucleotide variant table.
func (ix *Index) MNVs() *table.MNV { return ix.mnv }

// Sequences returns the sequence table shared by MNV entries.
func (ix *Index) Sequences() *seqtable.Table { return ix.sequences }

func (ix *Index) record(ctx context.Context, op, name string, started time.Time, err error) {
	if ix.opts.metrics == nil {
		return
	}

	status := observability.StatusOK
	if err != nil {
		status = observability.StatusError
	}

	ix.opts.metrics.RecordOp(ctx, op, name, status, time.Since(started))
}

// InsertCoverage records that sample is covered over [start, end) on ref.
func (ix *Index) InsertCoverage(ctx context.Context, ref string, start, end, sample uint32) error {
	started := time.Now()

	err := ix.coverage.Insert(ref, start, end, sample)
	ix.record(ctx, opInsert, TableCoverage, started, err)

	if err != nil {
		return fmt.Errorf("vrd: insert coverage %s:%d-%d: %w", ref, start, end, err)
	}

	return nil
}

// InsertRegion records a phased genotype region of sample on ref.
func (ix *Index) InsertRegion(ctx context.Context, ref string, start, end, sample, phase uint32) error {
	started := time.Now()

	err := ix.regions.Insert(ref, start, end, sample, phase)
	ix.record(ctx, opInsert, TableRegion, started, err)

	if err != nil {
		return fmt.Errorf("vrd: insert region %s:%d-%d: %w", ref, start, end, err)
	}

	return nil
}

// InsertVariant records that sample carries seq in place of [start, end) on
// ref. One nucleotide replacing one base goes to the SNV table, anything
// else to the MNV table.
func (ix *Index) InsertVariant(ctx context.Context, ref string, start, end, sample, phase uint32, seq string) error {
	started := time.Now()

	if isSNV(start, end, seq) {
		err := ix.insertSNV(ref, start, sample, phase, seq[0])
		ix.record(ctx, opInsert, TableSNV, started, err)

		if err != nil {
			return fmt.Errorf("vrd: insert variant %s:%d %q: %w", ref, start, seq, err)
		}

		return nil
	}

	err := ix.mnv.Insert(ref, start, end, sample, phase, seq)
	ix.record(ctx, opInsert, TableMNV, started, err)

	if err != nil {
		return fmt.Errorf("vrd: insert variant %s:%d-%d %q: %w", ref, start, end, seq, err)
	}

	return nil
}

func (ix *Index) insertSNV(ref string, position, sample, phase uint32, base byte) error {
	code, err := table.BaseCode(base)
	if err != nil {
		return err
	}

	return ix.snv.Insert(ref, position, sample, phase, code)
}

// QueryVariant counts samples carrying seq in place of [start, end) on ref,
// homozygous carriers counting twice. A nil subset admits every sample.
func (ix *Index) QueryVariant(ctx context.Context, ref string, start, end uint32, seq string, subset *avl.Multiset) (uint64, error) {
	started := time.Now()

	if isSNV(start, end, seq) {
		code, err := table.BaseCode(seq[0])
		if err != nil {
			ix.record(ctx, opQuery, TableSNV, started, err)

			return 0, fmt.Errorf("vrd: query variant: %w", err)
		}

		count := ix.snv.Query(ref, start, code, subset)
		ix.record(ctx, opQuery, TableSNV, started, nil)

		return count, nil
	}

	count := ix.mnv.Query(ref, start, end, seq, subset)
	ix.record(ctx, opQuery, TableMNV, started, nil)

	return count, nil
}

// QueryCoverage counts coverage intervals on ref containing [start, end).
func (ix *Index) QueryCoverage(ctx context.Context, ref string, start, end uint32, subset *avl.Multiset) uint64 {
	started := time.Now()
	count := ix.coverage.Query(ref, start, end, subset)
	ix.record(ctx, opQuery, TableCoverage, started, nil)

	return count
}

// CountRegions returns the weighted count of genotype regions on ref
// containing [start, end).
func (ix *Index) CountRegions(ctx context.Context, ref string, start, end uint32, subset *avl.Multiset) uint64 {
	started := time.Now()
	count := ix.regions.Query(ref, start, end, subset)
	ix.record(ctx, opQuery, TableRegion, started, nil)

	return count
}

// Report lists the entries of each table lying inside a query window.
// Each list holds at most the requested limit; totals count every match.
type Report struct {
	Coverage      []table.CoverageEntry `json:"coverage"`
	CoverageTotal uint64                `json:"coverage_total"`
	Regions       []table.RegionEntry   `json:"regions"`
	RegionTotal   uint64                `json:"region_total"`
	SNVs          []table.SNVEntry      `json:"snvs"`
	SNVTotal      uint64                `json:"snv_total"`
	MNVs          []table.MNVEntry      `json:"mnvs"`
	MNVTotal      uint64                `json:"mnv_total"`
}

// QueryRegion reports the entries of every table on ref lying inside
// [start, end], materializing at most limit entries per table.
func (ix *Index) QueryRegion(ctx context.Context, ref string, start, end uint32, subset *avl.Multiset, limit int) Report {
	started := time.Now()

	var report Report

	report.Coverage, report.CoverageTotal = ix.coverage.QueryRegion(ref, start, end, subset, limit)
	report.Regions, report.RegionTotal = ix.regions.QueryRegion(ref, start, end, subset, limit)
	report.SNVs, report.SNVTotal = ix.snv.QueryRegion(ref, start, end, subset, limit)
	report.MNVs, report.MNVTotal = ix.mnv.QueryRegion(ref, start, end, subset, limit)

	ix.record(ctx, opRegion, "all", started, nil)

	return report
}

// Remove drops every entry whose sample is in subset and returns the number
// removed. A nil subset removes nothing.
func (ix *Index) Remove(ctx context.Context, subset *avl.Multiset) uint64 {
	ctx, span := ix.opts.tracer.Start(ctx, "vrd.remove",
		trace.WithAttributes(attribute.Int("vrd.samples", subset.Len())))
	defer span.End()

	removed := map[string]uint64{
		TableCoverage: ix.timed(ctx, opRemove, TableCoverage, func() uint64 { return ix.coverage.Remove(subset) }),
		TableRegion:   ix.timed(ctx, opRemove, TableRegion, func() uint64 { return ix.regions.Remove(subset) }),
		TableSNV:      ix.timed(ctx, opRemove, TableSNV, func() uint64 { return ix.snv.Remove(subset) }),
		TableMNV:      ix.timed(ctx, opRemove, TableMNV, func() uint64 { return ix.mnv.Remove(subset) }),
	}

	var total uint64

	for name, n := range removed {
		total += n

		if ix.opts.metrics != nil {
			ix.opts.metrics.RecordRemoved(ctx, name, n)
		}
	}

	span.SetAttributes(attribute.Int64("vrd.removed", int64(min(total, 1<<62))))

	ix.opts.logger.InfoContext(ctx, "removed samples",
		"samples", subset.Len(),
		TableCoverage, removed[TableCoverage],
		TableRegion, removed[TableRegion],
		TableSNV, removed[TableSNV],
		TableMNV, removed[TableMNV],
	)

	return total
}

func (ix *Index) timed(ctx context.Context, op, name string, fn func() uint64) uint64 {
	started := time.Now()
	n := fn()
	ix.record(ctx, op, name, started, nil)

	return n
}

// Reorder compacts every table into fresh storage laid out in key order,
// dropping tombstones left by Remove.
func (ix *Index) Reorder(ctx context.Context) error {
	ctx, span := ix.opts.tracer.Start(ctx, "vrd.reorder")
	defer span.End()

	steps := []struct {
		name string
		fn   func() error
	}{
		{TableCoverage, ix.coverage.Reorder},
		{TableRegion, ix.regions.Reorder},
		{TableSNV, ix.snv.Reorder},
		{TableMNV, ix.mnv.Reorder},
	}

	for _, step := range steps {
		started := time.Now()
		err := step.fn()
		ix.record(ctx, opReorder, step.name, started, err)

		if err != nil {
			failSpan(span, err)

			return fmt.Errorf("vrd: reorder %s: %w", step.name, err)
		}

		ix.opts.logger.DebugContext(ctx, "reordered table", "table", step.name, "duration", time.Since(started))
	}

	return nil
}

// Diagnostics summarises every table.
func (ix *Index) Diagnostics() []table.Diagnostics {
	return []table.Diagnostics{
		ix.coverage.Diagnostics(),
		ix.regions.Diagnostics(),
		ix.snv.Diagnostics(),
		ix.mnv.Diagnostics(),
	}
}

// Destroy releases every table. The index must not be used afterwards.
func (ix *Index) Destroy() {
	if ix.coverage != nil {
		ix.coverage.Destroy()
	}

	if ix.regions != nil {
		ix.regions.Destroy()
	}

	if ix.snv != nil {
		ix.snv.Destroy()
	}

	if ix.mnv != nil {
		ix.mnv.Destroy()
	}

	ix.coverage, ix.regions, ix.snv, ix.mnv, ix.sequences = nil, nil, nil, nil, nil
}

func failSpan(span trace.Span, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

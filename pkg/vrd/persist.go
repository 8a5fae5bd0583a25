package vrd

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/vrd/pkg/table"
)

// TablePrefix returns the file prefix of the named table within the file
// set at prefix.
func TablePrefix(prefix, name string) string {
	return prefix + "." + name
}

// tableNames lists the tables of a file set in save order.
var tableNames = [...]string{TableCoverage, TableRegion, TableSNV, TableMNV}

// Exists reports whether any table of an index is published at prefix. A
// prefix with some but not all tables still exists; loading it fails.
func Exists(prefix string) (bool, error) {
	for _, name := range tableNames {
		found, err := table.Exists(TablePrefix(prefix, name))
		if err != nil || found {
			return found, err
		}
	}

	return false, nil
}

type persisted struct {
	name  string
	write func(prefix string) error
	read  func(prefix string) error
}

func (ix *Index) persisted() []persisted {
	return []persisted{
		{TableCoverage, ix.coverage.Write, ix.coverage.Read},
		{TableRegion, ix.regions.Write, ix.regions.Read},
		{TableSNV, ix.snv.Write, ix.snv.Read},
		{TableMNV, ix.mnv.Write, ix.mnv.Read},
	}
}

// Save writes every table under prefix.
func (ix *Index) Save(ctx context.Context, prefix string) error {
	ctx, span := ix.opts.tracer.Start(ctx, "vrd.save",
		trace.WithAttributes(attribute.String("vrd.prefix", prefix)))
	defer span.End()

	started := time.Now()

	for _, tbl := range ix.persisted() {
		err := ctx.Err()
		if err != nil {
			return err
		}

		tableStarted := time.Now()
		err = tbl.write(TablePrefix(prefix, tbl.name))
		ix.record(ctx, opSave, tbl.name, tableStarted, err)

		if err != nil {
			failSpan(span, err)

			return fmt.Errorf("vrd: save %s: %w", tbl.name, err)
		}
	}

	ix.opts.logger.InfoContext(ctx, "index saved", "prefix", prefix, "duration", time.Since(started))

	return nil
}

// Load replaces the contents of the index with the file set at prefix. The
// index is unchanged unless every table loads.
func (ix *Index) Load(ctx context.Context, prefix string) error {
	ctx, span := ix.opts.tracer.Start(ctx, "vrd.load",
		trace.WithAttributes(attribute.String("vrd.prefix", prefix)))
	defer span.End()

	started := time.Now()

	staged, err := build(ix.caps, ix.opts)
	if err != nil {
		failSpan(span, err)

		return err
	}

	for _, tbl := range staged.persisted() {
		err = ctx.Err()
		if err == nil {
			tableStarted := time.Now()
			err = tbl.read(TablePrefix(prefix, tbl.name))
			ix.record(ctx, opLoad, tbl.name, tableStarted, err)
		}

		if err != nil {
			staged.Destroy()
			failSpan(span, err)

			return fmt.Errorf("vrd: load %s: %w", tbl.name, err)
		}
	}

	ix.Destroy()
	ix.coverage, ix.regions, ix.snv, ix.mnv, ix.sequences =
		staged.coverage, staged.regions, staged.snv, staged.mnv, staged.sequences

	ix.opts.logger.InfoContext(ctx, "index loaded",
		"prefix", prefix,
		"sequences", ix.sequences.Len(),
		"duration", time.Since(started),
	)

	return nil
}

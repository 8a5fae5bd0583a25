package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/vrd/pkg/observability"
	tables "github.com/Sumatoshi-tech/vrd/pkg/table"
)

// InfoCommand prints table diagnostics.
type InfoCommand struct {
	format  string
	shards  bool
	metrics bool
}

// NewInfoCommand creates the info command.
func NewInfoCommand() *cobra.Command {
	ic := &InfoCommand{}

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show table diagnostics",
		Args:  cobra.NoArgs,
		RunE:  ic.run,
	}

	cmd.Flags().StringVar(&ic.format, "format", FormatText, "Output format: text, json")
	cmd.Flags().BoolVar(&ic.shards, "shards", false, "List every per-reference tree")
	cmd.Flags().BoolVar(&ic.metrics, "metrics", false, "Append the Prometheus exposition of index metrics")

	return cmd
}

func (ic *InfoCommand) run(cmd *cobra.Command, _ []string) error {
	if ic.format != FormatText && ic.format != FormatJSON {
		return fmt.Errorf("%w: %q", ErrUnknownFormat, ic.format)
	}

	return withSession(cmd, sessionOptions{prometheus: ic.metrics}, false, func(_ context.Context, s *session) error {
		out := cmd.OutOrStdout()
		diags := s.index.Diagnostics()

		var err error
		if ic.format == FormatJSON {
			encoder := json.NewEncoder(out)
			encoder.SetIndent("", "  ")
			err = encoder.Encode(diags)
		} else {
			writeDiagnostics(out, diags, ic.shards)
		}

		if err != nil || !ic.metrics || s.providers.Registry == nil {
			return err
		}

		return observability.WriteMetrics(out, s.providers.Registry)
	})
}

func writeDiagnostics(w io.Writer, diags []tables.Diagnostics, shards bool) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Table", "References", "Entries", "Dead", "Per-ref capacity", "Sequences", "Sequence bytes"})

	for _, diag := range diags {
		sequences, sequenceBytes := "", ""
		if diag.Sequences > 0 {
			sequences = humanize.Comma(int64(diag.Sequences))
			sequenceBytes = humanize.Bytes(uint64(diag.SequenceBytes))
		}

		tbl.AppendRow(table.Row{
			diag.Kind,
			fmt.Sprintf("%d/%d", len(diag.Shards), diag.RefCapacity),
			humanize.Comma(int64(diag.Entries)),
			humanize.Comma(int64(diag.Dead)),
			humanize.Comma(int64(diag.PerRefCapacity)),
			sequences,
			sequenceBytes,
		})
	}

	tbl.Render()

	if !shards {
		return
	}

	shardTbl := table.NewWriter()
	shardTbl.SetOutputMirror(w)
	shardTbl.SetStyle(table.StyleLight)
	shardTbl.AppendHeader(table.Row{"Table", "Reference", "Entries", "Dead", "Capacity", "Height"})

	for _, diag := range diags {
		for _, stats := range diag.Shards {
			shardTbl.AppendRow(table.Row{
				diag.Kind, stats.Reference,
				humanize.Comma(int64(stats.Entries)), humanize.Comma(int64(stats.Dead)),
				humanize.Comma(int64(stats.Capacity)), stats.Height,
			})
		}
	}

	shardTbl.Render()
}

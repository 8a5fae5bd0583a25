package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/vrd/pkg/avl"
	"github.com/Sumatoshi-tech/vrd/pkg/vrd"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ErrUnknownFormat is returned for an unsupported --format value.
var ErrUnknownFormat = errors.New("unknown output format")

const defaultWindowLimit = 100

// QueryCommand holds the flags shared by the query subcommands.
type QueryCommand struct {
	samples []uint
	limit   int
	format  string
}

// NewQueryCommand creates the query command group.
func NewQueryCommand() *cobra.Command {
	qc := &QueryCommand{}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Count or list index entries",
	}

	addSamplesFlag(cmd.PersistentFlags(), &qc.samples, "Restrict the query to these sample ids (default: all samples)")

	cmd.AddCommand(&cobra.Command{
		Use:   "coverage REF START END",
		Short: "Count samples covered over all of [START, END)",
		Args:  cobra.ExactArgs(3),
		RunE:  qc.coverage,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "genotype REF START END",
		Short: "Count genotype regions containing [START, END), homozygous counting twice",
		Args:  cobra.ExactArgs(3),
		RunE:  qc.genotype,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "variant REF START END SEQ",
		Short: "Count carriers of SEQ in place of [START, END), homozygous counting twice",
		Args:  cobra.ExactArgs(4),
		RunE:  qc.variant,
	})

	window := &cobra.Command{
		Use:   "window REF START END",
		Short: "List entries of every table lying inside [START, END]",
		Args:  cobra.ExactArgs(3),
		RunE:  qc.window,
	}
	window.Flags().IntVar(&qc.limit, "limit", defaultWindowLimit, "Maximum entries listed per table")
	window.Flags().StringVar(&qc.format, "format", FormatText, "Output format: text, json")
	cmd.AddCommand(window)

	return cmd
}

type countFunc func(ctx context.Context, ix *vrd.Index, subset *avl.Multiset) (uint64, error)

func (qc *QueryCommand) count(cmd *cobra.Command, fn countFunc) error {
	subset, err := sampleSubset(qc.samples)
	if err != nil {
		return err
	}

	return withSession(cmd, sessionOptions{}, false, func(ctx context.Context, s *session) error {
		count, countErr := fn(ctx, s.index, subset)
		if countErr != nil {
			return countErr
		}

		_, err = fmt.Fprintln(cmd.OutOrStdout(), count)

		return err
	})
}

func (qc *QueryCommand) coverage(cmd *cobra.Command, args []string) error {
	values, err := parseUint32s(args[1:], "start", "end")
	if err != nil {
		return err
	}

	return qc.count(cmd, func(ctx context.Context, ix *vrd.Index, subset *avl.Multiset) (uint64, error) {
		return ix.QueryCoverage(ctx, args[0], values[0], values[1], subset), nil
	})
}

func (qc *QueryCommand) genotype(cmd *cobra.Command, args []string) error {
	values, err := parseUint32s(args[1:], "start", "end")
	if err != nil {
		return err
	}

	return qc.count(cmd, func(ctx context.Context, ix *vrd.Index, subset *avl.Multiset) (uint64, error) {
		return ix.CountRegions(ctx, args[0], values[0], values[1], subset), nil
	})
}

func (qc *QueryCommand) variant(cmd *cobra.Command, args []string) error {
	values, err := parseUint32s(args[1:3], "start", "end")
	if err != nil {
		return err
	}

	return qc.count(cmd, func(ctx context.Context, ix *vrd.Index, subset *avl.Multiset) (uint64, error) {
		return ix.QueryVariant(ctx, args[0], values[0], values[1], args[3], subset)
	})
}

func (qc *QueryCommand) window(cmd *cobra.Command, args []string) error {
	if qc.format != FormatText && qc.format != FormatJSON {
		return fmt.Errorf("%w: %q", ErrUnknownFormat, qc.format)
	}

	values, err := parseUint32s(args[1:], "start", "end")
	if err != nil {
		return err
	}

	subset, err := sampleSubset(qc.samples)
	if err != nil {
		return err
	}

	return withSession(cmd, sessionOptions{}, false, func(ctx context.Context, s *session) error {
		report := s.index.QueryRegion(ctx, args[0], values[0], values[1], subset, qc.limit)

		if qc.format == FormatJSON {
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")

			return encoder.Encode(report)
		}

		return writeReport(cmd.OutOrStdout(), report)
	})
}

func writeReport(w io.Writer, report vrd.Report) error {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Table", "Start", "End", "Sample", "Phase", "Allele"})

	for _, entry := range report.Coverage {
		tbl.AppendRow(table.Row{vrd.TableCoverage, entry.Start, entry.End, entry.Sample, "", ""})
	}

	for _, entry := range report.Regions {
		tbl.AppendRow(table.Row{vrd.TableRegion, entry.Start, entry.End, entry.Sample, phaseLabel(entry.Phase), ""})
	}

	for _, entry := range report.SNVs {
		tbl.AppendRow(table.Row{vrd.TableSNV, entry.Position, entry.Position + 1, entry.Sample, phaseLabel(entry.Phase), entry.Base})
	}

	for _, entry := range report.MNVs {
		tbl.AppendRow(table.Row{vrd.TableMNV, entry.Start, entry.End, entry.Sample, phaseLabel(entry.Phase), entry.Sequence})
	}

	tbl.Render()

	_, err := fmt.Fprintf(w, "matches: %s coverage, %s region, %s snv, %s mnv\n",
		comma(report.CoverageTotal), comma(report.RegionTotal), comma(report.SNVTotal), comma(report.MNVTotal))

	return err
}

func comma(n uint64) string {
	return humanize.Comma(int64(min(n, 1<<62)))
}

func phaseLabel(phase uint32) string {
	if phase == vrd.Homozygous {
		return "hom"
	}

	return strconv.FormatUint(uint64(phase), 10)
}

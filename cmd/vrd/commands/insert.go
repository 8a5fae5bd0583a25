package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/vrd/pkg/vrd"
)

// InsertCommand holds the flags shared by the insert subcommands.
type InsertCommand struct {
	phase      uint32
	homozygous bool
	create     bool
}

// NewInsertCommand creates the insert command group.
func NewInsertCommand() *cobra.Command {
	ic := &InsertCommand{}

	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert one record into an index",
		Long:  "Load the index at --prefix, insert one record and save it back.",
	}

	cmd.PersistentFlags().Uint32Var(&ic.phase, "phase", 0, "Phase group of the record")
	cmd.PersistentFlags().BoolVar(&ic.homozygous, "homozygous", false, "Mark the record homozygous (counts twice)")
	cmd.PersistentFlags().BoolVar(&ic.create, "create", false, "Start an empty index when none exists at --prefix")

	cmd.AddCommand(&cobra.Command{
		Use:   "coverage REF START END SAMPLE",
		Short: "Record that SAMPLE is covered over [START, END)",
		Args:  cobra.ExactArgs(4),
		RunE:  ic.coverage,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "region REF START END SAMPLE",
		Short: "Record a phased genotype region of SAMPLE",
		Args:  cobra.ExactArgs(4),
		RunE:  ic.region,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "variant REF START END SAMPLE SEQ",
		Short: "Record that SAMPLE carries SEQ in place of [START, END)",
		Long: "Record a variant. A single nucleotide replacing a single base is stored as an SNV, " +
			"anything else as an MNV with SEQ interned in the sequence table. Pass \"\" for a deletion.",
		Args: cobra.ExactArgs(5),
		RunE: ic.variant,
	})

	return cmd
}

func (ic *InsertCommand) resolvedPhase() (uint32, error) {
	if ic.homozygous {
		return vrd.Homozygous, nil
	}

	if ic.phase > vrd.MaxPhase {
		return 0, fmt.Errorf("phase %d exceeds %d", ic.phase, vrd.MaxPhase)
	}

	return ic.phase, nil
}

func (ic *InsertCommand) run(cmd *cobra.Command, fn func(ctx context.Context, ix *vrd.Index) error) error {
	return withSession(cmd, sessionOptions{}, ic.create, func(ctx context.Context, s *session) error {
		err := fn(ctx, s.index)
		if err != nil {
			return err
		}

		return s.save(ctx)
	})
}

func (ic *InsertCommand) coverage(cmd *cobra.Command, args []string) error {
	values, err := parseUint32s(args[1:], "start", "end", "sample")
	if err != nil {
		return err
	}

	return ic.run(cmd, func(ctx context.Context, ix *vrd.Index) error {
		return ix.InsertCoverage(ctx, args[0], values[0], values[1], values[2])
	})
}

func (ic *InsertCommand) region(cmd *cobra.Command, args []string) error {
	values, err := parseUint32s(args[1:], "start", "end", "sample")
	if err != nil {
		return err
	}

	phase, err := ic.resolvedPhase()
	if err != nil {
		return err
	}

	return ic.run(cmd, func(ctx context.Context, ix *vrd.Index) error {
		return ix.InsertRegion(ctx, args[0], values[0], values[1], values[2], phase)
	})
}

func (ic *InsertCommand) variant(cmd *cobra.Command, args []string) error {
	values, err := parseUint32s(args[1:4], "start", "end", "sample")
	if err != nil {
		return err
	}

	phase, err := ic.resolvedPhase()
	if err != nil {
		return err
	}

	return ic.run(cmd, func(ctx context.Context, ix *vrd.Index) error {
		return ix.InsertVariant(ctx, args[0], values[0], values[1], values[2], phase, args[4])
	})
}

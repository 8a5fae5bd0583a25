package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// RemoveCommand drops every entry of the selected samples.
type RemoveCommand struct {
	samples []uint
	compact bool
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand() *cobra.Command {
	rc := &RemoveCommand{}

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove every entry of the given samples",
		Long: "Remove every coverage, region and variant entry of the given samples and save the index. " +
			"Sequences no longer referenced are evicted. Pass --compact to drop tombstones before saving.",
		Args: cobra.NoArgs,
		RunE: rc.run,
	}

	addSamplesFlag(cmd.Flags(), &rc.samples, "Sample ids to remove (required)")
	cmd.Flags().BoolVar(&rc.compact, "compact", false, "Reorder the index after removal")

	return cmd
}

func (rc *RemoveCommand) run(cmd *cobra.Command, _ []string) error {
	if len(rc.samples) == 0 {
		return ErrNoSamples
	}

	subset, err := sampleSubset(rc.samples)
	if err != nil {
		return err
	}

	return withSession(cmd, sessionOptions{}, false, func(ctx context.Context, s *session) error {
		removed := s.index.Remove(ctx, subset)

		if rc.compact {
			reorderErr := s.index.Reorder(ctx)
			if reorderErr != nil {
				return reorderErr
			}
		}

		saveErr := s.save(ctx)
		if saveErr != nil {
			return saveErr
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %s entries\n", comma(removed))

		return err
	})
}

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/vrd/pkg/vrd"
)

// NewCompactCommand creates the compact command.
func NewCompactCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Reorder every tree and drop tombstones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, sessionOptions{}, false, func(ctx context.Context, s *session) error {
				dead := deadEntries(s.index)

				err := s.index.Reorder(ctx)
				if err != nil {
					return err
				}

				err = s.save(ctx)
				if err != nil {
					return err
				}

				_, err = fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %s slots\n", comma(uint64(dead)))

				return err
			})
		},
	}
}

func deadEntries(ix *vrd.Index) int {
	var dead int
	for _, diag := range ix.Diagnostics() {
		dead += diag.Dead
	}

	return dead
}

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/vrd/pkg/vrd"
)

// ErrUnknownTable is returned for a table name other than coverage, region, snv or mnv.
var ErrUnknownTable = errors.New("unknown table")

// NewExportCommand creates the export command.
func NewExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export TABLE REF",
		Short: "Write every entry of one reference as JSON lines",
		Long:  "Write every entry of REF in TABLE (coverage, region, snv or mnv) in key order, one JSON object per line.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, sessionOptions{}, false, func(_ context.Context, s *session) error {
				rows, err := exportRows(s.index, args[0], args[1])
				if err != nil {
					return err
				}

				encoder := json.NewEncoder(cmd.OutOrStdout())

				for _, row := range rows {
					err = encoder.Encode(row)
					if err != nil {
						return err
					}
				}

				return nil
			})
		},
	}
}

func exportRows(ix *vrd.Index, name, ref string) ([]any, error) {
	switch name {
	case vrd.TableCoverage:
		return rowsOf(ix.Coverage().Export(ref))
	case vrd.TableRegion:
		return rowsOf(ix.Regions().Export(ref))
	case vrd.TableSNV:
		return rowsOf(ix.SNVs().Export(ref))
	case vrd.TableMNV:
		return rowsOf(ix.MNVs().Export(ref))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
}

func rowsOf[E any](entries []E, err error) ([]any, error) {
	if err != nil {
		return nil, err
	}

	rows := make([]any, len(entries))
	for idx := range entries {
		rows[idx] = entries[idx]
	}

	return rows, nil
}

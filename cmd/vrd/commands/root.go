package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/vrd/pkg/version"
)

// NewRootCommand creates the vrd command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vrd",
		Short: "vrd - variant-frequency index",
		Long: `vrd maintains an on-disk variant-frequency index and answers
sample-filtered counting queries over it.

Commands:
  insert    Insert coverage, region or variant records
  query     Count carriers or list entries in a window
  remove    Remove every entry of a set of samples
  compact   Reorder trees and drop tombstones
  info      Show table diagnostics and metrics
  export    Dump one reference as JSON lines`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String(flagConfig, "", "Config file (default: vrd.yaml in ., ./config or /etc/vrd)")
	flags.StringP(flagPrefix, "p", "", "Index file prefix (default: storage.prefix)")
	flags.BoolP(flagVerbose, "v", false, "verbose output")
	flags.BoolP(flagQuiet, "q", false, "suppress output")

	rootCmd.AddCommand(NewInsertCommand())
	rootCmd.AddCommand(NewQueryCommand())
	rootCmd.AddCommand(NewRemoveCommand())
	rootCmd.AddCommand(NewCompactCommand())
	rootCmd.AddCommand(NewInfoCommand())
	rootCmd.AddCommand(NewExportCommand())
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vrd %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

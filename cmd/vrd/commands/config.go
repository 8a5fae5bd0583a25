package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/vrd/pkg/config"
)

const yamlIndent = 2

// NewConfigCommand creates the config command.
func NewConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long:  "Print the configuration after applying defaults, the config file and VRD_* environment variables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString(flagConfig)

			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			encoder := yaml.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent(yamlIndent)

			err = encoder.Encode(cfg)
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}

			return encoder.Close()
		},
	}
}

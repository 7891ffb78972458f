package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openreliefdata/datahub/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <config-file>",
	Short: "Validate a configuration file and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := config.NewLoader().LoadConfig(args[0])
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		fmt.Printf("Configuration valid: %d sources\n", len(cfg.Sources))
		return nil
	},
}

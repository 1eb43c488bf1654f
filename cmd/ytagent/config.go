package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configPrint bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the dotenv file and the configuration, apply environment
overrides and defaults, and report every validation error. With --print the
effective configuration is printed with secrets masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if configPrint {
			text, err := cfg.MaskedTOML()
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}
			fmt.Fprint(out, text)
		}
		fmt.Fprintln(out, "configuration is valid")
		return nil
	},
}

func init() {
	configValidateCmd.Flags().BoolVar(&configPrint, "print", false, "print the effective configuration with secrets masked")
	configCmd.AddCommand(configValidateCmd)
}

package main

import (
	"github.com/aretw0/tendril/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as TOML",
	Long: `Prints the configuration after defaults, the config file and TENDRIL_*
environment variables were applied. The output is a valid config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return config.Encode(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

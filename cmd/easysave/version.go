package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasew/easysave/internal/config"
	"github.com/lucasew/easysave/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "easysave", version.Get())
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config <file>",
	Short: "Validates a config file without touching any storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (mode %s)\n", args[0], cfg.Device.Mode)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd, checkConfigCmd)
}

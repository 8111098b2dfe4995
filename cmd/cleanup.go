package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one maintenance pass (screenshot retention)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAutomation(cmd.Context(), func(env *automationEnv) error {
			n, err := env.Monitor.Maintain(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d screenshots older than %d days from %s\n",
				n, cfg.Submit.ScreenshotRetentionDays, cfg.Submit.ScreenshotDir)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

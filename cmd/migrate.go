package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/lead-entry/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(store.Store) error {
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.Store.Driver)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	processTenant   string
	processLead     string
	processPriority int
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Queue a lead for immediate portal submission",
	Long:  "Resets the lead's queue item to QUEUED with a fresh attempt budget. A running serve process picks it up on its next processing pass.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if processTenant == "" || processLead == "" {
			return eris.New("--tenant and --lead are required")
		}

		return withAutomation(cmd.Context(), func(env *automationEnv) error {
			item, err := env.Monitor.ProcessLead(cmd.Context(), processTenant, processLead, processPriority)
			if err != nil {
				return eris.Wrapf(err, "process lead %s", processLead)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued lead %s (queue item %s, priority %d, max attempts %d)\n",
				item.LeadID, item.ID, item.Priority, item.MaxAttempts)
			return nil
		})
	},
}

func init() {
	processCmd.Flags().StringVar(&processTenant, "tenant", "", "tenant id")
	processCmd.Flags().StringVar(&processLead, "lead", "", "lead id")
	processCmd.Flags().IntVar(&processPriority, "priority", 0, "queue priority, lower runs first (default from config)")
	rootCmd.AddCommand(processCmd)
}

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/lead-entry/internal/model"
	"github.com/sells-group/lead-entry/internal/monitor"
)

var (
	statsTenant    string
	statsTimeframe string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show automation queue and submission statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, err := monitor.ParseTimeframe(statsTimeframe)
		if err != nil {
			return err
		}

		return withAutomation(cmd.Context(), func(env *automationEnv) error {
			stats, err := env.Monitor.Stats(cmd.Context(), statsTenant, window)
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), stats, statsTimeframe)
		})
	},
}

func printStats(out io.Writer, st *model.AutomationStats, timeframe string) error {
	tenant := st.TenantID
	if tenant == "" {
		tenant = "all tenants"
	}
	if timeframe == "" {
		timeframe = "24h"
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Tenant:\t%s\n", tenant)
	fmt.Fprintf(w, "Window:\t%s (since %s)\n", timeframe, st.Since.Format("2006-01-02 15:04 MST"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Queue:\tqueued %d\tprocessing %d\tcompleted %d\tfailed %d\n",
		st.Queued, st.Processing, st.Completed, st.Failed)
	fmt.Fprintf(w, "Leads:\tconfirmed %d\tin progress %d\tentered %d\tfailed %d\n",
		st.LeadsConfirmed, st.LeadsEntryInProgress, st.LeadsEntered, st.LeadsEntryFailed)
	fmt.Fprintf(w, "Attempts:\t%d\tsucceeded %d\tfailed %d\n", st.Attempts, st.Succeeded, st.AttemptsFailed)
	fmt.Fprintf(w, "Success rate:\t%.2f%%\n", st.SuccessRate)
	fmt.Fprintf(w, "Avg processing:\t%.0f ms\n", st.AvgProcessingMS)
	if err := w.Flush(); err != nil {
		return err
	}

	if len(st.RecentActivity) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUEUED AT\tLEAD\tATTEMPT\tSTATUS\tMESSAGE")
	for _, e := range st.RecentActivity {
		msg := e.PortalMessage
		if e.ErrorMessage != "" {
			msg = e.ErrorMessage
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			e.QueuedAt.Format("2006-01-02 15:04:05"), e.LeadID, e.AttemptNumber, e.Status, msg)
	}
	return w.Flush()
}

func init() {
	statsCmd.Flags().StringVar(&statsTenant, "tenant", "", "tenant id (default all tenants)")
	statsCmd.Flags().StringVar(&statsTimeframe, "timeframe", "24h", "window: 1h, 24h, 7d or 30d")
	rootCmd.AddCommand(statsCmd)
}

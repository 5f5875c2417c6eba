package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/aiworker/internal/usage"
)

var (
	usageSince  time.Duration
	usageDBPath string
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarize the local job usage ledger",
	Example: `  aiworker usage --since 24h
  aiworker usage --db /var/lib/aiworker/usage.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := usageDBPath
		if path == "" {
			path = cfg.Usage.Path
		}
		if path == "" {
			return fmt.Errorf("no usage ledger configured (set usage.path, AIWORKER_USAGE_DB or --db)")
		}
		store, err := usage.OpenStore(path)
		if err != nil {
			return err
		}
		defer store.Close()

		summaries, err := store.Summarize(time.Now().Add(-usageSince))
		if err != nil {
			return err
		}
		printUsage(cmd.OutOrStdout(), summaries, usageSince)
		return nil
	},
}

func printUsage(out io.Writer, summaries []usage.TypeSummary, since time.Duration) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	defer w.Flush()

	if len(summaries) == 0 {
		fmt.Fprintf(w, "No jobs recorded in the last %s.\n", since)
		return
	}
	fmt.Fprintln(w, "TYPE\tTOTAL\tOK\tFAILED\tCACHE HITS\tAVG MS")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.0f\n", s.JobType, s.Total, s.Succeeded, s.Failed, s.CacheHits, s.AvgDurationMs)
	}
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().DurationVar(&usageSince, "since", 24*time.Hour, "summarize jobs started within this window")
	usageCmd.Flags().StringVar(&usageDBPath, "db", "", "usage ledger path (default from config)")
}

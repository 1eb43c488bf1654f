package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/quota"
)

// quotaCmd represents the quota command
var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect the search platform quota",
}

// quotaPlanCmd represents the quota plan command
var quotaPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the daily quota allocation per agent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		printPlan(cmd, quota.DefaultPlan, cfg.Quota.DailyLimit)
		return nil
	},
}

func printPlan(cmd *cobra.Command, plan quota.Plan, limit int64) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "AGENT\tMODE\tUNITS/RUN\tRUNS/DAY\tUNITS/DAY\t")
	for _, e := range plan {
		mode := e.Mode
		if mode == "" {
			mode = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t\n", e.Kind, mode, e.UnitsPerRun, e.RunsPerDay, e.UnitsPerRun*e.RunsPerDay)
	}
	_ = w.Flush()

	daily := plan.Daily()
	fmt.Fprintf(cmd.OutOrStdout(), "\nplanned: %d units/day, limit: %d, reserve: %d\n", daily, limit, limit-daily)
}

func init() {
	quotaCmd.AddCommand(quotaPlanCmd)
}

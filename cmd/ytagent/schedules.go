package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/app/builders"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/clock"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/cron"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
)

var schedulesCount int

// schedulesCmd represents the schedules command
var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "List the next fire instants of the schedule table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		zone, err := clock.LoadZone(cfg.App.Zone)
		if err != nil {
			return err
		}
		noop := cron.DispatchFunc(func(context.Context, cron.Job) error { return nil })
		sched, err := builders.NewCronBuilder(cfg, logger.Discard(), clock.Real{}).Build(zone, noop, nil)
		if err != nil {
			return err
		}
		printFires(cmd, sched.Upcoming(schedulesCount))
		return nil
	},
}

func printFires(cmd *cobra.Command, fires []cron.Fire) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tSCHEDULE\tAGENT\tCRON")
	for _, f := range fires {
		agent := f.Kind.String()
		if agent == "" {
			agent = "(system)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.At.Format(time.DateTime+" MST"), f.Name, agent, f.Expr)
	}
	_ = w.Flush()
}

func init() {
	schedulesCmd.Flags().IntVarP(&schedulesCount, "count", "n", 20, "number of fire instants to list")
}

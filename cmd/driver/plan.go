package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/unclebandit/outreach-driver/internal/service"
)

func planCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show today's quota and batch size per sender without sending",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidateDatabase(); err != nil {
				return err
			}
			d, cleanup, err := newDriver(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := d.Plan(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return writePlan(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	return cmd
}

func writePlan(out io.Writer, r *service.PlanReport) error {
	start := "not set (day 0)"
	if r.StartDate != nil {
		start = r.StartDate.Format("2006-01-02")
	}
	fmt.Fprintf(out, "now: %s  enabled: %t  in window: %t\n", r.Now.Format("2006-01-02 15:04 MST"), r.Enabled, r.InWindow)
	fmt.Fprintf(out, "start date: %s  day: %d  hours left: %d\n", start, r.DayIndex, r.HoursLeft)
	if r.GlobalCap > 0 {
		fmt.Fprintf(out, "global cap: %d  sent today: %d\n", r.GlobalCap, r.GlobalSent)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, ch := range r.Channels {
		fmt.Fprintf(tw, "\n%s\tquota %d\t\t\n", ch.Channel, ch.Quota)
		fmt.Fprintln(tw, "SENDER\tSENT\tREMAINING\tBATCH")
		for _, s := range ch.Senders {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", s.Sender, s.Sent, s.Remaining, s.Batch)
		}
	}
	return tw.Flush()
}

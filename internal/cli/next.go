package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"taskbell/internal/alarm"
	"taskbell/internal/config"
	"taskbell/internal/task"
)

// NextCmd previews what a daemon would schedule right now, from the store
// alone.
func NextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show upcoming alarms and tasks ringing now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			all, err := e.tasks.List(cmd.Context(), task.Filter{})
			if err != nil {
				return fmt.Errorf("failed to list tasks: %w", err)
			}
			now := time.Now()
			plan := alarm.Derive(all, now)
			out := cmd.OutOrStdout()

			names := make(map[int64]string, len(all))
			for _, t := range all {
				names[t.ID] = t.Name
			}
			active := plan.Active()
			if len(active) > 0 {
				fmt.Fprintf(out, "%s\n", color.New(color.FgHiMagenta, color.Bold).Sprint("Ringing now:"))
				for _, a := range plan.Actions {
					if a.Kind != alarm.ActionEnsureWorker {
						continue
					}
					fmt.Fprintf(out, "  %d: %s (until %s)\n", a.TaskID, names[a.TaskID], formatTime(a.EndAt, e.loc))
				}
				fmt.Fprintln(out)
			}

			upcoming := plan.Upcoming()
			if len(upcoming) == 0 {
				fmt.Fprintln(out, "No upcoming alarms.")
			} else {
				if limit > 0 && len(upcoming) > limit {
					upcoming = upcoming[:limit]
				}
				fmt.Fprintf(out, "%s\n", color.New(color.Bold).Sprint("Upcoming alarms:"))
				for _, a := range upcoming {
					phase := "start"
					if a.Kind == alarm.ActionScheduleEnd {
						phase = "end"
					}
					fmt.Fprintf(out, "  %s  %-5s  %d: %s (in %s)\n",
						formatTime(a.At, e.loc), phase, a.TaskID, a.Name, humanDuration(a.At.Sub(now)))
				}
			}

			if spec := strings.TrimSpace(e.cfg.Alarm.Resync); spec != "" {
				if sched, err := config.ParseCron(spec); err == nil {
					fmt.Fprintf(out, "\nNext resync: %s (%s)\n", formatTime(sched.Next(now.In(e.loc)), e.loc), spec)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 10, "max upcoming alarms to show (0 = all)")
	return cmd
}

func humanDuration(d time.Duration) string {
	if d < time.Minute {
		return "<1m"
	}
	d = d.Round(time.Minute)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	m := (d - h*time.Hour) / time.Minute
	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh", days, h)
	case h > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"taskbell/internal/task"
	"taskbell/internal/tasks"
)

func ListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			filter, err := task.ParseFilter(status)
			if err != nil {
				return err
			}
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			list, err := e.tasks.List(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list tasks: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No tasks found.")
				return nil
			}
			fmt.Fprintf(out, "Found %d task(s) [%s]:\n\n", len(list), filter)
			now := time.Now()
			for _, t := range list {
				printTask(out, t, e.loc, now)
			}
			return nil
		},
	}
	cmd.Flags().String("status", task.FilterAll, "filter: All, Pending, \"In Progress\", Completed, Canceled")
	return cmd
}

func AddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Add a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			in := tasks.Input{Name: args[0]}
			in.Description, _ = cmd.Flags().GetString("desc")
			startRaw, _ := cmd.Flags().GetString("start")
			endRaw, _ := cmd.Flags().GetString("end")
			if in.StartAt, err = task.ParseTime(startRaw, e.loc); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if in.EndAt, err = task.ParseTime(endRaw, e.loc); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if raw, _ := cmd.Flags().GetString("status"); raw != "" {
				if in.Status, err = task.ParseStatus(raw); err != nil {
					return err
				}
			}

			t, err := e.tasks.Add(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("failed to add task: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Added task %d: %s\n", color.New(color.FgGreen).Sprint("✓"), t.ID, t.Name)
			fmt.Fprintf(cmd.OutOrStdout(), "  %s → %s\n", formatTime(t.StartAt, e.loc), formatTime(t.EndAt, e.loc))
			return nil
		},
	}
	cmd.Flags().String("start", "", "start time (dd/MM/yyyy HH:mm or RFC3339)")
	cmd.Flags().String("end", "", "end time (dd/MM/yyyy HH:mm or RFC3339)")
	cmd.Flags().String("desc", "", "description")
	cmd.Flags().String("status", "", "initial status (default Pending)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func UpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [task-id]",
		Short: "Change fields of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			p, err := patchFromFlags(cmd, e.loc)
			if err != nil {
				return err
			}
			if p.Empty() {
				return fmt.Errorf("nothing to update\nHint: use --name, --desc, --start, --end or --status")
			}
			t, err := e.tasks.Update(cmd.Context(), id, p)
			if err != nil {
				return fmt.Errorf("failed to update task %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Updated task %d\n", color.New(color.FgGreen).Sprint("✓"), id)
			printTask(cmd.OutOrStdout(), t, e.loc, time.Now())
			return nil
		},
	}
	cmd.Flags().String("name", "", "new name")
	cmd.Flags().String("desc", "", "new description")
	cmd.Flags().String("start", "", "new start time")
	cmd.Flags().String("end", "", "new end time")
	cmd.Flags().String("status", "", "new status")
	return cmd
}

func patchFromFlags(cmd *cobra.Command, loc *time.Location) (tasks.Patch, error) {
	var p tasks.Patch
	flags := cmd.Flags()
	if flags.Changed("name") {
		v, _ := flags.GetString("name")
		p.Name = &v
	}
	if flags.Changed("desc") {
		v, _ := flags.GetString("desc")
		p.Description = &v
	}
	for _, f := range []struct {
		name string
		dst  **time.Time
	}{{"start", &p.StartAt}, {"end", &p.EndAt}} {
		if !flags.Changed(f.name) {
			continue
		}
		raw, _ := flags.GetString(f.name)
		v, err := task.ParseTime(raw, loc)
		if err != nil {
			return tasks.Patch{}, fmt.Errorf("--%s: %w", f.name, err)
		}
		*f.dst = &v
	}
	if flags.Changed("status") {
		raw, _ := flags.GetString("status")
		st, err := task.ParseStatus(raw)
		if err != nil {
			return tasks.Patch{}, err
		}
		p.Status = &st
	}
	return p, nil
}

func DeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [task-id]",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.tasks.Delete(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to delete task %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted task %d\n", color.New(color.FgGreen).Sprint("✓"), id)
			return nil
		},
	}
}

func CompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete [task-id]",
		Short: "Mark a task as Completed (silences its alarms)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			t, err := e.tasks.Complete(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to complete task %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Completed task %d: %s\n", color.New(color.FgGreen).Sprint("✓"), t.ID, t.Name)
			return nil
		},
	}
}

func printTask(out io.Writer, t task.Task, loc *time.Location, now time.Time) {
	active := ""
	if !t.Completed() && t.Active(now) {
		active = color.New(color.FgHiMagenta).Sprint(" [ringing]")
	}
	fmt.Fprintf(out, "%s %d: %s [%s]%s\n", statusIcon(t.Status), t.ID, t.Name, colorStatus(t.Status), active)
	fmt.Fprintf(out, "   %s → %s\n", formatTime(t.StartAt, loc), formatTime(t.EndAt, loc))
	if d := strings.TrimSpace(t.Description); d != "" {
		fmt.Fprintf(out, "   %s\n", d)
	}
	fmt.Fprintln(out)
}

func formatTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(task.InputLayout)
}

func statusIcon(s task.Status) string {
	switch s {
	case task.StatusCompleted:
		return "✅"
	case task.StatusInProgress:
		return "🔄"
	case task.StatusCanceled:
		return "🚫"
	default:
		return "•"
	}
}

func colorStatus(s task.Status) string {
	switch s {
	case task.StatusCompleted:
		return color.New(color.FgGreen).Sprint(s)
	case task.StatusInProgress:
		return color.New(color.FgCyan).Sprint(s)
	case task.StatusCanceled:
		return color.New(color.FgRed).Sprint(s)
	default:
		return color.New(color.FgYellow).Sprint(s)
	}
}

package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"neuroforge/internal/scheduler"
)

var (
	scheduleCron     string
	scheduleEvery    time.Duration
	scheduleAt       string
	scheduleMaxRuns  int
	scheduleMaxFails int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage scheduled goals",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <goal text>",
	Short: "Schedule a goal (--cron, --every or --at)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		goalText := args[0]

		var typ scheduler.ScheduleType
		switch {
		case scheduleCron != "":
			typ = scheduler.ScheduleCron
		case scheduleEvery > 0:
			typ = scheduler.ScheduleInterval
		case scheduleAt != "":
			typ = scheduler.ScheduleOnce
		default:
			return fmt.Errorf("one of --cron, --every or --at is required")
		}

		g, err := scheduler.NewGoal(goalText, typ)
		if err != nil {
			return err
		}
		g.CronSpec = scheduleCron
		g.Interval = scheduleEvery
		g.MaxRuns = scheduleMaxRuns
		g.MaxFailures = scheduleMaxFails
		if scheduleAt != "" {
			at, err := time.Parse(time.RFC3339, scheduleAt)
			if err != nil {
				return fmt.Errorf("--at must be RFC3339: %w", err)
			}
			g.RunAt = at
		}
		if err := g.Validate(); err != nil {
			return err
		}

		store, err := openSchedulerStore()
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.SaveGoal(g); err != nil {
			return err
		}

		fmt.Printf("scheduled %s goal %s\n", g.Type, g.ID)
		if g.Type == scheduler.ScheduleCron {
			next, err := scheduler.NextCron(g.CronSpec, time.Now())
			if err == nil {
				fmt.Printf("next run: %s\n", next.Format(time.RFC3339))
			}
		}
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled goals",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSchedulerStore()
		if err != nil {
			return err
		}
		defer store.Close()

		goals, err := store.LoadGoals()
		if err != nil {
			return err
		}
		if len(goals) == 0 {
			fmt.Println("no scheduled goals")
			return nil
		}
		for _, g := range goals {
			state, _ := store.LoadState(g.ID)
			trigger := string(g.Type)
			switch g.Type {
			case scheduler.ScheduleCron:
				trigger = "cron " + g.CronSpec
			case scheduler.ScheduleInterval:
				trigger = "every " + g.Interval.String()
			case scheduler.ScheduleOnce:
				trigger = "at " + g.RunAt.Format(time.RFC3339)
			}
			fmt.Printf("%s  [%s]  enabled=%v  runs=%d  %q\n",
				g.ID, trigger, g.Enabled, state.RunCount, g.GoalText)
			if state.DisabledReason != "" {
				fmt.Printf("  disabled: %s\n", state.DisabledReason)
			}
		}
		return nil
	},
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove <goal id>",
	Short: "Remove a scheduled goal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSchedulerStore()
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.DeleteGoal(args[0]); err != nil {
			return err
		}
		fmt.Println("removed", args[0])
		return nil
	},
}

func openSchedulerStore() (scheduler.StateStore, error) {
	return scheduler.NewSQLiteStateStore(filepath.Join(cfg.DataDir, "scheduler.db"))
}

func init() {
	scheduleAddCmd.Flags().StringVar(&scheduleCron, "cron", "", "standard five-field cron spec")
	scheduleAddCmd.Flags().DurationVar(&scheduleEvery, "every", 0, "fixed interval (e.g. 30m)")
	scheduleAddCmd.Flags().StringVar(&scheduleAt, "at", "", "one-shot time, RFC3339")
	scheduleAddCmd.Flags().IntVar(&scheduleMaxRuns, "max-runs", 0, "disable after this many runs")
	scheduleAddCmd.Flags().IntVar(&scheduleMaxFails, "max-failures", 0, "disable after this many consecutive failures")

	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleRemoveCmd)
	rootCmd.AddCommand(scheduleCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/schedule"
)

func newSchedulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Register and inspect cron/interval workflow schedules",
	}
	cmd.AddCommand(
		newSchedulesRegisterCmd(),
		newSchedulesListCmd(),
		newSchedulesEnableCmd(),
		newSchedulesDisableCmd(),
		newSchedulesDeleteCmd(),
	)
	return cmd
}

func newSchedulesRegisterCmd() *cobra.Command {
	var name, workflowName, expr, argsJSON, kwargsJSON string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || workflowName == "" || expr == "" {
				return userError("--name, --workflow-name, and --expr are required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			sched, err := schedule.ParseExpr(expr)
			if err != nil {
				return userError("invalid schedule expression %q: %v", expr, err)
			}

			var argsRaw, kwargsRaw json.RawMessage
			if argsJSON != "" {
				argsRaw = json.RawMessage(argsJSON)
			}
			if kwargsJSON != "" {
				kwargsRaw = json.RawMessage(kwargsJSON)
			}

			now := time.Now().UTC()
			next := sched.Next(now)
			entry := &schedule.Entry{
				ID:           id.NewScheduleID(),
				Name:         name,
				WorkflowName: workflowName,
				Expr:         expr,
				Args:         argsRaw,
				Kwargs:       kwargsRaw,
				Enabled:      true,
				NextRunAt:    &next,
				CreatedAt:    now,
			}
			if err := a.scheduleStore.RegisterSchedule(cmd.Context(), entry); err != nil {
				return unexpectedError(err)
			}
			return printJSON(cmd, entry)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "unique schedule name")
	cmd.Flags().StringVar(&workflowName, "workflow-name", "", "workflow to start on each firing")
	cmd.Flags().StringVar(&expr, "expr", "", "cron expression or @every interval, e.g. \"0 0 * * *\" or \"@every 30m\"")
	cmd.Flags().StringVar(&argsJSON, "args", "", "JSON array of positional workflow arguments")
	cmd.Flags().StringVar(&kwargsJSON, "kwargs", "", "JSON object of keyword workflow arguments")
	return cmd
}

func newSchedulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			entries, err := a.scheduleStore.ListSchedules(cmd.Context())
			if err != nil {
				return unexpectedError(err)
			}
			return printJSON(cmd, entries)
		},
	}
}

func resolveScheduleByName(cmd *cobra.Command, a *app, name string) (*schedule.Entry, error) {
	entries, err := a.scheduleStore.ListSchedules(cmd.Context())
	if err != nil {
		return nil, unexpectedError(err)
	}
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return nil, userError("no schedule named %q", name)
}

func newSchedulesEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <name>",
		Short: "Enable a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			entry, err := resolveScheduleByName(cmd, a, args[0])
			if err != nil {
				return err
			}
			entry.Enabled = true
			if err := a.scheduleStore.UpdateScheduleEntry(cmd.Context(), entry); err != nil {
				return unexpectedError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schedule enabled")
			return nil
		},
	}
}

func newSchedulesDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <name>",
		Short: "Disable a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			entry, err := resolveScheduleByName(cmd, a, args[0])
			if err != nil {
				return err
			}
			entry.Enabled = false
			if err := a.scheduleStore.UpdateScheduleEntry(cmd.Context(), entry); err != nil {
				return unexpectedError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schedule disabled")
			return nil
		},
	}
}

func newSchedulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			entry, err := resolveScheduleByName(cmd, a, args[0])
			if err != nil {
				return err
			}
			if err := a.scheduleStore.DeleteSchedule(cmd.Context(), entry.ID); err != nil {
				return unexpectedError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schedule deleted")
			return nil
		},
	}
}

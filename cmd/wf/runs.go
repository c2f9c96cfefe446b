package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/run"
	"github.com/QualityUnit/pyworkflow/store"
)

func runStatus(s string) run.Status {
	return run.Status(s)
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and control workflow runs",
	}
	cmd.AddCommand(
		newRunsListCmd(),
		newRunsStatusCmd(),
		newRunsLogsCmd(),
		newRunsCancelCmd(),
		newRunsChildrenCmd(),
	)
	return cmd
}

func newRunsListCmd() *cobra.Command {
	var workflowName, status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			runs, _, err := a.store.ListRuns(cmd.Context(), store.RunFilter{
				WorkflowName: workflowName,
				Status:       runStatus(status),
			}, store.ListOpts{Limit: limit})
			if err != nil {
				return unexpectedError(err)
			}
			return printJSON(cmd, runs)
		},
	}
	cmd.Flags().StringVar(&workflowName, "workflow-name", "", "filter by workflow name")
	cmd.Flags().StringVar(&status, "status", "", "filter by run status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of runs to return")
	return cmd
}

func newRunsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run_id>",
		Short: "Show the current status of a run",
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

			runID, err := id.ParseRunID(args[0])
			if err != nil {
				return userError("invalid run id %q: %v", args[0], err)
			}
			r, err := a.store.GetRun(cmd.Context(), runID)
			if err != nil {
				return unexpectedError(err)
			}
			return printJSON(cmd, r)
		},
	}
}

func newRunsLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <run_id>",
		Short: "Show the ordered event log for a run",
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

			runID, err := id.ParseRunID(args[0])
			if err != nil {
				return userError("invalid run id %q: %v", args[0], err)
			}
			events, err := a.store.ReadEvents(cmd.Context(), runID, 0)
			if err != nil {
				return unexpectedError(err)
			}
			return printJSON(cmd, events)
		},
	}
}

func newRunsCancelCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <run_id>",
		Short: "Request cancellation of a run",
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

			runID, err := id.ParseRunID(args[0])
			if err != nil {
				return userError("invalid run id %q: %v", args[0], err)
			}
			if err := a.engine.Cancel(cmd.Context(), runID, reason); err != nil {
				return unexpectedError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cancellation requested")
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func newRunsChildrenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "children <run_id>",
		Short: "List runs started as children of a run",
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

			runID, err := id.ParseRunID(args[0])
			if err != nil {
				return userError("invalid run id %q: %v", args[0], err)
			}
			children, err := a.store.ListChildRuns(cmd.Context(), runID)
			if err != nil {
				return unexpectedError(err)
			}
			return printJSON(cmd, children)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return unexpectedError(err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newWorkflowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Inspect and drive registered workflows",
	}
	cmd.AddCommand(newWorkflowsListCmd(), newWorkflowsRunCmd())
	return cmd
}

func newWorkflowsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered workflow names and their parameter schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			descriptors := workflowDescriptors()
			out, err := json.MarshalIndent(descriptors, "", "  ")
			if err != nil {
				return unexpectedError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newWorkflowsRunCmd() *cobra.Command {
	var input string
	var idempotencyKey string

	cmd := &cobra.Command{
		Use:   "run <workflow_name>",
		Short: "Start a workflow run",
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

			var kwargs json.RawMessage
			if input != "" {
				if !json.Valid([]byte(input)) {
					return userError("--input is not valid JSON")
				}
				kwargs = json.RawMessage(input)
			}

			runID, err := startRun(cmd.Context(), a, args[0], kwargs, idempotencyKey)
			if err != nil {
				return unexpectedError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), runID)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "JSON-encoded workflow kwargs")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "idempotency key for the start call")
	return cmd
}

func startRun(ctx context.Context, a *app, name string, kwargs json.RawMessage, idempotencyKey string) (string, error) {
	startOpts := buildStartOptions(idempotencyKey)
	runID, err := a.engine.Start(ctx, name, nil, kwargs, startOpts...)
	if err != nil {
		return "", err
	}
	return runID.String(), nil
}

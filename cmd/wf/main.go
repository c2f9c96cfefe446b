// Command wf is the operator CLI for the workflow execution engine,
// implementing spec §6.2: running workers, listing and driving
// workflows, and inspecting or cancelling runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/QualityUnit/pyworkflow/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "wf",
		Short:         "Operate the workflow execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to pyworkflow.config.yaml (defaults to ./pyworkflow.config.yaml if present)")

	root.AddCommand(newWorkerCmd(), newWorkflowsCmd(), newRunsCmd(), newSchedulesCmd(), newSetupCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wf:", err)
		os.Exit(exitCode(err))
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, userError("%v", err)
	}
	return cfg, nil
}

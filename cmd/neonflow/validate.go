package main

import (
	"fmt"

	"github.com/aretw0/neonflow/internal/cli"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check workflow definitions for consistency",
	Long:  `Compiles the definitions and checks every workflow graph: unique node ids, positive budgets, and targets that exist.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		if len(args) > 0 {
			cfg.WorkflowsPath = args[0]
		}
		wfs, path, err := cli.LoadWorkflows(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if err := cli.ValidateWorkflows(wfs); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d workflows are valid\n", path, len(wfs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/neonflow/internal/cli"
	"github.com/aretw0/neonflow/pkg/ports"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect archived runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store ports.RunStore) error {
			return cli.PrintRuns(ctx, cmd.OutOrStdout(), store)
		})
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print an archived run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store ports.RunStore) error {
			rec, err := store.Load(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		})
	},
}

var runsRmCmd = &cobra.Command{
	Use:   "rm <run-id>...",
	Short: "Delete archived runs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store ports.RunStore) error {
			for _, id := range args {
				if err := store.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return nil
		})
	},
}

func withStore(cmd *cobra.Command, fn func(context.Context, ports.RunStore) error) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	store, closeStore, err := cli.NewStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(context.Background())
	return fn(cmd.Context(), store)
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsRmCmd)
}

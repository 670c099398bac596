package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/neonflow/internal/cli"
	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/aretw0/neonflow/pkg/session"
	"github.com/spf13/cobra"
)

var runJSON bool

var runCmd = &cobra.Command{
	Use:   "run <workflow> [prompt...]",
	Short: "Run one workflow",
	Long:  `Runs the named workflow from its entry node. The prompt is available to templates as {{nminput}}.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args[1:], " ")
		if prompt == "" {
			prompt = session.DefaultRunPrompt
		}
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			res, err := app.Manager.RunWorkflow(ctx, args[0], prompt)
			printResults(cmd.OutOrStdout(), res)
			return err
		})
	},
}

var runAllCmd = &cobra.Command{
	Use:   "run-all [prompt...]",
	Short: "Run every workflow concurrently",
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		if prompt == "" {
			prompt = session.DefaultRunAllPrompt
		}
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			results, err := app.Manager.RunAll(ctx, prompt)
			printResults(cmd.OutOrStdout(), results...)
			return err
		})
	},
}

// withApp runs fn with a wired application and a context canceled on interrupt.
func withApp(cmd *cobra.Command, fn func(context.Context, *cli.App) error) error {
	sigCtx := cli.NewSignalContext(cmd.Context())
	defer sigCtx.Cancel()

	app, err := newApp(sigCtx, false)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			app.Logger.Warn("Shutdown incomplete", "err", err)
		}
	}()

	err = fn(sigCtx, app)
	if errors.Is(err, context.Canceled) && sigCtx.Signal() != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), ">>> Interrupted (%s)\n", sigCtx.Signal())
	}
	return cli.HandleExecutionError(err)
}

func printResults(w io.Writer, results ...*domain.RunResult) {
	if runJSON {
		records := make([]*domain.RunRecord, 0, len(results))
		for _, res := range results {
			if res != nil {
				records = append(records, res.Record())
			}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(records)
		return
	}
	for _, res := range results {
		cli.PrintResult(w, res)
	}
}

func init() {
	rootCmd.AddCommand(runCmd, runAllCmd)
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print run records as JSON")
	runAllCmd.Flags().BoolVar(&runJSON, "json", false, "Print run records as JSON")
}

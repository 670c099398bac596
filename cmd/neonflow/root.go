package main

import (
	"context"
	"os"

	"github.com/aretw0/neonflow/internal/cli"
	"github.com/aretw0/neonflow/internal/config"
	"github.com/spf13/cobra"
)

var opts cli.Options

var rootCmd = &cobra.Command{
	Use:   "neonflow",
	Short: "neonflow runs multi-step AI agent workflows",
	Long: `neonflow executes workflows of Agent and Validator nodes against an
OpenAI-compatible model API. Validators judge the previous output and route
the run to their success or failure target until it reaches the end.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.WorkflowsPath, "file", "f", "", "Workflow definitions (YAML, JSON or .nm; default workflows.yaml, then config.nm)")
	pf.StringVar(&opts.ConfigPath, "config", "", "Config file (default neonflow.yaml if present)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&opts.Store, "store", "", "Run archive: memory, file or redis")
	pf.BoolVar(&opts.Mock, "mock", false, "Echo rendered prompts instead of calling the model")
}

// loadConfig resolves the configuration. Offline commands never reach the
// model, so they skip the transport checks.
func loadConfig(offline bool) (config.Config, error) {
	o := opts
	o.Mock = o.Mock || offline
	return cli.LoadConfig(o)
}

// newApp wires a full application for the command.
func newApp(ctx context.Context, offline bool) (*cli.App, error) {
	cfg, err := loadConfig(offline)
	if err != nil {
		return nil, err
	}
	return cli.NewApp(ctx, cfg, nil)
}

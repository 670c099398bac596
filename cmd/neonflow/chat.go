package main

import (
	"context"
	"os"

	"github.com/aretw0/neonflow"
	"github.com/aretw0/neonflow/internal/cli"
	"github.com/aretw0/neonflow/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long:  `Reads chat lines from stdin. Lines starting with / are commands (/help lists them); any other line runs the active workflow.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if tui.IsTerminal(os.Stdout) {
			tui.PrintBanner(out, neonflow.Version)
		}
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			return cli.RunChat(ctx, app.Manager, cmd.InOrStdin(), out, cli.ChatOptions{
				SessionID: chatSession,
				Render:    tui.NewRenderer(os.Stdout),
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatSession, "session", "cli", "Session identifier")
}

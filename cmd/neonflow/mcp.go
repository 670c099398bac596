package main

import (
	"context"
	"fmt"

	"github.com/aretw0/neonflow/internal/cli"
	"github.com/aretw0/neonflow/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var (
	mcpTransport string
	mcpPort      int
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes workflows to MCP clients as tools.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			srv := mcp.NewServer(app.Manager, app.Logger)
			switch mcpTransport {
			case "stdio":
				// Logs go to stderr so they never corrupt JSON-RPC on stdout.
				app.Logger.Info("Starting neonflow MCP server (stdio)")
				return srv.ServeStdio()
			case "sse":
				return srv.ServeSSE(ctx, mcpPort)
			default:
				return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", mcpTransport)
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpTransport, "transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().IntVar(&mcpPort, "port", 8080, "Port to listen on (only for SSE)")
}

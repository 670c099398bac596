package main

import (
	"fmt"

	"github.com/aretw0/neonflow/internal/cli"
	"github.com/aretw0/neonflow/internal/presentation/graph"
	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/spf13/cobra"
)

var graphRunID string

var graphCmd = &cobra.Command{
	Use:   "graph <workflow>",
	Short: "Export a workflow graph as a Mermaid diagram",
	Long:  `Outputs a Mermaid flowchart of the workflow. With --run, visit counts of an archived run are overlaid.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		wfs, _, err := cli.LoadWorkflows(ctx, cfg)
		if err != nil {
			return err
		}
		var wf *domain.Workflow
		for i := range wfs {
			if wfs[i].Name == args[0] {
				wf = &wfs[i]
			}
		}
		if wf == nil {
			return fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, args[0])
		}

		var overlay *graph.GraphOverlay
		if graphRunID != "" {
			store, closeStore, err := cli.NewStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore(ctx)
			rec, err := store.Load(ctx, graphRunID)
			if err != nil {
				return err
			}
			overlay = graph.OverlayFromState(rec.State)
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(*wf, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringVar(&graphRunID, "run", "", "Overlay the archived run with this ID")
}

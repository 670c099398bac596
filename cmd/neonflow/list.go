package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/aretw0/neonflow/internal/cli"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the loaded workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		wfs, _, err := cli.LoadWorkflows(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tNODES\tENTRY\tMODEL\tTEMPERATURE")
		for _, wf := range wfs {
			temperature := "default"
			if wf.Temperature != nil {
				temperature = strconv.FormatFloat(*wf.Temperature, 'f', -1, 64)
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", wf.Name, len(wf.Nodes), wf.Entry, wf.Model, temperature)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/aretw0/neonflow/internal/cli"
	"github.com/aretw0/neonflow/internal/compiler"
	"github.com/spf13/cobra"
)

var (
	exportFormat string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Convert workflow definitions to another format",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		wfs, _, err := cli.LoadWorkflows(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		out, err := compiler.Encode(wfs, compiler.Format(exportFormat))
		if err != nil {
			return err
		}
		if exportOutput == "" {
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}
		if err := os.WriteFile(exportOutput, out, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d workflows to %s\n", len(wfs), exportOutput)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportFormat, "format", "nm", "Output format: nm, yaml or json")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to a file instead of stdout")
}

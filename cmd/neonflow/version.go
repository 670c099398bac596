package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/neonflow"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of neonflow",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "neonflow version %s\n", strings.TrimSpace(neonflow.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

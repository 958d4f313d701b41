// Command dicho solves VRP instance files locally with the dichotomous decomposition.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"vrpdicho/internal/buildinfo"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "dicho",
		Short:         "Dichotomous VRP decomposition",
		Long:          "dicho splits large vehicle routing instances in two recursively, solves the halves and merges the routes.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newSolveCmd())
	rootCmd.AddCommand(newCandidateCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
		},
	}
}

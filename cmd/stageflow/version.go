package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/stageflow"
	"github.com/aretw0/stageflow/internal/cli"
	"github.com/aretw0/stageflow/internal/presentation/tui"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of stageflow",
		Run: func(cmd *cobra.Command, args []string) {
			version := strings.TrimSpace(stageflow.Version)
			p := cli.NewPrinter(cmd.OutOrStdout(), false).Profile()
			if p == termenv.Ascii {
				fmt.Fprintf(cmd.OutOrStdout(), "stageflow version %s\n", version)
				return
			}
			tui.PrintBanner(cmd.OutOrStdout(), p, version)
		},
	}
}

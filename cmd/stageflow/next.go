package main

import (
	"github.com/spf13/cobra"
)

func newNextCmd(a *app) *cobra.Command {
	var from string
	nextCmd := &cobra.Command{
		Use:   "next <session-id>",
		Short: "List the stages that may follow the current one",
		Long: `List the stages that may follow a stage of the session (the current
stage unless --from is given), evaluated against the session context.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			next, err := eng.NextStages(cmd.Context(), args[0], from)
			if err != nil {
				return err
			}
			return a.printer.Stages(next)
		},
	}
	nextCmd.Flags().StringVar(&from, "from", "", "Source stage (default: the current stage)")
	return nextCmd
}

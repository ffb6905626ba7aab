package main

import (
	"github.com/aretw0/stageflow/internal/presentation/graph"
	"github.com/aretw0/stageflow/pkg/definition"
	"github.com/spf13/cobra"
)

func newWorkflowCmd(a *app) *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Inspect workflow definitions",
	}

	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List workflow ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			ids, err := eng.Workflows(cmd.Context())
			if err != nil {
				return err
			}
			return a.printer.Workflows(ids)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Describe the stages and transitions of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			def, err := eng.Workflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			g, err := definition.Parse(def)
			if err != nil {
				return err
			}
			return a.printer.Workflow(def, g)
		},
	}

	var sessionID string
	graphCmd := &cobra.Command{
		Use:   "graph <workflow-id>",
		Short: "Print a Mermaid flowchart of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			def, err := eng.Workflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			g, err := definition.Parse(def)
			if err != nil {
				return err
			}

			var overlay *graph.Overlay
			if sessionID != "" {
				sess, err := eng.Session(cmd.Context(), sessionID)
				if err != nil {
					return err
				}
				overlay = &graph.Overlay{
					CompletedStages: sess.CompletedStages,
					CurrentStage:    sess.CurrentStageID,
				}
			}
			return a.printer.Raw(graph.GenerateMermaid(g, overlay))
		},
	}
	graphCmd.Flags().StringVar(&sessionID, "session", "", "Highlight the progress of this session")

	workflowCmd.AddCommand(lsCmd, showCmd, graphCmd)
	return workflowCmd
}

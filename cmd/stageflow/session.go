package main

import (
	"context"

	"github.com/aretw0/stageflow"
	"github.com/aretw0/stageflow/internal/cli"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/ports"
	"github.com/spf13/cobra"
)

func newSessionCmd(a *app) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage workflow sessions",
		Long:  `Start, list, inspect, pause, resume, abort and remove sessions.`,
	}

	var (
		name     string
		values   []string
		runFirst bool
	)
	startCmd := &cobra.Command{
		Use:   "start <workflow-id>",
		Short: "Start a new session of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initial, err := cli.ParseValues(values)
			if err != nil {
				return err
			}
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			sess, err := eng.StartSession(ctx, args[0], name)
			if err != nil {
				return err
			}
			if len(initial) > 0 {
				if sess, err = eng.UpdateSessionContext(ctx, sess.ID, initial); err != nil {
					return err
				}
			}
			if runFirst {
				if _, err := eng.StartFirstStage(ctx, sess.ID); err != nil {
					return err
				}
				if sess, err = eng.Session(ctx, sess.ID); err != nil {
					return err
				}
			}
			return a.printer.Session(sess)
		},
	}
	startCmd.Flags().StringVarP(&name, "name", "n", "", "Human readable session name")
	startCmd.Flags().StringArrayVar(&values, "set", nil, "Initial context entry key=value (repeatable)")
	startCmd.Flags().BoolVar(&runFirst, "first", false, "Enter the first stage right away")

	var status, workflowID string
	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ports.SessionFilter{WorkflowID: workflowID}
			if status != "" {
				s, err := domain.ParseSessionStatus(status)
				if err != nil {
					return err
				}
				filter.Status = s
			}
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			list, err := eng.Sessions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return a.printer.Sessions(list)
		},
	}
	lsCmd.Flags().StringVar(&status, "status", "", "Only sessions in this status")
	lsCmd.Flags().StringVar(&workflowID, "workflow", "", "Only sessions of this workflow")

	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Inspect a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			sess, err := eng.Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printer.Session(sess)
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <session-id> key=value...",
		Short: "Merge entries into the session context",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			partial, err := cli.ParseValues(args[1:])
			if err != nil {
				return err
			}
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			sess, err := eng.UpdateSessionContext(cmd.Context(), args[0], partial)
			if err != nil {
				return err
			}
			return a.printer.Session(sess)
		},
	}

	progressCmd := &cobra.Command{
		Use:   "progress <session-id>",
		Short: "Show how many workflow stages a session completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			p, err := eng.SessionProgress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printer.SessionProgress(p)
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm <session-id>...",
		Short: "Remove one or more sessions and their stage instances",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			var firstErr error
			for _, id := range args {
				if err := eng.DeleteSession(cmd.Context(), id); err != nil {
					a.printer.Message("Error removing '%s': %v", id, err)
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				a.printer.Message("Removed session '%s'", id)
			}
			return firstErr
		},
	}

	sessionCmd.AddCommand(
		startCmd, lsCmd, showCmd, setCmd, progressCmd, rmCmd,
		statusCmd(a, "pause", "Pause an active session", (*stageflow.Engine).PauseSession),
		statusCmd(a, "resume", "Resume a paused session", (*stageflow.Engine).ResumeSession),
		statusCmd(a, "abort", "Abort a session", (*stageflow.Engine).AbortSession),
		statusCmd(a, "complete", "Mark a session completed", (*stageflow.Engine).CompleteSession),
	)
	return sessionCmd
}

// statusCmd builds a command that applies one session status change.
func statusCmd(a *app, use, short string, apply func(*stageflow.Engine, context.Context, string) (*domain.Session, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			sess, err := apply(eng, cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printer.Session(sess)
		},
	}
}

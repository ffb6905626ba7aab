package main

import (
	"github.com/aretw0/stageflow/internal/cli"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/spf13/cobra"
)

func newStageCmd(a *app) *cobra.Command {
	stageCmd := &cobra.Command{
		Use:   "stage",
		Short: "Drive the stage instances of a session",
	}

	firstCmd := &cobra.Command{
		Use:   "first <session-id>",
		Short: "Enter the first stage of the session's workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			if _, err := eng.StartFirstStage(cmd.Context(), args[0]); err != nil {
				return err
			}
			inst, err := eng.CurrentInstance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printer.Instance(inst)
		},
	}

	enterCmd := sessionStageCmd(a, "enter", "Enter a stage, creating its instance if needed", func(c *cobra.Command, sessionID, stageID string) (*domain.StageInstance, error) {
		eng, err := a.engine(c)
		if err != nil {
			return nil, err
		}
		return eng.EnterStage(c.Context(), sessionID, stageID)
	})
	advanceCmd := sessionStageCmd(a, "advance", "Enter a stage that follows the current one", func(c *cobra.Command, sessionID, stageID string) (*domain.StageInstance, error) {
		eng, err := a.engine(c)
		if err != nil {
			return nil, err
		}
		return eng.Advance(c.Context(), sessionID, stageID)
	})
	retryCmd := sessionStageCmd(a, "retry", "Start a new attempt of a failed or skipped stage", func(c *cobra.Command, sessionID, stageID string) (*domain.StageInstance, error) {
		eng, err := a.engine(c)
		if err != nil {
			return nil, err
		}
		return eng.RetryStage(c.Context(), sessionID, stageID)
	})

	lsCmd := &cobra.Command{
		Use:   "ls <session-id>",
		Short: "List the stage instances of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			list, err := eng.Instances(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printer.Instances(list)
		},
	}

	currentCmd := &cobra.Command{
		Use:   "current <session-id>",
		Short: "Show the instance of the session's current stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			inst, err := eng.CurrentInstance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printer.Instance(inst)
		},
	}

	showCmd := instanceCmd(a, "show", "Inspect a stage instance", func(c *cobra.Command, id string) (*domain.StageInstance, error) {
		eng, err := a.engine(c)
		if err != nil {
			return nil, err
		}
		return eng.Instance(c.Context(), id)
	})
	startCmd := instanceCmd(a, "start", "Move a pending instance to active", func(c *cobra.Command, id string) (*domain.StageInstance, error) {
		eng, err := a.engine(c)
		if err != nil {
			return nil, err
		}
		return eng.StartStage(c.Context(), id)
	})

	var deliverables []string
	completeCmd := instanceCmd(a, "complete", "Complete an instance", func(c *cobra.Command, id string) (*domain.StageInstance, error) {
		values, err := cli.ParseValues(deliverables)
		if err != nil {
			return nil, err
		}
		eng, err := a.engine(c)
		if err != nil {
			return nil, err
		}
		return eng.CompleteStage(c.Context(), id, values)
	})
	completeCmd.Flags().StringArrayVar(&deliverables, "deliverable", nil, "Deliverable key=value (repeatable)")

	var failReason string
	failCmd := instanceCmd(a, "fail", "Fail an instance", func(c *cobra.Command, id string) (*domain.StageInstance, error) {
		eng, err := a.engine(c)
		if err != nil {
			return nil, err
		}
		return eng.FailStage(c.Context(), id, failReason)
	})
	failCmd.Flags().StringVar(&failReason, "reason", "", "Why the stage failed")

	var skipReason string
	skipCmd := instanceCmd(a, "skip", "Skip an instance", func(c *cobra.Command, id string) (*domain.StageInstance, error) {
		eng, err := a.engine(c)
		if err != nil {
			return nil, err
		}
		return eng.SkipStage(c.Context(), id, skipReason)
	})
	skipCmd.Flags().StringVar(&skipReason, "reason", "", "Why the stage was skipped")

	itemCmd := &cobra.Command{
		Use:   "item <instance-id> <item-id>...",
		Short: "Mark checklist items as done",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			var inst *domain.StageInstance
			for _, item := range args[1:] {
				if inst, err = eng.CompleteItem(cmd.Context(), args[0], item); err != nil {
					return err
				}
			}
			p, err := eng.Progress(cmd.Context(), inst.ID)
			if err != nil {
				return err
			}
			return a.printer.Progress(p)
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <instance-id> key=value...",
		Short: "Merge entries into the instance context",
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
			inst, err := eng.UpdateStageContext(cmd.Context(), args[0], partial)
			if err != nil {
				return err
			}
			return a.printer.Instance(inst)
		},
	}

	progressCmd := &cobra.Command{
		Use:   "progress <instance-id>",
		Short: "Show checklist progress of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd)
			if err != nil {
				return err
			}
			p, err := eng.Progress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printer.Progress(p)
		},
	}

	stageCmd.AddCommand(
		firstCmd, enterCmd, advanceCmd, retryCmd, lsCmd, currentCmd,
		showCmd, startCmd, completeCmd, failCmd, skipCmd, itemCmd, setCmd, progressCmd,
	)
	return stageCmd
}

// sessionStageCmd builds a "<verb> <session-id> <stage-id>" command.
func sessionStageCmd(a *app, use, short string, run func(cmd *cobra.Command, sessionID, stageID string) (*domain.StageInstance, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-id> <stage-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := run(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			return a.printer.Instance(inst)
		},
	}
}

// instanceCmd builds a "<verb> <instance-id>" command.
func instanceCmd(a *app, use, short string, run func(cmd *cobra.Command, instanceID string) (*domain.StageInstance, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <instance-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := run(cmd, args[0])
			if err != nil {
				return err
			}
			return a.printer.Instance(inst)
		},
	}
}

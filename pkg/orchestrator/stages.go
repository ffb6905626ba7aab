package orchestrator

import (
	"context"
	"errors"

	"github.com/aretw0/stageflow/pkg/domain"
)

// Context keys written by FailStage and SkipStage.
const (
	ContextKeyError      = "error"
	ContextKeySkipReason = "skip_reason"
)

// StartFirstStage enters the first well-formed stage of the session's
// workflow, creating its instance unless one exists, and returns its id.
// It fails with a ValidationError when the workflow has no stages.
func (o *Orchestrator) StartFirstStage(ctx context.Context, sessionID string) (string, error) {
	var stageID string
	err := o.mutate(ctx, sessionID, func(ctx context.Context, u *unit) error {
		sess, err := activeSession(ctx, u.repo, sessionID)
		if err != nil {
			return err
		}
		_, g, err := o.graph(ctx, sess.WorkflowID)
		if err != nil {
			return err
		}
		first, ok := g.FirstStage()
		if !ok {
			return &domain.ValidationError{
				Field:  "stages",
				Value:  sess.WorkflowID,
				Reason: "workflow has no stages",
			}
		}
		if _, err := o.enterStage(ctx, u, sess, first, true); err != nil {
			return err
		}
		stageID = first.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	o.logger.Info("session started first stage", "session_id", sessionID, "stage_id", stageID)
	return stageID, nil
}

// CreateStageInstance returns the session's instance for stage, creating it
// when none exists, and makes stage the current one.
func (o *Orchestrator) CreateStageInstance(ctx context.Context, sessionID string, stage domain.StageDefinition) (*domain.StageInstance, error) {
	if stage.ID == "" {
		return nil, &domain.ValidationError{Field: "stage_id", Reason: "stage definition has no id"}
	}
	var inst *domain.StageInstance
	err := o.mutate(ctx, sessionID, func(ctx context.Context, u *unit) error {
		sess, err := activeSession(ctx, u.repo, sessionID)
		if err != nil {
			return err
		}
		inst, err = o.enterStage(ctx, u, sess, stage, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// EnterStage is CreateStageInstance for a stage id of the session's workflow.
func (o *Orchestrator) EnterStage(ctx context.Context, sessionID, stageID string) (*domain.StageInstance, error) {
	sess, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	stage, err := o.stageDefinition(ctx, sess, stageID)
	if err != nil {
		return nil, err
	}
	return o.CreateStageInstance(ctx, sessionID, stage)
}

// Advance enters stageID only if it is one of the session's next stages.
func (o *Orchestrator) Advance(ctx context.Context, sessionID, stageID string) (*domain.StageInstance, error) {
	var inst *domain.StageInstance
	err := o.mutate(ctx, sessionID, func(ctx context.Context, u *unit) error {
		sess, err := activeSession(ctx, u.repo, sessionID)
		if err != nil {
			return err
		}
		next, err := o.nextStages(ctx, sess, "")
		if err != nil {
			return err
		}
		for _, stage := range next {
			if stage.ID == stageID {
				inst, err = o.enterStage(ctx, u, sess, stage, true)
				return err
			}
		}
		return &domain.ValidationError{
			Field:    "stage_id",
			Value:    stageID,
			Expected: stageIDs(next),
			Reason:   "stage does not follow " + sess.CurrentStageID,
		}
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// RetryStage creates a fresh attempt of a stage whose latest attempt failed
// or was skipped, and makes it current.
func (o *Orchestrator) RetryStage(ctx context.Context, sessionID, stageID string) (*domain.StageInstance, error) {
	var inst *domain.StageInstance
	err := o.mutate(ctx, sessionID, func(ctx context.Context, u *unit) error {
		sess, err := activeSession(ctx, u.repo, sessionID)
		if err != nil {
			return err
		}
		latest, err := u.repo.FindInstance(ctx, sessionID, stageID)
		if err != nil {
			return err
		}
		if latest.Status != domain.StageFailed && latest.Status != domain.StageSkipped {
			return &domain.InvalidTransitionError{
				Entity: domain.KindStageInstance,
				ID:     latest.ID,
				From:   string(latest.Status),
				To:     "retry",
			}
		}
		stage, err := o.stageDefinition(ctx, sess, stageID)
		if err != nil {
			return err
		}
		inst, err = o.enterStage(ctx, u, sess, stage, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("stage retried", "session_id", sessionID, "stage_id", stageID, "instance_id", inst.ID)
	return inst, nil
}

// enterStage creates (or, with reuse, finds) the instance for stage and sets
// it as the session's current stage.
func (o *Orchestrator) enterStage(ctx context.Context, u *unit, sess *domain.Session, stage domain.StageDefinition, reuse bool) (*domain.StageInstance, error) {
	var inst *domain.StageInstance
	if reuse {
		existing, err := u.repo.FindInstance(ctx, sess.ID, stage.ID)
		switch {
		case err == nil:
			inst = existing
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}
	if inst == nil {
		created, err := u.repo.CreateInstance(ctx, sess.ID, stage.ID, stage.DisplayName(), nil)
		if err != nil {
			return nil, err
		}
		inst = created
		u.stageEvent(domain.EventStageCreated, sess, inst, "")
	}
	if sess.CurrentStageID != stage.ID {
		updated, err := u.repo.SetCurrentStage(ctx, sess.ID, stage.ID)
		if err != nil {
			return nil, err
		}
		*sess = *updated
		u.stageEvent(domain.EventStageEntered, sess, inst, "")
	}
	return inst, nil
}

// StartStage moves a pending instance to active.
func (o *Orchestrator) StartStage(ctx context.Context, instanceID string) (*domain.StageInstance, error) {
	return o.transitionStage(ctx, instanceID, func(ctx context.Context, u *unit, sess *domain.Session, inst *domain.StageInstance) (*domain.StageInstance, error) {
		return o.setStatus(ctx, u, sess, inst, domain.StageActive)
	})
}

// CompleteStage merges deliverables (when given), completes the instance and
// records its stage in the session's completed stages. A pending instance is
// started first.
func (o *Orchestrator) CompleteStage(ctx context.Context, instanceID string, deliverables domain.Values) (*domain.StageInstance, error) {
	inst, err := o.transitionStage(ctx, instanceID, func(ctx context.Context, u *unit, sess *domain.Session, inst *domain.StageInstance) (*domain.StageInstance, error) {
		if err := checkTransition(inst, domain.StageCompleted); err != nil {
			return nil, err
		}
		var err error
		if len(deliverables) > 0 {
			if inst, err = u.repo.MergeDeliverables(ctx, inst.ID, deliverables); err != nil {
				return nil, err
			}
		}
		if inst, err = o.startIfPending(ctx, u, sess, inst); err != nil {
			return nil, err
		}
		if inst, err = o.setStatus(ctx, u, sess, inst, domain.StageCompleted); err != nil {
			return nil, err
		}
		updated, err := u.repo.AppendCompletedStage(ctx, sess.ID, inst.StageID)
		if err != nil {
			return nil, err
		}
		*sess = *updated

		if o.autoComplete {
			if err := o.completeIfEnd(ctx, u, sess, inst.StageID); err != nil {
				return nil, err
			}
		}
		return inst, nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("stage completed", "session_id", inst.SessionID, "stage_id", inst.StageID, "instance_id", inst.ID)
	return inst, nil
}

// FailStage records reason under context["error"] and fails the instance.
// A pending instance is started first.
func (o *Orchestrator) FailStage(ctx context.Context, instanceID, reason string) (*domain.StageInstance, error) {
	inst, err := o.transitionStage(ctx, instanceID, func(ctx context.Context, u *unit, sess *domain.Session, inst *domain.StageInstance) (*domain.StageInstance, error) {
		if err := checkTransition(inst, domain.StageFailed); err != nil {
			return nil, err
		}
		var err error
		if reason != "" {
			if inst, err = u.repo.MergeInstanceContext(ctx, inst.ID, domain.Values{ContextKeyError: reason}); err != nil {
				return nil, err
			}
		}
		if inst, err = o.startIfPending(ctx, u, sess, inst); err != nil {
			return nil, err
		}
		return o.setStatus(ctx, u, sess, inst, domain.StageFailed)
	})
	if err != nil {
		return nil, err
	}
	o.logger.Warn("stage failed", "session_id", inst.SessionID, "stage_id", inst.StageID, "instance_id", inst.ID, "reason", reason)
	return inst, nil
}

// SkipStage records reason under context["skip_reason"] and skips the instance.
func (o *Orchestrator) SkipStage(ctx context.Context, instanceID, reason string) (*domain.StageInstance, error) {
	return o.transitionStage(ctx, instanceID, func(ctx context.Context, u *unit, sess *domain.Session, inst *domain.StageInstance) (*domain.StageInstance, error) {
		if err := checkTransition(inst, domain.StageSkipped); err != nil {
			return nil, err
		}
		var err error
		if reason != "" {
			if inst, err = u.repo.MergeInstanceContext(ctx, inst.ID, domain.Values{ContextKeySkipReason: reason}); err != nil {
				return nil, err
			}
		}
		return o.setStatus(ctx, u, sess, inst, domain.StageSkipped)
	})
}

// CompleteItem marks a checklist item of the instance as done. Repeating it
// has no effect.
func (o *Orchestrator) CompleteItem(ctx context.Context, instanceID, itemID string) (*domain.StageInstance, error) {
	if itemID == "" {
		return nil, &domain.ValidationError{Field: "item_id", Reason: "item id is required"}
	}
	return o.transitionStage(ctx, instanceID, func(ctx context.Context, u *unit, _ *domain.Session, inst *domain.StageInstance) (*domain.StageInstance, error) {
		return u.repo.AppendCompletedItem(ctx, inst.ID, itemID)
	})
}

// UpdateStageContext shallow-merges partial into the instance context.
func (o *Orchestrator) UpdateStageContext(ctx context.Context, instanceID string, partial domain.Values) (*domain.StageInstance, error) {
	return o.transitionStage(ctx, instanceID, func(ctx context.Context, u *unit, _ *domain.Session, inst *domain.StageInstance) (*domain.StageInstance, error) {
		return u.repo.MergeInstanceContext(ctx, inst.ID, partial)
	})
}

// transitionStage resolves the instance's session, then runs fn on fresh
// copies of both under the session lock. The session must be active.
func (o *Orchestrator) transitionStage(
	ctx context.Context,
	instanceID string,
	fn func(ctx context.Context, u *unit, sess *domain.Session, inst *domain.StageInstance) (*domain.StageInstance, error),
) (*domain.StageInstance, error) {
	owner, err := o.repo.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	var out *domain.StageInstance
	err = o.mutate(ctx, owner.SessionID, func(ctx context.Context, u *unit) error {
		sess, err := activeSession(ctx, u.repo, owner.SessionID)
		if err != nil {
			return err
		}
		inst, err := u.repo.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		out, err = fn(ctx, u, sess, inst)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) setStatus(ctx context.Context, u *unit, sess *domain.Session, inst *domain.StageInstance, next domain.StageStatus) (*domain.StageInstance, error) {
	from := inst.Status
	updated, err := u.repo.UpdateInstanceStatus(ctx, inst.ID, next)
	if err != nil {
		return nil, err
	}
	u.stageEvent(domain.EventStageStatus, sess, updated, from)
	return updated, nil
}

func (o *Orchestrator) startIfPending(ctx context.Context, u *unit, sess *domain.Session, inst *domain.StageInstance) (*domain.StageInstance, error) {
	if inst.Status != domain.StagePending {
		return inst, nil
	}
	return o.setStatus(ctx, u, sess, inst, domain.StageActive)
}

// checkTransition rejects a target status that cannot be reached from the
// instance's status, even through an implicit start.
func checkTransition(inst *domain.StageInstance, next domain.StageStatus) error {
	if inst.Status.CanTransitionTo(next) {
		return nil
	}
	if inst.Status == domain.StagePending && domain.StageActive.CanTransitionTo(next) {
		return nil
	}
	return &domain.InvalidTransitionError{
		Entity: domain.KindStageInstance,
		ID:     inst.ID,
		From:   string(inst.Status),
		To:     string(next),
	}
}

// completeIfEnd completes the session when stageID is an end stage.
func (o *Orchestrator) completeIfEnd(ctx context.Context, u *unit, sess *domain.Session, stageID string) error {
	stage, err := o.stageDefinition(ctx, sess, stageID)
	if err != nil || !stage.IsEnd {
		return err
	}
	from := sess.Status
	updated, err := u.repo.UpdateSessionStatus(ctx, sess.ID, domain.SessionCompleted)
	if err != nil {
		return err
	}
	*sess = *updated
	u.sessionEvent(domain.EventSessionStatus, sess, from)
	return nil
}

func stageIDs(stages []domain.StageDefinition) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = s.ID
	}
	return out
}

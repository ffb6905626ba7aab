package orchestrator

import (
	"context"

	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/ports"
	"github.com/aretw0/stageflow/pkg/resolver"
	"github.com/spf13/cast"
)

// ContextKeyCurrentStage is where sessions written by older tools kept
// their current stage.
const ContextKeyCurrentStage = "current_stage"

// StartSession creates an active session for an existing workflow.
func (o *Orchestrator) StartSession(ctx context.Context, workflowID, name string) (*domain.Session, error) {
	sess, err := o.repo.CreateSession(ctx, workflowID, name)
	if err != nil {
		return nil, err
	}
	o.emit(ctx, []any{&domain.SessionEvent{
		EventBase:  domain.EventBase{Timestamp: o.now().UTC(), Type: domain.EventSessionCreated, SessionID: sess.ID},
		WorkflowID: sess.WorkflowID,
		To:         sess.Status,
	}})
	o.logger.Info("session created", "session_id", sess.ID, "workflow_id", workflowID)
	return sess, nil
}

// PauseSession moves an active session to paused.
func (o *Orchestrator) PauseSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return o.setSessionStatus(ctx, sessionID, domain.SessionPaused)
}

// ResumeSession moves a paused session back to active.
func (o *Orchestrator) ResumeSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return o.setSessionStatus(ctx, sessionID, domain.SessionActive)
}

// AbortSession ends a session without completing it.
func (o *Orchestrator) AbortSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return o.setSessionStatus(ctx, sessionID, domain.SessionAborted)
}

// CompleteSession ends a session successfully.
func (o *Orchestrator) CompleteSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return o.setSessionStatus(ctx, sessionID, domain.SessionCompleted)
}

func (o *Orchestrator) setSessionStatus(ctx context.Context, sessionID string, next domain.SessionStatus) (*domain.Session, error) {
	var out *domain.Session
	err := o.mutate(ctx, sessionID, func(ctx context.Context, u *unit) error {
		current, err := u.repo.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		out, err = u.repo.UpdateSessionStatus(ctx, sessionID, next)
		if err != nil {
			return err
		}
		u.sessionEvent(domain.EventSessionStatus, out, current.Status)
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("session status changed", "session_id", sessionID, "status", next)
	return out, nil
}

// UpdateSessionContext shallow-merges partial into the session context.
func (o *Orchestrator) UpdateSessionContext(ctx context.Context, sessionID string, partial domain.Values) (*domain.Session, error) {
	var out *domain.Session
	err := o.mutate(ctx, sessionID, func(ctx context.Context, u *unit) error {
		if _, err := activeSession(ctx, u.repo, sessionID); err != nil {
			return err
		}
		var err error
		out, err = u.repo.MergeSessionContext(ctx, sessionID, partial)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSession removes a session and all of its stage instances.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	return o.mutate(ctx, sessionID, func(ctx context.Context, u *unit) error {
		sess, err := u.repo.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := u.repo.DeleteSession(ctx, sessionID); err != nil {
			return err
		}
		u.events = append(u.events, &domain.SessionEvent{
			EventBase:  domain.EventBase{Timestamp: u.now, Type: domain.EventSessionDeleted, SessionID: sess.ID},
			WorkflowID: sess.WorkflowID,
			From:       sess.Status,
		})
		return nil
	})
}

// NextStages returns the stages that may follow currentStageID. When it is
// empty, the session's current stage is used, then the legacy
// context["current_stage"]; with neither, a ValidationError is returned.
// A malformed workflow yields an empty list.
func (o *Orchestrator) NextStages(ctx context.Context, sessionID, currentStageID string) ([]domain.StageDefinition, error) {
	sess, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return o.nextStages(ctx, sess, currentStageID)
}

func (o *Orchestrator) nextStages(ctx context.Context, sess *domain.Session, from string) ([]domain.StageDefinition, error) {
	if from == "" {
		from = sess.CurrentStageID
	}
	if from == "" {
		from = cast.ToString(sess.Context[ContextKeyCurrentStage])
	}
	if from == "" {
		return nil, &domain.ValidationError{
			Field:  "current_stage_id",
			Value:  sess.ID,
			Reason: "session has no current stage",
		}
	}
	def, err := o.loader.GetWorkflow(ctx, sess.WorkflowID)
	if err != nil {
		return nil, err
	}
	return o.resolver.Next(def, resolver.Query{
		From:          from,
		Context:       sess.Context,
		Completed:     sess.CompletedStages,
		OrderByWeight: o.orderByWeight,
	}), nil
}

// CurrentInstance returns the latest instance of the session's current stage.
func (o *Orchestrator) CurrentInstance(ctx context.Context, sessionID string) (*domain.StageInstance, error) {
	sess, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.CurrentStageID == "" {
		return nil, &domain.ValidationError{
			Field:  "current_stage_id",
			Value:  sess.ID,
			Reason: "session has no current stage",
		}
	}
	return o.repo.FindInstance(ctx, sessionID, sess.CurrentStageID)
}

// Session returns a session by id.
func (o *Orchestrator) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	return o.repo.GetSession(ctx, sessionID)
}

// Sessions lists sessions in creation order.
func (o *Orchestrator) Sessions(ctx context.Context, filter ports.SessionFilter) ([]*domain.Session, error) {
	return o.repo.ListSessions(ctx, filter)
}

// Instance returns a stage instance by id.
func (o *Orchestrator) Instance(ctx context.Context, instanceID string) (*domain.StageInstance, error) {
	return o.repo.GetInstance(ctx, instanceID)
}

// Instances lists a session's stage instances by start time.
func (o *Orchestrator) Instances(ctx context.Context, sessionID string) ([]*domain.StageInstance, error) {
	if _, err := o.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return o.repo.ListInstances(ctx, sessionID)
}

// Workflow returns a workflow definition by id.
func (o *Orchestrator) Workflow(ctx context.Context, workflowID string) (*domain.WorkflowDefinition, error) {
	return o.loader.GetWorkflow(ctx, workflowID)
}

// Workflows lists the ids of every known workflow.
func (o *Orchestrator) Workflows(ctx context.Context) ([]string, error) {
	return o.loader.ListWorkflows(ctx)
}

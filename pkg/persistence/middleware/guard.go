package middleware

import (
	"context"

	"github.com/aretw0/stageflow/pkg/definition"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/ports"
)

type workflowGuard struct {
	ports.Repository
	loader ports.WorkflowLoader
	wrap   Middleware
}

// NewWorkflowGuard creates a middleware that checks stage ids against the
// session's workflow before they are written.
//
// CreateSession fails with a NotFoundError for unknown workflows.
// SetCurrentStage and CreateInstance fail with a ValidationError listing the
// workflow's stage ids when the stage is not part of it. An empty stage id
// passed to SetCurrentStage clears the current stage and is not checked.
func NewWorkflowGuard(loader ports.WorkflowLoader) Middleware {
	var wrap Middleware
	wrap = func(next ports.Repository) ports.Repository {
		return &workflowGuard{Repository: next, loader: loader, wrap: wrap}
	}
	return wrap
}

func (g *workflowGuard) Atomic(ctx context.Context, fn func(context.Context, ports.Repository) error) error {
	return ForwardAtomic(ctx, g.Repository, g.wrap, fn)
}

func (g *workflowGuard) CreateSession(ctx context.Context, workflowID, name string) (*domain.Session, error) {
	if _, err := g.loader.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	return g.Repository.CreateSession(ctx, workflowID, name)
}

func (g *workflowGuard) SetCurrentStage(ctx context.Context, sessionID, stageID string) (*domain.Session, error) {
	if stageID != "" {
		if err := g.checkStage(ctx, sessionID, stageID); err != nil {
			return nil, err
		}
	}
	return g.Repository.SetCurrentStage(ctx, sessionID, stageID)
}

func (g *workflowGuard) CreateInstance(ctx context.Context, sessionID, stageID, name string, values domain.Values) (*domain.StageInstance, error) {
	if err := g.checkStage(ctx, sessionID, stageID); err != nil {
		return nil, err
	}
	return g.Repository.CreateInstance(ctx, sessionID, stageID, name, values)
}

func (g *workflowGuard) checkStage(ctx context.Context, sessionID, stageID string) error {
	sess, err := g.Repository.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	def, err := g.loader.GetWorkflow(ctx, sess.WorkflowID)
	if err != nil {
		return err
	}
	graph, err := definition.Parse(def)
	if err != nil {
		return &domain.ValidationError{
			Field:  "stage_id",
			Value:  stageID,
			Reason: "workflow " + sess.WorkflowID + " has a malformed definition",
		}
	}
	if !graph.HasStage(stageID) {
		return &domain.ValidationError{
			Field:    "stage_id",
			Value:    stageID,
			Expected: graph.StageIDs(),
			Reason:   "stage is not part of workflow " + sess.WorkflowID,
		}
	}
	return nil
}

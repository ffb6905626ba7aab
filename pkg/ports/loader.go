package ports

import (
	"context"

	"github.com/aretw0/stageflow/pkg/domain"
)

// WorkflowLoader defines how the engine retrieves workflow definitions.
// Authoring happens elsewhere; the engine only reads.
type WorkflowLoader interface {
	// GetWorkflow returns the definition or a *domain.NotFoundError.
	GetWorkflow(ctx context.Context, id string) (*domain.WorkflowDefinition, error)

	// ListWorkflows returns every known workflow id, sorted.
	ListWorkflows(ctx context.Context) ([]string, error)
}

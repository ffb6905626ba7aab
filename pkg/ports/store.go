package ports

import (
	"context"

	"github.com/aretw0/stageflow/pkg/domain"
)

// SessionFilter narrows ListSessions. Zero values match everything.
type SessionFilter struct {
	Status     domain.SessionStatus
	WorkflowID string
}

// SessionStore persists sessions. Every method is one read-modify-write.
// Missing sessions are reported as *domain.NotFoundError.
type SessionStore interface {
	// CreateSession creates an active session with no current stage.
	CreateSession(ctx context.Context, workflowID, name string) (*domain.Session, error)

	// GetSession retrieves a session by id.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// ListSessions returns sessions in creation order.
	ListSessions(ctx context.Context, filter SessionFilter) ([]*domain.Session, error)

	// UpdateSessionStatus applies a status change following domain.SessionStatus rules.
	UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus) (*domain.Session, error)

	// SetCurrentStage records the stage the session is in.
	SetCurrentStage(ctx context.Context, sessionID, stageID string) (*domain.Session, error)

	// AppendCompletedStage adds stageID to completed_stages once.
	AppendCompletedStage(ctx context.Context, sessionID, stageID string) (*domain.Session, error)

	// MergeSessionContext shallow-merges partial into the session context.
	MergeSessionContext(ctx context.Context, sessionID string, partial domain.Values) (*domain.Session, error)

	// DeleteSession removes the session and its stage instances.
	DeleteSession(ctx context.Context, id string) error
}

// StageInstanceStore persists stage instances.
// Missing instances are reported as *domain.NotFoundError.
type StageInstanceStore interface {
	// CreateInstance always creates a new pending instance.
	// It fails with a NotFoundError when the session does not exist.
	CreateInstance(ctx context.Context, sessionID, stageID, name string, values domain.Values) (*domain.StageInstance, error)

	// GetInstance retrieves an instance by id.
	GetInstance(ctx context.Context, id string) (*domain.StageInstance, error)

	// ListInstances returns the session's instances ordered by started_at
	// ascending, unstarted first, ties in creation order.
	ListInstances(ctx context.Context, sessionID string) ([]*domain.StageInstance, error)

	// FindInstance returns the most recent attempt for a stage (see domain.LatestInstance).
	FindInstance(ctx context.Context, sessionID, stageID string) (*domain.StageInstance, error)

	// UpdateInstanceStatus applies a forward-only status change.
	UpdateInstanceStatus(ctx context.Context, id string, status domain.StageStatus) (*domain.StageInstance, error)

	// MergeInstanceContext shallow-merges partial into the instance context.
	MergeInstanceContext(ctx context.Context, id string, partial domain.Values) (*domain.StageInstance, error)

	// MergeDeliverables shallow-merges partial into the instance deliverables.
	MergeDeliverables(ctx context.Context, id string, partial domain.Values) (*domain.StageInstance, error)

	// AppendCompletedItem adds itemID to completed_items once.
	AppendCompletedItem(ctx context.Context, id, itemID string) (*domain.StageInstance, error)
}

// Repository is the full storage surface used by the orchestrator.
type Repository interface {
	SessionStore
	StageInstanceStore
}

// Transactor is implemented by repositories that can run several operations
// as one unit of work. If fn returns an error, none of its writes persist.
type Transactor interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

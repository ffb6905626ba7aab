package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/stageflow/pkg/domain"
)

// AuditHooks logs every lifecycle event at info level.
func AuditHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnSessionEvent: func(ctx context.Context, e *domain.SessionEvent) {
			logger.InfoContext(ctx, string(e.Type),
				"session_id", e.SessionID,
				"workflow_id", e.WorkflowID,
				"from", e.From,
				"to", e.To,
			)
		},
		OnStageEvent: func(ctx context.Context, e *domain.StageEvent) {
			logger.InfoContext(ctx, string(e.Type),
				"session_id", e.SessionID,
				"workflow_id", e.WorkflowID,
				"instance_id", e.InstanceID,
				"stage_id", e.StageID,
				"from", e.From,
				"to", e.To,
			)
		},
	}
}

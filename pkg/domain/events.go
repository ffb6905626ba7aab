package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventSessionCreated EventType = "session_created"
	EventSessionStatus  EventType = "session_status"
	EventSessionDeleted EventType = "session_deleted"
	EventStageCreated   EventType = "stage_created"
	EventStageStatus    EventType = "stage_status"
	EventStageEntered   EventType = "stage_entered" // current stage changed
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
}

// SessionEvent represents a session creation, status change or deletion.
// A deleted session has an empty To.
type SessionEvent struct {
	EventBase
	WorkflowID string        `json:"workflow_id"`
	From       SessionStatus `json:"from,omitempty"`
	To         SessionStatus `json:"to"`
}

// StageEvent represents a stage instance creation, status change, or the
// session entering a stage.
type StageEvent struct {
	EventBase
	WorkflowID string      `json:"workflow_id"`
	InstanceID string      `json:"instance_id"`
	StageID    string      `json:"stage_id"`
	From       StageStatus `json:"from,omitempty"`
	To         StageStatus `json:"to"`
}

// LifecycleHooks defines callbacks for orchestrator observability.
// Hooks run synchronously after the change has been persisted.
type LifecycleHooks struct {
	OnSessionEvent func(context.Context, *SessionEvent)
	OnStageEvent   func(context.Context, *StageEvent)
}

// ChainHooks returns hooks that invoke every non-nil callback in order.
func ChainHooks(hooks ...LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnSessionEvent: func(ctx context.Context, e *SessionEvent) {
			for _, h := range hooks {
				if h.OnSessionEvent != nil {
					h.OnSessionEvent(ctx, e)
				}
			}
		},
		OnStageEvent: func(ctx context.Context, e *StageEvent) {
			for _, h := range hooks {
				if h.OnStageEvent != nil {
					h.OnStageEvent(ctx, e)
				}
			}
		},
	}
}

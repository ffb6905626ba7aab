package domain

import (
	"strings"
	"time"
)

// SessionStatus is the lifecycle status of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed" // terminal
	SessionAborted   SessionStatus = "aborted"   // terminal
)

// SessionStatuses lists every valid session status.
var SessionStatuses = []SessionStatus{SessionActive, SessionPaused, SessionCompleted, SessionAborted}

// ParseSessionStatus accepts any casing ("ACTIVE", "active").
func ParseSessionStatus(s string) (SessionStatus, error) {
	status := SessionStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range SessionStatuses {
		if status == known {
			return status, nil
		}
	}
	expected := make([]string, len(SessionStatuses))
	for i, known := range SessionStatuses {
		expected[i] = string(known)
	}
	return "", &ValidationError{Field: "status", Value: s, Reason: "unknown session status", Expected: expected}
}

// IsTerminal reports whether no further status change is allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionAborted
}

// CanTransitionTo implements active<->paused and non-terminal->completed/aborted.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if s.IsTerminal() || s == next {
		return false
	}
	switch next {
	case SessionActive:
		return s == SessionPaused
	case SessionPaused:
		return s == SessionActive
	case SessionCompleted, SessionAborted:
		return true
	}
	return false
}

// Session is one enactment of a workflow definition.
type Session struct {
	ID         string        `json:"id"`
	WorkflowID string        `json:"workflow_id"`
	Name       string        `json:"name"`
	Status     SessionStatus `json:"status"`

	// CurrentStageID is empty when no stage has been entered yet.
	CurrentStageID string `json:"current_stage_id,omitempty"`

	// CompletedStages is an append-only set of stage ids.
	CompletedStages []string `json:"completed_stages"`

	Context Values `json:"context"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version is incremented by stores on every write.
	Version int64 `json:"version"`
}

// NewSession creates an active session without a current stage.
func NewSession(id, workflowID, name string, now time.Time) *Session {
	return &Session{
		ID:              id,
		WorkflowID:      workflowID,
		Name:            name,
		Status:          SessionActive,
		CompletedStages: []string{},
		Context:         Values{},
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
}

// Clone returns a copy that shares nothing mutable with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.CompletedStages = append([]string(nil), s.CompletedStages...)
	if out.CompletedStages == nil {
		out.CompletedStages = []string{}
	}
	out.Context = s.Context.Clone()
	return &out
}

// TransitionTo moves the session to next or returns an InvalidTransitionError.
func (s *Session) TransitionTo(next SessionStatus) error {
	if !s.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{Entity: KindSession, ID: s.ID, From: string(s.Status), To: string(next)}
	}
	s.Status = next
	return nil
}

// AppendCompletedStage records stageID once. It reports whether it was added.
func (s *Session) AppendCompletedStage(stageID string) bool {
	var added bool
	s.CompletedStages, added = appendUnique(s.CompletedStages, stageID)
	return added
}

// HasCompleted reports whether stageID is in CompletedStages.
func (s *Session) HasCompleted(stageID string) bool {
	return Contains(s.CompletedStages, stageID)
}

// MergeContext overlays partial onto the session context.
func (s *Session) MergeContext(partial Values) {
	s.Context = s.Context.Merge(partial)
}

// Touch bumps the bookkeeping fields after a mutation.
func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now
	s.Version++
}

package domain

import (
	"sort"
	"strings"
	"time"
)

// StageStatus is the lifecycle status of a stage instance.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageActive    StageStatus = "active"
	StageCompleted StageStatus = "completed" // terminal
	StageFailed    StageStatus = "failed"    // terminal
	StageSkipped   StageStatus = "skipped"   // terminal
)

// StageStatuses lists every valid stage status.
var StageStatuses = []StageStatus{StagePending, StageActive, StageCompleted, StageFailed, StageSkipped}

// ParseStageStatus accepts any casing ("COMPLETED", "completed").
func ParseStageStatus(s string) (StageStatus, error) {
	status := StageStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range StageStatuses {
		if status == known {
			return status, nil
		}
	}
	expected := make([]string, len(StageStatuses))
	for i, known := range StageStatuses {
		expected[i] = string(known)
	}
	return "", &ValidationError{Field: "status", Value: s, Reason: "unknown stage status", Expected: expected}
}

// IsTerminal reports whether the status is completed, failed or skipped.
func (s StageStatus) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageSkipped
}

// CanTransitionTo implements the forward-only machine:
//
//	pending -> active | skipped
//	active  -> completed | failed | skipped
//
// Repeated and backward moves are rejected.
func (s StageStatus) CanTransitionTo(next StageStatus) bool {
	switch s {
	case StagePending:
		return next == StageActive || next == StageSkipped
	case StageActive:
		return next.IsTerminal()
	}
	return false
}

// StageInstance is one attempt to run a stage within a session.
type StageInstance struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	StageID   string      `json:"stage_id"`
	Name      string      `json:"name"`
	Status    StageStatus `json:"status"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// CompletedItems is an append-only set of checklist item ids.
	CompletedItems []string `json:"completed_items"`

	Context      Values `json:"context"`
	Deliverables Values `json:"deliverables"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// NewStageInstance creates a pending instance.
func NewStageInstance(id, sessionID, stageID, name string, ctx Values, now time.Time) *StageInstance {
	return &StageInstance{
		ID:             id,
		SessionID:      sessionID,
		StageID:        stageID,
		Name:           name,
		Status:         StagePending,
		CompletedItems: []string{},
		Context:        ctx.Clone(),
		Deliverables:   Values{},
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
}

// Clone returns a copy that shares nothing mutable with i.
func (i *StageInstance) Clone() *StageInstance {
	if i == nil {
		return nil
	}
	out := *i
	if i.StartedAt != nil {
		t := *i.StartedAt
		out.StartedAt = &t
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		out.CompletedAt = &t
	}
	out.CompletedItems = append([]string{}, i.CompletedItems...)
	out.Context = i.Context.Clone()
	out.Deliverables = i.Deliverables.Clone()
	return &out
}

// TransitionTo applies a forward-only status change. started_at is set on
// pending->active and completed_at on every terminal move; neither is ever
// overwritten.
func (i *StageInstance) TransitionTo(next StageStatus, now time.Time) error {
	if !i.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{Entity: KindStageInstance, ID: i.ID, From: string(i.Status), To: string(next)}
	}
	if next == StageActive && i.StartedAt == nil {
		t := now
		i.StartedAt = &t
	}
	if next.IsTerminal() && i.CompletedAt == nil {
		t := now
		i.CompletedAt = &t
	}
	i.Status = next
	return nil
}

// AppendCompletedItem records itemID once. It reports whether it was added.
func (i *StageInstance) AppendCompletedItem(itemID string) bool {
	var added bool
	i.CompletedItems, added = appendUnique(i.CompletedItems, itemID)
	return added
}

// MergeContext overlays partial onto the instance context.
func (i *StageInstance) MergeContext(partial Values) {
	i.Context = i.Context.Merge(partial)
}

// MergeDeliverables overlays partial onto the instance deliverables.
func (i *StageInstance) MergeDeliverables(partial Values) {
	i.Deliverables = i.Deliverables.Merge(partial)
}

// Touch bumps the bookkeeping fields after a mutation.
func (i *StageInstance) Touch(now time.Time) {
	i.UpdatedAt = now
	i.Version++
}

// EffectiveTime is the start time, or the creation time for unstarted attempts.
// It orders attempts when looking for the most recent one.
func (i *StageInstance) EffectiveTime() time.Time {
	if i.StartedAt != nil {
		return *i.StartedAt
	}
	return i.CreatedAt
}

// SortInstances orders instances by started_at ascending with unstarted ones
// first. The input must be in creation order; the sort is stable so creation
// order breaks ties.
func SortInstances(list []*StageInstance) {
	sort.SliceStable(list, func(a, b int) bool {
		sa, sb := list[a].StartedAt, list[b].StartedAt
		switch {
		case sa == nil && sb == nil:
			return false
		case sa == nil:
			return true
		case sb == nil:
			return false
		}
		return sa.Before(*sb)
	})
}

// LatestInstance returns the most recent attempt among list (creation order),
// comparing EffectiveTime and preferring the later-created one on ties.
func LatestInstance(list []*StageInstance) *StageInstance {
	var latest *StageInstance
	for _, inst := range list {
		if latest == nil || !inst.EffectiveTime().Before(latest.EffectiveTime()) {
			latest = inst
		}
	}
	return latest
}

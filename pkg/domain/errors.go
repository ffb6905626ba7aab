package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below match them through errors.Is.
var (
	// ErrNotFound is returned when a referenced session, stage instance,
	// workflow or stage id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for structurally invalid input.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when a status change violates the
	// forward-only status machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrMalformedDefinition is returned when the stages or transitions of a
	// workflow definition cannot be parsed.
	ErrMalformedDefinition = errors.New("malformed workflow definition")

	// ErrConflict is returned when an optimistic write lost a race too many times.
	ErrConflict = errors.New("concurrent modification")
)

// Entity kinds used in NotFoundError and InvalidTransitionError.
const (
	KindSession       = "session"
	KindStageInstance = "stage instance"
	KindWorkflow      = "workflow"
	KindStage         = "stage"
)

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// SessionNotFound builds a NotFoundError for a session id.
func SessionNotFound(id string) error { return &NotFoundError{Kind: KindSession, ID: id} }

// InstanceNotFound builds a NotFoundError for a stage instance id.
func InstanceNotFound(id string) error { return &NotFoundError{Kind: KindStageInstance, ID: id} }

// WorkflowNotFound builds a NotFoundError for a workflow id.
func WorkflowNotFound(id string) error { return &NotFoundError{Kind: KindWorkflow, ID: id} }

// ValidationError represents structurally invalid input. Expected, when set,
// lists the accepted values.
type ValidationError struct {
	Field    string
	Value    any
	Expected []string
	Reason   string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "field %q", e.Field)
	if e.Value != nil && e.Value != "" {
		fmt.Fprintf(&b, " (%v)", e.Value)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if len(e.Expected) > 0 {
		fmt.Fprintf(&b, " (expected one of [%s])", strings.Join(e.Expected, ", "))
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidTransitionError reports a rejected status change.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %q: cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// MalformedDefinitionError reports a definition whose stage or transition
// payload could not be parsed. Part is "stages" or "transitions".
type MalformedDefinitionError struct {
	WorkflowID string
	Part       string
	Cause      error
}

func (e *MalformedDefinitionError) Error() string {
	return fmt.Sprintf("workflow %q: malformed %s: %v", e.WorkflowID, e.Part, e.Cause)
}

func (e *MalformedDefinitionError) Unwrap() error { return e.Cause }

func (e *MalformedDefinitionError) Is(target error) bool { return target == ErrMalformedDefinition }

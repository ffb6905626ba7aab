/*
Package orchestrator is the only component that mutates sessions and stage
instances.

Every mutating operation runs under the per-session lock of a session.Manager
and, when the repository supports it, inside one ports.Transactor unit of
work: either all of its writes persist or none do. Lifecycle hooks fire after
the unit commits, never for rolled back work.

The repository handed to New is always wrapped with
middleware.NewWorkflowGuard, so stage ids written to a session are checked
against the session's workflow.

Stage instance policy: repeated or backward status changes are rejected with
a domain.InvalidTransitionError. CompleteStage and FailStage accept a pending
instance and start it first, so both timestamps are recorded.
*/
package orchestrator

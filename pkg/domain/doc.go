/*
Package domain contains the core domain models of the stageflow engine.

It defines the workflow definitions consumed by the engine and the runtime
records it maintains: Sessions (one enactment of a workflow) and Stage
Instances (one attempt to run a stage inside a session). The status machines
of both records live here so every storage adapter applies the same rules.
This package is kept pure and free of I/O.

# Key Entities

  - WorkflowDefinition: A read-only list of stages and transitions.
  - StageDefinition: A named step with checklist, dependencies and prerequisites.
  - TransitionDefinition: A directed, optionally conditional, edge between stages.
  - Session: Current stage, completed stages and context of a workflow run.
  - StageInstance: Status, timestamps, checklist progress and deliverables of one attempt.
  - Values: A string-keyed map with shallow, last-writer-wins merge semantics.
*/
package domain

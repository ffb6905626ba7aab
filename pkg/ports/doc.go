/*
Package ports defines the driven ports (interfaces) for the stageflow engine.

These interfaces decouple the orchestrator from storage backends and from the
source of workflow definitions.

# Key Interfaces

  - WorkflowLoader: Retrieves read-only workflow definitions (memory, files).
  - SessionStore / StageInstanceStore: Persist sessions and stage attempts.
  - Transactor: Optional scoped unit of work spanning several store calls.
  - DistributedLocker: Serializes access to a session across processes.

RunRepositoryContract is a reusable test suite every Repository adapter runs.
*/
package ports

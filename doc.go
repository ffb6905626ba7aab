/*
Package stageflow orchestrates multi-stage workflows for long-running sessions.

A workflow definition lists stages (with optional checklists, weights,
dependencies and prerequisites) and the transitions between them. A session
walks one workflow: each stage it enters gets a stage instance that moves
through pending, active and then completed, failed or skipped, while the
session itself is active, paused, completed or aborted.

# Architecture

The engine is hexagonal. Storage and definition loading are ports
(pkg/ports) with adapters for memory, SQLite and Redis storage and for a
directory of YAML/JSON definitions (pkg/adapters). The orchestrator
(pkg/orchestrator) applies the lifecycle rules on top of a repository,
serializing work per session and running each operation atomically where
the backend supports it. The resolver (pkg/resolver) answers which stages
may follow the current one.

# Usage

	cfg, err := stageflow.LoadConfig("")
	if err != nil {
		log.Fatal(err)
	}
	eng, err := stageflow.Open(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	sess, err := eng.StartSession(ctx, "onboarding", "acme")
	if err != nil {
		log.Fatal(err)
	}
	stageID, err := eng.StartFirstStage(ctx, sess.ID)
	if err != nil {
		log.Fatal(err)
	}
	next, err := eng.NextStages(ctx, sess.ID, stageID)

# Errors

Failures wrap the sentinels in pkg/domain (ErrNotFound, ErrValidation,
ErrInvalidTransition, ErrMalformedDefinition, ErrConflict), so callers
branch with errors.Is and inspect details with errors.As.
*/
package stageflow

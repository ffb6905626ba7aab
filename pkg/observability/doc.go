/*
Package observability turns orchestrator lifecycle events into signals.

Both helpers return domain.LifecycleHooks, so they compose with
domain.ChainHooks and plug into orchestrator.WithHooks:

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	audit := observability.AuditHooks(logger)
	orch := orchestrator.New(repo, loader,
		orchestrator.WithHooks(metrics.Hooks()),
		orchestrator.WithHooks(audit),
	)
*/
package observability

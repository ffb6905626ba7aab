package observability

import (
	"context"

	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "stageflow"

// Metrics holds the Prometheus collectors fed by lifecycle events.
type Metrics struct {
	SessionEvents *prometheus.CounterVec
	StageEvents   *prometheus.CounterVec
	Sessions      *prometheus.GaugeVec
	StagesEntered *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
// A nil registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type and resulting status.",
		}, []string{"workflow_id", "event", "status"}),
		StageEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stage_events_total",
			Help:      "Stage instance lifecycle events by type and resulting status.",
		}, []string{"workflow_id", "stage_id", "event", "status"}),
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions",
			Help:      "Sessions observed by this process, by current status.",
		}, []string{"workflow_id", "status"}),
		StagesEntered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stage_entered_total",
			Help:      "Times a session moved its current stage pointer.",
		}, []string{"workflow_id", "stage_id"}),
	}
	if reg != nil {
		reg.MustRegister(m.SessionEvents, m.StageEvents, m.Sessions, m.StagesEntered)
	}
	return m
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnSessionEvent: m.observeSession,
		OnStageEvent:   m.observeStage,
	}
}

func (m *Metrics) observeSession(_ context.Context, e *domain.SessionEvent) {
	status := e.To
	if e.Type == domain.EventSessionDeleted {
		status = e.From
	}
	m.SessionEvents.WithLabelValues(e.WorkflowID, string(e.Type), string(status)).Inc()
	if e.From != "" {
		m.Sessions.WithLabelValues(e.WorkflowID, string(e.From)).Dec()
	}
	if e.To != "" {
		m.Sessions.WithLabelValues(e.WorkflowID, string(e.To)).Inc()
	}
}

func (m *Metrics) observeStage(_ context.Context, e *domain.StageEvent) {
	if e.Type == domain.EventStageEntered {
		m.StagesEntered.WithLabelValues(e.WorkflowID, e.StageID).Inc()
		return
	}
	m.StageEvents.WithLabelValues(e.WorkflowID, e.StageID, string(e.Type), string(e.To)).Inc()
}

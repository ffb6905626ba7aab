package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/stageflow/internal/logging"
	"github.com/aretw0/stageflow/pkg/definition"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/persistence/middleware"
	"github.com/aretw0/stageflow/pkg/ports"
	"github.com/aretw0/stageflow/pkg/resolver"
	"github.com/aretw0/stageflow/pkg/session"
)

// Orchestrator drives sessions through their workflow.
// It is safe for concurrent use.
type Orchestrator struct {
	repo     ports.Repository
	loader   ports.WorkflowLoader
	locks    *session.Manager
	resolver *resolver.Resolver
	hooks    domain.LifecycleHooks
	logger   *slog.Logger
	now      func() time.Time

	middlewares   []middleware.Middleware
	orderByWeight bool
	autoComplete  bool
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithHooks registers lifecycle callbacks. Multiple calls are chained.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(o *Orchestrator) {
		o.hooks = domain.ChainHooks(o.hooks, hooks)
	}
}

// WithLockManager shares a session lock manager, e.g. between orchestrators
// backed by the same repository.
func WithLockManager(m *session.Manager) Option {
	return func(o *Orchestrator) {
		o.locks = m
	}
}

// WithResolver replaces the default transition resolver.
func WithResolver(r *resolver.Resolver) Option {
	return func(o *Orchestrator) {
		o.resolver = r
	}
}

// WithWeightOrdering sorts next-stage candidates by ascending weight.
func WithWeightOrdering() Option {
	return func(o *Orchestrator) {
		o.orderByWeight = true
	}
}

// WithAutoComplete completes the session when one of its end stages completes.
func WithAutoComplete() Option {
	return func(o *Orchestrator) {
		o.autoComplete = true
	}
}

// WithMiddleware adds repository decorators inside the workflow guard.
// Decorators should forward Atomic (see middleware.ForwardAtomic).
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *Orchestrator) {
		o.middlewares = append(o.middlewares, mws...)
	}
}

// WithClock overrides time.Now for event timestamps, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an Orchestrator over repo, reading definitions from loader.
func New(repo ports.Repository, loader ports.WorkflowLoader, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		loader: loader,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.locks == nil {
		o.locks = session.NewManager(session.WithLogger(o.logger))
	}
	if o.resolver == nil {
		o.resolver = resolver.New(resolver.WithLogger(o.logger))
	}
	inner := middleware.Chain(repo, o.middlewares...)
	if _, ok := repo.(ports.Transactor); ok {
		if _, ok := inner.(ports.Transactor); !ok {
			o.logger.Warn("repository middleware does not forward Atomic, units of work will not roll back")
		}
	}
	o.repo = middleware.NewWorkflowGuard(loader)(inner)
	return o
}

// unit collects the events of one unit of work. They are emitted only after
// the unit commits.
type unit struct {
	repo   ports.Repository
	now    time.Time
	events []any
}

func (u *unit) sessionEvent(typ domain.EventType, sess *domain.Session, from domain.SessionStatus) {
	u.events = append(u.events, &domain.SessionEvent{
		EventBase:  domain.EventBase{Timestamp: u.now, Type: typ, SessionID: sess.ID},
		WorkflowID: sess.WorkflowID,
		From:       from,
		To:         sess.Status,
	})
}

func (u *unit) stageEvent(typ domain.EventType, sess *domain.Session, inst *domain.StageInstance, from domain.StageStatus) {
	u.events = append(u.events, &domain.StageEvent{
		EventBase:  domain.EventBase{Timestamp: u.now, Type: typ, SessionID: sess.ID},
		WorkflowID: sess.WorkflowID,
		InstanceID: inst.ID,
		StageID:    inst.StageID,
		From:       from,
		To:         inst.Status,
	})
}

// mutate runs fn under the session lock inside one unit of work.
func (o *Orchestrator) mutate(ctx context.Context, sessionID string, fn func(ctx context.Context, u *unit) error) error {
	var committed *unit
	err := o.locks.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return o.atomic(ctx, func(ctx context.Context, repo ports.Repository) error {
			u := &unit{repo: repo, now: o.now().UTC()}
			if err := fn(ctx, u); err != nil {
				return err
			}
			committed = u
			return nil
		})
	})
	if err != nil {
		return err
	}
	o.emit(ctx, committed.events)
	return nil
}

func (o *Orchestrator) atomic(ctx context.Context, fn func(ctx context.Context, repo ports.Repository) error) error {
	if tx, ok := o.repo.(ports.Transactor); ok {
		return tx.Atomic(ctx, fn)
	}
	return fn(ctx, o.repo)
}

func (o *Orchestrator) emit(ctx context.Context, events []any) {
	for _, e := range events {
		switch ev := e.(type) {
		case *domain.SessionEvent:
			if o.hooks.OnSessionEvent != nil {
				o.hooks.OnSessionEvent(ctx, ev)
			}
		case *domain.StageEvent:
			if o.hooks.OnStageEvent != nil {
				o.hooks.OnStageEvent(ctx, ev)
			}
		}
	}
}

// graph loads and normalizes the workflow of a session.
// Loader errors are returned as is; parse errors as *domain.MalformedDefinitionError.
func (o *Orchestrator) graph(ctx context.Context, workflowID string) (*domain.WorkflowDefinition, *definition.Graph, error) {
	def, err := o.loader.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	g, err := definition.Parse(def)
	if err != nil {
		return def, nil, err
	}
	return def, g, nil
}

// stageDefinition returns the definition of stageID in the session's workflow.
// A malformed workflow or unknown stage yields a bare definition carrying only
// the id, so read paths keep working.
func (o *Orchestrator) stageDefinition(ctx context.Context, sess *domain.Session, stageID string) (domain.StageDefinition, error) {
	_, g, err := o.graph(ctx, sess.WorkflowID)
	if err != nil {
		if isMalformed(err) {
			o.logger.Warn("ignoring malformed workflow definition", "workflow_id", sess.WorkflowID, "error", err)
			return domain.StageDefinition{ID: stageID}, nil
		}
		return domain.StageDefinition{}, err
	}
	if stage, ok := g.Stage(stageID); ok {
		return stage, nil
	}
	return domain.StageDefinition{ID: stageID}, nil
}

func isMalformed(err error) bool {
	return errors.Is(err, domain.ErrMalformedDefinition)
}

func requireActive(sess *domain.Session) error {
	if sess.Status == domain.SessionActive {
		return nil
	}
	return &domain.ValidationError{
		Field:    "status",
		Value:    string(sess.Status),
		Expected: []string{string(domain.SessionActive)},
		Reason:   "session " + sess.ID + " is not active",
	}
}

// activeSession loads a session inside a unit and rejects non-active ones.
func activeSession(ctx context.Context, repo ports.Repository, id string) (*domain.Session, error) {
	sess, err := repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireActive(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

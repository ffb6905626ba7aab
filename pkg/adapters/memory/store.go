package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/stageflow/internal/ids"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/ports"
)

var (
	_ ports.Repository = (*Store)(nil)
	_ ports.Transactor = (*Store)(nil)
)

// Store implements ports.Repository in memory.
// Safe for concurrent use. Records are copied on the way in and out so
// callers can never mutate stored state through a pointer.
type Store struct {
	st  *state
	now func() time.Time

	// undo is set on the view bound to an Atomic unit.
	undo *journal
}

// state is shared by a Store and the views bound to its units of work.
// Stored records are replaced, never mutated in place.
type state struct {
	mu   sync.RWMutex
	txMu sync.Mutex // held by a unit of work, or by a single plain write

	sessions     map[string]*domain.Session
	sessionOrder []string
	instances    map[string]*domain.StageInstance
	bySession    map[string][]string // instance ids in creation order
}

// journal lists the steps that revert what a unit wrote, in write order.
type journal struct {
	steps []func()
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a new in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		st: &state{
			sessions:  make(map[string]*domain.Session),
			instances: make(map[string]*domain.StageInstance),
			bySession: make(map[string][]string),
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lock takes the write lock. Outside a unit of work it also waits for any
// running unit, so a rollback never reverts a plain write.
func (s *Store) lock() func() {
	if s.undo != nil {
		s.st.mu.Lock()
		return s.st.mu.Unlock
	}
	s.st.txMu.Lock()
	s.st.mu.Lock()
	return func() {
		s.st.mu.Unlock()
		s.st.txMu.Unlock()
	}
}

// record registers a step reverting a write. Callers hold s.st.mu.
func (s *Store) record(step func()) {
	if s.undo != nil {
		s.undo.steps = append(s.undo.steps, step)
	}
}

// CreateSession creates an active session.
func (s *Store) CreateSession(ctx context.Context, workflowID, name string) (*domain.Session, error) {
	sess := domain.NewSession(ids.New(), workflowID, name, s.now().UTC())

	defer s.lock()()
	st := s.st
	st.sessions[sess.ID] = sess
	st.sessionOrder = append(st.sessionOrder, sess.ID)
	s.record(func() {
		delete(st.sessions, sess.ID)
		st.sessionOrder = slices.DeleteFunc(st.sessionOrder, func(id string) bool { return id == sess.ID })
	})
	return sess.Clone(), nil
}

// GetSession retrieves a session.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()

	sess, ok := s.st.sessions[id]
	if !ok {
		return nil, domain.SessionNotFound(id)
	}
	return sess.Clone(), nil
}

// ListSessions returns matching sessions in creation order.
func (s *Store) ListSessions(ctx context.Context, filter ports.SessionFilter) ([]*domain.Session, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()

	out := make([]*domain.Session, 0, len(s.st.sessionOrder))
	for _, id := range s.st.sessionOrder {
		sess := s.st.sessions[id]
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		if filter.WorkflowID != "" && sess.WorkflowID != filter.WorkflowID {
			continue
		}
		out = append(out, sess.Clone())
	}
	return out, nil
}

// UpdateSessionStatus applies a session status change.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus) (*domain.Session, error) {
	return s.updateSession(id, func(sess *domain.Session) error {
		return sess.TransitionTo(status)
	})
}

// SetCurrentStage records the current stage.
func (s *Store) SetCurrentStage(ctx context.Context, sessionID, stageID string) (*domain.Session, error) {
	return s.updateSession(sessionID, func(sess *domain.Session) error {
		sess.CurrentStageID = stageID
		return nil
	})
}

// AppendCompletedStage adds a completed stage once.
func (s *Store) AppendCompletedStage(ctx context.Context, sessionID, stageID string) (*domain.Session, error) {
	return s.updateSession(sessionID, func(sess *domain.Session) error {
		sess.AppendCompletedStage(stageID)
		return nil
	})
}

// MergeSessionContext merges into the session context.
func (s *Store) MergeSessionContext(ctx context.Context, sessionID string, partial domain.Values) (*domain.Session, error) {
	return s.updateSession(sessionID, func(sess *domain.Session) error {
		sess.MergeContext(partial)
		return nil
	})
}

// DeleteSession removes a session and its instances.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	defer s.lock()()
	st := s.st

	sess, ok := st.sessions[id]
	if !ok {
		return nil
	}
	pos := slices.Index(st.sessionOrder, id)
	instIDs := st.bySession[id]
	insts := make([]*domain.StageInstance, len(instIDs))
	for i, instID := range instIDs {
		insts[i] = st.instances[instID]
		delete(st.instances, instID)
	}
	delete(st.sessions, id)
	delete(st.bySession, id)
	if pos >= 0 {
		st.sessionOrder = slices.Delete(st.sessionOrder, pos, pos+1)
	}
	s.record(func() {
		st.sessions[id] = sess
		if pos >= 0 {
			st.sessionOrder = slices.Insert(st.sessionOrder, pos, id)
		}
		if len(instIDs) > 0 {
			st.bySession[id] = instIDs
		}
		for i, instID := range instIDs {
			st.instances[instID] = insts[i]
		}
	})
	return nil
}

func (s *Store) updateSession(id string, mutate func(*domain.Session) error) (*domain.Session, error) {
	defer s.lock()()
	st := s.st

	current, ok := st.sessions[id]
	if !ok {
		return nil, domain.SessionNotFound(id)
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Touch(s.now().UTC())
	st.sessions[id] = next
	s.record(func() { st.sessions[id] = current })
	return next.Clone(), nil
}

// CreateInstance creates a pending stage instance.
func (s *Store) CreateInstance(ctx context.Context, sessionID, stageID, name string, values domain.Values) (*domain.StageInstance, error) {
	defer s.lock()()
	st := s.st

	if _, ok := st.sessions[sessionID]; !ok {
		return nil, domain.SessionNotFound(sessionID)
	}
	inst := domain.NewStageInstance(ids.New(), sessionID, stageID, name, values, s.now().UTC())
	st.instances[inst.ID] = inst
	st.bySession[sessionID] = append(st.bySession[sessionID], inst.ID)
	s.record(func() {
		delete(st.instances, inst.ID)
		list := slices.DeleteFunc(st.bySession[sessionID], func(id string) bool { return id == inst.ID })
		if len(list) == 0 {
			delete(st.bySession, sessionID)
		} else {
			st.bySession[sessionID] = list
		}
	})
	return inst.Clone(), nil
}

// GetInstance retrieves a stage instance.
func (s *Store) GetInstance(ctx context.Context, id string) (*domain.StageInstance, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()

	inst, ok := s.st.instances[id]
	if !ok {
		return nil, domain.InstanceNotFound(id)
	}
	return inst.Clone(), nil
}

// ListInstances returns the session's instances (see ports.StageInstanceStore).
func (s *Store) ListInstances(ctx context.Context, sessionID string) ([]*domain.StageInstance, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()

	out := s.instancesOf(sessionID, "")
	domain.SortInstances(out)
	return out, nil
}

// FindInstance returns the most recent attempt of a stage.
func (s *Store) FindInstance(ctx context.Context, sessionID, stageID string) (*domain.StageInstance, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()

	latest := domain.LatestInstance(s.instancesOf(sessionID, stageID))
	if latest == nil {
		return nil, domain.InstanceNotFound(sessionID + "/" + stageID)
	}
	return latest, nil
}

// instancesOf returns clones in creation order, optionally filtered by stage.
// Callers hold s.st.mu.
func (s *Store) instancesOf(sessionID, stageID string) []*domain.StageInstance {
	var out []*domain.StageInstance
	for _, id := range s.st.bySession[sessionID] {
		inst := s.st.instances[id]
		if stageID != "" && inst.StageID != stageID {
			continue
		}
		out = append(out, inst.Clone())
	}
	return out
}

// UpdateInstanceStatus applies a forward-only status change.
func (s *Store) UpdateInstanceStatus(ctx context.Context, id string, status domain.StageStatus) (*domain.StageInstance, error) {
	return s.updateInstance(id, func(inst *domain.StageInstance, now time.Time) error {
		return inst.TransitionTo(status, now)
	})
}

// MergeInstanceContext merges into the instance context.
func (s *Store) MergeInstanceContext(ctx context.Context, id string, partial domain.Values) (*domain.StageInstance, error) {
	return s.updateInstance(id, func(inst *domain.StageInstance, _ time.Time) error {
		inst.MergeContext(partial)
		return nil
	})
}

// MergeDeliverables merges into the instance deliverables.
func (s *Store) MergeDeliverables(ctx context.Context, id string, partial domain.Values) (*domain.StageInstance, error) {
	return s.updateInstance(id, func(inst *domain.StageInstance, _ time.Time) error {
		inst.MergeDeliverables(partial)
		return nil
	})
}

// AppendCompletedItem adds a checklist item once.
func (s *Store) AppendCompletedItem(ctx context.Context, id, itemID string) (*domain.StageInstance, error) {
	return s.updateInstance(id, func(inst *domain.StageInstance, _ time.Time) error {
		inst.AppendCompletedItem(itemID)
		return nil
	})
}

func (s *Store) updateInstance(id string, mutate func(*domain.StageInstance, time.Time) error) (*domain.StageInstance, error) {
	defer s.lock()()
	st := s.st

	current, ok := st.instances[id]
	if !ok {
		return nil, domain.InstanceNotFound(id)
	}
	now := s.now().UTC()
	next := current.Clone()
	if err := mutate(next, now); err != nil {
		return nil, err
	}
	next.Touch(now)
	st.instances[id] = next
	s.record(func() { st.instances[id] = current })
	return next.Clone(), nil
}

// Atomic runs fn as one unit of work against a view bound to it. If fn
// fails, only the writes made through that view are reverted. Plain writes
// wait for the unit to finish; plain reads may observe its writes before it
// returns. Nested calls join the outer unit.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, repo ports.Repository) error) error {
	if s.undo != nil {
		return fn(ctx, s)
	}
	s.st.txMu.Lock()
	defer s.st.txMu.Unlock()

	bound := &Store{st: s.st, now: s.now, undo: &journal{}}
	if err := fn(ctx, bound); err != nil {
		s.rollback(bound.undo)
		return err
	}
	return nil
}

func (s *Store) rollback(j *journal) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	for i := len(j.steps) - 1; i >= 0; i-- {
		j.steps[i]()
	}
}

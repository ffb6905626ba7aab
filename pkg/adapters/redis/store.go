package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/stageflow/internal/ids"
	"github.com/aretw0/stageflow/internal/logging"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

var _ ports.Repository = (*Store)(nil)

// DefaultMaxRetries bounds optimistic retries when a watched key changes
// between read and write.
const DefaultMaxRetries = 50

// getter is satisfied by both the client and a watched transaction.
type getter interface {
	Get(ctx context.Context, key string) *backend.StringCmd
}

// Store implements ports.Repository using Redis.
//
// Records are JSON documents. Read-modify-write cycles use WATCH/MULTI and
// are retried on conflict; when retries run out the call fails with
// domain.ErrConflict. Store is not a ports.Transactor: multi-step units of
// work are serialized by a DistributedLocker instead.
type Store struct {
	client     *backend.Client
	prefix     string
	ttl        time.Duration
	maxRetries int
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithTTL sets the expiration for sessions and their instances.
// Any write to a session or one of its instances refreshes it for all of
// them.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithMaxRetries sets how many times a conflicting write is attempted.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client:     client,
		prefix:     DefaultPrefix,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Client exposes the underlying client, e.g. to share it with a Locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// --- sessions ---

// CreateSession creates an active session.
func (s *Store) CreateSession(ctx context.Context, workflowID, name string) (*domain.Session, error) {
	sess := domain.NewSession(ids.New(), workflowID, name, s.now().UTC())
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate sequence: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(sess.ID), data, s.ttl)
		pipe.ZAdd(ctx, s.sessionIndexKey(), backend.Z{Score: float64(seq), Member: sess.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return sess, nil
}

// GetSession retrieves a session.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return s.loadSession(ctx, s.client, id)
}

// ListSessions returns matching sessions in creation order.
// Index entries whose record has expired are pruned lazily.
func (s *Store) ListSessions(ctx context.Context, filter ports.SessionFilter) ([]*domain.Session, error) {
	idList, err := s.client.ZRange(ctx, s.sessionIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := []*domain.Session{}
	if len(idList) == 0 {
		return out, nil
	}

	keys := make([]string, len(idList))
	for i, id := range idList {
		keys[i] = s.sessionKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	var stale []any
	for i, raw := range vals {
		str, ok := raw.(string)
		if !ok {
			stale = append(stale, idList[i])
			continue
		}
		var sess domain.Session
		if err := json.Unmarshal([]byte(str), &sess); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session %s: %w", idList[i], err)
		}
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		if filter.WorkflowID != "" && sess.WorkflowID != filter.WorkflowID {
			continue
		}
		out = append(out, normalizeSession(&sess))
	}

	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.sessionIndexKey(), stale...).Err(); err != nil {
			s.logger.Warn("failed to prune expired sessions", "error", err)
		}
	}
	return out, nil
}

// UpdateSessionStatus applies a session status change.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus) (*domain.Session, error) {
	return s.updateSession(ctx, id, func(sess *domain.Session) error {
		return sess.TransitionTo(status)
	})
}

// SetCurrentStage records the current stage.
func (s *Store) SetCurrentStage(ctx context.Context, sessionID, stageID string) (*domain.Session, error) {
	return s.updateSession(ctx, sessionID, func(sess *domain.Session) error {
		sess.CurrentStageID = stageID
		return nil
	})
}

// AppendCompletedStage adds a completed stage once.
func (s *Store) AppendCompletedStage(ctx context.Context, sessionID, stageID string) (*domain.Session, error) {
	return s.updateSession(ctx, sessionID, func(sess *domain.Session) error {
		sess.AppendCompletedStage(stageID)
		return nil
	})
}

// MergeSessionContext merges into the session context.
func (s *Store) MergeSessionContext(ctx context.Context, sessionID string, partial domain.Values) (*domain.Session, error) {
	return s.updateSession(ctx, sessionID, func(sess *domain.Session) error {
		sess.MergeContext(partial)
		return nil
	})
}

// DeleteSession removes a session and its instances.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	listKey := s.instanceListKey(id)
	return s.watch(ctx, func(tx *backend.Tx) error {
		instIDs, err := tx.LRange(ctx, listKey, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("failed to list instances: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			for _, instID := range instIDs {
				pipe.Del(ctx, s.instanceKey(instID))
			}
			pipe.Del(ctx, listKey, s.sessionKey(id))
			pipe.ZRem(ctx, s.sessionIndexKey(), id)
			return nil
		})
		return err
	}, listKey)
}

func (s *Store) updateSession(ctx context.Context, id string, mutate func(*domain.Session) error) (*domain.Session, error) {
	key := s.sessionKey(id)
	var out *domain.Session
	err := s.watch(ctx, func(tx *backend.Tx) error {
		sess, err := s.loadSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := mutate(sess); err != nil {
			return err
		}
		sess.Touch(s.now().UTC())
		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		instIDs, err := s.ownedInstances(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			s.refresh(ctx, pipe, id, instIDs)
			return nil
		})
		if err != nil {
			return err
		}
		out = sess
		return nil
	}, key)
	return out, err
}

func (s *Store) loadSession(ctx context.Context, c getter, id string) (*domain.Session, error) {
	val, err := c.Get(ctx, s.sessionKey(id)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.SessionNotFound(id)
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	var sess domain.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return normalizeSession(&sess), nil
}

// --- stage instances ---

// CreateInstance creates a pending stage instance.
func (s *Store) CreateInstance(ctx context.Context, sessionID, stageID, name string, values domain.Values) (*domain.StageInstance, error) {
	inst := domain.NewStageInstance(ids.New(), sessionID, stageID, name, values, s.now().UTC())
	data, err := json.Marshal(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal instance: %w", err)
	}

	sessKey := s.sessionKey(sessionID)
	err = s.watch(ctx, func(tx *backend.Tx) error {
		n, err := tx.Exists(ctx, sessKey).Result()
		if err != nil {
			return fmt.Errorf("failed to look up session: %w", err)
		}
		if n == 0 {
			return domain.SessionNotFound(sessionID)
		}
		instIDs, err := s.ownedInstances(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, s.instanceKey(inst.ID), data, s.ttl)
			pipe.RPush(ctx, s.instanceListKey(sessionID), inst.ID)
			s.refresh(ctx, pipe, sessionID, instIDs)
			return nil
		})
		return err
	}, sessKey)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// GetInstance retrieves a stage instance.
func (s *Store) GetInstance(ctx context.Context, id string) (*domain.StageInstance, error) {
	return s.loadInstance(ctx, s.client, id)
}

// ListInstances returns the session's instances (see ports.StageInstanceStore).
func (s *Store) ListInstances(ctx context.Context, sessionID string) ([]*domain.StageInstance, error) {
	list, err := s.instancesOf(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	domain.SortInstances(list)
	return list, nil
}

// FindInstance returns the most recent attempt of a stage.
func (s *Store) FindInstance(ctx context.Context, sessionID, stageID string) (*domain.StageInstance, error) {
	list, err := s.instancesOf(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var matching []*domain.StageInstance
	for _, inst := range list {
		if inst.StageID == stageID {
			matching = append(matching, inst)
		}
	}
	latest := domain.LatestInstance(matching)
	if latest == nil {
		return nil, domain.InstanceNotFound(sessionID + "/" + stageID)
	}
	return latest, nil
}

// instancesOf returns instances in creation order.
func (s *Store) instancesOf(ctx context.Context, sessionID string) ([]*domain.StageInstance, error) {
	idList, err := s.client.LRange(ctx, s.instanceListKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	out := []*domain.StageInstance{}
	if len(idList) == 0 {
		return out, nil
	}

	keys := make([]string, len(idList))
	for i, id := range idList {
		keys[i] = s.instanceKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load instances: %w", err)
	}
	for i, raw := range vals {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var inst domain.StageInstance
		if err := json.Unmarshal([]byte(str), &inst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal instance %s: %w", idList[i], err)
		}
		out = append(out, normalizeInstance(&inst))
	}
	return out, nil
}

// UpdateInstanceStatus applies a forward-only status change.
func (s *Store) UpdateInstanceStatus(ctx context.Context, id string, status domain.StageStatus) (*domain.StageInstance, error) {
	return s.updateInstance(ctx, id, func(inst *domain.StageInstance, now time.Time) error {
		return inst.TransitionTo(status, now)
	})
}

// MergeInstanceContext merges into the instance context.
func (s *Store) MergeInstanceContext(ctx context.Context, id string, partial domain.Values) (*domain.StageInstance, error) {
	return s.updateInstance(ctx, id, func(inst *domain.StageInstance, _ time.Time) error {
		inst.MergeContext(partial)
		return nil
	})
}

// MergeDeliverables merges into the instance deliverables.
func (s *Store) MergeDeliverables(ctx context.Context, id string, partial domain.Values) (*domain.StageInstance, error) {
	return s.updateInstance(ctx, id, func(inst *domain.StageInstance, _ time.Time) error {
		inst.MergeDeliverables(partial)
		return nil
	})
}

// AppendCompletedItem adds a checklist item once.
func (s *Store) AppendCompletedItem(ctx context.Context, id, itemID string) (*domain.StageInstance, error) {
	return s.updateInstance(ctx, id, func(inst *domain.StageInstance, _ time.Time) error {
		inst.AppendCompletedItem(itemID)
		return nil
	})
}

func (s *Store) updateInstance(ctx context.Context, id string, mutate func(*domain.StageInstance, time.Time) error) (*domain.StageInstance, error) {
	key := s.instanceKey(id)
	var out *domain.StageInstance
	err := s.watch(ctx, func(tx *backend.Tx) error {
		inst, err := s.loadInstance(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := mutate(inst, now); err != nil {
			return err
		}
		inst.Touch(now)
		data, err := json.Marshal(inst)
		if err != nil {
			return fmt.Errorf("failed to marshal instance: %w", err)
		}
		instIDs, err := s.ownedInstances(ctx, tx, inst.SessionID)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			s.refresh(ctx, pipe, inst.SessionID, instIDs)
			return nil
		})
		if err != nil {
			return err
		}
		out = inst
		return nil
	}, key)
	return out, err
}

func (s *Store) loadInstance(ctx context.Context, c getter, id string) (*domain.StageInstance, error) {
	val, err := c.Get(ctx, s.instanceKey(id)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.InstanceNotFound(id)
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	var inst domain.StageInstance
	if err := json.Unmarshal([]byte(val), &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
	}
	return normalizeInstance(&inst), nil
}

// watch runs fn under WATCH on keys, retrying while another client wins the race.
func (s *Store) watch(ctx context.Context, fn func(tx *backend.Tx) error, keys ...string) error {
	backoff := time.Millisecond
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, backend.TxFailedErr) {
			return err
		}
		s.logger.Debug("optimistic write conflict, retrying", "keys", keys, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 20*time.Millisecond {
			backoff *= 2
		}
	}
	return fmt.Errorf("%w: %v still contended after %d attempts", domain.ErrConflict, keys, s.maxRetries)
}

func normalizeSession(sess *domain.Session) *domain.Session {
	if sess.CompletedStages == nil {
		sess.CompletedStages = []string{}
	}
	if sess.Context == nil {
		sess.Context = domain.Values{}
	}
	return sess
}

func normalizeInstance(inst *domain.StageInstance) *domain.StageInstance {
	if inst.CompletedItems == nil {
		inst.CompletedItems = []string{}
	}
	if inst.Context == nil {
		inst.Context = domain.Values{}
	}
	if inst.Deliverables == nil {
		inst.Deliverables = domain.Values{}
	}
	return inst
}

// ownedInstances lists the instance ids of a session when records expire.
func (s *Store) ownedInstances(ctx context.Context, tx *backend.Tx, sessionID string) ([]string, error) {
	if s.ttl <= 0 {
		return nil, nil
	}
	instIDs, err := tx.LRange(ctx, s.instanceListKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return instIDs, nil
}

// refresh extends the TTL of a session and every record it owns, so they
// expire together.
func (s *Store) refresh(ctx context.Context, pipe backend.Pipeliner, sessionID string, instIDs []string) {
	if s.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, s.sessionKey(sessionID), s.ttl)
	pipe.Expire(ctx, s.instanceListKey(sessionID), s.ttl)
	for _, id := range instIDs {
		pipe.Expire(ctx, s.instanceKey(id), s.ttl)
	}
}

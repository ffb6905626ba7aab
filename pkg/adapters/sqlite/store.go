package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // register the "sqlite" driver

	"github.com/aretw0/stageflow/internal/ids"
	"github.com/aretw0/stageflow/internal/logging"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/ports"
)

var (
	_ ports.Repository = (*Store)(nil)
	_ ports.Transactor = (*Store)(nil)
)

// queryer is the subset of *sql.DB and *sql.Tx the store needs.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ports.Repository on SQLite.
//
// Every method runs in its own transaction. The pool is limited to one
// connection, so read-modify-write cycles are serialized by SQLite itself.
// Inside Atomic, fn receives a store bound to the open transaction; calling
// the outer store from fn would wait for that same connection.
type Store struct {
	db     *sql.DB
	tx     *sql.Tx // set on stores handed to Atomic callbacks
	now    func() time.Time
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

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

// New wraps an existing database handle. The caller owns db and must run
// Migrate before use.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		now:    time.Now,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens (or creates) the database file at path and migrates it.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("stageflow/sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := New(db, opts...)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Debug("sqlite store ready", "path", path)
	return s, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Atomic runs fn inside one transaction. Nested calls join the outer one.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, repo ports.Repository) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("stageflow/sqlite: begin: %w", err)
	}
	bound := &Store{db: s.db, tx: tx, now: s.now, logger: s.logger}
	if err := fn(ctx, bound); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("stageflow/sqlite: commit: %w", err)
	}
	return nil
}

// run executes fn in the bound transaction or in a fresh one.
func (s *Store) run(ctx context.Context, fn func(q queryer) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("stageflow/sqlite: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("stageflow/sqlite: commit: %w", err)
	}
	return nil
}

// reader returns the handle for single-statement reads.
func (s *Store) reader() queryer {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// --- sessions ---

const sessionColumns = `id, workflow_id, name, status, current_stage_id, completed_stages, context, created_at, updated_at, version`

// CreateSession creates an active session.
func (s *Store) CreateSession(ctx context.Context, workflowID, name string) (*domain.Session, error) {
	sess := domain.NewSession(ids.New(), workflowID, name, s.now().UTC())
	err := s.run(ctx, func(q queryer) error {
		return insertSession(ctx, q, sess)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession retrieves a session.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return getSession(ctx, s.reader(), id)
}

// ListSessions returns matching sessions in creation order.
func (s *Store) ListSessions(ctx context.Context, filter ports.SessionFilter) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.WorkflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, filter.WorkflowID)
	}
	query += ` ORDER BY seq`

	rows, err := s.reader().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stageflow/sqlite: list sessions: %w", err)
	}
	defer rows.Close()

	out := []*domain.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
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
	return s.run(ctx, func(q queryer) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM stage_instances WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("stageflow/sqlite: delete instances: %w", err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("stageflow/sqlite: delete session: %w", err)
		}
		return nil
	})
}

func (s *Store) updateSession(ctx context.Context, id string, mutate func(*domain.Session) error) (*domain.Session, error) {
	var out *domain.Session
	err := s.run(ctx, func(q queryer) error {
		sess, err := getSession(ctx, q, id)
		if err != nil {
			return err
		}
		if err := mutate(sess); err != nil {
			return err
		}
		sess.Touch(s.now().UTC())
		if err := saveSession(ctx, q, sess); err != nil {
			return err
		}
		out = sess
		return nil
	})
	return out, err
}

func insertSession(ctx context.Context, q queryer, sess *domain.Session) error {
	completed, ctxJSON, err := encodeSessionFields(sess)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.WorkflowID, sess.Name, string(sess.Status), sess.CurrentStageID,
		completed, ctxJSON, formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt), sess.Version,
	)
	if err != nil {
		return fmt.Errorf("stageflow/sqlite: insert session: %w", err)
	}
	return nil
}

func saveSession(ctx context.Context, q queryer, sess *domain.Session) error {
	completed, ctxJSON, err := encodeSessionFields(sess)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`UPDATE sessions SET status = ?, current_stage_id = ?, completed_stages = ?, context = ?, updated_at = ?, version = ? WHERE id = ?`,
		string(sess.Status), sess.CurrentStageID, completed, ctxJSON, formatTime(sess.UpdatedAt), sess.Version, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("stageflow/sqlite: update session: %w", err)
	}
	return nil
}

func getSession(ctx context.Context, q queryer, id string) (*domain.Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if isNoRows(err) {
		return nil, domain.SessionNotFound(id)
	}
	return sess, err
}

func sessionExists(ctx context.Context, q queryer, id string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("stageflow/sqlite: lookup session: %w", err)
	}
	return n > 0, nil
}

// --- stage instances ---

const instanceColumns = `id, session_id, stage_id, name, status, started_at, completed_at, completed_items, context, deliverables, created_at, updated_at, version`

// CreateInstance creates a pending stage instance.
func (s *Store) CreateInstance(ctx context.Context, sessionID, stageID, name string, values domain.Values) (*domain.StageInstance, error) {
	inst := domain.NewStageInstance(ids.New(), sessionID, stageID, name, values, s.now().UTC())
	err := s.run(ctx, func(q queryer) error {
		ok, err := sessionExists(ctx, q, sessionID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.SessionNotFound(sessionID)
		}
		return insertInstance(ctx, q, inst)
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// GetInstance retrieves a stage instance.
func (s *Store) GetInstance(ctx context.Context, id string) (*domain.StageInstance, error) {
	return getInstance(ctx, s.reader(), id)
}

// ListInstances returns the session's instances (see ports.StageInstanceStore).
func (s *Store) ListInstances(ctx context.Context, sessionID string) ([]*domain.StageInstance, error) {
	list, err := s.queryInstances(ctx,
		`SELECT `+instanceColumns+` FROM stage_instances WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	domain.SortInstances(list)
	return list, nil
}

// FindInstance returns the most recent attempt of a stage.
func (s *Store) FindInstance(ctx context.Context, sessionID, stageID string) (*domain.StageInstance, error) {
	list, err := s.queryInstances(ctx,
		`SELECT `+instanceColumns+` FROM stage_instances WHERE session_id = ? AND stage_id = ? ORDER BY seq`,
		sessionID, stageID)
	if err != nil {
		return nil, err
	}
	latest := domain.LatestInstance(list)
	if latest == nil {
		return nil, domain.InstanceNotFound(sessionID + "/" + stageID)
	}
	return latest, nil
}

func (s *Store) queryInstances(ctx context.Context, query string, args ...any) ([]*domain.StageInstance, error) {
	rows, err := s.reader().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stageflow/sqlite: list instances: %w", err)
	}
	defer rows.Close()

	out := []*domain.StageInstance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
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
	var out *domain.StageInstance
	err := s.run(ctx, func(q queryer) error {
		inst, err := getInstance(ctx, q, id)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := mutate(inst, now); err != nil {
			return err
		}
		inst.Touch(now)
		if err := saveInstance(ctx, q, inst); err != nil {
			return err
		}
		out = inst
		return nil
	})
	return out, err
}

func insertInstance(ctx context.Context, q queryer, inst *domain.StageInstance) error {
	f, err := encodeInstanceFields(inst)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO stage_instances (`+instanceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.SessionID, inst.StageID, inst.Name, string(inst.Status),
		f.startedAt, f.completedAt, f.items, f.context, f.deliverables,
		formatTime(inst.CreatedAt), formatTime(inst.UpdatedAt), inst.Version,
	)
	if err != nil {
		return fmt.Errorf("stageflow/sqlite: insert instance: %w", err)
	}
	return nil
}

func saveInstance(ctx context.Context, q queryer, inst *domain.StageInstance) error {
	f, err := encodeInstanceFields(inst)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`UPDATE stage_instances SET status = ?, started_at = ?, completed_at = ?, completed_items = ?, context = ?, deliverables = ?, updated_at = ?, version = ? WHERE id = ?`,
		string(inst.Status), f.startedAt, f.completedAt, f.items, f.context, f.deliverables,
		formatTime(inst.UpdatedAt), inst.Version, inst.ID,
	)
	if err != nil {
		return fmt.Errorf("stageflow/sqlite: update instance: %w", err)
	}
	return nil
}

func getInstance(ctx context.Context, q queryer, id string) (*domain.StageInstance, error) {
	row := q.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM stage_instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if isNoRows(err) {
		return nil, domain.InstanceNotFound(id)
	}
	return inst, err
}

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

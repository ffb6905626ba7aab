package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/stageflow/pkg/domain"
)

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var (
		sess                 domain.Session
		status               string
		completed, ctxJSON   string
		createdAt, updatedAt string
	)
	err := row.Scan(&sess.ID, &sess.WorkflowID, &sess.Name, &status, &sess.CurrentStageID,
		&completed, &ctxJSON, &createdAt, &updatedAt, &sess.Version)
	if err != nil {
		return nil, fmt.Errorf("stageflow/sqlite: scan session: %w", err)
	}
	sess.Status = domain.SessionStatus(status)
	if err := decodeJSON(completed, &sess.CompletedStages); err != nil {
		return nil, err
	}
	if err := decodeJSON(ctxJSON, &sess.Context); err != nil {
		return nil, err
	}
	if sess.CompletedStages == nil {
		sess.CompletedStages = []string{}
	}
	if sess.Context == nil {
		sess.Context = domain.Values{}
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

func encodeSessionFields(sess *domain.Session) (completed, ctxJSON string, err error) {
	if completed, err = encodeJSON(sess.CompletedStages, "[]"); err != nil {
		return "", "", err
	}
	if ctxJSON, err = encodeJSON(sess.Context, "{}"); err != nil {
		return "", "", err
	}
	return completed, ctxJSON, nil
}

func scanInstance(row scanner) (*domain.StageInstance, error) {
	var (
		inst                         domain.StageInstance
		status                       string
		startedAt, completedAt       sql.NullString
		items, ctxJSON, deliverables string
		createdAt, updatedAt         string
	)
	err := row.Scan(&inst.ID, &inst.SessionID, &inst.StageID, &inst.Name, &status,
		&startedAt, &completedAt, &items, &ctxJSON, &deliverables,
		&createdAt, &updatedAt, &inst.Version)
	if err != nil {
		return nil, fmt.Errorf("stageflow/sqlite: scan instance: %w", err)
	}
	inst.Status = domain.StageStatus(status)
	if inst.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if inst.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(items, &inst.CompletedItems); err != nil {
		return nil, err
	}
	if err := decodeJSON(ctxJSON, &inst.Context); err != nil {
		return nil, err
	}
	if err := decodeJSON(deliverables, &inst.Deliverables); err != nil {
		return nil, err
	}
	if inst.CompletedItems == nil {
		inst.CompletedItems = []string{}
	}
	if inst.Context == nil {
		inst.Context = domain.Values{}
	}
	if inst.Deliverables == nil {
		inst.Deliverables = domain.Values{}
	}
	if inst.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if inst.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &inst, nil
}

type instanceFields struct {
	startedAt, completedAt       sql.NullString
	items, context, deliverables string
}

func encodeInstanceFields(inst *domain.StageInstance) (instanceFields, error) {
	var (
		f   instanceFields
		err error
	)
	f.startedAt = formatNullTime(inst.StartedAt)
	f.completedAt = formatNullTime(inst.CompletedAt)
	if f.items, err = encodeJSON(inst.CompletedItems, "[]"); err != nil {
		return f, err
	}
	if f.context, err = encodeJSON(inst.Context, "{}"); err != nil {
		return f, err
	}
	if f.deliverables, err = encodeJSON(inst.Deliverables, "{}"); err != nil {
		return f, err
	}
	return f, nil
}

func encodeJSON(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("stageflow/sqlite: encode: %w", err)
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("stageflow/sqlite: decode: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("stageflow/sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

package stageflow_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/stageflow"
	"github.com/aretw0/stageflow/internal/config"
	"github.com/aretw0/stageflow/pkg/adapters/memory"
	"github.com/aretw0/stageflow/pkg/adapters/sqlite"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const onboarding = `
id: onboarding
name: Onboarding
stages:
  - id: welcome
    checklist: [account, profile]
  - id: setup
    prerequisites: {plan: pro}
  - id: done
    is_end: true
transitions:
  - from_stage: welcome
    to_stage: setup
    condition: {plan: pro}
  - from_stage: welcome
    to_stage: done
  - from_stage: setup
    to_stage: done
`

func quiet() stageflow.Option {
	return stageflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func definitionsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "onboarding.yaml"), []byte(onboarding), 0o644))
	return dir
}

func walk(t *testing.T, eng *stageflow.Engine) string {
	t.Helper()
	ctx := context.Background()

	sess, err := eng.StartSession(ctx, "onboarding", "acme")
	require.NoError(t, err)
	_, err = eng.UpdateSessionContext(ctx, sess.ID, domain.Values{"plan": "pro", "password": "hunter2"})
	require.NoError(t, err)

	first, err := eng.StartFirstStage(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "welcome", first)

	next, err := eng.NextStages(ctx, sess.ID, first)
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, "setup", next[0].ID)

	inst, err := eng.CurrentInstance(ctx, sess.ID)
	require.NoError(t, err)
	_, err = eng.CompleteStage(ctx, inst.ID, nil)
	require.NoError(t, err)

	setup, err := eng.Advance(ctx, sess.ID, "setup")
	require.NoError(t, err)
	_, err = eng.CompleteStage(ctx, setup.ID, nil)
	require.NoError(t, err)
	done, err := eng.Advance(ctx, sess.ID, "done")
	require.NoError(t, err)
	_, err = eng.CompleteStage(ctx, done.ID, nil)
	require.NoError(t, err)
	return sess.ID
}

func TestOpen_SQLiteWithRedactionAndMetrics(t *testing.T) {
	cfg := stageflow.DefaultConfig()
	cfg.Backend = config.BackendSQLite
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "flows.db")
	cfg.Definitions.Dir = definitionsDir(t)
	cfg.Session.AutoComplete = true
	cfg.Metrics.Enabled = true
	cfg.RedactKeys = []string{"password"}

	eng, err := stageflow.Open(context.Background(), cfg, quiet())
	require.NoError(t, err)

	id := walk(t, eng)
	sess, err := eng.Session(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, sess.Status)
	assert.Equal(t, "***", sess.Context["password"])
	assert.Equal(t, []string{"welcome", "setup", "done"}, sess.CompletedStages)

	require.NotNil(t, eng.Registry)
	assert.Equal(t, 1.0, testutil.ToFloat64(eng.Metrics.Sessions.WithLabelValues("onboarding", "completed")))
	require.NoError(t, eng.Close())

	// Data survives the engine.
	store, err := sqlite.Open(context.Background(), cfg.SQLite.Path)
	require.NoError(t, err)
	defer store.Close()
	reloaded, err := store.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, reloaded.Status)
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := stageflow.DefaultConfig()
	cfg.Backend = config.BackendRedis
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.Prefix = "test:"
	cfg.Definitions.Dir = definitionsDir(t)

	eng, err := stageflow.Open(context.Background(), cfg, quiet())
	require.NoError(t, err)
	defer eng.Close()

	id := walk(t, eng)
	sess, err := eng.Session(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, sess.Status, "auto complete is off")
	assert.True(t, mr.Exists("test:session:"+id))
}

func TestOpen_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := stageflow.DefaultConfig()
	cfg.Backend = config.BackendRedis
	cfg.Redis.Addr = addr

	_, err := stageflow.Open(context.Background(), cfg, quiet())
	assert.Error(t, err)
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := stageflow.DefaultConfig()
	cfg.Backend = "etcd"
	_, err := stageflow.Open(context.Background(), cfg, quiet())
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestOpen_InjectedRepository(t *testing.T) {
	repo := memory.NewStore()
	loader := memory.NewLoader(&domain.WorkflowDefinition{ID: "wf", Stages: []domain.StageDefinition{{ID: "only"}}})

	eng, err := stageflow.Open(context.Background(), nil, quiet(),
		stageflow.WithRepository(repo),
		stageflow.WithLoader(loader),
	)
	require.NoError(t, err)
	assert.Same(t, repo, eng.Repository())

	sess, err := eng.StartSession(context.Background(), "wf", "")
	require.NoError(t, err)
	_, err = repo.GetSession(context.Background(), sess.ID)
	assert.NoError(t, err)

	_, err = eng.StartSession(context.Background(), "ghost", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpen_LoamDefinitions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "triage.md"), []byte(`---
id: triage
name: Triage
stages:
  - id: inbox
  - id: closed
    is_end: true
transitions:
  - from_stage: inbox
    to_stage: closed
---
Sort incoming tickets.
`), 0o644))

	cfg := stageflow.DefaultConfig()
	cfg.Definitions.Dir = dir
	cfg.Definitions.Source = config.SourceLoam

	eng, err := stageflow.Open(context.Background(), cfg, quiet())
	require.NoError(t, err)
	defer eng.Close()

	ids, err := eng.Workflows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"triage"}, ids)

	sess, err := eng.StartSession(context.Background(), "triage", "")
	require.NoError(t, err)
	first, err := eng.StartFirstStage(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "inbox", first)
}

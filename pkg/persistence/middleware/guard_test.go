package middleware_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/stageflow/pkg/adapters/memory"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/persistence/middleware"
	"github.com/aretw0/stageflow/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guardedRepo(t *testing.T) ports.Repository {
	t.Helper()
	loader := memory.NewLoader(
		&domain.WorkflowDefinition{
			ID:     "review",
			Name:   "Review",
			Stages: []domain.StageDefinition{{ID: "draft"}, {ID: "publish"}},
		},
		&domain.WorkflowDefinition{ID: "broken", Stages: 42},
	)
	return middleware.Chain(memory.NewStore(), middleware.NewWorkflowGuard(loader))
}

func TestWorkflowGuard_UnknownWorkflow(t *testing.T) {
	repo := guardedRepo(t)
	_, err := repo.CreateSession(context.Background(), "nope", "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWorkflowGuard_SetCurrentStage(t *testing.T) {
	ctx := context.Background()
	repo := guardedRepo(t)

	sess, err := repo.CreateSession(ctx, "review", "doc")
	require.NoError(t, err)

	sess, err = repo.SetCurrentStage(ctx, sess.ID, "draft")
	require.NoError(t, err)
	assert.Equal(t, "draft", sess.CurrentStageID)

	_, err = repo.SetCurrentStage(ctx, sess.ID, "deploy")
	require.ErrorIs(t, err, domain.ErrValidation)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"draft", "publish"}, verr.Expected)

	sess, err = repo.SetCurrentStage(ctx, sess.ID, "")
	require.NoError(t, err, "clearing is always allowed")
	assert.Empty(t, sess.CurrentStageID)
}

func TestWorkflowGuard_CreateInstance(t *testing.T) {
	ctx := context.Background()
	repo := guardedRepo(t)

	sess, err := repo.CreateSession(ctx, "review", "doc")
	require.NoError(t, err)

	_, err = repo.CreateInstance(ctx, sess.ID, "publish", "Publish", nil)
	require.NoError(t, err)

	_, err = repo.CreateInstance(ctx, sess.ID, "ghost", "Ghost", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = repo.CreateInstance(ctx, "missing", "publish", "Publish", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWorkflowGuard_MalformedWorkflowRejectsStages(t *testing.T) {
	ctx := context.Background()
	repo := guardedRepo(t)

	sess, err := repo.CreateSession(ctx, "broken", "x")
	require.NoError(t, err)
	_, err = repo.SetCurrentStage(ctx, sess.ID, "anything")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestWorkflowGuard_AppliesInsideAtomic(t *testing.T) {
	ctx := context.Background()
	repo := guardedRepo(t)
	sess, err := repo.CreateSession(ctx, "review", "doc")
	require.NoError(t, err)

	tx, ok := repo.(ports.Transactor)
	require.True(t, ok)
	err = tx.Atomic(ctx, func(ctx context.Context, r ports.Repository) error {
		if _, err := r.SetCurrentStage(ctx, sess.ID, "draft"); err != nil {
			return err
		}
		_, err := r.SetCurrentStage(ctx, sess.ID, "ghost")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	loaded, err := repo.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.CurrentStageID, "the whole unit was rolled back")
}

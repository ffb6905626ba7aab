package middleware_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/aretw0/stageflow/pkg/adapters/memory"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/persistence/middleware"
	"github.com/aretw0/stageflow/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRepo counts session context merges.
type countingRepo struct {
	ports.Repository
	merges *atomic.Int64
	wrap   middleware.Middleware
}

func counting(merges *atomic.Int64) middleware.Middleware {
	var wrap middleware.Middleware
	wrap = func(next ports.Repository) ports.Repository {
		return &countingRepo{Repository: next, merges: merges, wrap: wrap}
	}
	return wrap
}

func (c *countingRepo) Atomic(ctx context.Context, fn func(context.Context, ports.Repository) error) error {
	return middleware.ForwardAtomic(ctx, c.Repository, c.wrap, fn)
}

func (c *countingRepo) MergeSessionContext(ctx context.Context, id string, partial domain.Values) (*domain.Session, error) {
	c.merges.Add(1)
	return c.Repository.MergeSessionContext(ctx, id, partial)
}

func TestForwardAtomic_KeepsRollbackAndDecoration(t *testing.T) {
	ctx := context.Background()
	var merges atomic.Int64
	repo := middleware.Chain(memory.NewStore(),
		middleware.NewRedactionMiddleware([]string{"token"}),
		counting(&merges),
	)
	sess, err := repo.CreateSession(ctx, "wf", "forward")
	require.NoError(t, err)

	tx, ok := repo.(ports.Transactor)
	require.True(t, ok)
	err = tx.Atomic(ctx, func(ctx context.Context, repo ports.Repository) error {
		if _, err := repo.MergeSessionContext(ctx, sess.ID, domain.Values{"token": "t"}); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, int64(1), merges.Load())

	loaded, err := repo.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Context)
}

func TestForwardAtomic_PlainRepository(t *testing.T) {
	ctx := context.Background()
	var merges atomic.Int64
	wrap := counting(&merges)
	plain := struct{ ports.Repository }{memory.NewStore()}

	err := middleware.ForwardAtomic(ctx, plain, wrap, func(ctx context.Context, repo ports.Repository) error {
		sess, err := repo.CreateSession(ctx, "wf", "plain")
		if err != nil {
			return err
		}
		_, err = repo.MergeSessionContext(ctx, sess.ID, domain.Values{"k": "v"})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), merges.Load())
}

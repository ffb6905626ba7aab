package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/stageflow/pkg/adapters/memory"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/persistence/middleware"
	"github.com/aretw0/stageflow/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactionMiddleware_MasksMatchingKeys(t *testing.T) {
	ctx := context.Background()
	repo := middleware.Chain(memory.NewStore(), middleware.NewRedactionMiddleware([]string{"(?i)password", "^token$"}))

	sess, err := repo.CreateSession(ctx, "wf", "pii")
	require.NoError(t, err)

	input := domain.Values{
		"user":     "alice",
		"Password": "hunter2",
		"nested":   map[string]any{"token": "abc", "keep": "me"},
	}
	sess, err = repo.MergeSessionContext(ctx, sess.ID, input)
	require.NoError(t, err)

	assert.Equal(t, "alice", sess.Context["user"])
	assert.Equal(t, middleware.RedactedValue, sess.Context["Password"])
	nested := sess.Context["nested"].(map[string]any)
	assert.Equal(t, middleware.RedactedValue, nested["token"])
	assert.Equal(t, "me", nested["keep"])

	assert.Equal(t, "hunter2", input["Password"], "caller input is untouched")
	assert.Equal(t, "abc", input["nested"].(map[string]any)["token"])
}

func TestRedactionMiddleware_InstancesAndDeliverables(t *testing.T) {
	ctx := context.Background()
	repo := middleware.Chain(memory.NewStore(), middleware.NewRedactionMiddleware([]string{"secret"}))

	sess, err := repo.CreateSession(ctx, "wf", "pii")
	require.NoError(t, err)

	inst, err := repo.CreateInstance(ctx, sess.ID, "a", "A", domain.Values{"secret": "s1"})
	require.NoError(t, err)
	assert.Equal(t, middleware.RedactedValue, inst.Context["secret"])

	inst, err = repo.MergeDeliverables(ctx, inst.ID, domain.Values{"client_secret": "s2", "url": "https://x"})
	require.NoError(t, err)
	assert.Equal(t, middleware.RedactedValue, inst.Deliverables["client_secret"])
	assert.Equal(t, "https://x", inst.Deliverables["url"])
}

func TestChain_OrderAndContract(t *testing.T) {
	loader := memory.NewLoader(&domain.WorkflowDefinition{ID: "wf-contract"})
	repo := middleware.Chain(memory.NewStore(),
		middleware.NewRedactionMiddleware([]string{"password"}),
	)
	ports.RunRepositoryContract(t, repo)

	guarded := middleware.Chain(memory.NewStore(), middleware.NewWorkflowGuard(loader))
	_, err := guarded.CreateSession(context.Background(), "wf-contract", "ok")
	assert.NoError(t, err)
}

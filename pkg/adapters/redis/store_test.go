package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/stageflow/pkg/adapters/redis"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, opts ...redis.Option) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	return redis.NewFromClient(client, opts...), mr
}

func TestRedisStore_Contract(t *testing.T) {
	store, _ := newStore(t)
	ports.RunRepositoryContract(t, store)
}

func TestRedisStore_KeyLayout(t *testing.T) {
	store, mr := newStore(t, redis.WithPrefix("test:"))
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "wf", "keys")
	require.NoError(t, err)
	inst, err := store.CreateInstance(ctx, sess.ID, "a", "A", nil)
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:session:"+sess.ID))
	assert.True(t, mr.Exists("test:instance:"+inst.ID))
	assert.True(t, mr.Exists("test:session:"+sess.ID+":instances"))
	members, err := mr.ZMembers("test:sessions")
	require.NoError(t, err)
	assert.Contains(t, members, sess.ID)
}

func TestRedisStore_TTL_SessionWritesKeepInstances(t *testing.T) {
	store, mr := newStore(t, redis.WithTTL(time.Minute))
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "wf", "long running")
	require.NoError(t, err)
	inst, err := store.CreateInstance(ctx, sess.ID, "a", "A", nil)
	require.NoError(t, err)
	_, err = store.UpdateInstanceStatus(ctx, inst.ID, domain.StageActive)
	require.NoError(t, err)

	mr.FastForward(50 * time.Second)
	_, err = store.MergeSessionContext(ctx, sess.ID, domain.Values{"k": "v"})
	require.NoError(t, err)
	mr.FastForward(20 * time.Second)

	list, err := store.ListInstances(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	found, err := store.FindInstance(ctx, sess.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, found.ID)
}

func TestRedisStore_TTL_InstanceWritesKeepSession(t *testing.T) {
	store, mr := newStore(t, redis.WithTTL(time.Minute))
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "wf", "long running")
	require.NoError(t, err)
	first, err := store.CreateInstance(ctx, sess.ID, "a", "A", nil)
	require.NoError(t, err)

	mr.FastForward(50 * time.Second)
	second, err := store.CreateInstance(ctx, sess.ID, "b", "B", nil)
	require.NoError(t, err)
	mr.FastForward(20 * time.Second)

	_, err = store.AppendCompletedItem(ctx, second.ID, "b1")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("stageflow:session:"+sess.ID))
	assert.Equal(t, time.Minute, mr.TTL("stageflow:instance:"+first.ID))
	mr.FastForward(50 * time.Second)

	_, err = store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	_, err = store.GetInstance(ctx, first.ID)
	require.NoError(t, err)
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	store, mr := newStore(t, redis.WithTTL(time.Second))
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "wf", "ephemeral")
	require.NoError(t, err)
	_, err = store.CreateInstance(ctx, sess.ID, "a", "A", nil)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = store.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := store.ListSessions(ctx, ports.SessionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	members, err := mr.ZMembers(redis.DefaultPrefix + "sessions")
	if err == nil {
		assert.NotContains(t, members, sess.ID, "expired sessions are pruned from the index")
	}
}

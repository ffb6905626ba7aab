package ports

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRepositoryContract runs a suite of tests to verify that a Repository
// implementation adheres to the defined interface contract.
// Numbers may come back as float64 from JSON-backed adapters, so numeric
// assertions use EqualValues.
func RunRepositoryContract(t *testing.T, repo Repository) {
	ctx := context.Background()

	t.Run("Create and Get Session", func(t *testing.T) {
		sess, err := repo.CreateSession(ctx, "wf-contract", "contract")
		require.NoError(t, err)
		assert.NotEmpty(t, sess.ID)
		assert.Equal(t, domain.SessionActive, sess.Status)
		assert.Empty(t, sess.CurrentStageID)
		assert.Empty(t, sess.CompletedStages)

		loaded, err := repo.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, sess.ID, loaded.ID)
		assert.Equal(t, "wf-contract", loaded.WorkflowID)
		assert.Equal(t, "contract", loaded.Name)
	})

	t.Run("Get Non-Existent Session", func(t *testing.T) {
		_, err := repo.GetSession(ctx, "missing-session")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Session Status Machine", func(t *testing.T) {
		sess, err := repo.CreateSession(ctx, "wf-contract", "status")
		require.NoError(t, err)

		sess, err = repo.UpdateSessionStatus(ctx, sess.ID, domain.SessionPaused)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionPaused, sess.Status)

		sess, err = repo.UpdateSessionStatus(ctx, sess.ID, domain.SessionActive)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionActive, sess.Status)

		_, err = repo.UpdateSessionStatus(ctx, sess.ID, domain.SessionActive)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		_, err = repo.UpdateSessionStatus(ctx, sess.ID, domain.SessionCompleted)
		require.NoError(t, err)

		_, err = repo.UpdateSessionStatus(ctx, sess.ID, domain.SessionAborted)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, "terminal sessions are immutable")

		loaded, err := repo.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionCompleted, loaded.Status)
	})

	t.Run("Session Current Stage, Completed Stages and Context", func(t *testing.T) {
		sess, err := repo.CreateSession(ctx, "wf-contract", "fields")
		require.NoError(t, err)

		_, err = repo.SetCurrentStage(ctx, sess.ID, "design")
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			_, err = repo.AppendCompletedStage(ctx, sess.ID, "design")
			require.NoError(t, err)
		}
		_, err = repo.AppendCompletedStage(ctx, sess.ID, "build")
		require.NoError(t, err)

		_, err = repo.MergeSessionContext(ctx, sess.ID, domain.Values{"a": "1", "b": "old"})
		require.NoError(t, err)
		_, err = repo.MergeSessionContext(ctx, sess.ID, domain.Values{"b": "new"})
		require.NoError(t, err)

		loaded, err := repo.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "design", loaded.CurrentStageID)
		assert.Equal(t, []string{"design", "build"}, loaded.CompletedStages)
		assert.Equal(t, "1", loaded.Context["a"])
		assert.Equal(t, "new", loaded.Context["b"])
		assert.Greater(t, loaded.Version, sess.Version)
	})

	t.Run("List Sessions By Status And Workflow", func(t *testing.T) {
		wf := "wf-list-" + time.Now().Format("150405.000000000")
		s1, err := repo.CreateSession(ctx, wf, "one")
		require.NoError(t, err)
		s2, err := repo.CreateSession(ctx, wf, "two")
		require.NoError(t, err)
		_, err = repo.UpdateSessionStatus(ctx, s2.ID, domain.SessionPaused)
		require.NoError(t, err)

		all, err := repo.ListSessions(ctx, SessionFilter{WorkflowID: wf})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, s1.ID, all[0].ID, "creation order")
		assert.Equal(t, s2.ID, all[1].ID)

		paused, err := repo.ListSessions(ctx, SessionFilter{WorkflowID: wf, Status: domain.SessionPaused})
		require.NoError(t, err)
		require.Len(t, paused, 1)
		assert.Equal(t, s2.ID, paused[0].ID)
	})

	t.Run("Create Instance For Unknown Session", func(t *testing.T) {
		_, err := repo.CreateInstance(ctx, "missing-session", "design", "Design", nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Instance Round Trip", func(t *testing.T) {
		sess, err := repo.CreateSession(ctx, "wf-contract", "instances")
		require.NoError(t, err)

		inst, err := repo.CreateInstance(ctx, sess.ID, "build", "Build", domain.Values{"seed": "yes"})
		require.NoError(t, err)
		assert.Equal(t, domain.StagePending, inst.Status)
		assert.Nil(t, inst.StartedAt)

		inst, err = repo.UpdateInstanceStatus(ctx, inst.ID, domain.StageActive)
		require.NoError(t, err)
		require.NotNil(t, inst.StartedAt)
		startedAt := *inst.StartedAt

		_, err = repo.MergeDeliverables(ctx, inst.ID, domain.Values{"x": 1})
		require.NoError(t, err)
		_, err = repo.MergeInstanceContext(ctx, inst.ID, domain.Values{"note": "ok"})
		require.NoError(t, err)

		_, err = repo.UpdateInstanceStatus(ctx, inst.ID, domain.StageCompleted)
		require.NoError(t, err)

		loaded, err := repo.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StageCompleted, loaded.Status)
		assert.EqualValues(t, 1, loaded.Deliverables["x"])
		assert.Equal(t, "yes", loaded.Context["seed"])
		assert.Equal(t, "ok", loaded.Context["note"])
		require.NotNil(t, loaded.CompletedAt)
		require.NotNil(t, loaded.StartedAt)
		assert.True(t, startedAt.Equal(*loaded.StartedAt), "started_at is set once")

		_, err = repo.UpdateInstanceStatus(ctx, inst.ID, domain.StageActive)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("Get Non-Existent Instance", func(t *testing.T) {
		_, err := repo.GetInstance(ctx, "missing-instance")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = repo.UpdateInstanceStatus(ctx, "missing-instance", domain.StageActive)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Append Completed Item Is Idempotent", func(t *testing.T) {
		sess, err := repo.CreateSession(ctx, "wf-contract", "items")
		require.NoError(t, err)
		inst, err := repo.CreateInstance(ctx, sess.ID, "build", "Build", nil)
		require.NoError(t, err)

		for i := 0; i < 4; i++ {
			_, err = repo.AppendCompletedItem(ctx, inst.ID, "compile")
			require.NoError(t, err)
		}
		inst, err = repo.AppendCompletedItem(ctx, inst.ID, "lint")
		require.NoError(t, err)
		assert.Equal(t, []string{"compile", "lint"}, inst.CompletedItems)
	})

	t.Run("List And Find Instances", func(t *testing.T) {
		sess, err := repo.CreateSession(ctx, "wf-contract", "ordering")
		require.NoError(t, err)

		first, err := repo.CreateInstance(ctx, sess.ID, "a", "A", nil)
		require.NoError(t, err)
		second, err := repo.CreateInstance(ctx, sess.ID, "b", "B", nil)
		require.NoError(t, err)
		third, err := repo.CreateInstance(ctx, sess.ID, "c", "C", nil)
		require.NoError(t, err)

		_, err = repo.UpdateInstanceStatus(ctx, third.ID, domain.StageActive)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		_, err = repo.UpdateInstanceStatus(ctx, first.ID, domain.StageActive)
		require.NoError(t, err)

		list, err := repo.ListInstances(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, second.ID, list[0].ID, "unstarted instances first")
		assert.Equal(t, third.ID, list[1].ID)
		assert.Equal(t, first.ID, list[2].ID)

		_, err = repo.UpdateInstanceStatus(ctx, first.ID, domain.StageFailed)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		retry, err := repo.CreateInstance(ctx, sess.ID, "a", "A", nil)
		require.NoError(t, err)

		found, err := repo.FindInstance(ctx, sess.ID, "a")
		require.NoError(t, err)
		assert.Equal(t, retry.ID, found.ID, "most recent attempt wins")

		_, err = repo.FindInstance(ctx, sess.ID, "zzz")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Delete Session Cascades", func(t *testing.T) {
		sess, err := repo.CreateSession(ctx, "wf-contract", "delete")
		require.NoError(t, err)
		inst, err := repo.CreateInstance(ctx, sess.ID, "a", "A", nil)
		require.NoError(t, err)

		require.NoError(t, repo.DeleteSession(ctx, sess.ID))

		_, err = repo.GetSession(ctx, sess.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = repo.GetInstance(ctx, inst.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Concurrent Appends Do Not Duplicate", func(t *testing.T) {
		sess, err := repo.CreateSession(ctx, "wf-contract", "concurrent")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.AppendCompletedStage(ctx, sess.ID, "same")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		loaded, err := repo.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"same"}, loaded.CompletedStages)
	})

	if tx, ok := repo.(Transactor); ok {
		t.Run("Atomic Rolls Back On Error", func(t *testing.T) {
			sess, err := repo.CreateSession(ctx, "wf-contract", "atomic")
			require.NoError(t, err)

			boom := assert.AnError
			err = tx.Atomic(ctx, func(ctx context.Context, r Repository) error {
				if _, err := r.SetCurrentStage(ctx, sess.ID, "rolled-back"); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)

			loaded, err := repo.GetSession(ctx, sess.ID)
			require.NoError(t, err)
			assert.Empty(t, loaded.CurrentStageID)
		})
	}
}

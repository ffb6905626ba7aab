package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aretw0/stageflow/pkg/adapters/memory"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearWorkflow() *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID:   "linear",
		Name: "Linear",
		Stages: []domain.StageDefinition{
			{ID: "A", Name: "Alpha", Checklist: []string{"a1", "a2", "a3"}},
			{ID: "B", Name: "Beta"},
			{ID: "C", Name: "Gamma", IsEnd: true},
		},
		Transitions: []domain.TransitionDefinition{
			{FromStage: "A", ToStage: "B"},
			{FromStage: "B", ToStage: "C"},
		},
	}
}

func dependencyWorkflow() *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID: "deps",
		Stages: []domain.StageDefinition{
			{ID: "design"},
			{ID: "build", DependsOn: []string{"design"}},
			{ID: "test", DependsOn: []string{"build"}},
			{ID: "release", DependsOn: []string{"test"}, IsEnd: true},
		},
	}
}

func newOrchestrator(t *testing.T, opts ...orchestrator.Option) *orchestrator.Orchestrator {
	t.Helper()
	loader := memory.NewLoader(
		linearWorkflow(),
		dependencyWorkflow(),
		&domain.WorkflowDefinition{
			ID: "weighted",
			Stages: []domain.StageDefinition{
				{ID: "A"},
				{ID: "B2", Weight: domain.IntPtr(2)},
				{ID: "B1", Weight: domain.IntPtr(1)},
			},
			Transitions: []domain.TransitionDefinition{
				{FromStage: "A", ToStage: "B2"},
				{FromStage: "A", ToStage: "B1"},
				{FromStage: "A", ToStage: "missing"},
			},
		},
		&domain.WorkflowDefinition{ID: "empty", Stages: []domain.StageDefinition{{Name: "no id"}}},
		&domain.WorkflowDefinition{ID: "broken", Stages: `{"not": "a stage list"`},
	)
	return orchestrator.New(memory.NewStore(), loader, opts...)
}

func startSession(t *testing.T, o *orchestrator.Orchestrator, workflowID string) *domain.Session {
	t.Helper()
	sess, err := o.StartSession(context.Background(), workflowID, "test")
	require.NoError(t, err)
	return sess
}

func TestStartSession_UnknownWorkflow(t *testing.T) {
	o := newOrchestrator(t)
	_, err := o.StartSession(context.Background(), "nope", "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStartFirstStage(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	sess := startSession(t, o, "linear")

	stageID, err := o.StartFirstStage(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", stageID)

	again, err := o.StartFirstStage(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", again)

	instances, err := o.Instances(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, instances, 1, "the first stage instance is reused")
	assert.Equal(t, "Alpha", instances[0].Name)
	assert.Equal(t, domain.StagePending, instances[0].Status)

	loaded, err := o.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", loaded.CurrentStageID)
}

func TestStartFirstStage_NoStages(t *testing.T) {
	o := newOrchestrator(t)
	sess := startSession(t, o, "empty")

	_, err := o.StartFirstStage(context.Background(), sess.ID)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "stages", verr.Field)
}

func TestStartFirstStage_MalformedWorkflow(t *testing.T) {
	o := newOrchestrator(t)
	sess := startSession(t, o, "broken")

	_, err := o.StartFirstStage(context.Background(), sess.ID)
	assert.ErrorIs(t, err, domain.ErrMalformedDefinition)
}

func TestCreateStageInstance_Idempotent(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	sess := startSession(t, o, "linear")

	first, err := o.CreateStageInstance(ctx, sess.ID, domain.StageDefinition{ID: "B", Name: "Beta"})
	require.NoError(t, err)
	second, err := o.CreateStageInstance(ctx, sess.ID, domain.StageDefinition{ID: "B", Name: "Beta"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	loaded, err := o.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", loaded.CurrentStageID)
}

func TestCreateStageInstance_StageOutsideWorkflow(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	sess := startSession(t, o, "linear")

	_, err := o.CreateStageInstance(ctx, sess.ID, domain.StageDefinition{ID: "Z"})
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, []string{"A", "B", "C"}, verr.Expected)

	instances, err := o.Instances(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, instances, "nothing persists from a rejected unit")

	_, err = o.CreateStageInstance(ctx, sess.ID, domain.StageDefinition{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLinearScenario(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	sess := startSession(t, o, "linear")

	_, err := o.StartFirstStage(ctx, sess.ID)
	require.NoError(t, err)

	next, err := o.NextStages(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, ids(next))

	b, err := o.Advance(ctx, sess.ID, "B")
	require.NoError(t, err)
	_, err = o.StartStage(ctx, b.ID)
	require.NoError(t, err)
	_, err = o.CompleteStage(ctx, b.ID, nil)
	require.NoError(t, err)

	next, err = o.NextStages(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, ids(next))

	_, err = o.Advance(ctx, sess.ID, "C")
	require.NoError(t, err)

	next, err = o.NextStages(ctx, sess.ID, "")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Empty(t, next)
}

func TestAdvance_RejectsUnreachableStage(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	sess := startSession(t, o, "linear")
	_, err := o.StartFirstStage(ctx, sess.ID)
	require.NoError(t, err)

	_, err = o.Advance(ctx, sess.ID, "C")
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, []string{"B"}, verr.Expected)
}

func TestNextStages_WeightOrderingAndDanglingTargets(t *testing.T) {
	ctx := context.Background()

	plain := newOrchestrator(t)
	sess := startSession(t, plain, "weighted")
	next, err := plain.NextStages(ctx, sess.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B2", "B1"}, ids(next), "missing target is omitted")

	weighted := newOrchestrator(t, orchestrator.WithWeightOrdering())
	sess = startSession(t, weighted, "weighted")
	next, err = weighted.NextStages(ctx, sess.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B1", "B2"}, ids(next))
}

func TestNextStages_SourceFallbacks(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	sess := startSession(t, o, "linear")

	_, err := o.NextStages(ctx, sess.ID, "")
	assert.ErrorIs(t, err, domain.ErrValidation, "no current stage anywhere")

	_, err = o.UpdateSessionContext(ctx, sess.ID, domain.Values{orchestrator.ContextKeyCurrentStage: "B"})
	require.NoError(t, err)
	next, err := o.NextStages(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, ids(next), "legacy context key")

	_, err = o.NextStages(ctx, "missing", "A")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNextStages_MalformedWorkflowDegrades(t *testing.T) {
	o := newOrchestrator(t)
	sess := startSession(t, o, "broken")

	next, err := o.NextStages(context.Background(), sess.ID, "anything")
	require.NoError(t, err)
	assert.Empty(t, next)
}

func TestDependencyMode_NeverReoffersCompleted(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	sess := startSession(t, o, "deps")

	_, err := o.StartFirstStage(ctx, sess.ID)
	require.NoError(t, err)

	for _, stageID := range []string{"design", "build", "test"} {
		inst, err := o.EnterStage(ctx, sess.ID, stageID)
		require.NoError(t, err)
		_, err = o.CompleteStage(ctx, inst.ID, nil)
		require.NoError(t, err)

		next, err := o.NextStages(ctx, sess.ID, "")
		require.NoError(t, err)
		loaded, err := o.Session(ctx, sess.ID)
		require.NoError(t, err)
		for _, n := range next {
			assert.NotContains(t, loaded.CompletedStages, n.ID)
		}
	}

	next, err := o.NextStages(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"release"}, ids(next))
}

func TestCompleteStage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	sess := startSession(t, o, "linear")

	inst, err := o.EnterStage(ctx, sess.ID, "B")
	require.NoError(t, err)

	_, err = o.CompleteStage(ctx, inst.ID, domain.Values{"x": 1})
	require.NoError(t, err)

	loaded, err := o.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageCompleted, loaded.Status)
	assert.EqualValues(t, 1, loaded.Deliverables["x"])
	require.NotNil(t, loaded.CompletedAt)
	require.NotNil(t, loaded.StartedAt, "pending instances are started on completion")
}

func TestCompleteStage_NeverDuplicatesCompletedStages(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	sess := startSession(t, o, "linear")

	inst, err := o.EnterStage(ctx, sess.ID, "A")
	require.NoError(t, err)
	_, err = o.StartStage(ctx, inst.ID)
	require.NoError(t, err)
	_, err = o.FailStage(ctx, inst.ID, "flaky")
	require.NoError(t, err)

	retry, err := o.RetryStage(ctx, sess.ID, "A")
	require.NoError(t, err)
	assert.NotEqual(t, inst.ID, retry.ID)

	_, err = o.CompleteStage(ctx, retry.ID, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = o.CompleteStage(ctx, retry.ID, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	}

	loaded, err := o.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, loaded.CompletedStages)
}

func TestStageTransitions_Policy(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	sess := startSession(t, o, "linear")

	inst, err := o.EnterStage(ctx, sess.ID, "A")
	require.NoError(t, err)

	inst, err = o.StartStage(ctx, inst.ID)
	require.NoError(t, err)
	startedAt := *inst.StartedAt

	_, err = o.StartStage(ctx, inst.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "repeated start")

	inst, err = o.SkipStage(ctx, inst.ID, "not needed")
	require.NoError(t, err)
	assert.Equal(t, "not needed", inst.Context[orchestrator.ContextKeySkipReason])
	assert.True(t, startedAt.Equal(*inst.StartedAt))

	for _, op := range []func() error{
		func() error { _, err := o.StartStage(ctx, inst.ID); return err },
		func() error { _, err := o.CompleteStage(ctx, inst.ID, nil); return err },
		func() error { _, err := o.FailStage(ctx, inst.ID, ""); return err },
		func() error { _, err := o.SkipStage(ctx, inst.ID, ""); return err },
	} {
		assert.ErrorIs(t, op(), domain.ErrInvalidTransition)
	}
}

func TestFailStage_RecordsReason(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	sess := startSession(t, o, "linear")

	inst, err := o.EnterStage(ctx, sess.ID, "A")
	require.NoError(t, err)
	inst, err = o.FailStage(ctx, inst.ID, "compiler exploded")
	require.NoError(t, err)
	assert.Equal(t, domain.StageFailed, inst.Status)
	assert.Equal(t, "compiler exploded", inst.Context[orchestrator.ContextKeyError])
	assert.NotNil(t, inst.CompletedAt)
}

func TestRetryStage_RequiresFailedOrSkipped(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	sess := startSession(t, o, "linear")

	_, err := o.RetryStage(ctx, sess.ID, "A")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = o.EnterStage(ctx, sess.ID, "A")
	require.NoError(t, err)
	_, err = o.RetryStage(ctx, sess.ID, "A")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCompleteItem_Idempotent(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	sess := startSession(t, o, "linear")
	inst, err := o.EnterStage(ctx, sess.ID, "A")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.CompleteItem(ctx, inst.ID, "a1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	loaded, err := o.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, loaded.CompletedItems)

	_, err = o.CompleteItem(ctx, inst.ID, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestInactiveSessionRejectsMutations(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	sess := startSession(t, o, "linear")
	inst, err := o.EnterStage(ctx, sess.ID, "A")
	require.NoError(t, err)

	_, err = o.PauseSession(ctx, sess.ID)
	require.NoError(t, err)

	_, err = o.StartStage(ctx, inst.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = o.StartFirstStage(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = o.UpdateSessionContext(ctx, sess.ID, domain.Values{"k": "v"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = o.ResumeSession(ctx, sess.ID)
	require.NoError(t, err)
	_, err = o.StartStage(ctx, inst.ID)
	require.NoError(t, err)

	_, err = o.AbortSession(ctx, sess.ID)
	require.NoError(t, err)
	_, err = o.ResumeSession(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "terminal sessions stay terminal")
}

func TestAutoComplete(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t, orchestrator.WithAutoComplete())
	sess := startSession(t, o, "linear")

	b, err := o.EnterStage(ctx, sess.ID, "B")
	require.NoError(t, err)
	_, err = o.CompleteStage(ctx, b.ID, nil)
	require.NoError(t, err)

	loaded, err := o.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, loaded.Status)

	c, err := o.Advance(ctx, sess.ID, "C")
	require.NoError(t, err)
	_, err = o.CompleteStage(ctx, c.ID, nil)
	require.NoError(t, err)

	loaded, err = o.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, loaded.Status)
}

func TestCurrentInstanceAndDelete(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	sess := startSession(t, o, "linear")

	_, err := o.CurrentInstance(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)

	created, err := o.EnterStage(ctx, sess.ID, "A")
	require.NoError(t, err)
	current, err := o.CurrentInstance(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, current.ID)

	require.NoError(t, o.DeleteSession(ctx, sess.ID))
	_, err = o.Instance(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, o.DeleteSession(ctx, sess.ID), domain.ErrNotFound)
}

func TestFailedUnitsKeepConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	o := newOrchestrator(t)
	sess := startSession(t, o, "linear")
	_, err := o.StartFirstStage(ctx, sess.ID)
	require.NoError(t, err)
	inst, err := o.CurrentInstance(ctx, sess.ID)
	require.NoError(t, err)
	_, err = o.StartStage(ctx, inst.ID)
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_, err := o.StartStage(ctx, inst.ID)
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("StartStage on an active instance: %v", err)
				return
			}
		}
	}()

	created := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		s, err := o.StartSession(ctx, "linear", "concurrent")
		require.NoError(t, err)
		created = append(created, s.ID)
	}
	close(stop)
	wg.Wait()

	for _, id := range created {
		_, err := o.Session(ctx, id)
		assert.NoError(t, err)
	}
}

func ids(stages []domain.StageDefinition) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = s.ID
	}
	return out
}

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		ok       bool
	}{
		{SessionActive, SessionPaused, true},
		{SessionPaused, SessionActive, true},
		{SessionActive, SessionCompleted, true},
		{SessionPaused, SessionAborted, true},
		{SessionActive, SessionActive, false},
		{SessionCompleted, SessionActive, false},
		{SessionAborted, SessionCompleted, false},
		{SessionCompleted, SessionCompleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			s := &Session{ID: "s", Status: tt.from}
			err := s.TransitionTo(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, s.Status)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, s.Status)
			}
		})
	}
}

func TestSession_CompletedStagesNoDuplicates(t *testing.T) {
	s := NewSession("s1", "wf", "demo", time.Now())
	assert.True(t, s.AppendCompletedStage("a"))
	assert.False(t, s.AppendCompletedStage("a"))
	assert.True(t, s.AppendCompletedStage("b"))
	assert.Equal(t, []string{"a", "b"}, s.CompletedStages)
}

func TestSession_CloneIsolation(t *testing.T) {
	s := NewSession("s1", "wf", "demo", time.Now())
	s.MergeContext(Values{"k": "v"})
	c := s.Clone()
	c.Context["k"] = "changed"
	c.AppendCompletedStage("x")
	assert.Equal(t, "v", s.Context["k"])
	assert.Empty(t, s.CompletedStages)
}

func TestValues_MergeShallowLastWriterWins(t *testing.T) {
	base := Values{"a": 1, "nested": map[string]any{"x": 1}}
	merged := base.Merge(Values{"a": 2, "nested": map[string]any{"y": 2}})

	assert.Equal(t, 2, merged["a"])
	assert.Equal(t, map[string]any{"y": 2}, merged["nested"])
	assert.Equal(t, 1, base["a"], "merge must not mutate the receiver")

	again := merged.Merge(Values{"a": 2, "nested": map[string]any{"y": 2}})
	assert.Equal(t, merged, again)
}

func TestParseStatuses(t *testing.T) {
	st, err := ParseStageStatus("COMPLETED")
	require.NoError(t, err)
	assert.Equal(t, StageCompleted, st)

	ss, err := ParseSessionStatus(" Paused ")
	require.NoError(t, err)
	assert.Equal(t, SessionPaused, ss)

	_, err = ParseStageStatus("running")
	assert.ErrorIs(t, err, ErrValidation)
}

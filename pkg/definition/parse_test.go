package definition_test

import (
	"encoding/json"
	"testing"

	"github.com/aretw0/stageflow/pkg/definition"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stageIDs(g *definition.Graph) []string {
	ids := make([]string, len(g.Stages))
	for i, s := range g.Stages {
		ids[i] = s.ID
	}
	return ids
}

func TestParse_TypedSlices(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID: "wf",
		Stages: []domain.StageDefinition{
			{ID: "a"}, {ID: "b", Weight: domain.IntPtr(2)},
		},
		Transitions: []domain.TransitionDefinition{{FromStage: "a", ToStage: "b"}},
	}

	g, err := definition.Parse(def)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, stageIDs(g))
	require.Len(t, g.Transitions, 1)
	assert.Equal(t, "wf", g.Transitions[0].WorkflowID, "workflow id is filled in")

	b, ok := g.Stage("b")
	require.True(t, ok)
	assert.Equal(t, 2, *b.Weight)
}

func TestParse_JSONArrays(t *testing.T) {
	payload := `{
		"stages": [
			{"id": "plan", "checklist": ["scope", {"id": "estimate", "text": "Estimate"}], "weight": "3"},
			{"id": "build", "deliverables": ["binary", {"id": "notes", "required": true}], "depends_on": "plan"},
			{"id": "ship", "is_end": true, "prerequisites": {"approved": true}}
		],
		"transitions": [
			{"from_stage": "plan", "to_stage": "build"},
			{"from": "build", "to": "ship", "condition": {"tests": "green"}}
		]
	}`
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))

	g, err := definition.Parse(&domain.WorkflowDefinition{ID: "wf", Stages: raw["stages"], Transitions: raw["transitions"]})
	require.NoError(t, err)

	plan, _ := g.Stage("plan")
	assert.Equal(t, []string{"scope", "estimate"}, plan.Checklist)
	require.NotNil(t, plan.Weight)
	assert.Equal(t, 3, *plan.Weight)

	build, _ := g.Stage("build")
	assert.Equal(t, []string{"plan"}, build.DependsOn)
	require.Len(t, build.Deliverables, 2)
	assert.Equal(t, "binary", build.Deliverables[0].ID)
	assert.True(t, build.Deliverables[1].Required)

	ship, _ := g.Stage("ship")
	assert.True(t, ship.IsEnd)
	assert.Equal(t, true, ship.Prerequisites["approved"])

	require.Len(t, g.Transitions, 2)
	assert.Equal(t, "build", g.Transitions[1].FromStage)
	assert.Equal(t, "ship", g.Transitions[1].ToStage)
	assert.Equal(t, "green", g.Transitions[1].Condition["tests"])
}

func TestParse_LegacyMaps(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID: "legacy",
		Stages: map[string]any{
			"b": map[string]any{"name": "Second"},
			"a": map[string]any{"name": "First"},
		},
		Transitions: map[string]any{
			"a": "b",
			"b": []any{"c", map[string]any{"to_stage": "d", "condition": map[string]any{"x": 1}}},
		},
	}

	g, err := definition.Parse(def)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, stageIDs(g), "ids come from keys, sorted")

	require.Len(t, g.Transitions, 3)
	assert.Equal(t, domain.TransitionDefinition{WorkflowID: "legacy", FromStage: "a", ToStage: "b"}, g.Transitions[0])
	assert.Equal(t, "c", g.Transitions[1].ToStage)
	assert.Equal(t, "b", g.Transitions[2].FromStage)
	assert.Equal(t, "d", g.Transitions[2].ToStage)
}

func TestParse_CombinedBlob(t *testing.T) {
	blob := `{"stages":[{"id":"a"},{"id":"b"}],"transitions":[{"from_stage":"a","to_stage":"b"}]}`

	g, err := definition.Parse(&domain.WorkflowDefinition{ID: "blob", Stages: blob})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, stageIDs(g))
	assert.Len(t, g.TransitionsFrom("a"), 1)
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		def  *domain.WorkflowDefinition
		part string
	}{
		{"stages scalar", &domain.WorkflowDefinition{ID: "x", Stages: 42}, "stages"},
		{"stages bad json", &domain.WorkflowDefinition{ID: "x", Stages: "{not json"}, "stages"},
		{"transitions scalar", &domain.WorkflowDefinition{ID: "x", Transitions: true}, "transitions"},
		{"stage entry scalar", &domain.WorkflowDefinition{ID: "x", Stages: []any{"a"}}, "stages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := definition.Parse(tt.def)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrMalformedDefinition)

			var mde *domain.MalformedDefinitionError
			require.ErrorAs(t, err, &mde)
			assert.Equal(t, tt.part, mde.Part)
			assert.Equal(t, "x", mde.WorkflowID)
		})
	}
}

func TestGraph_FirstStageSkipsEntriesWithoutID(t *testing.T) {
	g := definition.NewGraph("wf", []domain.StageDefinition{{Name: "orphan"}, {ID: "real"}, {ID: "real", Name: "dup"}}, nil)

	first, ok := g.FirstStage()
	require.True(t, ok)
	assert.Equal(t, "real", first.ID)
	assert.Equal(t, []string{"real"}, g.StageIDs())

	s, _ := g.Stage("real")
	assert.Empty(t, s.Name, "first duplicate wins")

	_, ok = definition.NewGraph("empty", nil, nil).FirstStage()
	assert.False(t, ok)
}

package definition

import (
	"github.com/aretw0/stageflow/pkg/domain"
)

// Graph is the normalized form of a workflow definition: stages in authored
// order, transitions in authored order, and an id index over the stages.
type Graph struct {
	WorkflowID  string
	Stages      []domain.StageDefinition
	Transitions []domain.TransitionDefinition

	index map[string]int
}

// NewGraph builds a Graph from already typed lists.
// Stages without an id stay in Stages but are not indexed.
// When two stages share an id, the first one wins.
func NewGraph(workflowID string, stages []domain.StageDefinition, transitions []domain.TransitionDefinition) *Graph {
	g := &Graph{
		WorkflowID:  workflowID,
		Stages:      stages,
		Transitions: transitions,
		index:       make(map[string]int, len(stages)),
	}
	for i, s := range stages {
		if s.ID == "" {
			continue
		}
		if _, dup := g.index[s.ID]; !dup {
			g.index[s.ID] = i
		}
	}
	for i := range g.Transitions {
		if g.Transitions[i].WorkflowID == "" {
			g.Transitions[i].WorkflowID = workflowID
		}
	}
	return g
}

// Stage looks up a stage by id.
func (g *Graph) Stage(id string) (domain.StageDefinition, bool) {
	i, ok := g.index[id]
	if !ok {
		return domain.StageDefinition{}, false
	}
	return g.Stages[i], true
}

// HasStage reports whether id names a stage of the workflow.
func (g *Graph) HasStage(id string) bool {
	_, ok := g.index[id]
	return ok
}

// StageIDs returns the ids of well-formed stages in authored order.
func (g *Graph) StageIDs() []string {
	ids := make([]string, 0, len(g.index))
	for _, s := range g.Stages {
		if s.ID != "" && !domain.Contains(ids, s.ID) {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// FirstStage returns the first stage that has an id, in authored order.
func (g *Graph) FirstStage() (domain.StageDefinition, bool) {
	for _, s := range g.Stages {
		if s.ID != "" {
			return s, true
		}
	}
	return domain.StageDefinition{}, false
}

// TransitionsFrom returns the transitions leaving stageID in authored order.
func (g *Graph) TransitionsFrom(stageID string) []domain.TransitionDefinition {
	var out []domain.TransitionDefinition
	for _, t := range g.Transitions {
		if t.FromStage == stageID {
			out = append(out, t)
		}
	}
	return out
}

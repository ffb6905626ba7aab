package resolver

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/aretw0/stageflow/internal/logging"
	"github.com/aretw0/stageflow/pkg/definition"
	"github.com/aretw0/stageflow/pkg/domain"
)

// Strategy selects how candidate stages are found.
type Strategy int

const (
	// StrategyAuto uses the transition table when the workflow has
	// transitions and the dependency scan otherwise.
	StrategyAuto Strategy = iota
	// StrategyTransitions only follows transitions leaving the source stage.
	StrategyTransitions
	// StrategyDependencies offers every stage whose depends_on and
	// prerequisites are satisfied.
	StrategyDependencies
)

func (s Strategy) String() string {
	switch s {
	case StrategyTransitions:
		return "transitions"
	case StrategyDependencies:
		return "dependencies"
	}
	return "auto"
}

// ParseStrategy maps "auto", "transitions" and "dependencies" to a Strategy.
// An empty string is StrategyAuto.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return StrategyAuto, nil
	case "transitions":
		return StrategyTransitions, nil
	case "dependencies", "deps":
		return StrategyDependencies, nil
	}
	return StrategyAuto, &domain.ValidationError{
		Field:    "strategy",
		Value:    s,
		Expected: []string{"auto", "transitions", "dependencies"},
		Reason:   "unknown strategy",
	}
}

// Query describes where a session stands.
type Query struct {
	// From is the source stage id.
	From string
	// Context is the session context used for conditions and prerequisites.
	Context domain.Values
	// Completed is the session's completed_stages.
	Completed []string
	// OrderByWeight sorts the result by ascending weight (unweighted last).
	OrderByWeight bool
}

// Resolver computes the stages reachable from a source stage.
// It holds no state besides its configuration and is safe for concurrent use.
type Resolver struct {
	logger        *slog.Logger
	strategy      Strategy
	orderByWeight bool
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithLogger configures the logger used for definition diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithStrategy forces a strategy instead of StrategyAuto.
func WithStrategy(s Strategy) Option {
	return func(r *Resolver) {
		r.strategy = s
	}
}

// WithWeightOrdering sorts every result by weight.
func WithWeightOrdering() Option {
	return func(r *Resolver) {
		r.orderByWeight = true
	}
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next returns the stages reachable from q.From. A definition that fails to
// parse yields an empty list and a logged warning, never an error.
func (r *Resolver) Next(def *domain.WorkflowDefinition, q Query) []domain.StageDefinition {
	g, err := definition.Parse(def)
	if err != nil {
		r.logger.Warn("ignoring malformed workflow definition",
			"from_stage", q.From,
			"err", err,
		)
		return []domain.StageDefinition{}
	}
	return r.NextInGraph(g, q)
}

// NextInGraph is Next over an already normalized definition.
func (r *Resolver) NextInGraph(g *definition.Graph, q Query) []domain.StageDefinition {
	if src, ok := g.Stage(q.From); ok && src.IsEnd {
		return []domain.StageDefinition{}
	}

	var candidates []domain.StageDefinition
	switch r.strategyFor(g) {
	case StrategyTransitions:
		candidates = r.byTransitions(g, q)
	case StrategyDependencies:
		candidates = r.byDependencies(g, q)
	}

	out := dedupe(candidates)
	if q.OrderByWeight || r.orderByWeight {
		SortByWeight(out)
	}
	return out
}

func (r *Resolver) strategyFor(g *definition.Graph) Strategy {
	if r.strategy != StrategyAuto {
		return r.strategy
	}
	if len(g.Transitions) > 0 {
		return StrategyTransitions
	}
	return StrategyDependencies
}

func (r *Resolver) byTransitions(g *definition.Graph, q Query) []domain.StageDefinition {
	var out []domain.StageDefinition
	for _, t := range g.TransitionsFrom(q.From) {
		target, ok := g.Stage(t.ToStage)
		if !ok {
			r.logger.Warn("transition target is not a stage of the workflow",
				"workflow_id", g.WorkflowID,
				"transition_id", t.ID,
				"from_stage", t.FromStage,
				"to_stage", t.ToStage,
			)
			continue
		}
		if !Matches(t.Condition, q.Context) {
			continue
		}
		out = append(out, target)
	}
	return out
}

func (r *Resolver) byDependencies(g *definition.Graph, q Query) []domain.StageDefinition {
	done := make(map[string]bool, len(q.Completed)+1)
	for _, id := range q.Completed {
		done[id] = true
	}
	if q.From != "" {
		done[q.From] = true
	}

	var out []domain.StageDefinition
	for _, s := range g.Stages {
		if s.ID == "" || s.ID == q.From || domain.Contains(q.Completed, s.ID) {
			continue
		}
		if !dependenciesMet(s.DependsOn, done) {
			continue
		}
		if !Matches(s.Prerequisites, q.Context) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func dependenciesMet(deps []string, done map[string]bool) bool {
	for _, d := range deps {
		if !done[d] {
			return false
		}
	}
	return true
}

// dedupe keeps the first occurrence of every stage id.
func dedupe(stages []domain.StageDefinition) []domain.StageDefinition {
	seen := make(map[string]bool, len(stages))
	out := make([]domain.StageDefinition, 0, len(stages))
	for _, s := range stages {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	return out
}

// SortByWeight orders stages by ascending weight; unweighted stages go last.
// The sort is stable.
func SortByWeight(stages []domain.StageDefinition) {
	sort.SliceStable(stages, func(i, j int) bool {
		wi, wj := stages[i].Weight, stages[j].Weight
		switch {
		case wi == nil:
			return false
		case wj == nil:
			return true
		}
		return *wi < *wj
	})
}

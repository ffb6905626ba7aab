package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/stageflow/pkg/domain"
)

// Loader implements ports.WorkflowLoader using an in-memory map.
type Loader struct {
	mu   sync.RWMutex
	defs map[string]*domain.WorkflowDefinition
}

// NewLoader creates a Loader holding the given definitions.
// Later definitions replace earlier ones with the same id.
func NewLoader(defs ...*domain.WorkflowDefinition) *Loader {
	l := &Loader{defs: make(map[string]*domain.WorkflowDefinition, len(defs))}
	for _, def := range defs {
		l.Put(def)
	}
	return l
}

// Put registers or replaces a definition. Definitions without an id are ignored.
func (l *Loader) Put(def *domain.WorkflowDefinition) {
	if def == nil || def.ID == "" {
		return
	}
	cp := *def
	l.mu.Lock()
	l.defs[def.ID] = &cp
	l.mu.Unlock()
}

// GetWorkflow returns a copy of the definition. The stage and transition
// payloads are shared and must be treated as read-only.
func (l *Loader) GetWorkflow(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	def, ok := l.defs[id]
	if !ok {
		return nil, domain.WorkflowNotFound(id)
	}
	cp := *def
	return &cp, nil
}

// ListWorkflows returns all workflow ids.
func (l *Loader) ListWorkflows(ctx context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	keys := make([]string, 0, len(l.defs))
	for k := range l.defs {
		keys = append(keys, k)
	}
	sort.Strings(keys) // Deterministic order
	return keys, nil
}

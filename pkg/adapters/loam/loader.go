package loam

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/loam"
	"github.com/aretw0/stageflow/internal/logging"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/ports"
)

var _ ports.WorkflowLoader = (*Loader)(nil)

// Loader adapts a Loam repository to ports.WorkflowLoader. Every document
// of the repository is one workflow; its id comes from the metadata or,
// failing that, from the document path without extension.
type Loader struct {
	Repo   *loam.TypedRepository[WorkflowMetadata]
	logger *slog.Logger
}

// Option configures the Loader.
type Option func(*Loader)

// WithLogger sets the logger for the loader.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// New creates a new Loam adapter.
func New(repo *loam.TypedRepository[WorkflowMetadata], opts ...Option) *Loader {
	l := &Loader{Repo: repo, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open initializes a read-only Loam repository at path.
// Strict mode keeps numbers as json.Number across Markdown, JSON and YAML.
func Open(path string, opts ...Option) (*Loader, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(loam.NewTypedRepository[WorkflowMetadata](repo), opts...), nil
}

// GetWorkflow implements ports.WorkflowLoader.
func (l *Loader) GetWorkflow(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	defs, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	def, ok := defs[id]
	if !ok {
		return nil, domain.WorkflowNotFound(id)
	}
	return def, nil
}

// ListWorkflows implements ports.WorkflowLoader.
func (l *Loader) ListWorkflows(ctx context.Context) ([]string, error) {
	defs, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(defs))
	for id := range defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// load reads every document. When two documents claim the same id, the
// first one listed wins and the other is logged.
func (l *Loader) load(ctx context.Context) (map[string]*domain.WorkflowDefinition, error) {
	docs, err := l.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	defs := make(map[string]*domain.WorkflowDefinition, len(docs))
	seen := make(map[string]string, len(docs))
	for _, doc := range docs {
		rawID := doc.Data.ID
		if rawID == "" {
			rawID = doc.ID
		}
		id := trimExtension(rawID)

		if existing, ok := seen[id]; ok {
			l.logger.Warn("duplicate workflow id, keeping the first document",
				"workflow_id", id, "kept", existing, "ignored", doc.ID)
			continue
		}
		seen[id] = doc.ID

		description := doc.Data.Description
		if description == "" {
			description = strings.TrimSpace(doc.Content)
		}
		defs[id] = &domain.WorkflowDefinition{
			ID:          id,
			Name:        doc.Data.Name,
			Type:        doc.Data.Type,
			Description: description,
			Stages:      doc.Data.Stages,
			Transitions: doc.Data.Transitions,
		}
	}
	return defs, nil
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}

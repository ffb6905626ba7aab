package file

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/stageflow/internal/logging"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/ports"
	"gopkg.in/yaml.v3"
)

var _ ports.WorkflowLoader = (*Loader)(nil)

// Extensions lists the file types the loader reads. JSON is parsed as YAML.
var Extensions = []string{".yaml", ".yml", ".json"}

// Loader implements ports.WorkflowLoader over a directory of definition
// files, one workflow per file. When a file has no id, its base name
// (without extension) is used.
//
// The directory is scanned on first use and cached until Reload.
type Loader struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	defs   map[string]*domain.WorkflowDefinition
	loaded bool
}

// Option configures the Loader.
type Option func(*Loader)

// WithLogger sets the logger used to report skipped files.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string, opts ...Option) *Loader {
	l := &Loader{
		dir:    dir,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reload drops the cache; the next call rescans the directory.
func (l *Loader) Reload() {
	l.mu.Lock()
	l.loaded = false
	l.defs = nil
	l.mu.Unlock()
}

// GetWorkflow returns the definition with the given id.
func (l *Loader) GetWorkflow(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	defs, err := l.index()
	if err != nil {
		return nil, err
	}
	def, ok := defs[id]
	if !ok {
		return nil, domain.WorkflowNotFound(id)
	}
	cp := *def
	return &cp, nil
}

// ListWorkflows returns all workflow ids found in the directory.
func (l *Loader) ListWorkflows(ctx context.Context) ([]string, error) {
	defs, err := l.index()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(defs))
	for k := range defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *Loader) index() (map[string]*domain.WorkflowDefinition, error) {
	l.mu.RLock()
	if l.loaded {
		defs := l.defs
		l.mu.RUnlock()
		return defs, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.defs, nil
	}
	defs, err := l.scan()
	if err != nil {
		return nil, err
	}
	l.defs = defs
	l.loaded = true
	return defs, nil
}

// scan walks the directory in lexical order. Unreadable or invalid files are
// logged and skipped; the first file to claim an id wins.
func (l *Loader) scan() (map[string]*domain.WorkflowDefinition, error) {
	defs := make(map[string]*domain.WorkflowDefinition)
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !hasExtension(path) {
			return nil
		}

		def, err := readDefinition(path)
		if err != nil {
			l.logger.Warn("skipping workflow file", "path", path, "error", err)
			return nil
		}
		if prev, dup := defs[def.ID]; dup {
			l.logger.Warn("duplicate workflow id, keeping first", "id", def.ID, "path", path, "kept", prev.Name)
			return nil
		}
		defs[def.ID] = def
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan workflow directory %s: %w", l.dir, err)
	}
	return defs, nil
}

func readDefinition(path string) (*domain.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def domain.WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}
	if def.ID == "" {
		base := filepath.Base(path)
		def.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return &def, nil
}

func hasExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

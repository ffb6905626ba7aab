package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/ports"
)

// RedactedValue replaces the value of every matching key.
const RedactedValue = "***"

type redactedRepo struct {
	ports.Repository
	patterns []*regexp.Regexp
	wrap     Middleware
}

// NewRedactionMiddleware creates a middleware that masks values of keys
// matching the patterns before contexts and deliverables are written.
// Nested maps are walked; the caller's maps are never modified.
func NewRedactionMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	var wrap Middleware
	wrap = func(next ports.Repository) ports.Repository {
		return &redactedRepo{Repository: next, patterns: patterns, wrap: wrap}
	}
	return wrap
}

func (m *redactedRepo) Atomic(ctx context.Context, fn func(context.Context, ports.Repository) error) error {
	return ForwardAtomic(ctx, m.Repository, m.wrap, fn)
}

func (m *redactedRepo) MergeSessionContext(ctx context.Context, sessionID string, partial domain.Values) (*domain.Session, error) {
	return m.Repository.MergeSessionContext(ctx, sessionID, m.mask(partial))
}

func (m *redactedRepo) CreateInstance(ctx context.Context, sessionID, stageID, name string, values domain.Values) (*domain.StageInstance, error) {
	return m.Repository.CreateInstance(ctx, sessionID, stageID, name, m.mask(values))
}

func (m *redactedRepo) MergeInstanceContext(ctx context.Context, id string, partial domain.Values) (*domain.StageInstance, error) {
	return m.Repository.MergeInstanceContext(ctx, id, m.mask(partial))
}

func (m *redactedRepo) MergeDeliverables(ctx context.Context, id string, partial domain.Values) (*domain.StageInstance, error) {
	return m.Repository.MergeDeliverables(ctx, id, m.mask(partial))
}

func (m *redactedRepo) mask(v domain.Values) domain.Values {
	if v == nil {
		return nil
	}
	out := deepCopyMap(v)
	maskMap(out, m.patterns)
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch sub := v.(type) {
		case map[string]any:
			out[k] = deepCopyMap(sub)
		case domain.Values:
			out[k] = deepCopyMap(sub)
		default:
			out[k] = v
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		masked := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = RedactedValue
				masked = true
				break
			}
		}
		if masked {
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			maskMap(sub, patterns)
		}
	}
}

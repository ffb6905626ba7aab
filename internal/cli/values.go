package cli

import (
	"strings"

	"github.com/aretw0/stageflow/pkg/domain"
	"gopkg.in/yaml.v3"
)

// ParseValues turns key=value pairs into Values. Values are read as YAML
// scalars or flow collections, so 3 is an int, true a bool, [a, b] a list
// and anything unparseable a plain string.
func ParseValues(pairs []string) (domain.Values, error) {
	out := domain.Values{}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, &domain.ValidationError{
				Field:  "value",
				Value:  pair,
				Reason: "expected key=value",
			}
		}
		out[key] = parseScalar(raw)
	}
	return out, nil
}

func parseScalar(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return raw
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	switch v.(type) {
	case map[string]any:
		if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
			// "a: b" is a string, not a one-key mapping
			return raw
		}
	}
	return v
}


package definition

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// Parse normalizes the stage and transition payloads of def into a Graph.
//
// Accepted encodings for each list:
//   - typed slices ([]domain.StageDefinition, []domain.TransitionDefinition)
//   - []any of maps (as produced by encoding/json or yaml.v3)
//   - legacy maps keyed by stage id (stages) or by from_stage (transitions)
//   - a JSON string or []byte holding any of the above
//
// A stages payload that is a single blob {"stages": ..., "transitions": ...}
// is split when Transitions is empty. Failures are *domain.MalformedDefinitionError.
func Parse(def *domain.WorkflowDefinition) (*Graph, error) {
	if def == nil {
		return nil, &domain.MalformedDefinitionError{Part: "stages", Cause: fmt.Errorf("nil definition")}
	}

	rawStages, err := unblob(def.Stages)
	if err != nil {
		return nil, &domain.MalformedDefinitionError{WorkflowID: def.ID, Part: "stages", Cause: err}
	}
	rawTransitions, err := unblob(def.Transitions)
	if err != nil {
		return nil, &domain.MalformedDefinitionError{WorkflowID: def.ID, Part: "transitions", Cause: err}
	}

	if m, ok := rawStages.(map[string]any); ok && isCombinedBlob(m) {
		rawStages = m["stages"]
		if rawTransitions == nil {
			rawTransitions = m["transitions"]
		}
	}

	stages, err := decodeStages(rawStages)
	if err != nil {
		return nil, &domain.MalformedDefinitionError{WorkflowID: def.ID, Part: "stages", Cause: err}
	}
	transitions, err := decodeTransitions(rawTransitions)
	if err != nil {
		return nil, &domain.MalformedDefinitionError{WorkflowID: def.ID, Part: "transitions", Cause: err}
	}

	return NewGraph(def.ID, stages, transitions), nil
}

// unblob decodes JSON strings and bytes; other values pass through.
func unblob(raw any) (any, error) {
	var data []byte
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil, nil
		}
		data = []byte(v)
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		data = v
	case json.RawMessage:
		if len(v) == 0 {
			return nil, nil
		}
		data = v
	default:
		return raw, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode json blob: %w", err)
	}
	return out, nil
}

func isCombinedBlob(m map[string]any) bool {
	_, hasStages := m["stages"]
	if !hasStages {
		return false
	}
	// A legacy id-keyed map whose stage happens to be called "stages" holds a map.
	switch m["stages"].(type) {
	case []any, string:
		return true
	}
	_, hasTransitions := m["transitions"]
	return hasTransitions
}

func decodeStages(raw any) ([]domain.StageDefinition, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []domain.StageDefinition:
		return append([]domain.StageDefinition(nil), v...), nil
	case []*domain.StageDefinition:
		out := make([]domain.StageDefinition, 0, len(v))
		for _, s := range v {
			if s != nil {
				out = append(out, *s)
			}
		}
		return out, nil
	case []any:
		out := make([]domain.StageDefinition, 0, len(v))
		for i, item := range v {
			s, err := decodeStage(item)
			if err != nil {
				return nil, fmt.Errorf("stage #%d: %w", i, err)
			}
			out = append(out, s)
		}
		return out, nil
	case []map[string]any:
		out := make([]domain.StageDefinition, 0, len(v))
		for i, item := range v {
			s, err := decodeStage(item)
			if err != nil {
				return nil, fmt.Errorf("stage #%d: %w", i, err)
			}
			out = append(out, s)
		}
		return out, nil
	case map[string]any:
		// Legacy encoding: {"<stage id>": {...}}. Map order is lost, so ids are sorted.
		keys := sortedKeys(v)
		out := make([]domain.StageDefinition, 0, len(v))
		for _, id := range keys {
			s, err := decodeStage(v[id])
			if err != nil {
				return nil, fmt.Errorf("stage %q: %w", id, err)
			}
			if s.ID == "" {
				s.ID = id
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported stages encoding %T", raw)
}

func decodeStage(item any) (domain.StageDefinition, error) {
	switch v := item.(type) {
	case domain.StageDefinition:
		return v, nil
	case *domain.StageDefinition:
		if v == nil {
			return domain.StageDefinition{}, fmt.Errorf("nil stage")
		}
		return *v, nil
	case nil:
		return domain.StageDefinition{}, fmt.Errorf("nil stage")
	}
	var s domain.StageDefinition
	if err := decode(item, &s); err != nil {
		return domain.StageDefinition{}, err
	}
	return s, nil
}

// rawTransition accepts the key aliases found in older payloads.
type rawTransition struct {
	ID          string        `mapstructure:"id"`
	WorkflowID  string        `mapstructure:"workflow_id"`
	FromStage   string        `mapstructure:"from_stage"`
	From        string        `mapstructure:"from"`
	ToStage     string        `mapstructure:"to_stage"`
	To          string        `mapstructure:"to"`
	Name        string        `mapstructure:"name"`
	Description string        `mapstructure:"description"`
	Condition   domain.Values `mapstructure:"condition"`
}

func (r rawTransition) normalize() domain.TransitionDefinition {
	t := domain.TransitionDefinition{
		ID:          r.ID,
		WorkflowID:  r.WorkflowID,
		FromStage:   r.FromStage,
		ToStage:     r.ToStage,
		Name:        r.Name,
		Description: r.Description,
		Condition:   r.Condition,
	}
	if t.FromStage == "" {
		t.FromStage = r.From
	}
	if t.ToStage == "" {
		t.ToStage = r.To
	}
	return t
}

func decodeTransitions(raw any) ([]domain.TransitionDefinition, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []domain.TransitionDefinition:
		return append([]domain.TransitionDefinition(nil), v...), nil
	case []any:
		out := make([]domain.TransitionDefinition, 0, len(v))
		for i, item := range v {
			t, err := decodeTransition(item, "")
			if err != nil {
				return nil, fmt.Errorf("transition #%d: %w", i, err)
			}
			out = append(out, t)
		}
		return out, nil
	case []map[string]any:
		out := make([]domain.TransitionDefinition, 0, len(v))
		for i, item := range v {
			t, err := decodeTransition(item, "")
			if err != nil {
				return nil, fmt.Errorf("transition #%d: %w", i, err)
			}
			out = append(out, t)
		}
		return out, nil
	case map[string]any:
		// Legacy encoding: {"<from>": "<to>" | ["<to>", {...}] | {...}}.
		var out []domain.TransitionDefinition
		for _, from := range sortedKeys(v) {
			targets, ok := v[from].([]any)
			if !ok {
				targets = []any{v[from]}
			}
			for i, item := range targets {
				t, err := decodeTransition(item, from)
				if err != nil {
					return nil, fmt.Errorf("transitions from %q #%d: %w", from, i, err)
				}
				out = append(out, t)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported transitions encoding %T", raw)
}

func decodeTransition(item any, from string) (domain.TransitionDefinition, error) {
	var t domain.TransitionDefinition
	switch v := item.(type) {
	case domain.TransitionDefinition:
		t = v
	case string:
		t = domain.TransitionDefinition{ToStage: v}
	case nil:
		return t, fmt.Errorf("nil transition")
	default:
		var raw rawTransition
		if err := decode(item, &raw); err != nil {
			return t, err
		}
		t = raw.normalize()
	}
	if t.FromStage == "" {
		t.FromStage = from
	}
	return t, nil
}

func decode(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(itemHook),
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

var deliverableType = reflect.TypeOf(domain.DeliverableDefinition{})

// itemHook lets checklist entries be objects ({"id": ..} or {"text": ..})
// and deliverables be bare strings.
func itemHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to == deliverableType && from.Kind() == reflect.String {
		return map[string]any{"id": data}, nil
	}
	if to.Kind() == reflect.String && from.Kind() == reflect.Map {
		m := reflect.ValueOf(data)
		for _, key := range []string{"id", "name", "text"} {
			v := m.MapIndex(reflect.ValueOf(key))
			if !v.IsValid() {
				continue
			}
			if s, ok := v.Interface().(string); ok && s != "" {
				return s, nil
			}
		}
		return nil, fmt.Errorf("cannot use %v as a string", data)
	}
	return data, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

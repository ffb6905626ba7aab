package domain

// WorkflowDefinition is the read-only description of a workflow.
//
// Stages and Transitions are kept as loosely typed payloads because source
// definitions encode them either as arrays, as legacy id-keyed maps, or as one
// opaque JSON blob. Use package definition to normalize them.
type WorkflowDefinition struct {
	ID          string `json:"id" yaml:"id" mapstructure:"id"`
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty" mapstructure:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`

	// Stages is usually a []StageDefinition or a []any of maps.
	Stages any `json:"stages,omitempty" yaml:"stages,omitempty" mapstructure:"stages"`

	// Transitions is usually a []TransitionDefinition or a []any of maps.
	Transitions any `json:"transitions,omitempty" yaml:"transitions,omitempty" mapstructure:"transitions"`
}

// StageDefinition is a named step of a workflow.
type StageDefinition struct {
	ID           string                  `json:"id" yaml:"id" mapstructure:"id"`
	Name         string                  `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	Description  string                  `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Checklist    []string                `json:"checklist,omitempty" yaml:"checklist,omitempty" mapstructure:"checklist"`
	Deliverables []DeliverableDefinition `json:"deliverables,omitempty" yaml:"deliverables,omitempty" mapstructure:"deliverables"`

	// Weight orders candidates when weight ordering is requested.
	// Nil sorts after every weighted stage.
	Weight *int `json:"weight,omitempty" yaml:"weight,omitempty" mapstructure:"weight"`

	// EstimatedTime is opaque to the engine (e.g. "2h", "3 days").
	EstimatedTime string `json:"estimated_time,omitempty" yaml:"estimated_time,omitempty" mapstructure:"estimated_time"`

	// IsEnd marks a sink stage: nothing follows it.
	IsEnd bool `json:"is_end,omitempty" yaml:"is_end,omitempty" mapstructure:"is_end"`

	// DependsOn lists stage ids that must be completed before this stage is offered.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty" mapstructure:"depends_on"`

	// Prerequisites are context key/value pairs that must match exactly.
	Prerequisites Values `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty" mapstructure:"prerequisites"`
}

// DisplayName returns Name, or ID when no name was authored.
func (s StageDefinition) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// DeliverableDefinition describes an artifact a stage is expected to produce.
type DeliverableDefinition struct {
	ID          string `json:"id" yaml:"id" mapstructure:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty" mapstructure:"required"`
}

// TransitionDefinition is a directed edge between two stage ids.
type TransitionDefinition struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty" mapstructure:"id"`
	WorkflowID  string `json:"workflow_id,omitempty" yaml:"workflow_id,omitempty" mapstructure:"workflow_id"`
	FromStage   string `json:"from_stage" yaml:"from_stage" mapstructure:"from_stage"`
	ToStage     string `json:"to_stage" yaml:"to_stage" mapstructure:"to_stage"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`

	// Condition is matched against the session context with exact equality
	// on every entry. Nil means the transition is always eligible.
	Condition Values `json:"condition,omitempty" yaml:"condition,omitempty" mapstructure:"condition"`
}

// IntPtr is a helper for building weighted stage definitions.
func IntPtr(v int) *int { return &v }

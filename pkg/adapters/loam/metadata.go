package loam

// WorkflowMetadata is the header of a workflow document: the frontmatter of
// a Markdown file, or the body of a JSON/YAML file. The Markdown body, when
// present, serves as the description.
type WorkflowMetadata struct {
	ID          string `json:"id" mapstructure:"id"`
	Name        string `json:"name" mapstructure:"name"`
	Type        string `json:"type" mapstructure:"type"`
	Description string `json:"description" mapstructure:"description"`

	// Stages and Transitions stay loosely typed; package definition
	// normalizes them.
	Stages      any `json:"stages" mapstructure:"stages"`
	Transitions any `json:"transitions" mapstructure:"transitions"`
}

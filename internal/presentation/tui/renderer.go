package tui

import (
	"fmt"
	"strings"

	"github.com/aretw0/stageflow/pkg/definition"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders markdown using glamour.
// It picks a light or dark style from the terminal background.
func NewRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}
	return r.Render
}

// WorkflowMarkdown describes a workflow as a markdown document: a stage
// table followed by each stage's checklist and outgoing transitions.
func WorkflowMarkdown(def *domain.WorkflowDefinition, g *definition.Graph) string {
	var sb strings.Builder

	title := def.Name
	if title == "" {
		title = def.ID
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	if def.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", def.Description)
	}
	fmt.Fprintf(&sb, "`%s`", def.ID)
	if def.Type != "" {
		fmt.Fprintf(&sb, " (%s)", def.Type)
	}
	sb.WriteString("\n\n")

	sb.WriteString("| Stage | Name | Weight | Estimate | End |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, s := range g.Stages {
		if s.ID == "" {
			continue
		}
		weight := ""
		if s.Weight != nil {
			weight = fmt.Sprint(*s.Weight)
		}
		end := ""
		if s.IsEnd {
			end = "yes"
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n", s.ID, s.DisplayName(), weight, s.EstimatedTime, end)
	}

	for _, s := range g.Stages {
		if s.ID == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n## %s\n\n", s.DisplayName())
		if s.Description != "" {
			fmt.Fprintf(&sb, "%s\n\n", s.Description)
		}
		if len(s.DependsOn) > 0 {
			fmt.Fprintf(&sb, "Depends on: %s\n\n", strings.Join(s.DependsOn, ", "))
		}
		for _, item := range s.Checklist {
			fmt.Fprintf(&sb, "- [ ] %s\n", item)
		}
		for _, d := range s.Deliverables {
			req := ""
			if d.Required {
				req = " (required)"
			}
			fmt.Fprintf(&sb, "- deliverable `%s`%s\n", d.ID, req)
		}
		for _, t := range g.TransitionsFrom(s.ID) {
			fmt.Fprintf(&sb, "- next: **%s**", t.ToStage)
			if len(t.Condition) > 0 {
				fmt.Fprintf(&sb, " when %v", map[string]any(t.Condition))
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

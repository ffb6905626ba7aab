package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/stageflow/pkg/definition"
	"github.com/aretw0/stageflow/pkg/domain"
)

// Overlay contains session state to visualize on the graph.
type Overlay struct {
	CompletedStages []string
	CurrentStage    string
}

// GenerateMermaid produces a Mermaid flowchart from a workflow graph.
// It applies semantic styling:
// - First stage: ((Circle))
// - End stage: ([Stadium])
// - Default: [Rectangle]
// Transitions are solid arrows labelled with their condition; depends_on
// edges are dotted. Overlay styles (completed/current) apply when given.
func GenerateMermaid(g *definition.Graph, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	first, _ := g.FirstStage()
	for _, stage := range g.Stages {
		if stage.ID == "" {
			continue
		}
		safeID := sanitizeMermaidID(stage.ID)

		opener, closer := "[", "]"
		switch {
		case stage.IsEnd:
			opener, closer = "([", "])"
		case stage.ID == first.ID:
			opener, closer = "((", "))"
		}

		label := stage.DisplayName()
		if len(stage.Checklist) > 0 {
			label = fmt.Sprintf("%s <br/> %d items", label, len(stage.Checklist))
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, escape(label), closer)

		for _, dep := range stage.DependsOn {
			fmt.Fprintf(&sb, "    %s -.-> %s\n", sanitizeMermaidID(dep), safeID)
		}
	}

	for _, t := range g.Transitions {
		arrow := "-->"
		if len(t.Condition) > 0 {
			arrow = fmt.Sprintf("-- \"%s\" -->", escape(conditionLabel(t.Condition)))
		}
		fmt.Fprintf(&sb, "    %s %s %s\n", sanitizeMermaidID(t.FromStage), arrow, sanitizeMermaidID(t.ToStage))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high contrast regardless of theme.
		sb.WriteString("    classDef completed fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, id := range overlay.CompletedStages {
			safeID := sanitizeMermaidID(id)
			if !seen[safeID] && safeID != "" && g.HasStage(id) {
				seen[safeID] = true
				fmt.Fprintf(&sb, "    class %s completed;\n", safeID)
			}
		}
		if overlay.CurrentStage != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentStage))
		}
	}

	return sb.String()
}

func conditionLabel(cond domain.Values) string {
	keys := make([]string, 0, len(cond))
	for k := range cond {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, cond[k])
	}
	return strings.Join(parts, ", ")
}

// escape replaces double quotes, which end Mermaid labels.
func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

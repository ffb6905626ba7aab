package tui

import (
	"bytes"
	"testing"

	"github.com/aretw0/stageflow/pkg/definition"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
)

func TestStatus_AsciiIsPlain(t *testing.T) {
	assert.Equal(t, "completed", Status(termenv.Ascii, "completed"))
	assert.Equal(t, "weird", Status(termenv.TrueColor, "weird"))
	assert.Contains(t, Status(termenv.TrueColor, "failed"), "failed")
	assert.NotEqual(t, "failed", Status(termenv.TrueColor, "failed"))
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "#####.....", ProgressBar(termenv.Ascii, 50, 10))
	assert.Equal(t, "##########", ProgressBar(termenv.Ascii, 150, 10))
	assert.Equal(t, "....................", ProgressBar(termenv.Ascii, 0, 0))
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, termenv.Ascii, "1.2.3")
	assert.Contains(t, buf.String(), "version 1.2.3")
}

func TestWorkflowMarkdown(t *testing.T) {
	def := &domain.WorkflowDefinition{ID: "wf", Name: "Release", Description: "Ship it."}
	g := definition.NewGraph("wf", []domain.StageDefinition{
		{ID: "build", Checklist: []string{"compile"}, Weight: domain.IntPtr(2)},
		{ID: "ship", IsEnd: true, DependsOn: []string{"build"}, Deliverables: []domain.DeliverableDefinition{{ID: "tag", Required: true}}},
	}, []domain.TransitionDefinition{{FromStage: "build", ToStage: "ship"}})

	md := WorkflowMarkdown(def, g)
	assert.Contains(t, md, "# Release")
	assert.Contains(t, md, "Ship it.")
	assert.Contains(t, md, "| build | build | 2 |  |  |")
	assert.Contains(t, md, "- [ ] compile")
	assert.Contains(t, md, "- next: **ship**")
	assert.Contains(t, md, "Depends on: build")
	assert.Contains(t, md, "- deliverable `tag` (required)")
}

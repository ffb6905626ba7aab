package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/stageflow/pkg/adapters/file"
	"github.com/aretw0/stageflow/pkg/definition"
	contract "github.com/aretw0/stageflow/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const releaseYAML = `
id: release
name: Release
type: delivery
stages:
  - id: plan
    name: Plan
    checklist: [scope, owners]
  - id: ship
    name: Ship
    weight: 2
    is_end: true
transitions:
  - from_stage: plan
    to_stage: ship
    condition:
      approved: true
`

const onboardingJSON = `{
  "name": "Onboarding",
  "stages": [{"id": "welcome"}, {"id": "setup", "depends_on": ["welcome"]}]
}`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func fixtureDir(t *testing.T) string {
	dir := t.TempDir()
	writeFile(t, dir, "release.yaml", releaseYAML)
	writeFile(t, dir, "nested/onboarding.json", onboardingJSON)
	writeFile(t, dir, "README.md", "# not a workflow")
	writeFile(t, dir, "broken.yml", "stages: [unterminated")
	return dir
}

func TestFileLoader_Contract(t *testing.T) {
	loader := file.NewLoader(fixtureDir(t))
	contract.WorkflowLoaderContractTest(t, loader, map[string]string{
		"release":    "Release",
		"onboarding": "Onboarding",
	})
}

func TestFileLoader_DefinitionsParse(t *testing.T) {
	loader := file.NewLoader(fixtureDir(t))
	ctx := context.Background()

	def, err := loader.GetWorkflow(ctx, "release")
	require.NoError(t, err)

	g, err := definition.Parse(def)
	require.NoError(t, err)
	assert.Equal(t, []string{"plan", "ship"}, g.StageIDs())

	plan, ok := g.Stage("plan")
	require.True(t, ok)
	assert.Equal(t, []string{"scope", "owners"}, plan.Checklist)

	ship, ok := g.Stage("ship")
	require.True(t, ok)
	require.NotNil(t, ship.Weight)
	assert.Equal(t, 2, *ship.Weight)
	assert.True(t, ship.IsEnd)

	edges := g.TransitionsFrom("plan")
	require.Len(t, edges, 1)
	assert.Equal(t, true, edges[0].Condition["approved"])
}

func TestFileLoader_SkipsInvalidFiles(t *testing.T) {
	loader := file.NewLoader(fixtureDir(t))
	ids, err := loader.ListWorkflows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"onboarding", "release"}, ids)
}

func TestFileLoader_Reload(t *testing.T) {
	dir := fixtureDir(t)
	loader := file.NewLoader(dir)
	ctx := context.Background()

	_, err := loader.GetWorkflow(ctx, "late")
	require.Error(t, err)

	writeFile(t, dir, "late.yaml", "name: Late\nstages: [{id: only}]\n")
	_, err = loader.GetWorkflow(ctx, "late")
	require.Error(t, err, "cached until reload")

	loader.Reload()
	def, err := loader.GetWorkflow(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, "Late", def.Name)
}

func TestFileLoader_MissingDirectory(t *testing.T) {
	loader := file.NewLoader(filepath.Join(t.TempDir(), "nope"))
	_, err := loader.ListWorkflows(context.Background())
	assert.Error(t, err)
}

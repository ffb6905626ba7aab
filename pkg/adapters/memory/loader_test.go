package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/stageflow/pkg/adapters/memory"
	"github.com/aretw0/stageflow/pkg/domain"
	contract "github.com/aretw0/stageflow/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLoader_Contract(t *testing.T) {
	loader := memory.NewLoader(
		&domain.WorkflowDefinition{ID: "onboarding", Name: "Onboarding"},
		&domain.WorkflowDefinition{ID: "release", Name: "Release"},
		&domain.WorkflowDefinition{Name: "no id, ignored"},
	)

	contract.WorkflowLoaderContractTest(t, loader, map[string]string{
		"onboarding": "Onboarding",
		"release":    "Release",
	})
}

func TestInMemoryLoader_ReturnsCopies(t *testing.T) {
	loader := memory.NewLoader(&domain.WorkflowDefinition{ID: "wf", Name: "Original"})

	def, err := loader.GetWorkflow(context.Background(), "wf")
	require.NoError(t, err)
	def.Name = "Mutated"

	again, err := loader.GetWorkflow(context.Background(), "wf")
	require.NoError(t, err)
	assert.Equal(t, "Original", again.Name)
}

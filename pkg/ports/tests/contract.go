package tests

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/ports"
)

// WorkflowLoaderContractTest is a reusable test suite that verifies if an
// adapter complies with ports.WorkflowLoader. want maps workflow ids to the
// names the loader is expected to return.
func WorkflowLoaderContractTest(t *testing.T, loader ports.WorkflowLoader, want map[string]string) {
	t.Helper()
	ctx := context.Background()

	// 1. GetWorkflow (Success)
	t.Run("GetWorkflow_Success", func(t *testing.T) {
		for id, name := range want {
			def, err := loader.GetWorkflow(ctx, id)
			if err != nil {
				t.Fatalf("unexpected error getting workflow %s: %v", id, err)
			}
			if def.ID != id {
				t.Errorf("id mismatch: got %q, want %q", def.ID, id)
			}
			if def.Name != name {
				t.Errorf("name mismatch for %s: got %q, want %q", id, def.Name, name)
			}
		}
	})

	// 2. GetWorkflow (NotFound)
	t.Run("GetWorkflow_NotFound", func(t *testing.T) {
		_, err := loader.GetWorkflow(ctx, "non-existent-workflow")
		if err == nil {
			t.Fatal("expected error for non-existent workflow, got nil")
		}
		var nf *domain.NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("expected *domain.NotFoundError, got %T: %v", err, err)
		}
	})

	// 3. ListWorkflows
	t.Run("ListWorkflows", func(t *testing.T) {
		ids, err := loader.ListWorkflows(ctx)
		if err != nil {
			t.Fatalf("unexpected error listing workflows: %v", err)
		}
		if !sort.StringsAreSorted(ids) {
			t.Errorf("expected sorted ids, got %v", ids)
		}
		for id := range want {
			if !contains(ids, id) {
				t.Errorf("expected %q in %v", id, ids)
			}
		}
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

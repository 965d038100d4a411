package workflow

import (
	"fmt"

	"github.com/luminetic/ensemble/types"
)

// Validate checks the structural invariants of a workflow: non-empty unique
// step IDs, dependencies referencing known steps, and an acyclic graph. The
// returned error carries the validation or cyclic-dependency code from the
// types package.
func Validate(wf *Workflow) error {
	if wf == nil {
		return types.NewValidationError("workflow is nil")
	}

	idx := make(map[string]int, len(wf.Steps))
	for i := range wf.Steps {
		id := wf.Steps[i].ID
		if id == "" {
			return types.NewValidationError(fmt.Sprintf("step at position %d has an empty ID", i))
		}
		if _, dup := idx[id]; dup {
			return types.NewValidationError(fmt.Sprintf("duplicate step ID %q", id))
		}
		idx[id] = i
	}

	for i := range wf.Steps {
		s := &wf.Steps[i]
		for _, dep := range s.DependsOn {
			if _, ok := idx[dep]; !ok {
				return types.NewValidationError(fmt.Sprintf("step %q depends on unknown step %q", s.ID, dep))
			}
		}
	}

	// Cycle detection: depth-first with a visiting set for the current
	// path and a visited set for finished subtrees. A dependency found in
	// visiting closes a cycle through that step.
	visiting := make(map[string]bool, len(wf.Steps))
	visited := make(map[string]bool, len(wf.Steps))

	var visit func(id string) error
	visit = func(id string) error {
		if visited[id] {
			return nil
		}
		if visiting[id] {
			return types.NewCyclicDependencyError(id)
		}
		visiting[id] = true
		for _, dep := range wf.Steps[idx[id]].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(visiting, id)
		visited[id] = true
		return nil
	}

	for i := range wf.Steps {
		if err := visit(wf.Steps[i].ID); err != nil {
			return err
		}
	}
	return nil
}

package workflow

// Schedule returns the steps in topological order: every step appears after
// all of its dependencies. Ties between independent steps break in
// declaration order, so the result is deterministic for a given workflow.
// The workflow must be valid.
func Schedule(wf *Workflow) ([]*Step, error) {
	if err := Validate(wf); err != nil {
		return nil, err
	}

	idx := wf.stepIndex()
	order := make([]*Step, 0, len(wf.Steps))
	visited := make(map[string]bool, len(wf.Steps))

	// Post-order DFS seeded in declaration order: a step is emitted after
	// its dependency subtree, which places sources first and keeps
	// unconstrained steps in the order they were declared.
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		s := &wf.Steps[idx[id]]
		for _, dep := range s.DependsOn {
			visit(dep)
		}
		order = append(order, s)
	}

	for i := range wf.Steps {
		visit(wf.Steps[i].ID)
	}
	return order, nil
}

// Waves groups the schedule into dependency levels: a step's wave is one
// past the deepest wave among its dependencies, sources sit in wave zero.
// Steps within a wave are mutually independent and may run concurrently.
func Waves(wf *Workflow) ([][]*Step, error) {
	order, err := Schedule(wf)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, nil
	}

	level := make(map[string]int, len(order))
	maxLevel := 0
	for _, s := range order {
		l := 0
		for _, dep := range s.DependsOn {
			if dl := level[dep] + 1; dl > l {
				l = dl
			}
		}
		level[s.ID] = l
		if l > maxLevel {
			maxLevel = l
		}
	}

	waves := make([][]*Step, maxLevel+1)
	for _, s := range order {
		l := level[s.ID]
		waves[l] = append(waves[l], s)
	}
	return waves, nil
}

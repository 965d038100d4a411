package workflow

import "time"

// Optimize returns an id-preserving copy of the workflow whose steps carry
// execution hints: the wave each step lands in and whether it shares that
// wave with other steps. The input is never modified; the copy's
// ModifiedAt is bumped.
func Optimize(wf *Workflow) (*Workflow, error) {
	waves, err := Waves(wf)
	if err != nil {
		return nil, err
	}

	hints := make(map[string]ExecutionHint, len(wf.Steps))
	for i, wave := range waves {
		for _, s := range wave {
			hints[s.ID] = ExecutionHint{Wave: i, Concurrent: len(wave) > 1}
		}
	}

	out := &Workflow{
		ID:         wf.ID,
		Name:       wf.Name,
		Steps:      make([]Step, len(wf.Steps)),
		CreatedAt:  wf.CreatedAt,
		ModifiedAt: time.Now(),
	}
	for i := range wf.Steps {
		s := wf.Steps[i].clone()
		s.Hint = hints[s.ID]
		out.Steps[i] = s
	}
	return out, nil
}

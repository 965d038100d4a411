package strategy

import (
	"context"

	"github.com/luminetic/ensemble/types"
)

// sequentialCoordinator runs units in declared order and folds each
// successful text under "previous_<domain>" so later units can build on
// it. Failed units fold nothing; their error text would only pollute the
// prompts downstream.
type sequentialCoordinator struct {
	r *runner
}

func (c *sequentialCoordinator) Name() Kind { return KindSequential }

func (c *sequentialCoordinator) Run(ctx context.Context, in *Input) ([]types.Contribution, error) {
	units, vars, err := c.r.prepare(in)
	if err != nil {
		return nil, err
	}

	out := make([]types.Contribution, 0, len(units))
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		contrib := c.r.runUnit(ctx, in.Task, u, vars)
		out = append(out, contrib)
		if !contrib.Failed() {
			vars["previous_"+u.domain] = types.String(contrib.Text)
		}
	}
	return out, nil
}

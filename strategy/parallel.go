package strategy

import (
	"context"

	"github.com/luminetic/ensemble/types"
)

// parallelCoordinator fans every unit out through the pool at once. No
// context folds between units, so collection order carries no meaning.
type parallelCoordinator struct {
	r *runner
}

func (c *parallelCoordinator) Name() Kind { return KindParallel }

func (c *parallelCoordinator) Run(ctx context.Context, in *Input) ([]types.Contribution, error) {
	units, vars, err := c.r.prepare(in)
	if err != nil {
		return nil, err
	}
	return c.r.fanOut(ctx, in.Task, units, vars)
}

package strategy

import (
	"context"

	"github.com/luminetic/ensemble/types"
)

// hierarchicalCoordinator runs the foundation domain first, folds its first
// successful text under "foundation", then fans the remaining units out in
// parallel against the augmented context.
type hierarchicalCoordinator struct {
	r *runner
}

func (c *hierarchicalCoordinator) Name() Kind { return KindHierarchical }

func (c *hierarchicalCoordinator) Run(ctx context.Context, in *Input) ([]types.Contribution, error) {
	units, vars, err := c.r.prepare(in)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, ctx.Err()
	}

	foundation := in.FoundationDomain
	if foundation == "" {
		foundation = in.Domains[0].Domain
	}
	var base, rest []unit
	for _, u := range units {
		if u.domain == foundation {
			base = append(base, u)
		} else {
			rest = append(rest, u)
		}
	}

	out := make([]types.Contribution, 0, len(units))
	folded := false
	for _, u := range base {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		contrib := c.r.runUnit(ctx, in.Task, u, vars)
		out = append(out, contrib)
		if !folded && !contrib.Failed() {
			vars["foundation"] = types.String(contrib.Text)
			folded = true
		}
	}

	// vars is frozen from here on; the fan-out only reads it.
	restOut, err := c.r.fanOut(ctx, in.Task, rest, vars)
	out = append(out, restOut...)
	return out, err
}

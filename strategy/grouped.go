package strategy

import (
	"context"
	"sync"

	"github.com/luminetic/ensemble/types"
)

const (
	tierMaximum = iota
	tierHigh
	tierStandard
	tierCount
)

// groupedCoordinator partitions units into affinity tiers. Tiers run
// concurrently as one pool task each, members inside a tier sequentially,
// and maximum-tier contributions carry the amplification weight. Output
// order is deterministic: maximum, high, standard, declared order within.
type groupedCoordinator struct {
	r *runner
}

func (c *groupedCoordinator) Name() Kind { return KindGrouped }

func (c *groupedCoordinator) Run(ctx context.Context, in *Input) ([]types.Contribution, error) {
	units, vars, err := c.r.prepare(in)
	if err != nil {
		return nil, err
	}

	tiers := partition(units, c.r.cfg.AffinityMaximum, c.r.cfg.AffinityHigh)
	results := make([][]types.Contribution, tierCount)

	var wg sync.WaitGroup
	jobCtx := context.WithoutCancel(ctx)
	for i, tier := range tiers {
		if len(tier) == 0 {
			continue
		}
		i, tier := i, tier
		wg.Add(1)
		run := func(context.Context) error {
			defer wg.Done()
			if ctx.Err() != nil {
				return nil
			}
			out := make([]types.Contribution, 0, len(tier))
			for _, u := range tier {
				if ctx.Err() != nil {
					break
				}
				out = append(out, c.weight(i, c.r.runUnit(ctx, in.Task, u, vars)))
			}
			results[i] = out
			return nil
		}
		if err := c.r.pool.Submit(jobCtx, run); err != nil {
			wg.Done()
			out := make([]types.Contribution, 0, len(tier))
			for _, u := range tier {
				out = append(out, c.weight(i, c.r.failed(u, 0, err)))
			}
			results[i] = out
		}
	}
	wg.Wait()

	var out []types.Contribution
	for _, tier := range results {
		out = append(out, tier...)
	}
	return out, ctx.Err()
}

func (c *groupedCoordinator) weight(tier int, contrib types.Contribution) types.Contribution {
	if tier == tierMaximum {
		contrib.StrategyWeight = c.r.cfg.AmplificationWeight
	}
	return contrib
}

// partition buckets units by target affinity against the configured
// cutoffs, preserving declared order within each tier.
func partition(units []unit, maximum, high float64) [tierCount][]unit {
	var tiers [tierCount][]unit
	for _, u := range units {
		switch {
		case u.target.Affinity >= maximum:
			tiers[tierMaximum] = append(tiers[tierMaximum], u)
		case u.target.Affinity >= high:
			tiers[tierHigh] = append(tiers[tierHigh], u)
		default:
			tiers[tierStandard] = append(tiers[tierStandard], u)
		}
	}
	return tiers
}

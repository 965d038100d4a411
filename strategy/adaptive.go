package strategy

import (
	"context"

	"go.uber.org/zap"

	"github.com/luminetic/ensemble/types"
)

// Classify picks a concrete strategy from three coarse complexity signals:
// task length in bytes, context entry count and domain count. Small inputs
// fan out flat, medium ones gain a foundation pass, anything larger falls
// to affinity grouping. Pure function of the input.
func Classify(in *Input) Kind {
	if in == nil {
		return KindParallel
	}
	taskLen := len(in.Task)
	ctxLen := len(in.Context)
	domains := len(in.Domains)
	switch {
	case taskLen < 100 && ctxLen < 5 && domains <= 2:
		return KindParallel
	case taskLen < 500 && ctxLen < 20 && domains <= 5:
		return KindHierarchical
	default:
		return KindGrouped
	}
}

// adaptiveCoordinator classifies the input and delegates to the resulting
// concrete strategy.
type adaptiveCoordinator struct {
	r *runner
}

func (c *adaptiveCoordinator) Name() Kind { return KindAdaptive }

func (c *adaptiveCoordinator) Run(ctx context.Context, in *Input) ([]types.Contribution, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	kind := Classify(in)
	c.r.logger.Debug("adaptive classification",
		zap.String("strategy", string(kind)),
		zap.Int("task_len", len(in.Task)),
		zap.Int("context_entries", len(in.Context)),
		zap.Int("domains", len(in.Domains)))

	delegate, err := coordinatorFor(kind, c.r)
	if err != nil {
		return nil, err
	}
	return delegate.Run(ctx, in)
}

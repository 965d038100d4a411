package strategy

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luminetic/ensemble/backend"
	"github.com/luminetic/ensemble/config"
	"github.com/luminetic/ensemble/internal/pool"
	"github.com/luminetic/ensemble/types"
	"github.com/luminetic/ensemble/workflow"
)

// runner holds the unit-execution machinery every strategy shares.
type runner struct {
	gen    Generator
	pool   *pool.Pool
	cfg    config.CoordinationConfig
	logger *zap.Logger
}

func newRunner(deps Deps) *runner {
	cfg := deps.Config
	def := config.DefaultCoordinationConfig()
	if cfg.MaxConcurrentUnits <= 0 {
		cfg.MaxConcurrentUnits = def.MaxConcurrentUnits
	}
	if cfg.MaxUnitTimeout <= 0 {
		cfg.MaxUnitTimeout = def.MaxUnitTimeout
	}
	if cfg.DefaultConfidence <= 0 {
		cfg.DefaultConfidence = def.DefaultConfidence
	}
	if cfg.AffinityMaximum <= 0 {
		cfg.AffinityMaximum = def.AffinityMaximum
	}
	if cfg.AffinityHigh <= 0 {
		cfg.AffinityHigh = def.AffinityHigh
	}
	if cfg.AmplificationWeight <= 0 {
		cfg.AmplificationWeight = def.AmplificationWeight
	}

	p := deps.Pool
	if p == nil {
		p = pool.New(pool.Config{
			MaxWorkers: cfg.MaxConcurrentUnits,
			QueueSize:  cfg.MaxConcurrentUnits * 8,
		})
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &runner{
		gen:    deps.Generator,
		pool:   p,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "strategy")),
	}
}

// prepare validates the input and returns its units plus a private copy of
// the context for folding.
func (r *runner) prepare(in *Input) ([]unit, types.Map, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}
	vars := types.CloneMap(in.Context)
	if vars == nil {
		vars = types.Map{}
	}
	return expandDomains(in), vars, nil
}

// runUnit executes one (domain, target) pair and always returns a
// contribution. Callers that want to skip units entirely check ctx before
// calling; a context that dies here still yields a failure contribution.
func (r *runner) runUnit(ctx context.Context, task string, u unit, vars types.Map) types.Contribution {
	if err := ctx.Err(); err != nil {
		return r.failed(u, 0, err)
	}

	prompt := buildPrompt(task, vars)
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.MaxUnitTimeout)
	defer cancel()

	start := time.Now()
	resp, err := r.gen.Generate(callCtx, backend.Request{
		Prompt:  prompt,
		Model:   u.target.Model,
		Options: u.target.Options,
	})
	latency := time.Since(start)
	if err != nil {
		r.logger.Warn("unit failed",
			zap.String("domain", u.domain),
			zap.String("model", u.target.Model),
			zap.Duration("latency", latency),
			zap.Error(err))
		return r.failed(u, latency, err)
	}

	return types.Contribution{
		SourceID:       u.sourceID(),
		Domain:         u.domain,
		Text:           resp.Text,
		Confidence:     r.confidence(resp, u.target),
		Latency:        latency,
		StrategyWeight: 1.0,
	}
}

func (r *runner) failed(u unit, latency time.Duration, err error) types.Contribution {
	return types.Contribution{
		SourceID:       u.sourceID(),
		Domain:         u.domain,
		Text:           "unit failed: " + err.Error(),
		Latency:        latency,
		StrategyWeight: 1.0,
		Err:            err.Error(),
	}
}

// confidence resolves a unit's score: the backend's own estimate when it
// reports one, else the target's declared affinity, else the configured
// default.
func (r *runner) confidence(resp *backend.Response, t Target) float64 {
	switch {
	case resp.Confidence > 0:
		return resp.Confidence
	case t.Affinity > 0:
		return t.Affinity
	default:
		return r.cfg.DefaultConfidence
	}
}

// fanOut runs every unit concurrently through the pool and collects their
// contributions in completion order. Jobs are submitted detached from ctx
// so the pool never silently drops a queued job after cancellation; the
// closure checks the live ctx itself and cancelled units report nothing.
func (r *runner) fanOut(ctx context.Context, task string, units []unit, vars types.Map) ([]types.Contribution, error) {
	if len(units) == 0 {
		return nil, ctx.Err()
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make([]types.Contribution, 0, len(units))
	)
	collect := func(c types.Contribution) {
		mu.Lock()
		out = append(out, c)
		mu.Unlock()
	}

	jobCtx := context.WithoutCancel(ctx)
	for _, u := range units {
		u := u
		wg.Add(1)
		run := func(context.Context) error {
			defer wg.Done()
			if ctx.Err() != nil {
				return nil
			}
			collect(r.runUnit(ctx, task, u, vars))
			return nil
		}
		if err := r.pool.Submit(jobCtx, run); err != nil {
			wg.Done()
			collect(r.failed(u, 0, err))
		}
	}
	wg.Wait()
	return out, ctx.Err()
}

// buildPrompt renders the task template against vars, then appends any
// strategy-folded keys the template did not reference as "[key] text" lines
// in sorted key order. Placeholders with no matching key stay verbatim.
func buildPrompt(task string, vars types.Map) string {
	rendered, _ := workflow.RenderTemplate(task, vars)

	referenced := make(map[string]bool)
	for _, k := range workflow.TemplateKeys(task) {
		referenced[k] = true
	}
	var folds []string
	for k := range vars {
		if foldKey(k) && !referenced[k] {
			folds = append(folds, k)
		}
	}
	if len(folds) == 0 {
		return rendered
	}
	sort.Strings(folds)

	var b strings.Builder
	b.WriteString(rendered)
	for _, k := range folds {
		b.WriteString("\n[")
		b.WriteString(k)
		b.WriteString("] ")
		b.WriteString(vars[k].Render())
	}
	return b.String()
}

// foldKey reports whether a context key is strategy-folded state rather
// than caller-provided template material.
func foldKey(k string) bool {
	return k == "foundation" || strings.HasPrefix(k, "previous_")
}

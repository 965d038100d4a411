package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/luminetic/ensemble/backend"
	"github.com/luminetic/ensemble/config"
	"github.com/luminetic/ensemble/internal/metrics"
	"github.com/luminetic/ensemble/internal/pool"
	"github.com/luminetic/ensemble/store"
	"github.com/luminetic/ensemble/strategy"
	"github.com/luminetic/ensemble/synthesis"
	"github.com/luminetic/ensemble/types"
)

const persistTimeout = 5 * time.Second

// Recorder is the slice of the run store the coordinator needs.
type Recorder interface {
	SaveRun(ctx context.Context, rec *store.RunRecord) error
}

// Options wires the coordinator's collaborators. All fields are optional.
type Options struct {
	Coordination config.CoordinationConfig
	Synthesis    config.SynthesisConfig
	// Recorder persists completed coordination runs when set.
	Recorder Recorder
	Metrics  *metrics.Collector
}

// Coordinator runs coordination requests end to end. It owns a bounded
// worker pool shared by every run; Close releases it.
type Coordinator struct {
	gen      strategy.Generator
	pool     *pool.Pool
	synth    *synthesis.Synthesizer
	cfg      config.CoordinationConfig
	recorder Recorder
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New creates a coordinator. Zero config fields fall back to defaults and
// a nil logger is replaced with a no-op one.
func New(gen strategy.Generator, opts Options, logger *zap.Logger) *Coordinator {
	cfg := opts.Coordination
	def := config.DefaultCoordinationConfig()
	if cfg.MaxConcurrentUnits <= 0 {
		cfg.MaxConcurrentUnits = def.MaxConcurrentUnits
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = def.DefaultStrategy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		gen: gen,
		pool: pool.New(pool.Config{
			MaxWorkers: cfg.MaxConcurrentUnits,
			QueueSize:  cfg.MaxConcurrentUnits * 8,
		}),
		synth:    synthesis.New(opts.Synthesis, logger),
		cfg:      cfg,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		tracer:   otel.Tracer("ensemble/coordinator"),
		logger:   logger.With(zap.String("component", "coordinator")),
	}
}

// Close drains the coordinator's worker pool.
func (c *Coordinator) Close() {
	c.pool.Close()
}

// Coordinate distributes the input across its units, synthesizes the
// contributions and reports the run. Unit failures ride inside the result;
// the returned error carries only invalid input and cancellation.
func (c *Coordinator) Coordinate(ctx context.Context, in *strategy.Input) (*synthesis.AggregatedResult, error) {
	if in == nil {
		return nil, types.NewValidationError("coordination input is nil")
	}
	kind, err := c.resolveKind(in)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "coordinate",
		trace.WithAttributes(
			attribute.String("coordination.strategy", string(kind)),
			attribute.Int("coordination.domains", len(in.Domains)),
		))
	defer span.End()

	usage := &usageCounter{inner: c.gen}
	coord, err := strategy.NewCoordinator(kind, strategy.Deps{
		Generator: usage,
		Pool:      c.pool,
		Config:    c.cfg,
		Logger:    c.logger,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	runID := uuid.NewString()
	ctx = types.WithRunID(ctx, runID)
	startedAt := time.Now()
	contribs, runErr := coord.Run(ctx, in)
	wallClock := time.Since(startedAt)

	if runErr != nil {
		status := "error"
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			status = "cancelled"
		}
		c.record(string(kind), status, wallClock, len(contribs), false)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		c.logger.Warn("coordination aborted",
			zap.String("run_id", runID),
			zap.String("strategy", string(kind)),
			zap.Error(runErr))
		return nil, runErr
	}

	res := c.synth.Synthesize(contribs, wallClock)

	span.SetAttributes(
		attribute.Int("coordination.contributions", len(contribs)),
		attribute.Float64("coordination.confidence", res.Confidence),
		attribute.String("coordination.emergence", string(res.EmergenceLevel)),
	)

	status := "success"
	if countFailed(contribs) > 0 {
		status = "degraded"
	}
	c.record(string(kind), status, wallClock, len(contribs), res.EmergenceDetected)
	c.logger.Info("coordination complete",
		zap.String("run_id", runID),
		zap.String("strategy", string(kind)),
		zap.Int("contributions", len(contribs)),
		zap.Int("failed_units", countFailed(contribs)),
		zap.Duration("duration", wallClock),
		zap.Float64("confidence", res.Confidence),
		zap.String("emergence", string(res.EmergenceLevel)))

	c.persist(ctx, runID, res, usage, startedAt, wallClock)
	return res, nil
}

// resolveKind picks the concrete strategy for an input: the explicit kind
// when set, the configured default otherwise, with adaptive classified to
// its target up front so metrics and spans carry the real shape.
func (c *Coordinator) resolveKind(in *strategy.Input) (strategy.Kind, error) {
	raw := string(in.Strategy)
	if raw == "" {
		raw = c.cfg.DefaultStrategy
	}
	kind, err := strategy.ParseKind(raw)
	if err != nil {
		return "", err
	}
	if kind == strategy.KindAdaptive {
		kind = strategy.Classify(in)
	}
	return kind, nil
}

func (c *Coordinator) record(strategyKind, status string, duration time.Duration, contributions int, emergence bool) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordCoordination(strategyKind, status, duration, contributions, emergence)
}

type unitError struct {
	SourceID string `json:"source_id"`
	Error    string `json:"error"`
}

func countFailed(contribs []types.Contribution) int {
	n := 0
	for _, c := range contribs {
		if c.Failed() {
			n++
		}
	}
	return n
}

// persist writes the coordination run record. Failures are logged, never
// surfaced; persistence runs detached from the caller's cancellation.
func (c *Coordinator) persist(ctx context.Context, runID string, res *synthesis.AggregatedResult, usage *usageCounter, startedAt time.Time, wallClock time.Duration) {
	if c.recorder == nil {
		return
	}

	outputs, err := json.Marshal(res)
	if err != nil {
		c.logger.Warn("coordination result not serializable", zap.String("run_id", runID), zap.Error(err))
		return
	}
	errsJSON := "[]"
	var unitErrs []unitError
	for _, contrib := range res.Contributions {
		if contrib.Failed() {
			unitErrs = append(unitErrs, unitError{SourceID: contrib.SourceID, Error: contrib.Err})
		}
	}
	if len(unitErrs) > 0 {
		if raw, err := json.Marshal(unitErrs); err == nil {
			errsJSON = string(raw)
		}
	}

	rec := &store.RunRecord{
		ID:               runID,
		Kind:             store.RunKindCoordination,
		Success:          len(unitErrs) == 0,
		OutputsJSON:      string(outputs),
		ErrorsJSON:       errsJSON,
		StartedAt:        startedAt,
		FinishedAt:       startedAt.Add(wallClock),
		DurationMS:       wallClock.Milliseconds(),
		PromptTokens:     int(usage.prompt.Load()),
		CompletionTokens: int(usage.completion.Load()),
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := c.recorder.SaveRun(pctx, rec); err != nil {
		c.logger.Warn("coordination record not persisted", zap.String("run_id", runID), zap.Error(err))
	}
}

// usageCounter wraps the generator to sum reported token usage across a
// run without touching the contribution shape.
type usageCounter struct {
	inner      strategy.Generator
	prompt     atomic.Int64
	completion atomic.Int64
}

func (u *usageCounter) Generate(ctx context.Context, req backend.Request) (*backend.Response, error) {
	resp, err := u.inner.Generate(ctx, req)
	if err == nil && resp != nil {
		u.prompt.Add(int64(resp.Usage.PromptTokens))
		u.completion.Add(int64(resp.Usage.CompletionTokens))
	}
	return resp, err
}

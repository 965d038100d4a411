package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luminetic/ensemble/backend"
	"github.com/luminetic/ensemble/internal/metrics"
	"github.com/luminetic/ensemble/store"
	"github.com/luminetic/ensemble/types"
)

const (
	defaultMaxConcurrent = 8
	defaultStepTimeout   = 30 * time.Second
)

// Generator produces a response for an inference request. Satisfied by
// *client.Client and by backend implementations directly.
type Generator interface {
	Generate(ctx context.Context, req backend.Request) (*backend.Response, error)
}

// Recorder persists run outcomes and checkpoint snapshots. Satisfied by
// store.Store; a nil Recorder disables persistence.
type Recorder interface {
	SaveRun(ctx context.Context, rec *store.RunRecord) error
	SaveSnapshot(ctx context.Context, snap *store.Snapshot) error
}

// TransformFunc is a named handler applied by transform steps. It receives
// a snapshot of the run context and returns the value to post under the
// step's OutputKey.
type TransformFunc func(ctx context.Context, vars types.Map) (types.Value, error)

// Options configures an Executor. The zero value is usable: concurrency
// and timeout fall back to defaults, persistence and metrics are off.
type Options struct {
	// MaxConcurrent bounds how many steps of one wave run at once.
	MaxConcurrent int
	// StepTimeout bounds a single step execution.
	StepTimeout time.Duration
	// Transforms seeds the named handler registry.
	Transforms map[string]TransformFunc
	// Recorder receives run records and checkpoint snapshots.
	Recorder Recorder
	// Metrics receives run and step observations.
	Metrics *metrics.Collector
}

// Executor runs workflows wave by wave. Safe for concurrent use; all
// per-run state lives in the run context, never on the Executor.
type Executor struct {
	gen           Generator
	maxConcurrent int
	stepTimeout   time.Duration
	recorder      Recorder
	metrics       *metrics.Collector
	logger        *zap.Logger

	mu         sync.RWMutex
	transforms map[string]TransformFunc
}

// NewExecutor creates an executor. A nil logger falls back to a no-op
// logger; non-positive limits fall back to defaults.
func NewExecutor(gen Generator, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		gen:           gen,
		maxConcurrent: opts.MaxConcurrent,
		stepTimeout:   opts.StepTimeout,
		recorder:      opts.Recorder,
		metrics:       opts.Metrics,
		transforms:    make(map[string]TransformFunc, len(opts.Transforms)),
		logger:        logger.With(zap.String("component", "executor")),
	}
	if e.maxConcurrent <= 0 {
		e.maxConcurrent = defaultMaxConcurrent
	}
	if e.stepTimeout <= 0 {
		e.stepTimeout = defaultStepTimeout
	}
	for name, fn := range opts.Transforms {
		e.transforms[name] = fn
	}
	return e
}

// RegisterTransform adds or replaces a named transform handler.
func (e *Executor) RegisterTransform(name string, fn TransformFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transforms[name] = fn
}

func (e *Executor) transform(name string) TransformFunc {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.transforms[name]
}

// runContext is the mutable state of one run: posted outputs, recorded
// step errors and accumulated token usage, guarded for concurrent waves.
type runContext struct {
	mu               sync.Mutex
	vars             types.Map
	errs             []StepError
	promptTokens     int
	completionTokens int
}

func newRunContext() *runContext {
	return &runContext{vars: make(types.Map)}
}

func (rc *runContext) set(key string, v types.Value) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.vars[key] = v
}

func (rc *runContext) get(key string) (types.Value, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	v, ok := rc.vars[key]
	return v, ok
}

func (rc *runContext) snapshot() types.Map {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return types.CloneMap(rc.vars)
}

func (rc *runContext) fail(stepID string, err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.errs = append(rc.errs, StepError{StepID: stepID, Message: err.Error()})
}

func (rc *runContext) failures() []StepError {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]StepError(nil), rc.errs...)
}

func (rc *runContext) addUsage(u backend.Usage) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.promptTokens += u.PromptTokens
	rc.completionTokens += u.CompletionTokens
}

func (rc *runContext) tokens() (prompt, completion int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.promptTokens, rc.completionTokens
}

// Execute validates the workflow and runs it wave by wave. Step failures
// are reported inside the Result, never as the error return: a run that
// reached the end with step errors is a completed, unsuccessful run.
// The error return is reserved for an invalid workflow and for
// cancellation; a cancelled run comes back with empty outputs alongside
// the context error.
func (e *Executor) Execute(ctx context.Context, wf *Workflow) (*Result, error) {
	waves, err := Waves(wf)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx = types.WithRunID(ctx, runID)
	start := time.Now()
	rc := newRunContext()

	log := e.logger.With(zap.String("run_id", runID), zap.String("workflow_id", wf.ID))
	log.Info("starting workflow run",
		zap.String("workflow", wf.Name),
		zap.Int("steps", len(wf.Steps)),
		zap.Int("waves", len(waves)),
	)

	for i, wave := range waves {
		if ctx.Err() != nil {
			break
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.maxConcurrent)
		for _, s := range wave {
			g.Go(func() error {
				return e.runStep(gctx, log, rc, runID, s)
			})
		}
		if err := g.Wait(); err != nil {
			log.Debug("aborting remaining waves", zap.Int("wave", i), zap.Error(err))
			break
		}
		log.Debug("wave completed", zap.Int("wave", i), zap.Int("steps", len(wave)))
	}

	res := &Result{
		RunID:         runID,
		Outputs:       rc.snapshot(),
		Errors:        rc.failures(),
		ExecutionTime: time.Since(start),
	}
	res.Success = len(res.Errors) == 0

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.Success = false
		res.Outputs = types.Map{}
		e.observeRun(ctx, wf, res, rc, start, "cancelled", false)
		log.Warn("workflow run cancelled", zap.Duration("execution_time", res.ExecutionTime))
		return res, ctxErr
	}

	status := "success"
	if !res.Success {
		status = "error"
	}
	e.observeRun(ctx, wf, res, rc, start, status, true)
	log.Info("workflow run finished",
		zap.Bool("success", res.Success),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("execution_time", res.ExecutionTime),
	)
	return res, nil
}

// runStep executes one step. A non-nil return aborts the wave; fault
// tolerant kinds record their failure and return nil.
func (e *Executor) runStep(ctx context.Context, log *zap.Logger, rc *runContext, runID string, s *Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kind := s.kind()
	start := time.Now()

	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	out, err := e.dispatch(stepCtx, rc, runID, s, kind)
	duration := time.Since(start)

	if err != nil {
		rc.fail(s.ID, err)
		e.stepMetric(kind, "error")
		log.Warn("step failed",
			zap.String("step_id", s.ID),
			zap.String("kind", string(kind)),
			zap.Duration("duration", duration),
			zap.Bool("fault_tolerant", kind.faultTolerant()),
			zap.Error(err),
		)
		if kind.faultTolerant() {
			return nil
		}
		return err
	}

	if s.OutputKey != "" {
		rc.set(s.OutputKey, out)
	}
	e.stepMetric(kind, "success")
	log.Debug("step completed",
		zap.String("step_id", s.ID),
		zap.String("kind", string(kind)),
		zap.Duration("duration", duration),
	)
	return nil
}

func (e *Executor) dispatch(ctx context.Context, rc *runContext, runID string, s *Step, kind Kind) (types.Value, error) {
	switch kind {
	case KindInference:
		return e.runInference(ctx, rc, s)
	case KindTransform:
		return e.runTransform(ctx, rc, s)
	case KindBranch:
		return e.runBranch(rc, s)
	case KindCheckpoint:
		return e.runCheckpoint(ctx, rc, runID, s)
	default:
		return types.Null(), types.NewStepConfigurationError(s.ID, fmt.Sprintf("unknown step kind %q", kind))
	}
}

func (e *Executor) runInference(ctx context.Context, rc *runContext, s *Step) (types.Value, error) {
	prompt, missing := RenderTemplate(s.PromptTemplate, rc.snapshot())
	if len(missing) > 0 {
		return types.Null(), types.NewStepConfigurationError(s.ID,
			fmt.Sprintf("unresolved placeholders %v in prompt template", missing))
	}
	resp, err := e.gen.Generate(ctx, backend.Request{
		Prompt:  prompt,
		Model:   s.BackendRef,
		Options: s.Options,
	})
	if err != nil {
		return types.Null(), err
	}
	rc.addUsage(resp.Usage)
	return types.String(resp.Text), nil
}

func (e *Executor) runTransform(ctx context.Context, rc *runContext, s *Step) (types.Value, error) {
	name, ok := optionString(s.Options, "handler")
	if !ok {
		return types.Null(), types.NewStepConfigurationError(s.ID, `transform step needs a string "handler" option`)
	}
	fn := e.transform(name)
	if fn == nil {
		return types.Null(), types.NewStepConfigurationError(s.ID, fmt.Sprintf("no transform handler registered as %q", name))
	}
	return fn(ctx, rc.snapshot())
}

// runBranch compares the context value under Options["when"] against
// Options["equals"]. An absent context key compares as null, so a branch
// can probe for keys that may never have been posted.
func (e *Executor) runBranch(rc *runContext, s *Step) (types.Value, error) {
	key, ok := optionString(s.Options, "when")
	if !ok {
		return types.Null(), types.NewStepConfigurationError(s.ID, `branch step needs a string "when" option`)
	}
	expect, ok := s.Options["equals"]
	if !ok {
		return types.Null(), types.NewStepConfigurationError(s.ID, `branch step needs an "equals" option`)
	}
	got, _ := rc.get(key)
	return types.Bool(got.Equal(expect)), nil
}

// runCheckpoint persists a snapshot of the run context and posts the
// snapshot ID. Without a recorder the step is a no-op.
func (e *Executor) runCheckpoint(ctx context.Context, rc *runContext, runID string, s *Step) (types.Value, error) {
	if e.recorder == nil {
		e.logger.Debug("no recorder configured, skipping checkpoint", zap.String("step_id", s.ID))
		return types.Null(), nil
	}
	data, err := json.Marshal(rc.snapshot())
	if err != nil {
		return types.Null(), fmt.Errorf("encode context snapshot: %w", err)
	}
	snap := &store.Snapshot{
		ID:          uuid.NewString(),
		RunID:       runID,
		StepID:      s.ID,
		ContextJSON: string(data),
		CreatedAt:   time.Now(),
	}
	if err := e.recorder.SaveSnapshot(ctx, snap); err != nil {
		return types.Null(), fmt.Errorf("save context snapshot: %w", err)
	}
	return types.String(snap.ID), nil
}

func (e *Executor) stepMetric(kind Kind, status string) {
	if e.metrics != nil {
		e.metrics.RecordWorkflowStep(string(kind), status)
	}
}

// observeRun records run metrics and, for completed runs, persists the
// run record. Persistence failures are logged, never surfaced: losing a
// row must not fail a finished run.
func (e *Executor) observeRun(ctx context.Context, wf *Workflow, res *Result, rc *runContext, startedAt time.Time, status string, persist bool) {
	if e.metrics != nil {
		e.metrics.RecordWorkflowRun(status, res.ExecutionTime)
	}
	if !persist || e.recorder == nil {
		return
	}

	outJSON, err := json.Marshal(res.Outputs)
	if err != nil {
		outJSON = []byte("{}")
	}
	errJSON := []byte("[]")
	if len(res.Errors) > 0 {
		if b, err := json.Marshal(res.Errors); err == nil {
			errJSON = b
		}
	}
	prompt, completion := rc.tokens()
	rec := &store.RunRecord{
		ID:               res.RunID,
		WorkflowID:       wf.ID,
		Kind:             store.RunKindWorkflow,
		Success:          res.Success,
		OutputsJSON:      string(outJSON),
		ErrorsJSON:       string(errJSON),
		StartedAt:        startedAt,
		FinishedAt:       startedAt.Add(res.ExecutionTime),
		DurationMS:       res.ExecutionTime.Milliseconds(),
		PromptTokens:     prompt,
		CompletionTokens: completion,
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.recorder.SaveRun(pctx, rec); err != nil {
		e.logger.Warn("failed to persist run record", zap.String("run_id", res.RunID), zap.Error(err))
	}
}

func optionString(opts types.Map, key string) (string, bool) {
	v, ok := opts[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

// Package ensemble coordinates multi-model inference: dependency-ordered
// workflows, distribution strategies over domain/model plans, and synthesis
// of the gathered contributions into one result.
//
// The facade wires the whole stack from a single call:
//
//	eng, err := ensemble.New()
//	eng, err := ensemble.New(ensemble.WithConfig(cfg), ensemble.WithLogger(logger))
//	eng, err := ensemble.New(ensemble.WithBackend(myBackend), ensemble.WithStore(st))
//
// Behind it sit the resilient client (response cache, per-operation circuit
// breaker, retry with backoff), the workflow executor and the coordination
// engine. An Engine is safe for concurrent use.
package ensemble

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/luminetic/ensemble/backend"
	"github.com/luminetic/ensemble/cache"
	"github.com/luminetic/ensemble/circuitbreaker"
	"github.com/luminetic/ensemble/client"
	"github.com/luminetic/ensemble/config"
	"github.com/luminetic/ensemble/coordinator"
	"github.com/luminetic/ensemble/internal/metrics"
	"github.com/luminetic/ensemble/retry"
	"github.com/luminetic/ensemble/store"
	"github.com/luminetic/ensemble/strategy"
	"github.com/luminetic/ensemble/synthesis"
	"github.com/luminetic/ensemble/types"
	"github.com/luminetic/ensemble/workflow"
)

// Option configures the engine created by New.
type Option func(*options)

type options struct {
	cfg        *config.Config
	logger     *zap.Logger
	backend    backend.Backend
	store      store.Store
	metrics    *metrics.Collector
	transforms map[string]workflow.TransformFunc
}

// WithConfig sets the configuration tree. Defaults apply when omitted.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBackend sets a pre-built backend, overriding the configured one.
func WithBackend(b backend.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithStore enables run persistence. The caller keeps ownership; Close
// leaves the store open.
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithMetrics attaches a Prometheus collector to the client, the executor
// and the coordinator.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithTransform registers a named handler for transform steps.
func WithTransform(name string, fn workflow.TransformFunc) Option {
	return func(o *options) {
		if o.transforms == nil {
			o.transforms = make(map[string]workflow.TransformFunc)
		}
		o.transforms[name] = fn
	}
}

// Engine is the assembled system: one resilient inference client shared by
// the workflow executor and the coordination engine.
type Engine struct {
	cfg      *config.Config
	client   *client.Client
	executor *workflow.Executor
	coord    *coordinator.Coordinator
	store    store.Store
	redis    *redis.Client
	logger   *zap.Logger
}

// New assembles an engine. With no options it runs the scripted in-process
// backend with default configuration, so examples and tests need no setup.
func New(opts ...Option) (*Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := o.backend
	if b == nil {
		var err error
		b, err = buildBackend(cfg.Backend, logger)
		if err != nil {
			return nil, err
		}
	}

	responseCache, rdb := buildCache(cfg, logger)
	cl := client.New(b, client.Options{
		Cache: responseCache,
		Breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold:       cfg.Resilience.Circuit.Threshold,
			RecoveryTimeout: cfg.Resilience.Circuit.RecoveryTimeout,
		}, logger),
		Retryer: retry.New(retry.Config{
			MaxAttempts: cfg.Resilience.Retry.MaxAttempts,
			BaseDelay:   cfg.Resilience.Retry.BaseDelay,
			MaxDelay:    cfg.Resilience.Retry.MaxDelay,
		}, logger),
		Metrics: o.metrics,
	}, logger)

	eng := &Engine{
		cfg:    cfg,
		client: cl,
		executor: workflow.NewExecutor(cl, workflow.Options{
			MaxConcurrent: cfg.Coordination.MaxConcurrentUnits,
			StepTimeout:   cfg.Coordination.MaxUnitTimeout,
			Transforms:    o.transforms,
			Recorder:      o.store,
			Metrics:       o.metrics,
		}, logger),
		coord: coordinator.New(cl, coordinator.Options{
			Coordination: cfg.Coordination,
			Synthesis:    cfg.Synthesis,
			Recorder:     o.store,
			Metrics:      o.metrics,
		}, logger),
		store:  o.store,
		redis:  rdb,
		logger: logger.With(zap.String("component", "engine")),
	}

	eng.logger.Info("engine assembled",
		zap.String("backend", b.Name()),
		zap.Bool("persistence", o.store != nil),
		zap.Bool("redis_cache", rdb != nil),
	)
	return eng, nil
}

func buildBackend(cfg config.BackendConfig, logger *zap.Logger) (backend.Backend, error) {
	switch cfg.Kind {
	case "", "scripted":
		return backend.NewScripted(cfg.Name, backend.ScriptedConfig{}), nil
	case "remote":
		if cfg.BaseURL == "" {
			return nil, types.NewValidationError("remote backend requires a base_url")
		}
		return backend.NewRemote(cfg.Name, backend.RemoteConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		}, logger), nil
	default:
		return nil, types.NewValidationError(fmt.Sprintf("unknown backend kind %q", cfg.Kind))
	}
}

func buildCache(cfg *config.Config, logger *zap.Logger) (cache.Cache, *redis.Client) {
	local := cache.NewLRU(cfg.Resilience.Cache.Capacity, cfg.Resilience.Cache.TTL, logger)
	if !cfg.Redis.Enabled {
		return local, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	return cache.NewTiered(local, rdb, cfg.Resilience.Cache.TTL, logger), rdb
}

// Validate checks a workflow without executing it.
func (e *Engine) Validate(wf *workflow.Workflow) error {
	return workflow.Validate(wf)
}

// Execute runs a workflow to completion. Step failures ride inside the
// returned Result; the error covers rejected input and aborted runs only.
func (e *Engine) Execute(ctx context.Context, wf *workflow.Workflow) (*workflow.Result, error) {
	return e.executor.Execute(ctx, wf)
}

// Optimize returns an id-preserving copy of wf annotated with wave numbers
// and concurrency hints.
func (e *Engine) Optimize(wf *workflow.Workflow) (*workflow.Workflow, error) {
	return workflow.Optimize(wf)
}

// Coordinate distributes a task across its domain/model plan and
// synthesizes the contributions. Unit failures surface as zero-confidence
// contributions inside the result, not as errors.
func (e *Engine) Coordinate(ctx context.Context, in *strategy.Input) (*synthesis.AggregatedResult, error) {
	return e.coord.Coordinate(ctx, in)
}

// Generate runs one model call through the resilient client.
func (e *Engine) Generate(ctx context.Context, req backend.Request) (*backend.Response, error) {
	return e.client.Generate(ctx, req)
}

// Stream runs one model call, delivering output incrementally. The caller
// closes the returned stream.
func (e *Engine) Stream(ctx context.Context, req backend.Request) (backend.TokenStream, error) {
	return e.client.Stream(ctx, req)
}

// RegisterTransform adds or replaces a named transform step handler.
func (e *Engine) RegisterTransform(name string, fn workflow.TransformFunc) {
	e.executor.RegisterTransform(name, fn)
}

// HealthCheck probes the backend; nil means routable.
func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.client.HealthCheck(ctx)
}

// Store exposes the configured run repository, nil when persistence is off.
func (e *Engine) Store() store.Store {
	return e.store
}

// Close drains the coordination worker pool and closes the engine-owned
// Redis connection. A store passed via WithStore stays open.
func (e *Engine) Close() error {
	e.coord.Close()
	if e.redis != nil {
		return e.redis.Close()
	}
	return nil
}

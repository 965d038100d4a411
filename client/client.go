// Package client wraps a backend with the engine's resilience stack.
//
// The decorator adds response caching, per-operation circuit breaking,
// retry with exponential backoff, token accounting and metrics while
// keeping the backend.Backend surface, so callers cannot tell a wrapped
// backend from a bare one.
package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/luminetic/ensemble/backend"
	"github.com/luminetic/ensemble/cache"
	"github.com/luminetic/ensemble/circuitbreaker"
	"github.com/luminetic/ensemble/internal/metrics"
	"github.com/luminetic/ensemble/internal/tokenizer"
	"github.com/luminetic/ensemble/retry"
	"github.com/luminetic/ensemble/types"
)

// Options carries the collaborators a Client composes around a backend.
// Nil fields degrade gracefully: no cache means no caching, no registry or
// retryer means private ones with default config, no collector means no
// metrics.
type Options struct {
	Cache    cache.Cache
	Keys     cache.KeyStrategy
	Breakers *circuitbreaker.Registry
	Retryer  retry.Retryer
	Metrics  *metrics.Collector
}

// Client is a resilient decorator over one backend.
type Client struct {
	backend  backend.Backend
	cache    cache.Cache
	keys     cache.KeyStrategy
	breakers *circuitbreaker.Registry
	retryer  retry.Retryer
	metrics  *metrics.Collector
	logger   *zap.Logger

	op string
}

// New wraps b with the resilience stack.
func New(b backend.Backend, opts Options, logger *zap.Logger) *Client {
	if opts.Keys == nil {
		opts.Keys = cache.NewHashKeyStrategy()
	}
	if opts.Breakers == nil {
		opts.Breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), logger)
	}
	if opts.Retryer == nil {
		opts.Retryer = retry.New(retry.DefaultConfig(), logger)
	}
	return &Client{
		backend:  b,
		cache:    opts.Cache,
		keys:     opts.Keys,
		breakers: opts.Breakers,
		retryer:  opts.Retryer,
		metrics:  opts.Metrics,
		logger:   logger.With(zap.String("component", "client"), zap.String("backend", b.Name())),
		op:       "generate:" + b.Name(),
	}
}

// Name implements backend.Backend.
func (c *Client) Name() string { return c.backend.Name() }

// Operation returns the circuit breaker operation name for this client.
func (c *Client) Operation() string { return c.op }

// Generate implements backend.Backend with the full resilient call path:
// cache lookup first (a hit bypasses breaker and retry entirely), then the
// breaker gate, then the retried backend call. A successful call populates
// the cache and resets the breaker; exhausted retries surface the final
// attempt's error.
func (c *Client) Generate(ctx context.Context, req backend.Request) (*backend.Response, error) {
	start := time.Now()

	var key string
	if c.cache != nil {
		key = c.keys.Key(req.Prompt, req.Model, req.Options)
		if v, ok := c.cache.Get(ctx, key); ok {
			if resp, ok := responseFromValue(v); ok {
				c.recordCacheHit()
				c.logger.Debug("generation served from cache", zap.String("model", req.Model))
				return resp, nil
			}
		}
		c.recordCacheMiss()
	}

	br := c.breakers.Get(c.op)
	if !br.Allow() {
		c.record("circuit_open", req, start, nil)
		return nil, types.NewCircuitOpenError(c.op)
	}

	var resp *backend.Response
	attempt := 0
	err := c.retryer.Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 && c.metrics != nil {
			c.metrics.RecordRetry(c.op)
		}

		r, callErr := c.backend.Generate(ctx, req)
		if callErr != nil {
			br.RecordFailure()
			return callErr
		}
		resp = r
		br.RecordSuccess()
		return nil
	})
	if err != nil {
		c.record("error", req, start, nil)
		c.logger.Warn("generation failed",
			zap.String("model", req.Model),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return nil, err
	}

	if c.cache != nil {
		c.cache.Put(ctx, key, responseToValue(resp))
	}
	c.record("success", req, start, resp)
	return resp, nil
}

// Stream implements backend.Backend. Streams pass the breaker gate but
// bypass cache and retry: a half-delivered stream cannot be replayed
// safely, and caching partial output would corrupt hits.
func (c *Client) Stream(ctx context.Context, req backend.Request) (backend.TokenStream, error) {
	br := c.breakers.Get(c.op)
	if !br.Allow() {
		return nil, types.NewCircuitOpenError(c.op)
	}

	ts, err := c.backend.Stream(ctx, req)
	if err != nil {
		br.RecordFailure()
		c.record("error", req, time.Now(), nil)
		return nil, err
	}
	br.RecordSuccess()
	return ts, nil
}

// HealthCheck implements backend.Backend.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.backend.HealthCheck(ctx)
}

func (c *Client) record(status string, req backend.Request, start time.Time, resp *backend.Response) {
	if c.metrics == nil {
		return
	}
	prompt, completion := 0, 0
	if resp != nil {
		prompt, completion = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
		// Estimate what the backend left unreported.
		if prompt == 0 && req.Prompt != "" {
			prompt = tokenizer.MustCount(req.Model, req.Prompt)
		}
		if completion == 0 && resp.Text != "" {
			completion = tokenizer.MustCount(req.Model, resp.Text)
		}
	}
	c.metrics.RecordGeneration(c.backend.Name(), req.Model, status, time.Since(start), prompt, completion)
}

func (c *Client) recordCacheHit() {
	if c.metrics != nil {
		c.metrics.RecordCacheHit("response")
	}
}

func (c *Client) recordCacheMiss() {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss("response")
	}
}

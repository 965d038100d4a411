// Package pool provides a bounded worker pool for inference unit execution.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrClosed       = errors.New("pool is closed")
	ErrQueueFull    = errors.New("pool queue is full")
	ErrTaskPanicked = errors.New("task panicked")
)

// Task is one unit of work.
type Task func(ctx context.Context) error

// Config sizes the pool.
type Config struct {
	// MaxWorkers bounds concurrent tasks; it is the coordination layer's
	// max_concurrent_units knob.
	MaxWorkers int `json:"max_workers"`
	// QueueSize bounds tasks waiting for a worker.
	QueueSize int `json:"queue_size"`
	// IdleTimeout retires workers with nothing to do.
	IdleTimeout time.Duration `json:"idle_timeout"`
	// PanicHandler observes recovered task panics.
	PanicHandler func(any) `json:"-"`
}

// DefaultConfig returns defaults sized for a single coordination engine.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  8,
		QueueSize:   64,
		IdleTimeout: 60 * time.Second,
	}
}

// Pool runs tasks on at most MaxWorkers goroutines. Workers spawn on
// demand and retire when idle, so an idle engine holds no goroutines.
type Pool struct {
	cfg     Config
	queue   chan job
	workers atomic.Int32
	active  atomic.Int32
	closed  atomic.Bool
	wg      sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

type job struct {
	task   Task
	ctx    context.Context
	result chan error
}

// New creates a pool. Zero or negative config fields fall back to defaults.
func New(cfg Config) *Pool {
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	return &Pool{
		cfg:   cfg,
		queue: make(chan job, cfg.QueueSize),
	}
}

// Submit enqueues a task without waiting for its result. It fails with
// ErrQueueFull when every worker is busy and the queue is at capacity.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.submitted.Add(1)

	j := job{task: task, ctx: ctx}
	select {
	case p.queue <- j:
		p.ensureWorker()
		return nil
	default:
		if p.trySpawnWorker() {
			select {
			case p.queue <- j:
				return nil
			default:
			}
		}
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// SubmitWait enqueues a task and blocks until it finishes or ctx ends.
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.submitted.Add(1)

	j := job{task: task, ctx: ctx, result: make(chan error, 1)}
	select {
	case p.queue <- j:
		p.ensureWorker()
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) ensureWorker() {
	if p.workers.Load() < int32(p.cfg.MaxWorkers) {
		p.trySpawnWorker()
	}
}

func (p *Pool) trySpawnWorker() bool {
	for {
		current := p.workers.Load()
		if current >= int32(p.cfg.MaxWorkers) {
			return false
		}
		if p.workers.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	defer p.workers.Add(-1)

	idle := time.NewTimer(p.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case j, ok := <-p.queue:
			if !ok {
				return
			}

			p.active.Add(1)
			err := p.run(j)
			p.active.Add(-1)

			if j.result != nil {
				j.result <- err
				close(j.result)
			}
			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}

			idle.Reset(p.cfg.IdleTimeout)

		case <-idle.C:
			// Keep one worker alive so a quiet pool stays responsive.
			if p.workers.Load() > 1 {
				return
			}
			idle.Reset(p.cfg.IdleTimeout)
		}
	}
}

func (p *Pool) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.cfg.PanicHandler != nil {
				p.cfg.PanicHandler(r)
			}
			err = ErrTaskPanicked
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.task(j.ctx)
}

// Close drains the queue and waits for workers to exit.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.queue)
	p.wg.Wait()
}

// Stats reports a point-in-time view of the pool.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   int(p.workers.Load()),
		Active:    int(p.active.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

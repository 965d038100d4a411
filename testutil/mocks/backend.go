// MockBackend is a configurable test double for the backend surface.
//
// It supports fixed replies, streaming, latency and error injection.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/luminetic/ensemble/backend"
	"github.com/luminetic/ensemble/types"
)

// --- MockBackend structure ---

// BackendCall records a single Generate or Stream invocation.
type BackendCall struct {
	Request  backend.Request
	Response *backend.Response
	Err      error
}

// MockBackend implements backend.Backend for tests.
type MockBackend struct {
	mu sync.RWMutex

	name       string
	response   string
	confidence float64
	chunks     []string
	err        error
	healthErr  error

	generateFunc func(ctx context.Context, req backend.Request) (*backend.Response, error)

	delay     time.Duration
	failFirst int // fail this many leading calls, then recover
	failAfter int // succeed this many calls, then fail
	callCount int
	calls     []BackendCall
}

// --- constructors and builder methods ---

// NewMockBackend creates a backend that answers every call successfully.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		name:       "mock",
		response:   "mock response",
		confidence: 0.9,
	}
}

// WithName sets the backend name.
func (m *MockBackend) WithName(name string) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithResponse sets the fixed reply text.
func (m *MockBackend) WithResponse(text string) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = text
	return m
}

// WithConfidence sets the reported confidence.
func (m *MockBackend) WithConfidence(c float64) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confidence = c
	return m
}

// WithError makes every call fail with err.
func (m *MockBackend) WithError(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithHealthError makes HealthCheck fail with err.
func (m *MockBackend) WithHealthError(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthErr = err
	return m
}

// WithStreamChunks sets the chunks Stream emits.
func (m *MockBackend) WithStreamChunks(chunks []string) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = chunks
	return m
}

// WithDelay adds per-call latency.
func (m *MockBackend) WithDelay(d time.Duration) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailFirst fails the first n calls with err, then recovers. Used to
// exercise retry and breaker-trial paths.
func (m *MockBackend) WithFailFirst(n int, err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFirst = n
	if err != nil {
		m.err = err
	}
	return m
}

// WithFailAfter succeeds for the first n calls, then fails every later one.
func (m *MockBackend) WithFailAfter(n int) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithGenerateFunc installs a custom Generate implementation.
func (m *MockBackend) WithGenerateFunc(fn func(ctx context.Context, req backend.Request) (*backend.Response, error)) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateFunc = fn
	return m
}

// --- backend.Backend implementation ---

// Name implements backend.Backend.
func (m *MockBackend) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// Generate implements backend.Backend.
func (m *MockBackend) Generate(ctx context.Context, req backend.Request) (*backend.Response, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++

	if err := m.scriptedErrLocked(); err != nil {
		m.calls = append(m.calls, BackendCall{Request: req, Err: err})
		return nil, err
	}

	if m.generateFunc != nil {
		fn := m.generateFunc
		m.mu.Unlock()
		resp, err := fn(ctx, req)
		m.mu.Lock()
		m.calls = append(m.calls, BackendCall{Request: req, Response: resp, Err: err})
		return resp, err
	}

	resp := &backend.Response{
		Text:       m.response,
		Confidence: m.confidence,
		Model:      req.Model,
	}
	m.calls = append(m.calls, BackendCall{Request: req, Response: resp})
	return resp, nil
}

// Stream implements backend.Backend.
func (m *MockBackend) Stream(ctx context.Context, req backend.Request) (backend.TokenStream, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++

	if err := m.scriptedErrLocked(); err != nil {
		m.calls = append(m.calls, BackendCall{Request: req, Err: err})
		return nil, err
	}

	chunks := m.chunks
	if len(chunks) == 0 {
		chunks = []string{m.response}
	}
	m.calls = append(m.calls, BackendCall{Request: req})
	return backend.SliceStream(chunks...), nil
}

// HealthCheck implements backend.Backend.
func (m *MockBackend) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthErr
}

// scriptedErrLocked decides whether the current call fails. Callers hold mu.
func (m *MockBackend) scriptedErrLocked() error {
	failErr := m.err
	if failErr == nil {
		failErr = types.NewError(types.ErrBackend, "mock backend: scripted failure").WithOp(m.name)
	}

	if m.failFirst > 0 && m.callCount <= m.failFirst {
		return failErr
	}
	if m.failAfter > 0 && m.callCount > m.failAfter {
		return failErr
	}
	if m.failFirst == 0 && m.failAfter == 0 && m.err != nil {
		return m.err
	}
	return nil
}

func (m *MockBackend) sleep(ctx context.Context) error {
	m.mu.RLock()
	d := m.delay
	m.mu.RUnlock()
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- query methods ---

// Calls returns all recorded calls.
func (m *MockBackend) Calls() []BackendCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]BackendCall{}, m.calls...)
}

// CallCount returns how many calls were made.
func (m *MockBackend) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// LastCall returns the most recent call, or nil.
func (m *MockBackend) LastCall() *BackendCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset clears recorded calls and error state.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callCount = 0
	m.err = nil
	m.failFirst = 0
	m.failAfter = 0
}

// --- preset factories ---

// NewSuccessBackend answers every call with text.
func NewSuccessBackend(text string) *MockBackend {
	return NewMockBackend().WithResponse(text)
}

// NewErrorBackend fails every call with err.
func NewErrorBackend(err error) *MockBackend {
	return NewMockBackend().WithError(err)
}

// NewStreamBackend streams the given chunks.
func NewStreamBackend(chunks []string) *MockBackend {
	return NewMockBackend().WithStreamChunks(chunks)
}

// NewFlakyBackend fails the first failFirst calls, then answers with text.
func NewFlakyBackend(failFirst int, text string) *MockBackend {
	unavailable := types.NewError(types.ErrUnavailable, "mock backend: transient outage")
	return NewMockBackend().
		WithResponse(text).
		WithFailFirst(failFirst, unavailable)
}

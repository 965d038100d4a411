package backend

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// ScriptedConfig controls the behavior of a Scripted backend.
type ScriptedConfig struct {
	// Latency is simulated per call; the wait honors ctx cancellation.
	Latency time.Duration
	// TokenDelay spaces out streamed tokens.
	TokenDelay time.Duration
	// Confidence overrides the derived per-reply confidence when > 0.
	Confidence float64
}

// Scripted is an in-process deterministic backend.
//
// It answers every prompt with a reproducible reply derived from the model
// and prompt text, so examples, CLIs and tests can exercise the full
// coordination path without a live upstream. Canned replies and scripted
// failures make resilience behavior demonstrable on demand.
type Scripted struct {
	name string
	cfg  ScriptedConfig

	mu       sync.Mutex
	replies  []cannedReply
	failLeft int
	failWith error
	calls    int
}

type cannedReply struct {
	match string
	text  string
}

// NewScripted creates a scripted backend with the given name.
func NewScripted(name string, cfg ScriptedConfig) *Scripted {
	if name == "" {
		name = "scripted"
	}
	return &Scripted{name: name, cfg: cfg}
}

// WithReply registers a canned reply returned whenever the prompt contains
// match. Replies are checked in registration order.
func (s *Scripted) WithReply(match, text string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, cannedReply{match: match, text: text})
	return s
}

// WithFailures makes the next n calls fail with err before recovering.
func (s *Scripted) WithFailures(n int, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLeft = n
	s.failWith = err
	return s
}

// Name implements Backend.
func (s *Scripted) Name() string { return s.name }

// Calls reports how many Generate/Stream calls have been made.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Generate implements Backend.
func (s *Scripted) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := s.wait(ctx, s.cfg.Latency); err != nil {
		return nil, err
	}
	text, err := s.scriptedReply(req)
	if err != nil {
		return nil, err
	}
	return &Response{
		Text:       text,
		Confidence: s.confidenceFor(req, text),
		Model:      req.Model,
	}, nil
}

// Stream implements Backend, emitting the reply word by word.
func (s *Scripted) Stream(ctx context.Context, req Request) (TokenStream, error) {
	if err := s.wait(ctx, s.cfg.Latency); err != nil {
		return nil, err
	}
	text, err := s.scriptedReply(req)
	if err != nil {
		return nil, err
	}

	words := strings.SplitAfter(text, " ")
	st := NewStream(8)
	go func() {
		for i, w := range words {
			if s.cfg.TokenDelay > 0 {
				if err := s.wait(ctx, s.cfg.TokenDelay); err != nil {
					st.Fail(err)
					return
				}
			}
			tok := Token{
				Text:      w,
				Index:     i,
				Final:     i == len(words)-1,
				Timestamp: time.Now(),
			}
			if err := st.Push(ctx, tok); err != nil {
				return
			}
		}
		st.CloseSend()
	}()
	return st, nil
}

// HealthCheck implements Backend.
func (s *Scripted) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLeft > 0 {
		return s.failWith
	}
	return nil
}

func (s *Scripted) scriptedReply(req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.failLeft > 0 {
		s.failLeft--
		return "", s.failWith
	}
	for _, r := range s.replies {
		if strings.Contains(req.Prompt, r.match) {
			return r.text, nil
		}
	}
	return fmt.Sprintf("[%s/%s] %s", s.name, req.Model, condense(req.Prompt, 96)), nil
}

func (s *Scripted) confidenceFor(req Request, text string) float64 {
	if s.cfg.Confidence > 0 {
		return s.cfg.Confidence
	}
	// Deterministic spread in [0.60, 0.99] so multi-target demos produce
	// varied but reproducible confidences.
	h := fnv.New32a()
	h.Write([]byte(req.Model))
	h.Write([]byte(text))
	return 0.60 + float64(h.Sum32()%40)/100
}

func (s *Scripted) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

func condense(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

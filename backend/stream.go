package backend

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// Token is one increment of streamed output.
type Token struct {
	Text      string    `json:"text"`
	Index     int       `json:"index"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}

// TokenStream is a pull-based stream of generation output.
//
// Next blocks until a token is available, the stream ends (io.EOF), the
// producer fails (its error), or ctx is done. Close releases the producer;
// it is safe to call more than once.
type TokenStream interface {
	Next(ctx context.Context) (Token, error)
	Close() error
}

// Stream is the channel-backed TokenStream used by backend adapters.
// The adapter produces with Push/Fail/CloseSend; the consumer drains with
// Next. A bounded buffer gives natural backpressure: Push blocks once the
// consumer falls behind, and returns when the consumer closes the stream.
type Stream struct {
	tokens    chan Token
	done      chan struct{}
	sendOnce  sync.Once
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewStream creates a stream with the given buffer size (min 1).
func NewStream(buffer int) *Stream {
	if buffer < 1 {
		buffer = 1
	}
	return &Stream{
		tokens: make(chan Token, buffer),
		done:   make(chan struct{}),
	}
}

// Push delivers one token to the consumer, blocking while the buffer is
// full. It returns ctx.Err if ctx ends first, or io.ErrClosedPipe if the
// consumer closed the stream.
func (s *Stream) Push(ctx context.Context, tok Token) error {
	select {
	case <-s.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case s.tokens <- tok:
		return nil
	case <-s.done:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail terminates the stream with err; consumers see it from Next after
// draining buffered tokens.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.CloseSend()
}

// CloseSend marks the producer side finished; Next drains the buffer and
// then returns io.EOF (or the Fail error).
func (s *Stream) CloseSend() {
	s.sendOnce.Do(func() { close(s.tokens) })
}

// Next implements TokenStream.
func (s *Stream) Next(ctx context.Context) (Token, error) {
	select {
	case tok, ok := <-s.tokens:
		if !ok {
			return Token{}, s.terminalErr()
		}
		return tok, nil
	case <-ctx.Done():
		return Token{}, ctx.Err()
	}
}

// Close implements TokenStream. It unblocks a producer stuck in Push.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *Stream) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return io.EOF
}

// SliceStream returns an already-complete stream over the given chunks.
// The last chunk carries Final.
func SliceStream(chunks ...string) TokenStream {
	s := NewStream(len(chunks) + 1)
	now := time.Now()
	for i, text := range chunks {
		s.tokens <- Token{
			Text:      text,
			Index:     i,
			Final:     i == len(chunks)-1,
			Timestamp: now,
		}
	}
	s.CloseSend()
	return s
}

// Drain consumes a stream to completion and concatenates the token text.
// The stream is closed regardless of outcome.
func Drain(ctx context.Context, ts TokenStream) (string, error) {
	defer ts.Close()

	var b strings.Builder
	for {
		tok, err := ts.Next(ctx)
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(tok.Text)
	}
}

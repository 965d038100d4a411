package backend

import (
	"context"

	"github.com/luminetic/ensemble/types"
)

// Request is a single generation request against one model of one backend.
type Request struct {
	Prompt  string    `json:"prompt"`
	Model   string    `json:"model"`
	Options types.Map `json:"options,omitempty"`
}

// Response is the completed output of a generation request.
type Response struct {
	Text string `json:"text"`
	// Confidence is the backend's own estimate in [0,1]; zero means the
	// backend reported none and callers should fall back to their own.
	Confidence float64 `json:"confidence,omitempty"`
	Model      string  `json:"model,omitempty"`
	Usage      Usage   `json:"usage,omitempty"`
}

// Usage reports token consumption when the backend provides it; zero
// fields mean unreported and the client estimates instead.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
}

// Backend adapts one upstream inference service.
//
// Implementations map upstream failures onto *types.Error (usually via
// ErrorFromStatus) so retry and circuit-breaking policies can classify them
// without knowing the vendor.
type Backend interface {
	// Name returns the unique backend identifier used for routing,
	// circuit-breaker scoping and logging.
	Name() string

	// Generate runs one synchronous completion.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Stream runs one completion, delivering output incrementally.
	// The returned stream must be closed by the caller.
	Stream(ctx context.Context, req Request) (TokenStream, error)

	// HealthCheck probes the upstream; nil means routable.
	HealthCheck(ctx context.Context) error
}

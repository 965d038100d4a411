package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/luminetic/ensemble/internal/tlsutil"
	"github.com/luminetic/ensemble/types"
)

// RemoteConfig configures a Remote backend.
type RemoteConfig struct {
	// BaseURL of the upstream, e.g. "https://inference.internal:8443".
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Timeout bounds each HTTP call; streaming calls use it for the
	// initial response only.
	Timeout time.Duration
	// HTTPClient overrides the hardened default client.
	HTTPClient *http.Client
}

// Remote adapts an upstream that speaks the plain generate/stream JSON
// protocol: POST /v1/generate and /v1/stream with a Request body, GET
// /healthz. Stream responses are newline-delimited Token JSON.
type Remote struct {
	name   string
	cfg    RemoteConfig
	http   *http.Client
	logger *zap.Logger
}

// NewRemote creates a remote backend named name.
func NewRemote(name string, cfg RemoteConfig, logger *zap.Logger) *Remote {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = tlsutil.HTTPClient(cfg.Timeout)
	}
	return &Remote{
		name:   name,
		cfg:    cfg,
		http:   client,
		logger: logger.With(zap.String("component", "backend"), zap.String("backend", name)),
	}
}

// Name implements Backend.
func (r *Remote) Name() string { return r.name }

// Generate implements Backend.
func (r *Remote) Generate(ctx context.Context, req Request) (*Response, error) {
	httpResp, err := r.post(ctx, "/v1/generate", req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, r.statusError(httpResp)
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, types.NewError(types.ErrBackend, "decode generate response").
			WithOp(r.name).WithCause(err)
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return &resp, nil
}

// Stream implements Backend. The response body is consumed line by line
// in a producer goroutine; closing the returned stream aborts the read.
func (r *Remote) Stream(ctx context.Context, req Request) (TokenStream, error) {
	httpResp, err := r.post(ctx, "/v1/stream", req)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, r.statusError(httpResp)
	}

	st := NewStream(16)
	go func() {
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var tok Token
			if err := json.Unmarshal(line, &tok); err != nil {
				st.Fail(types.NewError(types.ErrBackend, "decode stream token").
					WithOp(r.name).WithCause(err))
				return
			}
			if err := st.Push(ctx, tok); err != nil {
				// Consumer closed or ctx ended; stop reading.
				return
			}
		}
		if err := scanner.Err(); err != nil {
			st.Fail(types.NewError(types.ErrBackend, "read stream").
				WithOp(r.name).WithCause(err))
			return
		}
		st.CloseSend()
	}()
	return st, nil
}

// HealthCheck implements Backend.
func (r *Remote) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/healthz", nil)
	if err != nil {
		return types.NewError(types.ErrBackend, "build health request").WithOp(r.name).WithCause(err)
	}
	r.auth(httpReq)

	resp, err := r.http.Do(httpReq)
	if err != nil {
		return types.NewError(types.ErrUnavailable, "health check failed").WithOp(r.name).WithCause(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return ErrorFromStatus(r.name, resp.StatusCode, "unhealthy upstream")
	}
	return nil
}

func (r *Remote) post(ctx context.Context, path string, req Request) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "encode request").WithOp(r.name).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "build request").WithOp(r.name).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	r.auth(httpReq)

	resp, err := r.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrUnavailable, "upstream unreachable").
			WithOp(r.name).WithCause(err)
	}
	return resp, nil
}

func (r *Remote) auth(req *http.Request) {
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}
}

// statusError reads the error body, if any, and maps the status onto the
// taxonomy. Bodies look like {"error":{"message":"..."}} but any shape
// degrades to the raw text.
func (r *Remote) statusError(resp *http.Response) error {
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	msg := strings.TrimSpace(string(raw))

	var wrapper struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Error.Message != "" {
		msg = wrapper.Error.Message
	}
	if msg == "" {
		msg = fmt.Sprintf("upstream returned %d", resp.StatusCode)
	}

	r.logger.Warn("upstream error",
		zap.Int("status", resp.StatusCode),
		zap.String("message", msg),
	)
	return ErrorFromStatus(r.name, resp.StatusCode, msg)
}

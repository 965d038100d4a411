package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luminetic/ensemble/types"
)

func newRemote(t *testing.T, handler http.Handler) *Remote {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRemote("upstream", RemoteConfig{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		Timeout:    5 * time.Second,
		HTTPClient: srv.Client(),
	}, zap.NewNop())
}

func TestRemote_Generate(t *testing.T) {
	var gotAuth, gotPath string
	r := newRemote(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		gotPath = req.URL.Path

		var in Request
		require.NoError(t, json.NewDecoder(req.Body).Decode(&in))
		assert.Equal(t, "summarize", in.Prompt)

		json.NewEncoder(w).Encode(Response{
			Text:       "a summary",
			Confidence: 0.93,
			Usage:      Usage{PromptTokens: 5, CompletionTokens: 12},
		})
	}))

	resp, err := r.Generate(context.Background(), Request{Prompt: "summarize", Model: "atlas-large"})

	require.NoError(t, err)
	assert.Equal(t, "a summary", resp.Text)
	assert.Equal(t, 0.93, resp.Confidence)
	assert.Equal(t, 12, resp.Usage.CompletionTokens)
	assert.Equal(t, "atlas-large", resp.Model, "model backfilled from the request")
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "/v1/generate", gotPath)
}

func TestRemote_GenerateMapsStatusErrors(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		wantCode types.ErrorCode
	}{
		{http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, types.ErrRateLimited},
		{http.StatusNotFound, `{"error":{"message":"no such model"}}`, types.ErrUnsupportedTarget},
		{http.StatusServiceUnavailable, "plain text outage", types.ErrUnavailable},
		{http.StatusUnauthorized, "", types.ErrAuthentication},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			r := newRemote(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))

			_, err := r.Generate(context.Background(), Request{Prompt: "p", Model: "m"})

			require.Error(t, err)
			assert.True(t, types.IsCode(err, tt.wantCode), "status %d should map to %s, got %v", tt.status, tt.wantCode, err)
		})
	}
}

func TestRemote_GenerateUnreachable(t *testing.T) {
	r := NewRemote("upstream", RemoteConfig{
		BaseURL: "http://127.0.0.1:1", // nothing listens here
		Timeout: time.Second,
	}, zap.NewNop())

	_, err := r.Generate(context.Background(), Request{Prompt: "p", Model: "m"})

	assert.True(t, types.IsCode(err, types.ErrUnavailable))
	assert.True(t, types.IsRetryable(err))
}

func TestRemote_StreamDecodesTokenLines(t *testing.T) {
	r := newRemote(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v1/stream", req.URL.Path)
		for i, text := range []string{"stream", "ing ", "works"} {
			tok := Token{Text: text, Index: i, Final: i == 2}
			data, _ := json.Marshal(tok)
			fmt.Fprintf(w, "%s\n", data)
		}
	}))

	ts, err := r.Stream(context.Background(), Request{Prompt: "p", Model: "m"})
	require.NoError(t, err)

	got, err := Drain(context.Background(), ts)
	require.NoError(t, err)
	assert.Equal(t, "streaming works", got)
}

func TestRemote_StreamFailsOnGarbage(t *testing.T) {
	r := newRemote(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintln(w, `{"text":"ok","index":0}`)
		fmt.Fprintln(w, `not json at all`)
	}))

	ts, err := r.Stream(context.Background(), Request{Prompt: "p", Model: "m"})
	require.NoError(t, err)

	_, err = Drain(context.Background(), ts)
	assert.True(t, types.IsCode(err, types.ErrBackend))
}

func TestRemote_StreamErrorStatus(t *testing.T) {
	r := newRemote(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"prompt too long"}}`)
	}))

	_, err := r.Stream(context.Background(), Request{Prompt: "p", Model: "m"})

	assert.True(t, types.IsCode(err, types.ErrMalformedRequest))
}

func TestRemote_HealthCheck(t *testing.T) {
	healthy := true
	r := newRemote(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/healthz", req.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))

	assert.NoError(t, r.HealthCheck(context.Background()))

	healthy = false
	err := r.HealthCheck(context.Background())
	assert.True(t, types.IsCode(err, types.ErrUnavailable))
}

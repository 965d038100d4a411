package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luminetic/ensemble/types"
	"github.com/luminetic/ensemble/workflow"
)

// stubEngine satisfies WorkflowEngine through optional function fields;
// unset fields succeed with zero values.
type stubEngine struct {
	validate func(*workflow.Workflow) error
	execute  func(context.Context, *workflow.Workflow) (*workflow.Result, error)
	optimize func(*workflow.Workflow) (*workflow.Workflow, error)
}

func (s *stubEngine) Validate(wf *workflow.Workflow) error {
	if s.validate != nil {
		return s.validate(wf)
	}
	return nil
}

func (s *stubEngine) Execute(ctx context.Context, wf *workflow.Workflow) (*workflow.Result, error) {
	if s.execute != nil {
		return s.execute(ctx, wf)
	}
	return &workflow.Result{Success: true, Outputs: types.Map{}}, nil
}

func (s *stubEngine) Optimize(wf *workflow.Workflow) (*workflow.Workflow, error) {
	if s.optimize != nil {
		return s.optimize(wf)
	}
	return wf, nil
}

func postJSON(h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	h(w, r)
	return w
}

func TestWorkflowHandler_ValidateOK(t *testing.T) {
	h := NewWorkflowHandler(&stubEngine{validate: workflow.Validate}, zap.NewNop())

	body := `{"name":"demo","steps":[
		{"id":"a","prompt_template":"first"},
		{"id":"b","prompt_template":"second","depends_on":["a"]}
	]}`
	w := postJSON(h.HandleValidate, "/v1/workflows/validate", body)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeAs[ValidationResult](t, w)
	assert.True(t, env.Success)
	assert.True(t, env.Data.Valid)
	assert.Equal(t, 2, env.Data.Steps)
}

func TestWorkflowHandler_ValidateRejectsCycle(t *testing.T) {
	h := NewWorkflowHandler(&stubEngine{validate: workflow.Validate}, zap.NewNop())

	body := `{"name":"loop","steps":[
		{"id":"a","depends_on":["b"]},
		{"id":"b","depends_on":["a"]}
	]}`
	w := postJSON(h.HandleValidate, "/v1/workflows/validate", body)

	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeAs[any](t, w)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(types.ErrCyclicDependency), env.Error.Code)
}

func TestWorkflowHandler_ValidateRejectsUnknownDependency(t *testing.T) {
	h := NewWorkflowHandler(&stubEngine{validate: workflow.Validate}, zap.NewNop())

	body := `{"name":"dangling","steps":[{"id":"a","depends_on":["ghost"]}]}`
	w := postJSON(h.HandleValidate, "/v1/workflows/validate", body)

	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeAs[any](t, w)
	assert.Equal(t, string(types.ErrValidation), env.Error.Code)
}

func TestWorkflowHandler_ExecuteReturnsResult(t *testing.T) {
	want := &workflow.Result{
		RunID:   "run-1",
		Success: true,
		Outputs: types.Map{
			"summary": types.String("done"),
			"score":   types.Number(0.9),
		},
		ExecutionTime: 120 * time.Millisecond,
	}
	var gotName string
	h := NewWorkflowHandler(&stubEngine{
		execute: func(_ context.Context, wf *workflow.Workflow) (*workflow.Result, error) {
			gotName = wf.Name
			return want, nil
		},
	}, zap.NewNop())

	body := `{"name":"demo","steps":[{"id":"a","output_key":"summary"}]}`
	w := postJSON(h.HandleExecute, "/v1/workflows/execute", body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "demo", gotName)

	env := decodeAs[workflow.Result](t, w)
	assert.True(t, env.Success)
	assert.Equal(t, "run-1", env.Data.RunID)
	assert.True(t, env.Data.Success)
	assert.True(t, env.Data.Outputs["summary"].Equal(types.String("done")))
	assert.True(t, env.Data.Outputs["score"].Equal(types.Number(0.9)))
}

func TestWorkflowHandler_ExecuteStepFailuresStayHTTP200(t *testing.T) {
	// A completed run with step errors is a domain outcome, not a
	// transport failure.
	res := &workflow.Result{
		RunID:   "run-2",
		Success: false,
		Outputs: types.Map{},
		Errors:  []workflow.StepError{{StepID: "b", Message: "backend unavailable"}},
	}
	h := NewWorkflowHandler(&stubEngine{
		execute: func(context.Context, *workflow.Workflow) (*workflow.Result, error) {
			return res, nil
		},
	}, zap.NewNop())

	w := postJSON(h.HandleExecute, "/v1/workflows/execute", `{"name":"x","steps":[{"id":"b"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeAs[workflow.Result](t, w)
	assert.True(t, env.Success)
	assert.False(t, env.Data.Success)
	require.Len(t, env.Data.Errors, 1)
	assert.Equal(t, "b", env.Data.Errors[0].StepID)
}

func TestWorkflowHandler_ExecuteRejectedInputIs400(t *testing.T) {
	h := NewWorkflowHandler(&stubEngine{
		execute: func(context.Context, *workflow.Workflow) (*workflow.Result, error) {
			return nil, types.NewValidationError("workflow has no steps")
		},
	}, zap.NewNop())

	w := postJSON(h.HandleExecute, "/v1/workflows/execute", `{"name":"empty","steps":[]}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeAs[any](t, w)
	assert.Equal(t, string(types.ErrValidation), env.Error.Code)
}

func TestWorkflowHandler_MalformedBodyIs400(t *testing.T) {
	h := NewWorkflowHandler(&stubEngine{}, zap.NewNop())

	w := postJSON(h.HandleExecute, "/v1/workflows/execute", `{"name":`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeAs[any](t, w)
	assert.Equal(t, string(types.ErrMalformedRequest), env.Error.Code)
}

func TestWorkflowHandler_RequiresJSONContentType(t *testing.T) {
	h := NewWorkflowHandler(&stubEngine{}, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/workflows/execute", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "text/plain")
	h.HandleExecute(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorkflowHandler_OptimizeAnnotatesWaves(t *testing.T) {
	h := NewWorkflowHandler(&stubEngine{optimize: workflow.Optimize}, zap.NewNop())

	body := `{"name":"plan","steps":[
		{"id":"a"},
		{"id":"b"},
		{"id":"c","depends_on":["a","b"]}
	]}`
	w := postJSON(h.HandleOptimize, "/v1/workflows/optimize", body)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeAs[workflow.Workflow](t, w)
	require.Len(t, env.Data.Steps, 3)

	byID := map[string]workflow.Step{}
	for _, s := range env.Data.Steps {
		byID[s.ID] = s
	}
	assert.Equal(t, 0, byID["a"].Hint.Wave)
	assert.Equal(t, 0, byID["b"].Hint.Wave)
	assert.Equal(t, 1, byID["c"].Hint.Wave)
	assert.True(t, byID["a"].Hint.Concurrent)
	assert.False(t, byID["c"].Hint.Concurrent)
}

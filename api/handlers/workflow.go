package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/luminetic/ensemble/workflow"
)

// WorkflowEngine is the slice of the engine the workflow endpoints need.
// *ensemble.Engine satisfies it.
type WorkflowEngine interface {
	Validate(wf *workflow.Workflow) error
	Execute(ctx context.Context, wf *workflow.Workflow) (*workflow.Result, error)
	Optimize(wf *workflow.Workflow) (*workflow.Workflow, error)
}

// WorkflowHandler serves the workflow entry points.
type WorkflowHandler struct {
	engine WorkflowEngine
	logger *zap.Logger
}

// NewWorkflowHandler creates a workflow handler.
func NewWorkflowHandler(engine WorkflowEngine, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{engine: engine, logger: logger}
}

// ValidationResult is the body of a successful validate call.
type ValidationResult struct {
	Valid bool `json:"valid"`
	Steps int  `json:"steps"`
}

// HandleValidate checks a workflow definition without running it.
// A structurally broken workflow is a 400 whose error names the problem.
//
// POST /v1/workflows/validate, body: workflow JSON.
func (h *WorkflowHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var wf workflow.Workflow
	if err := DecodeJSONBody(w, r, &wf, h.logger); err != nil {
		return
	}

	if err := h.engine.Validate(&wf); err != nil {
		WriteErrorFrom(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, ValidationResult{Valid: true, Steps: len(wf.Steps)})
}

// HandleExecute runs a workflow and returns its structured result. Step
// failures ride inside the result; only rejected input and aborted runs
// produce an error status.
//
// POST /v1/workflows/execute, body: workflow JSON.
func (h *WorkflowHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var wf workflow.Workflow
	if err := DecodeJSONBody(w, r, &wf, h.logger); err != nil {
		return
	}

	start := time.Now()
	res, err := h.engine.Execute(r.Context(), &wf)
	if err != nil {
		WriteErrorFrom(w, r, err, h.logger)
		return
	}

	h.logger.Info("workflow executed",
		zap.String("run_id", res.RunID),
		zap.String("workflow", wf.Name),
		zap.Bool("success", res.Success),
		zap.Int("step_errors", len(res.Errors)),
		zap.Duration("duration", time.Since(start)),
	)
	WriteSuccess(w, r, res)
}

// HandleOptimize returns a copy of the workflow annotated with execution
// hints (wave index, concurrency) without running it.
//
// POST /v1/workflows/optimize, body: workflow JSON.
func (h *WorkflowHandler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var wf workflow.Workflow
	if err := DecodeJSONBody(w, r, &wf, h.logger); err != nil {
		return
	}

	optimized, err := h.engine.Optimize(&wf)
	if err != nil {
		WriteErrorFrom(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, optimized)
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/luminetic/ensemble/strategy"
	"github.com/luminetic/ensemble/synthesis"
)

// CoordinationService runs one coordination request end to end.
// *coordinator.Coordinator and *ensemble.Engine satisfy it.
type CoordinationService interface {
	Coordinate(ctx context.Context, in *strategy.Input) (*synthesis.AggregatedResult, error)
}

// CoordinateHandler serves the coordination entry point.
type CoordinateHandler struct {
	svc    CoordinationService
	logger *zap.Logger
}

// NewCoordinateHandler creates a coordinate handler.
func NewCoordinateHandler(svc CoordinationService, logger *zap.Logger) *CoordinateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoordinateHandler{svc: svc, logger: logger}
}

// HandleCoordinate distributes a task across its domain plans and returns
// the synthesized result. Unit failures surface as zero-confidence
// contributions inside the result, not as an error status.
//
// POST /v1/coordinate, body: coordination input JSON.
func (h *CoordinateHandler) HandleCoordinate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var in strategy.Input
	if err := DecodeJSONBody(w, r, &in, h.logger); err != nil {
		return
	}

	start := time.Now()
	res, err := h.svc.Coordinate(r.Context(), &in)
	if err != nil {
		WriteErrorFrom(w, r, err, h.logger)
		return
	}

	h.logger.Info("coordination served",
		zap.String("strategy", string(in.Strategy)),
		zap.Int("contributions", len(res.Contributions)),
		zap.Float64("confidence", res.Confidence),
		zap.String("emergence", string(res.EmergenceLevel)),
		zap.Duration("duration", time.Since(start)),
	)
	WriteSuccess(w, r, res)
}

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/luminetic/ensemble/store"
	"github.com/luminetic/ensemble/types"
)

// defaultRunsLimit bounds a list call that names no limit of its own.
const defaultRunsLimit = 50

// RunReader is the read-only slice of the store the runs endpoints need.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*store.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*store.RunRecord, error)
	ListSnapshots(ctx context.Context, runID string) ([]*store.Snapshot, error)
}

// RunsHandler serves persisted run history.
type RunsHandler struct {
	reader RunReader
	logger *zap.Logger
}

// NewRunsHandler creates a runs handler.
func NewRunsHandler(reader RunReader, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{reader: reader, logger: logger}
}

// RunList is the body of a list call.
type RunList struct {
	Runs []*store.RunRecord `json:"runs"`
}

// SnapshotList is the body of a snapshot list call.
type SnapshotList struct {
	Snapshots []*store.Snapshot `json:"snapshots"`
}

// HandleGetRun returns one persisted run.
//
// GET /v1/runs/{id}.
func (h *RunsHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrValidation, "run id is required", h.logger)
		return
	}

	rec, err := h.reader.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, r, types.NewError(types.ErrNotFound, fmt.Sprintf("run %q not found", id)), h.logger)
		return
	}
	if err != nil {
		WriteErrorFrom(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, rec)
}

// HandleListRuns returns recent runs, newest first. The limit query
// parameter overrides the default page size.
//
// GET /v1/runs?limit=N.
func (h *RunsHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrValidation, "limit must be a positive integer", h.logger)
			return
		}
		limit = n
	}

	recs, err := h.reader.ListRuns(r.Context(), limit)
	if err != nil {
		WriteErrorFrom(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, RunList{Runs: recs})
}

// HandleListSnapshots returns the checkpoint snapshots of one run in
// creation order. A run that left no snapshots yields an empty list, so
// polling during a run never races the final run record.
//
// GET /v1/runs/{id}/snapshots.
func (h *RunsHandler) HandleListSnapshots(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrValidation, "run id is required", h.logger)
		return
	}

	snaps, err := h.reader.ListSnapshots(r.Context(), id)
	if err != nil {
		WriteErrorFrom(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, SnapshotList{Snapshots: snaps})
}

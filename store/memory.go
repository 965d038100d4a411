package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luminetic/ensemble/types"
)

// MemoryStore is an in-memory Store. Records are copied on write and read so
// callers never share state with the store. Data is lost on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[string]*RunRecord
	workflows map[string]*WorkflowRecord
	snapshots map[string][]*Snapshot
	closed    bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[string]*RunRecord),
		workflows: make(map[string]*WorkflowRecord),
		snapshots: make(map[string][]*Snapshot),
	}
}

// SaveRun inserts a run record, assigning an ID and start time when unset.
func (s *MemoryStore) SaveRun(ctx context.Context, rec *RunRecord) error {
	if rec == nil {
		return types.NewValidationError("run record is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	cp := *rec
	s.runs[rec.ID] = &cp
	return nil
}

// GetRun loads a run record by ID.
func (s *MemoryStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rec, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *rec
	return &cp, nil
}

// ListRuns returns run records newest first. A non-positive limit returns
// every record.
func (s *MemoryStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	out := make([]*RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		cp := *rec
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// SaveWorkflow inserts or replaces a workflow definition.
func (s *MemoryStore) SaveWorkflow(ctx context.Context, rec *WorkflowRecord) error {
	if rec == nil {
		return types.NewValidationError("workflow record is nil")
	}
	if rec.ID == "" {
		return types.NewValidationError("workflow record id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.ModifiedAt = now

	cp := *rec
	s.workflows[rec.ID] = &cp
	return nil
}

// GetWorkflow loads a workflow definition by ID.
func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rec, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *rec
	return &cp, nil
}

// SaveSnapshot inserts a checkpoint snapshot for a run.
func (s *MemoryStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return types.NewValidationError("snapshot is nil")
	}
	if snap.RunID == "" {
		return types.NewValidationError("snapshot run id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}

	cp := *snap
	s.snapshots[snap.RunID] = append(s.snapshots[snap.RunID], &cp)
	return nil
}

// ListSnapshots returns a run's snapshots oldest first.
func (s *MemoryStore) ListSnapshots(ctx context.Context, runID string) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	snaps := s.snapshots[runID]
	out := make([]*Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		cp := *snap
		out = append(out, &cp)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Close marks the store closed. Subsequent operations return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)

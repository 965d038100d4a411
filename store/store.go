package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("store: closed")

// RunKind discriminates what produced a run record.
type RunKind string

const (
	// RunKindWorkflow marks records written by the workflow executor.
	RunKindWorkflow RunKind = "workflow"
	// RunKindCoordination marks records written by the coordinator.
	RunKindCoordination RunKind = "coordination"
)

// RunRecord is the persisted outcome of one workflow or coordination run.
// Outputs and errors are stored as JSON so the row shape stays stable while
// the in-memory types evolve.
type RunRecord struct {
	ID               string    `json:"id" gorm:"primaryKey;size:36"`
	WorkflowID       string    `json:"workflow_id" gorm:"index;size:64"`
	Kind             RunKind   `json:"kind" gorm:"index;size:16"`
	Success          bool      `json:"success"`
	OutputsJSON      string    `json:"outputs_json"`
	ErrorsJSON       string    `json:"errors_json"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	DurationMS       int64     `json:"duration_ms"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
}

// WorkflowRecord is a stored workflow definition, serialized to JSON.
type WorkflowRecord struct {
	ID             string    `json:"id" gorm:"primaryKey;size:64"`
	Name           string    `json:"name" gorm:"index;size:128"`
	DefinitionJSON string    `json:"definition_json"`
	CreatedAt      time.Time `json:"created_at"`
	ModifiedAt     time.Time `json:"modified_at"`
}

// Snapshot is a checkpoint of a run context captured mid-run by a
// checkpoint step.
type Snapshot struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	RunID       string    `json:"run_id" gorm:"index;size:36"`
	StepID      string    `json:"step_id" gorm:"size:64"`
	ContextJSON string    `json:"context_json"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the run and workflow repository. Implementations must be safe
// for concurrent use.
type Store interface {
	// SaveRun inserts a run record.
	SaveRun(ctx context.Context, rec *RunRecord) error
	// GetRun loads a run record by ID. ErrNotFound when absent.
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	// ListRuns returns the most recent run records, newest first.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// SaveWorkflow inserts or replaces a workflow definition.
	SaveWorkflow(ctx context.Context, rec *WorkflowRecord) error
	// GetWorkflow loads a workflow definition by ID. ErrNotFound when absent.
	GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error)

	// SaveSnapshot inserts a checkpoint snapshot.
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	// ListSnapshots returns all snapshots for a run, oldest first.
	ListSnapshots(ctx context.Context, runID string) ([]*Snapshot, error)

	// Close releases the underlying resources.
	Close() error
}

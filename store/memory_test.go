package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminetic/ensemble/types"
)

func sampleRun(id string, startedAt time.Time) *RunRecord {
	return &RunRecord{
		ID:               id,
		WorkflowID:       "wf-1",
		Kind:             RunKindWorkflow,
		Success:          true,
		OutputsJSON:      `{"summary":"done"}`,
		ErrorsJSON:       "[]",
		StartedAt:        startedAt,
		FinishedAt:       startedAt.Add(2 * time.Second),
		DurationMS:       2000,
		PromptTokens:     42,
		CompletionTokens: 17,
	}
}

func TestMemoryStore_RunRoundTrip(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	rec := sampleRun("run-1", started)
	require.NoError(t, st.SaveRun(ctx, rec))

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// The store hands out copies; mutating one must not leak back.
	got.OutputsJSON = "tampered"
	again, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"done"}`, again.OutputsJSON)
}

func TestMemoryStore_SaveRunAssignsDefaults(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	rec := &RunRecord{Kind: RunKindCoordination}
	require.NoError(t, st.SaveRun(ctx, rec))

	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.StartedAt.IsZero())

	got, err := st.GetRun(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, RunKindCoordination, got.Kind)
}

func TestMemoryStore_SaveRunNilRejected(t *testing.T) {
	st := NewMemoryStore()

	err := st.SaveRun(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestMemoryStore_GetRunMissing(t *testing.T) {
	st := NewMemoryStore()

	_, err := st.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListRunsNewestFirst(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := sampleRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, st.SaveRun(ctx, rec))
	}

	newest, err := st.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "run-2", newest[0].ID)
	assert.Equal(t, "run-1", newest[1].ID)

	all, err := st.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStore_WorkflowUpsert(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	first := &WorkflowRecord{ID: "wf-1", Name: "draft", DefinitionJSON: `{"steps":1}`}
	require.NoError(t, st.SaveWorkflow(ctx, first))

	second := &WorkflowRecord{ID: "wf-1", Name: "draft", DefinitionJSON: `{"steps":2}`}
	require.NoError(t, st.SaveWorkflow(ctx, second))

	got, err := st.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, `{"steps":2}`, got.DefinitionJSON)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.ModifiedAt.Before(got.CreatedAt))
}

func TestMemoryStore_WorkflowRequiresID(t *testing.T) {
	st := NewMemoryStore()

	err := st.SaveWorkflow(context.Background(), &WorkflowRecord{Name: "anonymous"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))

	_, err = st.GetWorkflow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_SnapshotsOldestFirst(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	for i := 2; i >= 0; i-- {
		snap := &Snapshot{
			ID:          fmt.Sprintf("snap-%d", i),
			RunID:       "run-1",
			StepID:      fmt.Sprintf("step-%d", i),
			ContextJSON: "{}",
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, st.SaveSnapshot(ctx, snap))
	}
	require.NoError(t, st.SaveSnapshot(ctx, &Snapshot{RunID: "run-2", ContextJSON: "{}"}))

	snaps, err := st.ListSnapshots(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, "snap-0", snaps[0].ID)
	assert.Equal(t, "snap-1", snaps[1].ID)
	assert.Equal(t, "snap-2", snaps[2].ID)

	empty, err := st.ListSnapshots(ctx, "run-9")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStore_SnapshotRequiresRunID(t *testing.T) {
	st := NewMemoryStore()

	err := st.SaveSnapshot(context.Background(), &Snapshot{ContextJSON: "{}"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestMemoryStore_ClosedStoreErrors(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.Close())

	assert.ErrorIs(t, st.SaveRun(ctx, sampleRun("r", time.Now())), ErrClosed)
	_, err := st.GetRun(ctx, "r")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = st.ListRuns(ctx, 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, st.SaveWorkflow(ctx, &WorkflowRecord{ID: "wf"}), ErrClosed)
	_, err = st.GetWorkflow(ctx, "wf")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, st.SaveSnapshot(ctx, &Snapshot{RunID: "r"}), ErrClosed)
	_, err = st.ListSnapshots(ctx, "r")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryStore_ConcurrentSaves(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				rec := sampleRun(fmt.Sprintf("run-%d-%d", g, i), time.Now())
				assert.NoError(t, st.SaveRun(ctx, rec))
			}
		}(g)
	}
	wg.Wait()

	all, err := st.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 40)
}

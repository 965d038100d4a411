package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luminetic/ensemble/backend"
	"github.com/luminetic/ensemble/store"
	"github.com/luminetic/ensemble/testutil/mocks"
	"github.com/luminetic/ensemble/types"
)

// recorderStub captures persisted records in memory.
type recorderStub struct {
	mu        sync.Mutex
	runs      []*store.RunRecord
	snapshots []*store.Snapshot
	runErr    error
	snapErr   error
}

func (r *recorderStub) SaveRun(_ context.Context, rec *store.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runErr != nil {
		return r.runErr
	}
	r.runs = append(r.runs, rec)
	return nil
}

func (r *recorderStub) SaveSnapshot(_ context.Context, snap *store.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapErr != nil {
		return r.snapErr
	}
	r.snapshots = append(r.snapshots, snap)
	return nil
}

// echoBackend answers every prompt with out(<prompt>) so substitution
// chains stay visible in the outputs.
func echoBackend() *mocks.MockBackend {
	return mocks.NewMockBackend().WithGenerateFunc(
		func(_ context.Context, req backend.Request) (*backend.Response, error) {
			return &backend.Response{
				Text:       "out(" + req.Prompt + ")",
				Confidence: 0.9,
				Model:      req.Model,
				Usage:      backend.Usage{PromptTokens: 2, CompletionTokens: 3},
			}, nil
		})
}

func newExecutor(gen Generator, opts Options) *Executor {
	return NewExecutor(gen, opts, zap.NewNop())
}

func mustString(t *testing.T, outputs types.Map, key string) string {
	t.Helper()
	v, ok := outputs[key]
	require.True(t, ok, "output %q missing", key)
	s, ok := v.AsString()
	require.True(t, ok, "output %q is not a string", key)
	return s
}

func TestExecutor_LinearPipeline(t *testing.T) {
	mock := echoBackend()
	e := newExecutor(mock, Options{})

	wf := New("pipeline",
		Step{ID: "a", Kind: KindInference, BackendRef: "m1", PromptTemplate: "draft A", OutputKey: "a"},
		Step{ID: "b", Kind: KindInference, BackendRef: "m2", PromptTemplate: "draft B", OutputKey: "b"},
		Step{ID: "c", Kind: KindInference, BackendRef: "m1", PromptTemplate: "combine {{a}} and {{b}}",
			DependsOn: []string{"a", "b"}, OutputKey: "c"},
	)

	res, err := e.Execute(context.Background(), wf)

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Errors)
	assert.NotEmpty(t, res.RunID)
	assert.Positive(t, res.ExecutionTime)
	assert.Equal(t, 3, mock.CallCount())

	combined := mustString(t, res.Outputs, "c")
	assert.Contains(t, combined, "out(draft A)")
	assert.Contains(t, combined, "out(draft B)")
}

func TestExecutor_InvalidWorkflowReturnsError(t *testing.T) {
	mock := echoBackend()
	e := newExecutor(mock, Options{})

	wf := New("cyclic", step("a", "b"), step("b", "a"))

	res, err := e.Execute(context.Background(), wf)

	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, types.IsCode(err, types.ErrCyclicDependency))
	assert.Zero(t, mock.CallCount())
}

func TestExecutor_UnresolvedPlaceholderAborts(t *testing.T) {
	mock := echoBackend()
	e := newExecutor(mock, Options{})

	wf := New("broken",
		Step{ID: "a", Kind: KindInference, BackendRef: "m", PromptTemplate: "use {{nothing}}", OutputKey: "a"},
		Step{ID: "b", Kind: KindInference, BackendRef: "m", PromptTemplate: "after {{a}}",
			DependsOn: []string{"a"}, OutputKey: "b"},
	)

	res, err := e.Execute(context.Background(), wf)

	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "a", res.Errors[0].StepID)
	assert.Contains(t, res.Errors[0].Message, "nothing")
	// The template failed before any backend call, and b never started.
	assert.Zero(t, mock.CallCount())
}

func TestExecutor_TransformHandler(t *testing.T) {
	mock := echoBackend()
	e := newExecutor(mock, Options{
		Transforms: map[string]TransformFunc{
			"shout": func(_ context.Context, vars types.Map) (types.Value, error) {
				s, _ := vars["a"].AsString()
				return types.String(strings.ToUpper(s)), nil
			},
		},
	})

	wf := New("transforming",
		Step{ID: "a", Kind: KindInference, BackendRef: "m", PromptTemplate: "quiet", OutputKey: "a"},
		Step{ID: "t", Kind: KindTransform, Options: types.Map{"handler": types.String("shout")},
			DependsOn: []string{"a"}, OutputKey: "loud"},
	)

	res, err := e.Execute(context.Background(), wf)

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "OUT(QUIET)", mustString(t, res.Outputs, "loud"))
}

func TestExecutor_UnknownTransformHandlerFails(t *testing.T) {
	e := newExecutor(echoBackend(), Options{})

	wf := New("missing-handler",
		Step{ID: "t", Kind: KindTransform, Options: types.Map{"handler": types.String("nope")}, OutputKey: "x"},
	)

	res, err := e.Execute(context.Background(), wf)

	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, `"nope"`)
}

func TestExecutor_RegisteredTransformAfterConstruction(t *testing.T) {
	e := newExecutor(echoBackend(), Options{})
	e.RegisterTransform("len", func(_ context.Context, vars types.Map) (types.Value, error) {
		return types.Int(len(vars)), nil
	})

	wf := New("registered",
		Step{ID: "a", Kind: KindInference, BackendRef: "m", PromptTemplate: "p", OutputKey: "a"},
		Step{ID: "t", Kind: KindTransform, Options: types.Map{"handler": types.String("len")},
			DependsOn: []string{"a"}, OutputKey: "count"},
	)

	res, err := e.Execute(context.Background(), wf)

	require.NoError(t, err)
	assert.True(t, res.Success)
	n, ok := res.Outputs["count"].AsInt()
	require.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestExecutor_BranchComparesContextValue(t *testing.T) {
	e := newExecutor(echoBackend(), Options{})

	wf := New("branching",
		Step{ID: "a", Kind: KindInference, BackendRef: "m", PromptTemplate: "ping", OutputKey: "a"},
		Step{ID: "match", Kind: KindBranch,
			Options:   types.Map{"when": types.String("a"), "equals": types.String("out(ping)")},
			DependsOn: []string{"a"}, OutputKey: "matched"},
		Step{ID: "differ", Kind: KindBranch,
			Options:   types.Map{"when": types.String("a"), "equals": types.String("other")},
			DependsOn: []string{"a"}, OutputKey: "differed"},
	)

	res, err := e.Execute(context.Background(), wf)

	require.NoError(t, err)
	assert.True(t, res.Success)
	matched, ok := res.Outputs["matched"].AsBool()
	require.True(t, ok)
	assert.True(t, matched)
	differed, ok := res.Outputs["differed"].AsBool()
	require.True(t, ok)
	assert.False(t, differed)
}

func TestExecutor_BranchAbsentKeyComparesAsNull(t *testing.T) {
	e := newExecutor(echoBackend(), Options{})

	wf := New("probe",
		Step{ID: "b", Kind: KindBranch,
			Options: types.Map{"when": types.String("never-posted"), "equals": types.Null()}, OutputKey: "absent"},
	)

	res, err := e.Execute(context.Background(), wf)

	require.NoError(t, err)
	assert.True(t, res.Success)
	absent, ok := res.Outputs["absent"].AsBool()
	require.True(t, ok)
	assert.True(t, absent)
}

func TestExecutor_BranchFailureDoesNotAbort(t *testing.T) {
	mock := echoBackend()
	e := newExecutor(mock, Options{})

	// The branch is misconfigured (no "equals") but fault-tolerant, so the
	// dependent inference step still runs.
	wf := New("tolerant",
		Step{ID: "bad", Kind: KindBranch, Options: types.Map{"when": types.String("x")}, OutputKey: "b"},
		Step{ID: "after", Kind: KindInference, BackendRef: "m", PromptTemplate: "still running",
			DependsOn: []string{"bad"}, OutputKey: "after"},
	)

	res, err := e.Execute(context.Background(), wf)

	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "bad", res.Errors[0].StepID)
	assert.Equal(t, 1, mock.CallCount())
	assert.Equal(t, "out(still running)", mustString(t, res.Outputs, "after"))
}

func TestExecutor_InferenceFailureAbortsRemainingWaves(t *testing.T) {
	boom := types.NewError(types.ErrBackend, "model melted")
	mock := mocks.NewMockBackend().WithGenerateFunc(
		func(_ context.Context, req backend.Request) (*backend.Response, error) {
			if req.Model == "bad" {
				return nil, boom
			}
			return &backend.Response{Text: "ok"}, nil
		})
	e := newExecutor(mock, Options{})

	wf := New("abort",
		Step{ID: "a", Kind: KindInference, BackendRef: "good", PromptTemplate: "p", OutputKey: "a"},
		Step{ID: "b", Kind: KindInference, BackendRef: "bad", PromptTemplate: "p",
			DependsOn: []string{"a"}, OutputKey: "b"},
		Step{ID: "c", Kind: KindInference, BackendRef: "good", PromptTemplate: "p",
			DependsOn: []string{"b"}, OutputKey: "c"},
	)

	res, err := e.Execute(context.Background(), wf)

	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "b", res.Errors[0].StepID)
	assert.Contains(t, res.Outputs, "a")
	assert.NotContains(t, res.Outputs, "c")
	assert.Equal(t, 2, mock.CallCount())
}

func TestExecutor_CancellationDiscardsOutputs(t *testing.T) {
	mock := echoBackend().WithDelay(100 * time.Millisecond)
	e := newExecutor(mock, Options{})

	wf := New("slow",
		Step{ID: "a", Kind: KindInference, BackendRef: "m", PromptTemplate: "p", OutputKey: "a"},
		Step{ID: "b", Kind: KindInference, BackendRef: "m", PromptTemplate: "{{a}}",
			DependsOn: []string{"a"}, OutputKey: "b"},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()

	res, err := e.Execute(ctx, wf)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Empty(t, res.Outputs)
	assert.NotEmpty(t, res.RunID)
}

func TestExecutor_StepTimeoutFailsStepOnly(t *testing.T) {
	mock := echoBackend().WithDelay(100 * time.Millisecond)
	e := newExecutor(mock, Options{StepTimeout: 15 * time.Millisecond})

	wf := New("timeout",
		Step{ID: "a", Kind: KindInference, BackendRef: "m", PromptTemplate: "p", OutputKey: "a"},
	)

	res, err := e.Execute(context.Background(), wf)

	// The run completed; only the step inside it timed out.
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "a", res.Errors[0].StepID)
	assert.Contains(t, res.Errors[0].Message, "deadline")
}

func TestExecutor_WaveConcurrencyBounded(t *testing.T) {
	var current, peak atomic.Int32
	mock := mocks.NewMockBackend().WithGenerateFunc(
		func(_ context.Context, req backend.Request) (*backend.Response, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return &backend.Response{Text: "ok"}, nil
		})
	e := newExecutor(mock, Options{MaxConcurrent: 2})

	steps := make([]Step, 6)
	for i := range steps {
		steps[i] = Step{ID: string(rune('a' + i)), Kind: KindInference, BackendRef: "m", PromptTemplate: "p"}
	}
	wf := New("wide", steps...)

	res, err := e.Execute(context.Background(), wf)

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 6, mock.CallCount())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecutor_CheckpointPersistsSnapshot(t *testing.T) {
	rec := &recorderStub{}
	e := newExecutor(echoBackend(), Options{Recorder: rec})

	wf := New("checkpointed",
		Step{ID: "a", Kind: KindInference, BackendRef: "m", PromptTemplate: "p", OutputKey: "a"},
		Step{ID: "cp", Kind: KindCheckpoint, DependsOn: []string{"a"}, OutputKey: "snap"},
	)

	res, err := e.Execute(context.Background(), wf)

	require.NoError(t, err)
	assert.True(t, res.Success)

	require.Len(t, rec.snapshots, 1)
	snap := rec.snapshots[0]
	assert.Equal(t, res.RunID, snap.RunID)
	assert.Equal(t, "cp", snap.StepID)
	assert.Contains(t, snap.ContextJSON, `"a"`)
	assert.Equal(t, snap.ID, mustString(t, res.Outputs, "snap"))
}

func TestExecutor_CheckpointWithoutRecorderIsNoop(t *testing.T) {
	e := newExecutor(echoBackend(), Options{})

	wf := New("plain",
		Step{ID: "cp", Kind: KindCheckpoint},
	)

	res, err := e.Execute(context.Background(), wf)

	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecutor_CheckpointFailureDoesNotAbort(t *testing.T) {
	rec := &recorderStub{snapErr: errors.New("disk full")}
	mock := echoBackend()
	e := newExecutor(mock, Options{Recorder: rec})

	wf := New("degraded",
		Step{ID: "cp", Kind: KindCheckpoint, OutputKey: "snap"},
		Step{ID: "after", Kind: KindInference, BackendRef: "m", PromptTemplate: "p",
			DependsOn: []string{"cp"}, OutputKey: "after"},
	)

	res, err := e.Execute(context.Background(), wf)

	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "cp", res.Errors[0].StepID)
	assert.Equal(t, 1, mock.CallCount())
}

func TestExecutor_PersistsRunRecordWithUsage(t *testing.T) {
	rec := &recorderStub{}
	e := newExecutor(echoBackend(), Options{Recorder: rec})

	wf := New("recorded",
		Step{ID: "a", Kind: KindInference, BackendRef: "m", PromptTemplate: "p1", OutputKey: "a"},
		Step{ID: "b", Kind: KindInference, BackendRef: "m", PromptTemplate: "p2", OutputKey: "b"},
	)
	wf.ID = "wf-under-test"

	res, err := e.Execute(context.Background(), wf)

	require.NoError(t, err)
	require.Len(t, rec.runs, 1)
	row := rec.runs[0]
	assert.Equal(t, res.RunID, row.ID)
	assert.Equal(t, "wf-under-test", row.WorkflowID)
	assert.Equal(t, store.RunKindWorkflow, row.Kind)
	assert.True(t, row.Success)
	assert.Contains(t, row.OutputsJSON, `"a"`)
	assert.Equal(t, "[]", row.ErrorsJSON)
	assert.Equal(t, 4, row.PromptTokens)
	assert.Equal(t, 6, row.CompletionTokens)
	assert.False(t, row.StartedAt.IsZero())
	assert.False(t, row.FinishedAt.Before(row.StartedAt))
}

func TestExecutor_RunRecordFailureTolerated(t *testing.T) {
	rec := &recorderStub{runErr: errors.New("db down")}
	e := newExecutor(echoBackend(), Options{Recorder: rec})

	wf := New("resilient",
		Step{ID: "a", Kind: KindInference, BackendRef: "m", PromptTemplate: "p", OutputKey: "a"},
	)

	res, err := e.Execute(context.Background(), wf)

	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecutor_UnknownKindFails(t *testing.T) {
	e := newExecutor(echoBackend(), Options{})

	wf := New("odd", Step{ID: "x", Kind: Kind("mystery")})

	res, err := e.Execute(context.Background(), wf)

	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "mystery")
}

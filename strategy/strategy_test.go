package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luminetic/ensemble/backend"
	"github.com/luminetic/ensemble/internal/pool"
	"github.com/luminetic/ensemble/testutil/mocks"
	"github.com/luminetic/ensemble/types"
)

// --- helpers ---

// testDeps wires a coordinator against a private pool that closes with the
// test.
func testDeps(t *testing.T, gen Generator) Deps {
	t.Helper()
	p := pool.New(pool.Config{MaxWorkers: 4, QueueSize: 32})
	t.Cleanup(p.Close)
	return Deps{Generator: gen, Pool: p, Logger: zap.NewNop()}
}

// echoGen answers every prompt with text-<model> so folds stay traceable
// through recorded calls.
func echoGen() *mocks.MockBackend {
	return mocks.NewMockBackend().WithGenerateFunc(
		func(_ context.Context, req backend.Request) (*backend.Response, error) {
			return &backend.Response{
				Text:       "text-" + req.Model,
				Confidence: 0.9,
				Model:      req.Model,
			}, nil
		})
}

func domain(name string, models ...string) DomainPlan {
	d := DomainPlan{Domain: name}
	for _, m := range models {
		d.Targets = append(d.Targets, Target{Model: m})
	}
	return d
}

func sourceIDs(contribs []types.Contribution) []string {
	ids := make([]string, len(contribs))
	for i, c := range contribs {
		ids[i] = c.SourceID
	}
	return ids
}

func promptFor(t *testing.T, mock *mocks.MockBackend, model string) string {
	t.Helper()
	for _, call := range mock.Calls() {
		if call.Request.Model == model {
			return call.Request.Prompt
		}
	}
	t.Fatalf("no recorded call for model %q", model)
	return ""
}

// --- kind parsing and construction ---

func TestParseKind_AcceptsEveryStrategy(t *testing.T) {
	for _, s := range []string{"parallel", "sequential", "hierarchical", "adaptive", "grouped"} {
		k, err := ParseKind(s)
		require.NoError(t, err, s)
		assert.Equal(t, Kind(s), k)
	}
}

func TestParseKind_RejectsUnknown(t *testing.T) {
	_, err := ParseKind("quantum")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))

	_, err = ParseKind("")
	require.Error(t, err)
}

func TestNewCoordinator_SelectsKind(t *testing.T) {
	deps := testDeps(t, echoGen())
	for _, kind := range []Kind{KindParallel, KindSequential, KindHierarchical, KindAdaptive, KindGrouped} {
		c, err := NewCoordinator(kind, deps)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, c.Name())
	}
}

func TestNewCoordinator_RejectsUnknownKind(t *testing.T) {
	_, err := NewCoordinator(Kind("quantum"), testDeps(t, echoGen()))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestNewCoordinator_RequiresGenerator(t *testing.T) {
	_, err := NewCoordinator(KindParallel, Deps{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

// --- input validation ---

func TestRun_NilInputRejected(t *testing.T) {
	c, err := NewCoordinator(KindParallel, testDeps(t, echoGen()))
	require.NoError(t, err)

	_, err = c.Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestRun_EmptyDomainNameRejected(t *testing.T) {
	c, err := NewCoordinator(KindParallel, testDeps(t, echoGen()))
	require.NoError(t, err)

	in := &Input{Task: "t", Domains: []DomainPlan{{Domain: "", Targets: []Target{{Model: "m"}}}}}
	_, err = c.Run(context.Background(), in)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
	assert.Contains(t, err.Error(), "position 0")
}

func TestRun_EmptyModelRejected(t *testing.T) {
	c, err := NewCoordinator(KindSequential, testDeps(t, echoGen()))
	require.NoError(t, err)

	in := &Input{Task: "t", Domains: []DomainPlan{{Domain: "a", Targets: []Target{{Model: ""}}}}}
	_, err = c.Run(context.Background(), in)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
	assert.Contains(t, err.Error(), `domain "a"`)
}

func TestExpandDomains_DeclaredOrder(t *testing.T) {
	in := &Input{Domains: []DomainPlan{
		domain("a", "m1", "m2"),
		domain("b", "m3"),
	}}

	units := expandDomains(in)

	require.Len(t, units, 3)
	assert.Equal(t, "a/m1", units[0].sourceID())
	assert.Equal(t, "a/m2", units[1].sourceID())
	assert.Equal(t, "b/m3", units[2].sourceID())
}

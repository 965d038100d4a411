package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminetic/ensemble/types"
)

// step builds an inference step whose output key matches its ID.
func step(id string, deps ...string) Step {
	return Step{
		ID:             id,
		Kind:           KindInference,
		BackendRef:     "test-model",
		PromptTemplate: "prompt " + id,
		DependsOn:      deps,
		OutputKey:      id,
	}
}

func TestValidate_AcceptsDiamond(t *testing.T) {
	wf := New("diamond",
		step("a"),
		step("b", "a"),
		step("c", "a"),
		step("d", "b", "c"),
	)
	assert.NoError(t, Validate(wf))
}

func TestValidate_AcceptsEmptyWorkflow(t *testing.T) {
	assert.NoError(t, Validate(New("empty")))
}

func TestValidate_RejectsNilWorkflow(t *testing.T) {
	err := Validate(nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestValidate_RejectsEmptyStepID(t *testing.T) {
	wf := New("bad", step("a"), Step{ID: ""})
	err := Validate(wf)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
	assert.Contains(t, err.Error(), "position 1")
}

func TestValidate_RejectsDuplicateID(t *testing.T) {
	wf := New("bad", step("a"), step("a"))
	err := Validate(wf)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
	assert.Contains(t, err.Error(), `"a"`)
}

func TestValidate_RejectsUnknownDependency(t *testing.T) {
	wf := New("bad", step("a", "ghost"))
	err := Validate(wf)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
	assert.Contains(t, err.Error(), `"ghost"`)
}

func TestValidate_RejectsSelfDependency(t *testing.T) {
	wf := New("bad", step("a", "a"))
	err := Validate(wf)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCyclicDependency))
	assert.Contains(t, err.Error(), `"a"`)
}

func TestValidate_CycleNamesAStepOnIt(t *testing.T) {
	wf := New("bad",
		step("a", "b"),
		step("b", "c"),
		step("c", "a"),
	)
	err := Validate(wf)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCyclicDependency))

	var structured *types.Error
	require.ErrorAs(t, err, &structured)
	assert.Contains(t, []string{"a", "b", "c"}, structured.Op)
}

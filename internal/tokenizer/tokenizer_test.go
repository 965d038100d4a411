package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator_WeightsCharacterClasses(t *testing.T) {
	e := NewEstimator()

	ascii, err := e.Count("the quick brown fox jumps over the lazy dog")
	require.NoError(t, err)
	// 43 ASCII chars at ~4 chars/token.
	assert.InDelta(t, 11, ascii, 2)

	cjk, err := e.Count("你好世界你好世界")
	require.NoError(t, err)
	// 8 CJK chars at ~1.5 chars/token.
	assert.InDelta(t, 5, cjk, 1)

	empty, err := e.Count("")
	require.NoError(t, err)
	assert.Equal(t, 0, empty)

	one, err := e.Count("a")
	require.NoError(t, err)
	assert.Equal(t, 1, one, "non-empty text counts at least one token")
}

func TestRegistry_ExactThenPrefixThenEstimator(t *testing.T) {
	Register("atlas-large", NewEstimator())
	Register("atlas", NewTiktoken("gpt-4"))

	c, err := ForModel("atlas-large")
	require.NoError(t, err)
	assert.Equal(t, "estimator", c.Name(), "exact match wins over prefix")

	c, err = ForModel("atlas-small")
	require.NoError(t, err)
	assert.Contains(t, c.Name(), "tiktoken", "longest prefix matches")

	_, err = ForModel("unmapped-model")
	assert.Error(t, err)

	c = ForModelOrEstimate("unmapped-model")
	assert.Equal(t, "estimator", c.Name())
}

func TestNewTiktoken_EncodingSelection(t *testing.T) {
	assert.Equal(t, "tiktoken/o200k_base", NewTiktoken("gpt-4o-mini").Name())
	assert.Equal(t, "tiktoken/cl100k_base", NewTiktoken("gpt-4-turbo").Name())
	assert.Equal(t, "tiktoken/cl100k_base", NewTiktoken("atlas-large").Name(), "unknown models default")
}

func TestMustCount_NeverFails(t *testing.T) {
	n := MustCount("completely-unknown", "some prompt text here")
	assert.Greater(t, n, 0)
}

package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/luminetic/ensemble/types"
)

func TestHashKeyStrategy_Deterministic(t *testing.T) {
	s := NewHashKeyStrategy()

	a := s.Key("summarize this", "atlas-large", types.Map{
		"temperature": types.Number(0.7),
		"max_tokens":  types.Int(256),
	})
	b := s.Key("summarize this", "atlas-large", types.Map{
		"max_tokens":  types.Int(256),
		"temperature": types.Number(0.7),
	})

	assert.Equal(t, a, b, "option insertion order must not change the key")
}

func TestHashKeyStrategy_SensitiveToInputs(t *testing.T) {
	s := NewHashKeyStrategy()
	opts := types.Map{"temperature": types.Number(0.7)}

	base := s.Key("prompt", "atlas-large", opts)

	assert.NotEqual(t, base, s.Key("other prompt", "atlas-large", opts))
	assert.NotEqual(t, base, s.Key("prompt", "atlas-small", opts))
	assert.NotEqual(t, base, s.Key("prompt", "atlas-large", types.Map{"temperature": types.Number(0.9)}))
}

func TestHashKeyStrategy_NilOptions(t *testing.T) {
	s := NewHashKeyStrategy()

	a := s.Key("prompt", "atlas-large", nil)
	b := s.Key("prompt", "atlas-large", types.Map{})

	assert.Equal(t, a, b, "nil and empty options hash alike")
}

func TestHashKeyStrategy_Prefix(t *testing.T) {
	s := NewHashKeyStrategy()

	key := s.Key("prompt", "atlas-large", nil)

	assert.True(t, strings.HasPrefix(key, keyPrefix))
	assert.Len(t, key, len(keyPrefix)+32)
}

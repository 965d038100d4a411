package cache

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/luminetic/ensemble/types"
)

// KeyStrategy derives cache keys from the semantically relevant call
// parameters. Identical parameters must produce identical keys no matter
// the call order.
type KeyStrategy interface {
	Key(prompt, model string, options types.Map) string
}

const keyPrefix = "ensemble:gen:"

// HashKeyStrategy hashes the canonical serialization of the parameters, so
// the key is structural rather than tied to any in-memory representation.
type HashKeyStrategy struct{}

// NewHashKeyStrategy creates the default key strategy.
func NewHashKeyStrategy() *HashKeyStrategy {
	return &HashKeyStrategy{}
}

// Key returns "ensemble:gen:" + hex of the first 16 hash bytes.
func (s *HashKeyStrategy) Key(prompt, model string, options types.Map) string {
	payload := types.Object(types.Map{
		"model":   types.String(model),
		"options": types.Object(options),
		"prompt":  types.String(prompt),
	})

	sum := sha256.Sum256(payload.Canonical())
	return keyPrefix + hex.EncodeToString(sum[:16])
}

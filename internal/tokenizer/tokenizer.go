// Package tokenizer estimates token usage for accounting and adaptive
// strategy selection.
//
// Backends that report usage win; this package covers the ones that do not.
package tokenizer

import (
	"fmt"
	"sync"
)

// Counter counts tokens for one model family.
type Counter interface {
	// Count returns the token count of text.
	Count(text string) (int, error)

	// Name identifies the counter implementation.
	Name() string
}

var (
	countersMu sync.RWMutex
	counters   = make(map[string]Counter)
)

// Register installs a counter for a model name. Later lookups match the
// exact name first, then the longest registered prefix.
func Register(model string, c Counter) {
	countersMu.Lock()
	defer countersMu.Unlock()
	counters[model] = c
}

// ForModel returns the counter registered for model.
func ForModel(model string) (Counter, error) {
	countersMu.RLock()
	defer countersMu.RUnlock()

	if c, ok := counters[model]; ok {
		return c, nil
	}

	var best Counter
	bestLen := 0
	for prefix, c := range counters {
		if len(prefix) > bestLen && len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			best, bestLen = c, len(prefix)
		}
	}
	if best != nil {
		return best, nil
	}
	return nil, fmt.Errorf("no token counter registered for model %q", model)
}

// ForModelOrEstimate returns the registered counter, falling back to the
// character-ratio estimator for unknown models.
func ForModelOrEstimate(model string) Counter {
	if c, err := ForModel(model); err == nil {
		return c
	}
	return NewEstimator()
}

// MustCount counts with the best counter for model, falling back to the
// estimator if the preferred counter fails (e.g. encoding data missing).
func MustCount(model, text string) int {
	c := ForModelOrEstimate(model)
	n, err := c.Count(text)
	if err != nil {
		n, _ = NewEstimator().Count(text)
	}
	return n
}

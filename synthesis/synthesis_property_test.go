package synthesis

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/luminetic/ensemble/config"
	"github.com/luminetic/ensemble/types"
)

func drawBatch(rt *rapid.T) []types.Contribution {
	n := rapid.IntRange(0, 12).Draw(rt, "batchSize")
	out := make([]types.Contribution, n)
	for i := range out {
		out[i] = types.Contribution{
			SourceID:       fmt.Sprintf("d%d/m%d", i, i),
			Domain:         fmt.Sprintf("d%d", i),
			Text:           rapid.StringMatching(`[a-z ]{0,20}`).Draw(rt, fmt.Sprintf("text%d", i)),
			Confidence:     rapid.Float64Range(0, 1).Draw(rt, fmt.Sprintf("confidence%d", i)),
			Latency:        time.Duration(rapid.Int64Range(0, int64(time.Second)).Draw(rt, fmt.Sprintf("latency%d", i))),
			StrategyWeight: 1.0,
		}
	}
	return out
}

func TestProperty_ScoresStayInRange(t *testing.T) {
	s := New(config.SynthesisConfig{}, nil)

	rapid.Check(t, func(rt *rapid.T) {
		contribs := drawBatch(rt)
		wallClock := time.Duration(rapid.Int64Range(0, int64(time.Second)).Draw(rt, "wallClock"))

		res := s.Synthesize(contribs, wallClock)

		lo, hi := 0.0, 0.0
		for i, c := range contribs {
			if i == 0 || c.Confidence < lo {
				lo = c.Confidence
			}
			if c.Confidence > hi {
				hi = c.Confidence
			}
		}
		assert.GreaterOrEqual(rt, res.Confidence, lo)
		assert.LessOrEqual(rt, res.Confidence, hi)
		assert.GreaterOrEqual(rt, res.CoherenceScore, 0.0)
		assert.LessOrEqual(rt, res.CoherenceScore, 1.0)
		assert.GreaterOrEqual(rt, res.EfficiencyScore, 0.0)
	})
}

func TestProperty_InsightAppendedExactlyWhenDetected(t *testing.T) {
	s := New(config.SynthesisConfig{}, nil)

	rapid.Check(t, func(rt *rapid.T) {
		contribs := drawBatch(rt)

		res := s.Synthesize(contribs, 10*time.Millisecond)

		if res.EmergenceDetected {
			require.Len(rt, res.Contributions, len(contribs)+1)
			last := res.Contributions[len(contribs)]
			assert.Equal(rt, CollectiveInsightID, last.SourceID)
			for _, c := range contribs {
				assert.Contains(rt, last.Text, c.SourceID)
			}
		} else {
			assert.Len(rt, res.Contributions, len(contribs))
		}
		// Input contributions pass through untouched in order.
		for i, c := range contribs {
			assert.Equal(rt, c, res.Contributions[i])
		}
	})
}

func TestProperty_TextFooterMatchesBatch(t *testing.T) {
	s := New(config.SynthesisConfig{}, nil)

	rapid.Check(t, func(rt *rapid.T) {
		contribs := drawBatch(rt)

		res := s.Synthesize(contribs, 10*time.Millisecond)

		footerAt := strings.LastIndex(res.Text, "\n\n--- synthesis ---\n")
		require.GreaterOrEqual(rt, footerAt, 0, "footer marker missing")
		footer := res.Text[footerAt+len("\n\n--- synthesis ---\n"):]
		assert.True(rt, strings.HasPrefix(footer, fmt.Sprintf("contributions: %d | ", len(contribs))), footer)
		assert.True(rt, strings.HasSuffix(footer, string(res.EmergenceLevel)), footer)

		// One block per input contribution, in order.
		body := res.Text[:footerAt]
		last := -1
		for _, c := range contribs {
			header := fmt.Sprintf("[%s] %s (confidence ", c.Domain, c.SourceID)
			at := strings.Index(body, header)
			assert.Greater(rt, at, last, "block for %s out of order", c.SourceID)
			last = at
		}
	})
}

func TestProperty_SynthesisIsPure(t *testing.T) {
	s := New(config.SynthesisConfig{}, nil)

	rapid.Check(t, func(rt *rapid.T) {
		contribs := drawBatch(rt)
		wallClock := time.Duration(rapid.Int64Range(0, int64(time.Second)).Draw(rt, "wallClock"))

		first := s.Synthesize(contribs, wallClock)
		second := s.Synthesize(contribs, wallClock)

		assert.Equal(rt, first, second)
	})
}

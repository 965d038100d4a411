package strategy

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/luminetic/ensemble/types"
)

func strategyRank(k Kind) int {
	switch k {
	case KindParallel:
		return 0
	case KindHierarchical:
		return 1
	case KindGrouped:
		return 2
	default:
		return -1
	}
}

func TestProperty_ClassifyPureAndClosed(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		taskLen := rapid.IntRange(0, 2000).Draw(rt, "taskLen")
		ctxEntries := rapid.IntRange(0, 40).Draw(rt, "ctxEntries")
		domains := rapid.IntRange(0, 10).Draw(rt, "domains")

		in := adaptiveInput(taskLen, ctxEntries, domains)
		first := Classify(in)
		second := Classify(in)

		assert.Equal(rt, first, second, "classification must be deterministic")
		assert.GreaterOrEqual(rt, strategyRank(first), 0,
			"classification must be parallel, hierarchical or grouped, got %q", first)
	})
}

func TestProperty_ClassifyMonotoneInComplexity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		taskLen := rapid.IntRange(0, 600).Draw(rt, "taskLen")
		ctxEntries := rapid.IntRange(0, 25).Draw(rt, "ctxEntries")
		domains := rapid.IntRange(0, 7).Draw(rt, "domains")

		base := strategyRank(Classify(adaptiveInput(taskLen, ctxEntries, domains)))

		// Growing any one signal never selects a simpler strategy.
		moreTask := strategyRank(Classify(adaptiveInput(taskLen+rapid.IntRange(1, 600).Draw(rt, "dTask"), ctxEntries, domains)))
		moreCtx := strategyRank(Classify(adaptiveInput(taskLen, ctxEntries+rapid.IntRange(1, 25).Draw(rt, "dCtx"), domains)))
		moreDomains := strategyRank(Classify(adaptiveInput(taskLen, ctxEntries, domains+rapid.IntRange(1, 7).Draw(rt, "dDomains"))))

		assert.GreaterOrEqual(rt, moreTask, base)
		assert.GreaterOrEqual(rt, moreCtx, base)
		assert.GreaterOrEqual(rt, moreDomains, base)
	})
}

func TestProperty_PartitionTiersExactAndOrdered(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		high := rapid.Float64Range(0.05, 0.9).Draw(rt, "high")
		maximum := rapid.Float64Range(high, 1.0).Draw(rt, "maximum")
		n := rapid.IntRange(0, 20).Draw(rt, "units")

		units := make([]unit, n)
		for i := range units {
			affinity := rapid.Float64Range(0, 1).Draw(rt, fmt.Sprintf("affinity%d", i))
			units[i] = unit{domain: "d", target: Target{Model: fmt.Sprintf("u%d", i), Affinity: affinity}}
		}

		tiers := partition(units, maximum, high)

		total := 0
		for tierIdx, tier := range tiers {
			total += len(tier)
			lastIndex := -1
			for _, u := range tier {
				switch tierIdx {
				case tierMaximum:
					assert.GreaterOrEqual(rt, u.target.Affinity, maximum)
				case tierHigh:
					assert.GreaterOrEqual(rt, u.target.Affinity, high)
					assert.Less(rt, u.target.Affinity, maximum)
				case tierStandard:
					assert.Less(rt, u.target.Affinity, high)
				}

				var idx int
				_, err := fmt.Sscanf(u.target.Model, "u%d", &idx)
				require.NoError(rt, err)
				assert.Greater(rt, idx, lastIndex, "declared order must survive partitioning")
				lastIndex = idx
			}
		}
		assert.Equal(rt, n, total, "every unit lands in exactly one tier")
	})
}

func TestProperty_BuildPromptFoldContract(t *testing.T) {
	keyGen := rapid.StringMatching(`[a-z]{1,8}`)

	rapid.Check(t, func(rt *rapid.T) {
		task := rapid.StringMatching(`[ -~]{0,40}`).Filter(func(s string) bool {
			return !strings.Contains(s, "{{")
		}).Draw(rt, "task")

		vars := types.Map{}
		foldKeys := rapid.SliceOfNDistinct(keyGen, 0, 5, rapid.ID[string]).Draw(rt, "foldKeys")
		for i, k := range foldKeys {
			foldKeys[i] = "previous_" + k
			vars[foldKeys[i]] = types.String(fmt.Sprintf("fold%d", i))
		}
		plainKeys := rapid.SliceOfNDistinct(keyGen, 0, 5, rapid.ID[string]).Draw(rt, "plainKeys")
		for i, k := range plainKeys {
			vars[k] = types.String(fmt.Sprintf("plain%d", i))
		}

		got := buildPrompt(task, vars)

		assert.True(rt, strings.HasPrefix(got, task), "rendered task must lead the prompt")
		appended := strings.TrimPrefix(got, task)
		for _, k := range foldKeys {
			assert.Contains(rt, appended, "\n["+k+"] ")
		}
		for _, k := range plainKeys {
			assert.NotContains(rt, appended, "["+k+"]")
		}

		// Fold lines appear in sorted key order.
		sorted := append([]string(nil), foldKeys...)
		sort.Strings(sorted)
		last := -1
		for _, k := range sorted {
			pos := strings.Index(appended, "\n["+k+"] ")
			assert.Greater(rt, pos, last)
			last = pos
		}
	})
}

// Copyright (c) Ensemble Authors.
// Licensed under the MIT License.

/*
Package synthesis folds a batch of contributions into one aggregated
result.

[Synthesizer.Synthesize] derives three scores from the batch: mean
confidence, wall-clock efficiency against summed unit latency, and a
coherence score from the spread of confidences. When confidence clears the
emergence threshold over a large enough batch, a synthetic
"collective-insight" contribution referencing every participant is appended
after the scores are computed, so it never skews them. The emergence level
(baseline, coherent, emergent, breakthrough) positions the batch on both
axes.

The rendered Text follows a fixed layout of per-contribution blocks and a
trailing synthesis footer; downstream consumers parse it, so the format is
covered by golden tests.
*/
package synthesis

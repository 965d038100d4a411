package synthesis

import (
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/luminetic/ensemble/config"
	"github.com/luminetic/ensemble/types"
)

// EmergenceLevel positions a batch on the confidence and coherence axes.
type EmergenceLevel string

const (
	// LevelBaseline: neither emergence nor coherence.
	LevelBaseline EmergenceLevel = "baseline"
	// LevelCoherent: contributions agree but stay under the emergence bar.
	LevelCoherent EmergenceLevel = "coherent"
	// LevelEmergent: emergence detected over a scattered batch.
	LevelEmergent EmergenceLevel = "emergent"
	// LevelBreakthrough: emergence detected over a coherent batch.
	LevelBreakthrough EmergenceLevel = "breakthrough"
)

// CollectiveInsightID is the SourceID of the synthetic contribution
// appended when emergence is detected.
const CollectiveInsightID = "collective-insight"

// AggregatedResult is the immutable outcome of one synthesis pass.
type AggregatedResult struct {
	Text          string               `json:"text"`
	Confidence    float64              `json:"confidence"`
	Contributions []types.Contribution `json:"contributions"`
	// EfficiencyScore is wall clock over summed unit latency; values well
	// under 1 mean the batch ran with real overlap.
	EfficiencyScore   float64        `json:"efficiency_score"`
	CoherenceScore    float64        `json:"coherence_score"`
	EmergenceDetected bool           `json:"emergence_detected"`
	EmergenceLevel    EmergenceLevel `json:"emergence_level"`
}

// Synthesizer aggregates contribution batches under a fixed policy.
type Synthesizer struct {
	cfg    config.SynthesisConfig
	logger *zap.Logger
}

// New creates a synthesizer. Zero config fields fall back to defaults and a
// nil logger is replaced with a no-op one.
func New(cfg config.SynthesisConfig, logger *zap.Logger) *Synthesizer {
	def := config.DefaultSynthesisConfig()
	if cfg.EmergenceThreshold <= 0 {
		cfg.EmergenceThreshold = def.EmergenceThreshold
	}
	if cfg.CoherenceThreshold <= 0 {
		cfg.CoherenceThreshold = def.CoherenceThreshold
	}
	if cfg.MinContributions <= 0 {
		cfg.MinContributions = def.MinContributions
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "synthesis")),
	}
}

// Synthesize folds the batch into an aggregated result. Scores derive from
// the input contributions alone; the synthetic collective-insight
// contribution joins the output batch only after they are fixed.
func (s *Synthesizer) Synthesize(contribs []types.Contribution, wallClock time.Duration) *AggregatedResult {
	confidence := meanConfidence(contribs)
	efficiency := efficiencyScore(contribs, wallClock)
	coherence := coherenceScore(contribs)

	detected := confidence > s.cfg.EmergenceThreshold && len(contribs) > s.cfg.MinContributions
	coherent := len(contribs) > 0 && coherence > s.cfg.CoherenceThreshold
	level := classifyLevel(detected, coherent)

	text := composeText(contribs, confidence, efficiency, level)

	out := make([]types.Contribution, len(contribs), len(contribs)+1)
	copy(out, contribs)
	if detected {
		out = append(out, collectiveInsight(contribs, confidence))
		s.logger.Info("emergence detected",
			zap.Int("contributions", len(contribs)),
			zap.Float64("confidence", confidence),
			zap.Float64("coherence", coherence),
			zap.String("level", string(level)))
	}

	return &AggregatedResult{
		Text:              text,
		Confidence:        confidence,
		Contributions:     out,
		EfficiencyScore:   efficiency,
		CoherenceScore:    coherence,
		EmergenceDetected: detected,
		EmergenceLevel:    level,
	}
}

func meanConfidence(contribs []types.Contribution) float64 {
	if len(contribs) == 0 {
		return 0
	}
	total := 0.0
	for _, c := range contribs {
		total += c.Confidence
	}
	return total / float64(len(contribs))
}

func efficiencyScore(contribs []types.Contribution, wallClock time.Duration) float64 {
	var total time.Duration
	for _, c := range contribs {
		total += c.Latency
	}
	if total <= 0 {
		return 1.0
	}
	return float64(wallClock) / float64(total)
}

// coherenceScore is one minus the population standard deviation of the
// confidences, clamped to [0,1]. An empty batch scores zero: agreement
// needs voices.
func coherenceScore(contribs []types.Contribution) float64 {
	if len(contribs) == 0 {
		return 0
	}
	mean := meanConfidence(contribs)
	variance := 0.0
	for _, c := range contribs {
		d := c.Confidence - mean
		variance += d * d
	}
	variance /= float64(len(contribs))
	return clamp01(1 - math.Sqrt(variance))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func classifyLevel(detected, coherent bool) EmergenceLevel {
	switch {
	case detected && coherent:
		return LevelBreakthrough
	case detected:
		return LevelEmergent
	case coherent:
		return LevelCoherent
	default:
		return LevelBaseline
	}
}

// collectiveInsight builds the synthetic contribution referencing every
// participant in batch order.
func collectiveInsight(contribs []types.Contribution, confidence float64) types.Contribution {
	ids := make([]string, len(contribs))
	for i, c := range contribs {
		ids[i] = c.SourceID
	}
	return types.Contribution{
		SourceID:       CollectiveInsightID,
		Domain:         "synthesis",
		Text:           fmt.Sprintf("collective insight across %d contributions (%s)", len(contribs), strings.Join(ids, ", ")),
		Confidence:     confidence,
		StrategyWeight: 1.0,
	}
}

// composeText renders one block per input contribution in batch order,
// then the synthesis footer.
func composeText(contribs []types.Contribution, confidence, efficiency float64, level EmergenceLevel) string {
	blocks := make([]string, len(contribs))
	for i, c := range contribs {
		blocks[i] = fmt.Sprintf("[%s] %s (confidence %.2f)\n%s", c.Domain, c.SourceID, c.Confidence, c.Text)
	}

	var b strings.Builder
	b.WriteString(strings.Join(blocks, "\n\n"))
	b.WriteString("\n\n--- synthesis ---\n")
	fmt.Fprintf(&b, "contributions: %d | confidence: %.2f | efficiency: %.2f | emergence: %s",
		len(contribs), confidence, efficiency, level)
	return b.String()
}

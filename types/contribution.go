package types

import "time"

// Contribution is one unit of work's result: the text a backend produced for
// one (domain, target) pair plus its scoring metadata. Immutable once
// produced.
//
// A unit failure degrades to a zero-confidence Contribution with Err set
// instead of aborting its batch, so "no answer" (empty text) stays distinct
// from "system error" (Err non-empty).
type Contribution struct {
	SourceID       string        `json:"source_id"`
	Domain         string        `json:"domain"`
	Text           string        `json:"text"`
	Confidence     float64       `json:"confidence"`
	Latency        time.Duration `json:"latency"`
	StrategyWeight float64       `json:"strategy_weight"`
	Err            string        `json:"error,omitempty"`
}

// Failed reports whether this contribution records a unit failure rather
// than an answer.
func (c Contribution) Failed() bool {
	return c.Err != ""
}

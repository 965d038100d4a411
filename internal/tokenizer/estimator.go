package tokenizer

import "unicode/utf8"

// Estimator approximates token counts from character classes. CJK text runs
// much denser than ASCII, so the two are weighted separately instead of a
// flat chars/4 guess.
type Estimator struct{}

// NewEstimator returns the character-ratio estimator.
func NewEstimator() *Estimator { return &Estimator{} }

// Count implements Counter.
func (e *Estimator) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}

	// CJK ~1.5 chars/token, ASCII ~4 chars/token.
	estimated := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

// Name implements Counter.
func (e *Estimator) Name() string { return "estimator" }

func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK unified ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // extension A
		return true
	case r >= 0x3040 && r <= 0x30FF: // hiragana and katakana
		return true
	case r >= 0xAC00 && r <= 0xD7AF: // hangul syllables
		return true
	default:
		return false
	}
}

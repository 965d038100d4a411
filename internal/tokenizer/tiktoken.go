package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encodingFor maps model name prefixes to tiktoken encodings. Unlisted
// models fall back to cl100k_base, which tracks modern BPE vocabularies
// closely enough for accounting.
var encodingFor = map[string]string{
	"gpt-4o":  "o200k_base",
	"gpt-4":   "cl100k_base",
	"gpt-3.5": "cl100k_base",
}

const defaultEncoding = "cl100k_base"

// Tiktoken counts tokens with a real BPE vocabulary. The encoding loads
// lazily on first use because tiktoken may fetch vocabulary data.
type Tiktoken struct {
	encoding string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktoken creates a BPE counter for model.
func NewTiktoken(model string) *Tiktoken {
	encoding := defaultEncoding
	bestLen := 0
	for prefix, enc := range encodingFor {
		if len(prefix) > bestLen && len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			encoding, bestLen = enc, len(prefix)
		}
	}
	return &Tiktoken{encoding: encoding}
}

func (t *Tiktoken) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Count implements Counter.
func (t *Tiktoken) Count(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// Name implements Counter.
func (t *Tiktoken) Name() string { return "tiktoken/" + t.encoding }

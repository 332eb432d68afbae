package chunking

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures text in tokens. It wraps the cl100k_base encoding,
// which tracks the embedding models closely enough for sizing; when the
// encoding cannot be loaded it falls back to the 4-chars-per-token estimate.
type TokenCounter struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
}

func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (tc *TokenCounter) Count(text string) int {
	tc.once.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			tc.encoding = enc
		}
	})
	if tc.encoding == nil {
		return len(text) / 4
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// Package tokenizer provides token counting for queries and responses using
// tiktoken encodings. Counts feed cost projections; they do not need to match
// the backend's billing exactly, only to be stable and close.
package tokenizer

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Tokenizer provides token counting backed by the cl100k_base encoding.
// The encoding is cached via sync.Once to avoid repeated initialization.
type Tokenizer struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// New creates a new Tokenizer instance.
func New() *Tokenizer {
	return &Tokenizer{}
}

// getEncoder returns the cached tiktoken encoder.
func (t *Tokenizer) getEncoder() (*tiktoken.Tiktoken, error) {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding("cl100k_base")
	})
	return t.enc, t.err
}

// CountTokens counts the number of tokens in the given text. If the encoder
// cannot be initialized (e.g. no network access for the BPE download), it
// falls back to a ~4 characters per token estimate rather than returning 0,
// so cost projections stay conservative instead of free.
func (t *Tokenizer) CountTokens(text string) int {
	enc, err := t.getEncoder()
	if err != nil {
		return roughEstimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// CountPrompt counts tokens for a full prompt: the query text plus a fixed
// framing overhead (role framing and reply priming).
func (t *Tokenizer) CountPrompt(text string) int {
	// 4 tokens of role framing + 3 for reply priming.
	return t.CountTokens(text) + 7
}

// roughEstimate returns a character-length-based token estimate.
func roughEstimate(s string) int {
	n := len(s) / 4
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

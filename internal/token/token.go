// Package token estimates analyzer token counts for batching decisions.
package token

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

// Count returns the cl100k_base token count of text. If the codec cannot be
// initialized it falls back to a bytes/4 estimate so batching still works.
func Count(text string) int {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	if codecErr != nil || codec == nil {
		return estimate(text)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return estimate(text)
	}
	return len(ids)
}

func estimate(text string) int {
	return len(text)/4 + 1
}

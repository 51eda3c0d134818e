package dispatch

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates the tokens in a prompt.
type TokenCounter interface {
	Count(text string) int
}

// TokenCounterFunc adapts a function to TokenCounter.
type TokenCounterFunc func(text string) int

// Count calls f.
func (f TokenCounterFunc) Count(text string) int {
	return f(text)
}

// charEstimate is the fallback of one token per four characters.
func charEstimate(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}

// cl100k counts with the cl100k_base encoding, falling back to the
// character estimate if the codec cannot be loaded or fails.
type cl100k struct {
	once  sync.Once
	codec tokenizer.Codec
}

// NewTokenCounter returns the default cl100k-based counter.
func NewTokenCounter() TokenCounter {
	return &cl100k{}
}

func (c *cl100k) Count(text string) int {
	c.once.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			c.codec = codec
		}
	})
	if c.codec == nil {
		return charEstimate(text)
	}
	n, err := c.codec.Count(text)
	if err != nil {
		return charEstimate(text)
	}
	return n
}

package adapters

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// TokenEstimateRatio is chars-per-token for the fallback estimate.
const TokenEstimateRatio = 4

// TokenCounter counts prompt tokens for the output budget.
type TokenCounter interface {
	Count(model, text string) int
}

// TiktokenCounter encodes text with tiktoken. Models tiktoken does not know
// use cl100k_base. When no encoding can be loaded (the BPE ranks are fetched
// on first use) it falls back to EstimateTokens.
type TiktokenCounter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
	fallback  *tiktoken.Tiktoken
	loaded    bool
}

// NewTiktokenCounter creates a counter with an empty encoding cache.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{encodings: make(map[string]*tiktoken.Tiktoken)}
}

// Count returns the encoded token count of text.
func (c *TiktokenCounter) Count(model, text string) int {
	if text == "" {
		return 0
	}
	enc := c.encoding(model)
	if enc == nil {
		return EstimateTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (c *TiktokenCounter) encoding(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encodings[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc = c.defaultEncoding()
	}
	c.encodings[model] = enc
	return enc
}

// defaultEncoding is called with mu held.
func (c *TiktokenCounter) defaultEncoding() *tiktoken.Tiktoken {
	if c.loaded {
		return c.fallback
	}
	c.loaded = true
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Warn().Err(err).Msg("tiktoken unavailable, using length estimate")
		return nil
	}
	c.fallback = enc
	return enc
}

// EstimateTokens approximates the token count as ceil(len/4).
func EstimateTokens(text string) int {
	return (len(text) + TokenEstimateRatio - 1) / TokenEstimateRatio
}

// EstimateCounter is a TokenCounter that never touches tiktoken.
type EstimateCounter struct{}

// Count implements TokenCounter.
func (EstimateCounter) Count(_ string, text string) int { return EstimateTokens(text) }

var (
	_ TokenCounter = (*TiktokenCounter)(nil)
	_ TokenCounter = EstimateCounter{}
)

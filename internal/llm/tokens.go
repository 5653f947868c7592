package llm

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter estimates how many tokens text costs.
type TokenCounter func(text string) int

// NewTokenCounter counts with the cl100k_base encoding. The encoding is
// loaded on first use; if it cannot be loaded the counter falls back to
// EstimateTokens.
func NewTokenCounter(logger *zap.Logger) TokenCounter {
	var (
		once sync.Once
		enc  *tiktoken.Tiktoken
	)
	return func(text string) int {
		once.Do(func() {
			var err error
			enc, err = tiktoken.GetEncoding("cl100k_base")
			if err != nil {
				logger.Warn("token encoding unavailable, estimating", zap.Error(err))
				enc = nil
			}
		})
		if enc == nil {
			return EstimateTokens(text)
		}
		return len(enc.Encode(text, nil, nil))
	}
}

// EstimateTokens assumes roughly four characters per token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return n/4 + 1
}

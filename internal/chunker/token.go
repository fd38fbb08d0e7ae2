package chunker

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/ragkit/ragkit/internal/model"
)

type lengthFn func(string) int

func lengthFunc(strategy model.ChunkStrategy) lengthFn {
	switch strategy {
	case model.StrategyCharacter:
		return runeLen
	case model.StrategyToken:
		return tokenLen
	default:
		return estimateTokens
	}
}

func runeLen(s string) int {
	return len([]rune(s))
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// tokenLen counts cl100k_base tokens. Loading the encoding can fail on an
// offline host; in that case the word/CJK estimate keeps chunking working
// with the same determinism guarantees.
func tokenLen(s string) int {
	encodingOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return estimateTokens(s)
	}
	return len(encoding.Encode(s, nil, nil))
}

// estimateTokens approximates token counts: one per word for latin text, one
// per rune for CJK.
func estimateTokens(text string) int {
	count := 0
	for _, r := range text {
		if r > 127 {
			count++
		}
	}
	count += len(strings.Fields(text))
	if count == 0 && len(text) > 0 {
		return 1
	}
	return count
}

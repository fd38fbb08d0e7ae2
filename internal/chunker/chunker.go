package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ragkit/ragkit/internal/model"
	appErr "github.com/ragkit/ragkit/internal/pkg/errors"
)

// ConfigError reports an invalid chunking configuration. It is returned
// before any splitting work starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("chunking config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return appErr.ErrInvalidConfig
}

// Separator lists per strategy, tried in order. Earlier separators mark
// stronger boundaries; the empty string means hard rune windows.
var strategySeparators = map[model.ChunkStrategy][]string{
	model.StrategyParagraph:     {"\n\n", "\n", ". ", " ", ""},
	model.StrategySentence:      {". ", "! ", "? ", "\n", " ", ""},
	model.StrategyNewline:       {"\n\n", "\n", ""},
	model.StrategyDoubleNewline: {"\n\n", ""},
	model.StrategyChinese:       {"\n\n", "\n", "。", "！", "？", "；", "，", " ", ""},
	model.StrategyCode:          {"\nfunc ", "\nclass ", "\ndef ", "\n\n", "\n", " ", ""},
	model.StrategyToken:         {"\n\n", "\n", " ", ""},
	model.StrategyCharacter:     {""},
}

// Chunk splits content into ordered segments according to cfg. It is a pure
// function: identical inputs always produce identical output. Segment ID and
// DocumentID are left blank; callers assign them at persist time.
func Chunk(content string, cfg model.ChunkingConfig) ([]model.Segment, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if content == "" {
		return nil, nil
	}
	measure := lengthFunc(cfg.Strategy)
	seps := separatorsFor(content, cfg)
	chunks := splitPrimary(content, seps, cfg.ChunkSize, measure)

	tokens := lengthFunc(model.StrategyToken)
	segments := make([]model.Segment, 0, len(chunks))
	prev := ""
	for _, chunk := range chunks {
		overlap := ""
		if cfg.ChunkOverlap > 0 && prev != "" {
			overlap = tailRunes(prev, cfg.ChunkOverlap)
		}
		text := overlap + chunk
		segments = append(segments, model.Segment{
			Position:    len(segments),
			Content:     text,
			OverlapLen:  len([]rune(overlap)),
			TokenCount:  tokens(text),
			ContentHash: HashContent(text),
		})
		prev = chunk
	}
	return segments, nil
}

// Validate checks the size/overlap/separator invariants without doing any work.
func Validate(cfg model.ChunkingConfig) error {
	if cfg.ChunkSize <= 0 {
		return &ConfigError{Field: "chunk_size", Reason: "must be a positive integer"}
	}
	if cfg.ChunkOverlap < 0 {
		return &ConfigError{Field: "chunk_overlap", Reason: "must not be negative"}
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return &ConfigError{Field: "chunk_overlap", Reason: "must be less than chunk_size"}
	}
	switch cfg.Strategy {
	case model.StrategyCustom:
		if len(cfg.CustomSeparators) == 0 {
			return &ConfigError{Field: "custom_separators", Reason: "required for the custom strategy"}
		}
	case model.StrategyMarkdown:
	default:
		if _, ok := strategySeparators[cfg.Strategy]; !ok {
			return &ConfigError{Field: "strategy", Reason: fmt.Sprintf("unsupported strategy %q", cfg.Strategy)}
		}
	}
	return nil
}

func separatorsFor(content string, cfg model.ChunkingConfig) []string {
	switch cfg.Strategy {
	case model.StrategyCustom:
		// The trailing empty separator guarantees termination: a piece no
		// caller separator can split degrades to hard rune windows.
		seps := make([]string, 0, len(cfg.CustomSeparators)+1)
		seps = append(seps, cfg.CustomSeparators...)
		return append(seps, "")
	case model.StrategyMarkdown:
		return markdownSeparators(content)
	default:
		return strategySeparators[cfg.Strategy]
	}
}

// splitPrimary splits on the strategy's first separator. Pieces produced at
// this level are never merged with each other, so a paragraph strategy keeps
// one paragraph per segment even when two would fit in a single window.
// Oversized pieces recurse into the weaker separators with greedy packing.
func splitPrimary(s string, seps []string, size int, measure lengthFn) []string {
	if len(seps) == 0 || seps[0] == "" {
		return hardWindows(s, size)
	}
	var out []string
	for _, piece := range strings.SplitAfter(s, seps[0]) {
		if piece == "" {
			continue
		}
		if measure(piece) <= size {
			out = append(out, piece)
			continue
		}
		out = append(out, splitRecursive(piece, seps[1:], size, measure)...)
	}
	return out
}

// splitRecursive splits s on the next separator, explodes oversized pieces
// further down the separator list, and packs adjacent small pieces into
// windows of at most size units. Separators stay attached to the text that
// precedes them, so concatenating the result reproduces s exactly.
func splitRecursive(s string, seps []string, size int, measure lengthFn) []string {
	if len(seps) == 0 || seps[0] == "" {
		return hardWindows(s, size)
	}
	var out []string
	var buf strings.Builder
	bufLen := 0
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
			bufLen = 0
		}
	}
	for _, piece := range strings.SplitAfter(s, seps[0]) {
		if piece == "" {
			continue
		}
		plen := measure(piece)
		if plen > size {
			flush()
			out = append(out, splitRecursive(piece, seps[1:], size, measure)...)
			continue
		}
		if bufLen > 0 && bufLen+plen > size {
			flush()
		}
		buf.WriteString(piece)
		bufLen += plen
	}
	flush()
	return out
}

func hardWindows(s string, size int) []string {
	runes := []rune(s)
	out := make([]string, 0, len(runes)/size+1)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// tailRunes returns the trailing n-rune suffix of s. Overlap windows are
// taken in runes regardless of strategy unit: a suffix of n runes never
// measures more than n tokens, so the configured budget holds.
func tailRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

func HashContent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

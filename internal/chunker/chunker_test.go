package chunker

import (
	"errors"
	"strings"
	"testing"

	"github.com/ragkit/ragkit/internal/model"
	appErr "github.com/ragkit/ragkit/internal/pkg/errors"
)

func reconstruct(segments []model.Segment) string {
	var sb strings.Builder
	for _, seg := range segments {
		runes := []rune(seg.Content)
		sb.WriteString(string(runes[seg.OverlapLen:]))
	}
	return sb.String()
}

func TestChunk_ParagraphScenario(t *testing.T) {
	content := "hello world\n\nsecond paragraph"
	segments, err := Chunk(content, model.ChunkingConfig{
		Strategy:     model.StrategyParagraph,
		ChunkSize:    100,
		ChunkOverlap: 0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Position != 0 || segments[1].Position != 1 {
		t.Fatalf("positions not contiguous: %d, %d", segments[0].Position, segments[1].Position)
	}
	if segments[0].Content != "hello world\n\n" {
		t.Fatalf("unexpected first segment: %q", segments[0].Content)
	}
	if segments[1].Content != "second paragraph" {
		t.Fatalf("unexpected second segment: %q", segments[1].Content)
	}
	if got := reconstruct(segments); got != content {
		t.Fatalf("reconstruction mismatch: %q", got)
	}
}

func TestChunk_EmptyDocument(t *testing.T) {
	segments, err := Chunk("", model.ChunkingConfig{Strategy: model.StrategyParagraph, ChunkSize: 10})
	if err != nil {
		t.Fatalf("empty document must not error: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("expected 0 segments, got %d", len(segments))
	}
}

func TestChunk_SmallDocumentSingleSegment(t *testing.T) {
	segments, err := Chunk("hello world", model.ChunkingConfig{
		Strategy:     model.StrategyParagraph,
		ChunkSize:    100,
		ChunkOverlap: 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	if segments[0].OverlapLen != 0 {
		t.Fatalf("single segment must carry no overlap, got %d", segments[0].OverlapLen)
	}
	if segments[0].Content != "hello world" {
		t.Fatalf("unexpected content: %q", segments[0].Content)
	}
}

func TestChunk_Deterministic(t *testing.T) {
	content := strings.Repeat("alpha beta gamma delta. ", 40) + "\n\n" +
		strings.Repeat("第二段的中文内容。", 20) + "\n\n" + "tail"
	cfg := model.ChunkingConfig{
		Strategy:     model.StrategyParagraph,
		ChunkSize:    30,
		ChunkOverlap: 5,
	}
	first, err := Chunk(content, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Chunk(content, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("segment count differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("segment %d differs between runs", i)
		}
	}
}

func TestChunk_ReconstructionWithOverlap(t *testing.T) {
	contents := []string{
		strings.Repeat("one two three four five six seven eight nine ten. ", 30),
		"short",
		"line one\nline two\nline three\n\npara two with more words than fit in one window of this size",
		strings.Repeat("中文内容测试，标点符号。", 40),
	}
	strategies := []model.ChunkStrategy{
		model.StrategyParagraph,
		model.StrategySentence,
		model.StrategyNewline,
		model.StrategyDoubleNewline,
		model.StrategyChinese,
		model.StrategyCharacter,
		model.StrategyCode,
	}
	for _, strategy := range strategies {
		for _, content := range contents {
			cfg := model.ChunkingConfig{Strategy: strategy, ChunkSize: 20, ChunkOverlap: 4}
			segments, err := Chunk(content, cfg)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", strategy, err)
			}
			if got := reconstruct(segments); got != content {
				t.Fatalf("%s: reconstruction mismatch\nwant %q\ngot  %q", strategy, content, got)
			}
			for i, seg := range segments {
				if seg.Position != i {
					t.Fatalf("%s: position %d at index %d", strategy, seg.Position, i)
				}
				if seg.OverlapLen > cfg.ChunkOverlap {
					t.Fatalf("%s: overlap %d exceeds budget %d", strategy, seg.OverlapLen, cfg.ChunkOverlap)
				}
			}
		}
	}
}

func TestValidate_OverlapRejectedForEveryStrategy(t *testing.T) {
	strategies := []model.ChunkStrategy{
		model.StrategyParagraph, model.StrategyToken, model.StrategyCharacter,
		model.StrategyMarkdown, model.StrategySentence, model.StrategyNewline,
		model.StrategyDoubleNewline, model.StrategyChinese, model.StrategyCode,
		model.StrategyCustom,
	}
	for _, strategy := range strategies {
		cfg := model.ChunkingConfig{
			Strategy:         strategy,
			ChunkSize:        10,
			ChunkOverlap:     10,
			CustomSeparators: []string{"|"},
		}
		_, err := Chunk("some text", cfg)
		if err == nil {
			t.Fatalf("%s: overlap == size must be rejected", strategy)
		}
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("%s: expected ConfigError, got %T", strategy, err)
		}
		if !errors.Is(err, appErr.ErrInvalidConfig) {
			t.Fatalf("%s: ConfigError must unwrap to ErrInvalidConfig", strategy)
		}
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []model.ChunkingConfig{
		{Strategy: model.StrategyParagraph, ChunkSize: 0},
		{Strategy: model.StrategyParagraph, ChunkSize: 10, ChunkOverlap: -1},
		{Strategy: model.StrategyCustom, ChunkSize: 10},
		{Strategy: "mystery", ChunkSize: 10},
	}
	for i, cfg := range cases {
		if _, err := Chunk("text", cfg); err == nil {
			t.Fatalf("case %d: expected ConfigError", i)
		}
	}
}

func TestChunk_CustomSeparator(t *testing.T) {
	segments, err := Chunk("a|b|c", model.ChunkingConfig{
		Strategy:         model.StrategyCustom,
		ChunkSize:        2,
		ChunkOverlap:     0,
		CustomSeparators: []string{"|"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	if segments[0].Content != "a|" || segments[2].Content != "c" {
		t.Fatalf("unexpected split: %q %q %q", segments[0].Content, segments[1].Content, segments[2].Content)
	}
}

func TestChunk_CustomSeparatorAbsentFallsBackToWindows(t *testing.T) {
	content := strings.Repeat("词", 25)
	segments, err := Chunk(content, model.ChunkingConfig{
		Strategy:         model.StrategyCustom,
		ChunkSize:        10,
		ChunkOverlap:     0,
		CustomSeparators: []string{"|"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("expected 3 hard windows, got %d", len(segments))
	}
	if got := reconstruct(segments); got != content {
		t.Fatalf("reconstruction mismatch: %q", got)
	}
}

func TestChunk_CharacterWindowsWithOverlap(t *testing.T) {
	segments, err := Chunk("abcdefghij", model.ChunkingConfig{
		Strategy:     model.StrategyCharacter,
		ChunkSize:    4,
		ChunkOverlap: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	if segments[1].Content != "cdefgh" || segments[1].OverlapLen != 2 {
		t.Fatalf("unexpected overlap window: %q overlap=%d", segments[1].Content, segments[1].OverlapLen)
	}
	if got := reconstruct(segments); got != "abcdefghij" {
		t.Fatalf("reconstruction mismatch: %q", got)
	}
}

func TestChunk_MarkdownSplitsOnHeadings(t *testing.T) {
	content := "# Title\n\nintro text here\n\n# Second\n\nbody text"
	segments, err := Chunk(content, model.ChunkingConfig{
		Strategy:  model.StrategyMarkdown,
		ChunkSize: 100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected a segment per heading section, got %d", len(segments))
	}
	if !strings.HasPrefix(segments[1].Content, "Second") {
		t.Fatalf("second section should start at the heading text: %q", segments[1].Content)
	}
	if got := reconstruct(segments); got != content {
		t.Fatalf("reconstruction mismatch: %q", got)
	}
}

func TestChunk_TokenStrategy(t *testing.T) {
	content := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 20)
	segments, err := Chunk(content, model.ChunkingConfig{
		Strategy:     model.StrategyToken,
		ChunkSize:    40,
		ChunkOverlap: 8,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(segments))
	}
	if got := reconstruct(segments); got != content {
		t.Fatalf("reconstruction mismatch")
	}
	for _, seg := range segments {
		if seg.TokenCount <= 0 {
			t.Fatalf("segment %d has no token count", seg.Position)
		}
		if seg.ContentHash == "" {
			t.Fatalf("segment %d has no content hash", seg.Position)
		}
	}
}

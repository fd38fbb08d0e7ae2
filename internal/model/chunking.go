package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

type ChunkStrategy string

const (
	StrategyParagraph     ChunkStrategy = "paragraph"
	StrategyToken         ChunkStrategy = "token"
	StrategyCharacter     ChunkStrategy = "character"
	StrategyMarkdown      ChunkStrategy = "markdown"
	StrategySentence      ChunkStrategy = "sentence"
	StrategyNewline       ChunkStrategy = "newline"
	StrategyDoubleNewline ChunkStrategy = "double_newline"
	StrategyChinese       ChunkStrategy = "chinese"
	StrategyCode          ChunkStrategy = "code"
	StrategyCustom        ChunkStrategy = "custom"
)

// ChunkingConfig selects a split strategy and its window parameters.
// ChunkSize and ChunkOverlap are measured in the unit the strategy implies:
// runes for character, model tokens for token, estimated tokens otherwise.
type ChunkingConfig struct {
	Strategy         ChunkStrategy `json:"strategy"`
	ChunkSize        int           `json:"chunk_size"`
	ChunkOverlap     int           `json:"chunk_overlap"`
	CustomSeparators []string      `json:"custom_separators,omitempty"`
}

// Hash returns the fingerprint of the full serialized config. Two configs
// hash equal only if every field that influences chunking output is equal.
func (c ChunkingConfig) Hash() string {
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ragkit/ragkit/internal/chunker"
	"github.com/ragkit/ragkit/internal/model"
	appErr "github.com/ragkit/ragkit/internal/pkg/errors"
	"github.com/ragkit/ragkit/internal/repo"
)

var collectionCleanRegex = regexp.MustCompile(`[^a-z0-9_]+`)

type KnowledgeBaseService struct {
	kbs *repo.KnowledgeBaseRepo
}

func NewKnowledgeBaseService(kbs *repo.KnowledgeBaseRepo) *KnowledgeBaseService {
	return &KnowledgeBaseService{kbs: kbs}
}

type KnowledgeBaseCreateInput struct {
	Name        string
	Description string
	ChunkConfig model.ChunkingConfig
}

func (s *KnowledgeBaseService) Create(ctx context.Context, in KnowledgeBaseCreateInput) (*model.KnowledgeBase, error) {
	if in.Name == "" {
		return nil, appErr.ErrInvalid
	}
	if in.ChunkConfig.Strategy == "" {
		in.ChunkConfig = model.ChunkingConfig{
			Strategy:     model.StrategyParagraph,
			ChunkSize:    512,
			ChunkOverlap: 64,
		}
	}
	if err := chunker.Validate(in.ChunkConfig); err != nil {
		return nil, err
	}
	kb := &model.KnowledgeBase{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Collection:  collectionName(in.Name),
		ChunkConfig: in.ChunkConfig,
	}
	if err := s.kbs.Create(ctx, kb); err != nil {
		return nil, err
	}
	return kb, nil
}

func (s *KnowledgeBaseService) Get(ctx context.Context, id string) (*model.KnowledgeBase, error) {
	return s.kbs.Get(ctx, id)
}

func (s *KnowledgeBaseService) List(ctx context.Context) ([]model.KnowledgeBase, error) {
	return s.kbs.List(ctx)
}

// UpdateChunkConfig changes the knowledge base's default chunking. Existing
// segments are untouched until an operator triggers a rechunk.
func (s *KnowledgeBaseService) UpdateChunkConfig(ctx context.Context, id string, cfg model.ChunkingConfig) error {
	if err := chunker.Validate(cfg); err != nil {
		return err
	}
	return s.kbs.UpdateChunkConfig(ctx, id, cfg)
}

// collectionName derives a vector-store safe identifier from the display
// name, suffixed for uniqueness.
func collectionName(name string) string {
	base := collectionCleanRegex.ReplaceAllString(strings.ToLower(name), "_")
	base = strings.Trim(base, "_")
	if base == "" || base[0] >= '0' && base[0] <= '9' {
		base = "kb_" + base
	}
	if len(base) > 48 {
		base = base[:48]
	}
	suffix := strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	return fmt.Sprintf("%s_%s", strings.Trim(base, "_"), suffix)
}

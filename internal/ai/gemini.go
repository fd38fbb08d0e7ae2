package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type geminiConfig struct {
	APIKey   string `json:"api_key"`
	TaskType string `json:"task_type"`
}

type geminiProvider struct {
	apiKey   string
	taskType string
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &ProviderError{Provider: "gemini", Err: err}
	}
	var config *genai.EmbedContentConfig
	if p.taskType != "" {
		config = &genai.EmbedContentConfig{TaskType: p.taskType}
	}
	resp, err := client.Models.EmbedContent(
		ctx,
		model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		config,
	)
	if err != nil {
		return nil, &ProviderError{
			Provider:  "gemini",
			Throttled: strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") || strings.Contains(err.Error(), "429"),
			Err:       err,
		}
	}
	if len(resp.Embeddings) == 0 {
		return nil, &ProviderError{Provider: "gemini", Err: fmt.Errorf("no embedding values returned")}
	}
	return resp.Embeddings[0].Values, nil
}

func createGeminiFactory(args interface{}) (IEmbedProvider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.TaskType == "" {
		cfg.TaskType = "RETRIEVAL_DOCUMENT"
	}
	return &geminiProvider{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		taskType: cfg.TaskType,
	}, nil
}

func init() {
	Register("gemini", createGeminiFactory)
}

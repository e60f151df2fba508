// Package embedding turns newsletter text into vectors for near-text search.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"newsletter-indexer/internal/models"

	openai "github.com/sashabaranov/go-openai"
)

// maxInputRunes bounds a single input to stay under the model's token limit
const maxInputRunes = 24000

// ErrMissingAPIKey is returned when no embedding credential is configured
var ErrMissingAPIKey = errors.New("embedding API key not set")

// Embedder generates one vector per input text, in input order
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// OpenAIEmbedder uses the OpenAI embeddings API
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dim    int
}

// NewOpenAIEmbedder creates an embedder from the embedding configuration
func NewOpenAIEmbedder(cfg models.EmbeddingConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	// Set dimension based on model
	dim := 1536
	if cfg.Model == string(openai.LargeEmbedding3) {
		dim = 3072
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  openai.EmbeddingModel(cfg.Model),
		dim:    dim,
	}, nil
}

// EmbedTexts embeds texts in a single API call
func (e *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	input := make([]string, len(texts))
	for i, text := range texts {
		input[i] = truncate(text, maxInputRunes)
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: input,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), len(resp.Data))
	}

	// The API reports positions explicitly; do not rely on response order
	data := append([]openai.Embedding(nil), resp.Data...)
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Dimension returns the embedding dimension
func (e *OpenAIEmbedder) Dimension() int {
	return e.dim
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

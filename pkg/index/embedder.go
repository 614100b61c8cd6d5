package index

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const defaultEmbeddingModel = openai.SmallEmbedding3

// EmbeddingAPI is the slice of the OpenAI client the embedder needs
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbedder produces embeddings through the OpenAI embeddings API
type OpenAIEmbedder struct {
	api   EmbeddingAPI
	model openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an embedder using the given API key
func NewOpenAIEmbedder(apiKey string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	return NewOpenAIEmbedderWith(openai.NewClient(apiKey), defaultEmbeddingModel), nil
}

// NewOpenAIEmbedderWith creates an embedder on an existing API client.
// An empty model selects the default embedding model.
func NewOpenAIEmbedderWith(api EmbeddingAPI, model openai.EmbeddingModel) *OpenAIEmbedder {
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &OpenAIEmbedder{api: api, model: model}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts to embed")
	}

	resp, err := e.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// The API does not guarantee response order; restore it by index.
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

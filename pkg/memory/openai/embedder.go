// Package openai embeds text through any OpenAI-compatible embeddings
// endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/jllopis/reasoningbank/pkg/memory"
)

// Embedder implements memory.Embedder with go-openai.
type Embedder struct {
	client *openai.Client
	model  string

	mu  sync.Mutex
	dim int
}

var _ memory.Embedder = (*Embedder)(nil)

// NewEmbedder creates an embedder for model. An empty baseURL keeps the
// OpenAI default.
func NewEmbedder(apiKey, baseURL, model string) *Embedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &Embedder{client: openai.NewClientWithConfig(cfg), model: model}
}

// Encode implements memory.Embedder.
func (e *Embedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("missing embedding for text %d", i)
		}
	}

	e.mu.Lock()
	if e.dim == 0 {
		e.dim = len(vectors[0])
	}
	e.mu.Unlock()
	return vectors, nil
}

// EncodeOne implements memory.Embedder.
func (e *Embedder) EncodeOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vectors[0], nil
}

// Dimension implements memory.Embedder.
func (e *Embedder) Dimension(ctx context.Context) (int, error) {
	e.mu.Lock()
	dim := e.dim
	e.mu.Unlock()
	if dim > 0 {
		return dim, nil
	}
	vec, err := e.EncodeOne(ctx, "dimension check")
	if err != nil {
		return 0, err
	}
	return len(vec), nil
}

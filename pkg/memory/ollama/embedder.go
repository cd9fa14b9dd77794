// Package ollama embeds text through a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jllopis/reasoningbank/pkg/memory"
)

// Embedder implements memory.Embedder using Ollama's /api/embeddings.
// Ollama embeds one prompt per call, so batches are sent sequentially.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client

	mu  sync.Mutex
	dim int
}

var _ memory.Embedder = (*Embedder)(nil)

// NewEmbedder creates a new Ollama Embedder.
func NewEmbedder(baseURL, model string) *Embedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &Embedder{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// EncodeOne implements memory.Embedder.
func (e *Embedder) EncodeOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding api call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama api returned status: %d", resp.StatusCode)
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(embResp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding for model %s", e.model)
	}

	vec := make([]float32, len(embResp.Embedding))
	for i, v := range embResp.Embedding {
		vec[i] = float32(v)
	}

	e.mu.Lock()
	if e.dim == 0 {
		e.dim = len(vec)
	}
	e.mu.Unlock()
	return vec, nil
}

// Encode implements memory.Embedder.
func (e *Embedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, t := range texts {
		vec, err := e.EncodeOne(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out = append(out, vec)
	}
	return out, nil
}

// Dimension implements memory.Embedder. The first call embeds a sample
// text to learn the model's vector size.
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

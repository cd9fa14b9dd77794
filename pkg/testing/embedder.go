package testing

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// HashEmbedder is a deterministic bag-of-words embedder. Each lowercased
// word is hashed (FNV-1a) into one of Dim buckets, so texts sharing words
// have positive cosine similarity and disjoint texts score near zero.
type HashEmbedder struct {
	Dim int
	// Err, when set, is returned from every call.
	Err error

	mu    sync.Mutex
	calls int
	texts []string
}

// NewHashEmbedder returns a HashEmbedder with 256 buckets.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{Dim: 256}
}

func (h *HashEmbedder) dim() int {
	if h.Dim <= 0 {
		return 256
	}
	return h.Dim
}

func (h *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dim())
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		f.Write([]byte(w))
		vec[f.Sum32()%uint32(len(vec))]++
	}
	return vec
}

// Encode embeds each text.
func (h *HashEmbedder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.Err != nil {
		return nil, h.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embed(t)
		h.texts = append(h.texts, t)
	}
	return out, nil
}

// EncodeOne embeds a single text.
func (h *HashEmbedder) EncodeOne(ctx context.Context, text string) ([]float32, error) {
	out, err := h.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, errors.New("hash embedder: no vector")
	}
	return out[0], nil
}

// Dimension returns the bucket count.
func (h *HashEmbedder) Dimension(context.Context) (int, error) {
	if h.Err != nil {
		return 0, h.Err
	}
	return h.dim(), nil
}

// Calls returns how many Encode/EncodeOne calls were made.
func (h *HashEmbedder) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// Texts returns every text embedded so far.
func (h *HashEmbedder) Texts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.texts...)
}

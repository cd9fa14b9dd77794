// Package fastembed provides a local ONNX embedder backed by fastembed-go.
package fastembed

import (
	"context"
	"fmt"
	"strings"
	"sync"

	fe "github.com/anush008/fastembed-go"

	"github.com/jllopis/reasoningbank/pkg/memory"
)

const defaultBatchSize = 32

// Options configure the embedder.
type Options struct {
	// Model is a Hugging Face name such as "BAAI/bge-base-en-v1.5" or a
	// fastembed model id.
	Model     string
	CacheDir  string
	MaxLength int
	BatchSize int
}

// Embedder lazily loads a fastembed model on first use. A load failure
// is remembered and returned from every later call.
type Embedder struct {
	opts  Options
	model fe.EmbeddingModel
	dim   int

	once    sync.Once
	flag    *fe.FlagEmbedding
	initErr error
	mu      sync.Mutex
}

var _ memory.Embedder = (*Embedder)(nil)

// New returns an embedder for opts.Model. It does not load the model.
func New(opts Options) (*Embedder, error) {
	model, err := ResolveModel(opts.Model)
	if err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	e := &Embedder{opts: opts, model: model}
	for _, info := range fe.ListSupportedModels() {
		if info.Model == model {
			e.dim = info.Dim
		}
	}
	return e, nil
}

// ResolveModel maps a model name to a fastembed model id.
func ResolveModel(name string) (fe.EmbeddingModel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "baai/bge-base-en-v1.5", "bge-base-en-v1.5":
		return fe.BGEBaseENV15, nil
	case "baai/bge-small-en-v1.5", "bge-small-en-v1.5":
		return fe.BGESmallENV15, nil
	case "baai/bge-base-en", "bge-base-en":
		return fe.BGEBaseEN, nil
	case "baai/bge-small-en", "bge-small-en":
		return fe.BGESmallEN, nil
	case "sentence-transformers/all-minilm-l6-v2", "all-minilm-l6-v2":
		return fe.AllMiniLML6V2, nil
	}
	for _, info := range fe.ListSupportedModels() {
		if string(info.Model) == name {
			return info.Model, nil
		}
	}
	return "", fmt.Errorf("fastembed: unsupported embedding model %q", name)
}

func (e *Embedder) init() error {
	e.once.Do(func() {
		show := false
		e.flag, e.initErr = fe.NewFlagEmbedding(&fe.InitOptions{
			Model:                e.model,
			CacheDir:             e.opts.CacheDir,
			MaxLength:            e.opts.MaxLength,
			ShowDownloadProgress: &show,
		})
		if e.initErr != nil {
			e.initErr = fmt.Errorf("fastembed: load %s: %w", e.model, e.initErr)
		}
	})
	return e.initErr
}

// Encode implements memory.Embedder. Corpus and query texts go through
// the same unprefixed path so stored rows and queries are comparable.
func (e *Embedder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	if err := e.init(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flag.Embed(texts, e.opts.BatchSize)
}

// EncodeOne implements memory.Embedder.
func (e *Embedder) EncodeOne(ctx context.Context, text string) ([]float32, error) {
	out, err := e.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("fastembed: expected 1 vector, got %d", len(out))
	}
	return out[0], nil
}

// Dimension implements memory.Embedder. It loads the model.
func (e *Embedder) Dimension(_ context.Context) (int, error) {
	if err := e.init(); err != nil {
		return 0, err
	}
	return e.dim, nil
}

// Close releases the ONNX runtime if the model was loaded.
func (e *Embedder) Close() error {
	if e.flag == nil {
		return nil
	}
	return e.flag.Destroy()
}

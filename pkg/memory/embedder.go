package memory

import "context"

// Embedder turns text into fixed-length vectors.
//
// Implementations initialize their model lazily on first use. The vector
// dimension is fixed per instance; Dimension forces initialization.
type Embedder interface {
	// Encode embeds a batch of texts, one vector per input.
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	// EncodeOne embeds a single text.
	EncodeOne(ctx context.Context, text string) ([]float32, error)
	// Dimension reports the vector length.
	Dimension(ctx context.Context) (int, error)
}

package memory

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	rberrors "github.com/jllopis/reasoningbank/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// normEpsilon keeps cosine similarity finite for zero vectors.
const normEpsilon = 1e-8

// Hit is one search result: a memory id and its similarity to the query.
type Hit struct {
	MemoryID string
	Score    float64
}

// Searcher finds the stored memories closest to a query vector.
// Results are sorted by descending score, hold at most topK entries and
// only scores >= threshold.
type Searcher interface {
	Search(ctx context.Context, query []float32, topK int, threshold float64) ([]Hit, error)
}

// BruteForce scans every row of a Store's matrix.
type BruteForce struct {
	store *Store
}

// NewBruteForce returns the default exact searcher over store.
func NewBruteForce(store *Store) *BruteForce {
	return &BruteForce{store: store}
}

// Search implements Searcher. Ties keep store order.
func (b *BruteForce) Search(_ context.Context, query []float32, topK int, threshold float64) ([]Hit, error) {
	mems, rows := b.store.MemoriesAndEmbeddings()
	if len(rows) == 0 || topK <= 0 {
		return nil, nil
	}
	if len(rows) != len(mems) {
		return nil, rberrors.New(rberrors.CodeMemoryError,
			fmt.Sprintf("matrix has %d rows for %d memories", len(rows), len(mems)), nil)
	}
	scores, err := CosineScores(query, rows)
	if err != nil {
		return nil, err
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(scores[b], scores[a])
	})
	if len(order) > topK {
		order = order[:topK]
	}

	var hits []Hit
	for _, i := range order {
		if scores[i] >= threshold {
			hits = append(hits, Hit{MemoryID: mems[i].ID, Score: scores[i]})
		}
	}
	return hits, nil
}

// CosineScores returns the cosine similarity of query against each row,
// normalizing both sides by their L2 norm plus a small epsilon.
func CosineScores(query []float32, rows [][]float32) ([]float64, error) {
	q := toFloat64(query)
	qn := floats.Norm(q, 2) + normEpsilon
	scores := make([]float64, len(rows))
	buf := make([]float64, len(q))
	for i, row := range rows {
		if len(row) != len(q) {
			return nil, rberrors.New(rberrors.CodeMemoryError,
				fmt.Sprintf("query dimension %d, row %d has %d", len(q), i, len(row)), nil)
		}
		for j, v := range row {
			buf[j] = float64(v)
		}
		scores[i] = floats.Dot(q, buf) / (qn * (floats.Norm(buf, 2) + normEpsilon))
	}
	return scores, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Retriever finds memories relevant to a goal text.
type Retriever struct {
	store     *Store
	embedder  Embedder
	searcher  Searcher
	topK      int
	threshold float64
	logger    *slog.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithTopK sets the default number of memories returned.
func WithTopK(k int) RetrieverOption {
	return func(r *Retriever) { r.topK = k }
}

// WithThreshold sets the default minimum similarity.
func WithThreshold(t float64) RetrieverOption {
	return func(r *Retriever) { r.threshold = t }
}

// WithSearcher replaces the brute-force searcher, e.g. with a qdrant index.
func WithSearcher(s Searcher) RetrieverOption {
	return func(r *Retriever) {
		if s != nil {
			r.searcher = s
		}
	}
}

// WithRetrieverLogger sets the logger.
func WithRetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRetriever builds a retriever over store. Defaults: top_k 1,
// threshold 0.5, brute-force search.
func NewRetriever(store *Store, embedder Embedder, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		store:     store,
		embedder:  embedder,
		topK:      1,
		threshold: 0.5,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.searcher == nil {
		r.searcher = NewBruteForce(store)
	}
	return r
}

type retrieveOptions struct {
	topK      int
	threshold float64
}

// RetrieveOption overrides a default for one call.
type RetrieveOption func(*retrieveOptions)

// TopK overrides the number of memories returned.
func TopK(k int) RetrieveOption {
	return func(o *retrieveOptions) { o.topK = k }
}

// Threshold overrides the minimum similarity.
func Threshold(t float64) RetrieveOption {
	return func(o *retrieveOptions) { o.threshold = t }
}

// Retrieve returns the memories most similar to query, highest first.
// An empty store or one without embeddings yields no memories and no error.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...RetrieveOption) ([]RetrievedMemory, error) {
	o := retrieveOptions{topK: r.topK, threshold: r.threshold}
	for _, opt := range opts {
		opt(&o)
	}
	if r.store.IsEmpty() {
		r.logger.Debug("memory store is empty, nothing to retrieve")
		return nil, nil
	}
	if !r.store.HasEmbeddings() {
		r.logger.Warn("memory store has no embeddings, skipping retrieval")
		return nil, nil
	}

	vec, err := r.embedder.EncodeOne(ctx, query)
	if err != nil {
		return nil, rberrors.New(rberrors.CodeMemoryError, "embed retrieval query", err)
	}
	hits, err := r.searcher.Search(ctx, vec, o.topK, o.threshold)
	if err != nil {
		return nil, rberrors.New(rberrors.CodeMemoryError, "search memories", err)
	}

	out := make([]RetrievedMemory, 0, len(hits))
	for _, h := range hits {
		m, ok := r.store.Get(h.MemoryID)
		if !ok {
			r.logger.Warn("search returned unknown memory", "memory_id", h.MemoryID)
			continue
		}
		out = append(out, RetrievedMemory{Memory: m, Similarity: h.Score})
	}
	if len(out) > 0 {
		r.logger.Debug("memories retrieved", "count", len(out), "top_similarity", out[0].Similarity)
	} else {
		r.logger.Debug("no memories above threshold", "threshold", o.threshold)
	}
	return out, nil
}

// FormatForPrompt renders retrieved memories as the experience section of
// the agent's system prompt. It returns "" for no memories.
func FormatForPrompt(memories []RetrievedMemory) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n==================================================\n")
	b.WriteString("RELEVANT EXPERIENCE FROM SIMILAR TASKS\n")
	b.WriteString("==================================================\n")
	b.WriteString("Below are experiences from past science experiments that may help with your current task.\n")
	b.WriteString("Use them as reference when relevant, but adapt to the specific situation.\n\n")

	for i, rm := range memories {
		result := "FAILED"
		if rm.Memory.IsSuccess {
			result = "SUCCESS"
		}
		fmt.Fprintf(&b, "[Experience #%d] (Similarity: %.2f, Result: %s)\n", i+1, rm.Similarity, result)
		fmt.Fprintf(&b, "  Goal: %s\n", rm.Memory.Query)
		b.WriteString("  Actions taken:\n")
		if len(rm.Memory.Trajectory) == 0 {
			b.WriteString("(empty)\n")
		}
		for j, step := range rm.Memory.Trajectory {
			fmt.Fprintf(&b, "  %d. %s\n", j+1, step.Action)
		}
		if len(rm.Memory.Items) > 0 {
			b.WriteString("  Key Insights:\n")
			for _, item := range rm.Memory.Items {
				fmt.Fprintf(&b, "    - %s: %s\n", item.Title, item.Description)
				if item.Content != "" {
					fmt.Fprintf(&b, "      %s\n", item.Content)
				}
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

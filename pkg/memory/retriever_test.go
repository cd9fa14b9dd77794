package memory_test

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/jllopis/reasoningbank/pkg/memory"
	rbtesting "github.com/jllopis/reasoningbank/pkg/testing"
)

func seededStore(t *testing.T, emb memory.Embedder, queries ...string) *memory.Store {
	t.Helper()
	s := openStore(t, t.TempDir(), emb)
	for i, q := range queries {
		m := newMemory(fmt.Sprintf("mem_%012d", i), q, i%2 == 0)
		if _, err := s.Add(context.Background(), m); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return s
}

func TestRetrieveRanksBySimilarity(t *testing.T) {
	emb := rbtesting.NewHashEmbedder()
	s := seededStore(t, emb, "boil water", "freeze ice", "find a plant")
	r := memory.NewRetriever(s, emb)

	got, err := r.Retrieve(context.Background(), "melt the ice", memory.TopK(2), memory.Threshold(0.3))
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the ice memory above threshold, got %d", len(got))
	}
	if got[0].Memory.Query != "freeze ice" {
		t.Errorf("expected freeze ice first, got %q", got[0].Memory.Query)
	}
	if got[0].Similarity < 0.3 {
		t.Errorf("similarity %v below threshold", got[0].Similarity)
	}
}

func TestRetrieveOrderingAndLimits(t *testing.T) {
	emb := rbtesting.NewHashEmbedder()
	s := seededStore(t, emb,
		"boil water on the stove",
		"boil water",
		"water the plant",
		"freeze water in the freezer",
		"measure the temperature of water",
	)
	r := memory.NewRetriever(s, emb, memory.WithTopK(3), memory.WithThreshold(0))

	got, err := r.Retrieve(context.Background(), "boil water")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected top 3, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Similarity > got[i-1].Similarity {
			t.Errorf("similarities not non-increasing at %d: %v > %v", i, got[i].Similarity, got[i-1].Similarity)
		}
	}
	if got[0].Memory.Query != "boil water" || math.Abs(got[0].Similarity-1) > 1e-6 {
		t.Errorf("expected exact match first with similarity 1, got %q %v", got[0].Memory.Query, got[0].Similarity)
	}

	strict, err := r.Retrieve(context.Background(), "boil water", memory.TopK(5), memory.Threshold(0.99))
	if err != nil {
		t.Fatal(err)
	}
	if len(strict) != 1 {
		t.Errorf("expected a single near-identical match, got %d", len(strict))
	}
}

func TestRetrieveEmptyStore(t *testing.T) {
	emb := rbtesting.NewHashEmbedder()
	r := memory.NewRetriever(openStore(t, t.TempDir(), emb), emb)
	got, err := r.Retrieve(context.Background(), "anything")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil on empty store; got %v, %v", got, err)
	}
	if emb.Calls() != 0 {
		t.Errorf("empty store must not embed the query")
	}
}

func TestRetrieveNoEmbeddings(t *testing.T) {
	s := openStore(t, t.TempDir(), nil)
	s.Add(context.Background(), newMemory("mem_a", "boil water", true))
	r := memory.NewRetriever(s, rbtesting.NewHashEmbedder())
	got, err := r.Retrieve(context.Background(), "boil water")
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no memories without embeddings, got %v, %v", got, err)
	}
}

type stubSearcher struct {
	hits []memory.Hit
	topK int
}

func (s *stubSearcher) Search(_ context.Context, _ []float32, topK int, _ float64) ([]memory.Hit, error) {
	s.topK = topK
	return s.hits, nil
}

func TestRetrieveWithSearcher(t *testing.T) {
	emb := rbtesting.NewHashEmbedder()
	s := seededStore(t, emb, "boil water", "freeze ice")
	stub := &stubSearcher{hits: []memory.Hit{
		{MemoryID: "mem_000000000001", Score: 0.9},
		{MemoryID: "mem_gone", Score: 0.8},
	}}
	r := memory.NewRetriever(s, emb, memory.WithSearcher(stub), memory.WithTopK(4))

	got, err := r.Retrieve(context.Background(), "ice")
	if err != nil {
		t.Fatal(err)
	}
	if stub.topK != 4 {
		t.Errorf("expected default top_k forwarded, got %d", stub.topK)
	}
	if len(got) != 1 || got[0].Memory.Query != "freeze ice" {
		t.Errorf("expected unknown hits dropped, got %+v", got)
	}
}

func TestCosineScores(t *testing.T) {
	scores, err := memory.CosineScores([]float32{1, 0}, [][]float32{{2, 0}, {0, 3}, {0, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(scores[0]-1) > 1e-6 || math.Abs(scores[1]) > 1e-9 || scores[2] != 0 {
		t.Errorf("unexpected scores %v", scores)
	}
	if _, err := memory.CosineScores([]float32{1, 0}, [][]float32{{1, 0, 0}}); err == nil {
		t.Errorf("expected dimension mismatch error")
	}
}

func TestFormatForPrompt(t *testing.T) {
	if memory.FormatForPrompt(nil) != "" {
		t.Fatalf("no memories must render empty")
	}
	m := newMemory("mem_a", "boil water", true)
	out := memory.FormatForPrompt([]memory.RetrievedMemory{{Memory: m, Similarity: 0.876}})
	for _, want := range []string{
		"RELEVANT EXPERIENCE FROM SIMILAR TASKS",
		"[Experience #1] (Similarity: 0.88, Result: SUCCESS)",
		"  Goal: boil water",
		"  1. look around",
		"  2. activate stove",
		"    - Heat Source Selection: Pick the stove",
		"      Use the stove to heat water.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt section missing %q:\n%s", want, out)
		}
	}
}

func TestRetrievalSummary(t *testing.T) {
	m := newMemory("mem_a", strings.Repeat("x", 150), false)
	sum := memory.RetrievedMemory{Memory: m, Similarity: 0.123456}.Summary()
	if sum.Similarity != 0.1235 {
		t.Errorf("similarity not rounded: %v", sum.Similarity)
	}
	if len(sum.Query) != 103 || !strings.HasSuffix(sum.Query, "...") {
		t.Errorf("query not truncated: %q", sum.Query)
	}
	if sum.NumItems != 1 || sum.IsSuccess {
		t.Errorf("unexpected summary %+v", sum)
	}
}

package memory_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jllopis/reasoningbank/pkg/memory"
	rbtesting "github.com/jllopis/reasoningbank/pkg/testing"
)

func newMemory(id, query string, success bool) *memory.Memory {
	return &memory.Memory{
		ID:       id,
		TaskID:   "1-1_v0_e0",
		TaskType: "boil",
		Query:    query,
		Trajectory: []memory.Step{
			{Action: "look around", Observation: "This room is called the kitchen."},
			{Action: "activate stove", Observation: "The stove is now activated."},
		},
		IsSuccess: success,
		Items: []memory.MemoryEntry{
			{Title: "Heat Source Selection", Description: "Pick the stove", Content: "Use the stove to heat water."},
		},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func openStore(t *testing.T, dir string, emb memory.Embedder, opts ...memory.StoreOption) *memory.Store {
	t.Helper()
	s, err := memory.NewStore(context.Background(), dir, "scienceworld", emb, opts...)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	emb := rbtesting.NewHashEmbedder()
	s := openStore(t, dir, emb)

	want := []*memory.Memory{
		newMemory("mem_000000000001", "boil water", true),
		newMemory("mem_000000000002", "freeze ice", false),
		newMemory("mem_000000000003", "find a plant", true),
	}
	for _, m := range want {
		added, err := s.Add(context.Background(), m)
		if err != nil || !added {
			t.Fatalf("Add(%s) = %v, %v", m.ID, added, err)
		}
	}

	reopened := openStore(t, dir, emb)
	got := reopened.GetAll()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reloaded memories differ (-want +got):\n%s", diff)
	}
	mems, rows := reopened.MemoriesAndEmbeddings()
	if len(rows) != len(mems) || len(rows) != 3 {
		t.Fatalf("expected 3 aligned rows, got %d rows for %d memories", len(rows), len(mems))
	}
	if len(rows[0]) != 256 {
		t.Errorf("expected dimension 256, got %d", len(rows[0]))
	}
}

func TestStoreAddIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, rbtesting.NewHashEmbedder())
	m := newMemory("mem_dup", "boil water", true)

	if added, err := s.Add(context.Background(), m); err != nil || !added {
		t.Fatalf("first Add = %v, %v", added, err)
	}
	added, err := s.Add(context.Background(), m)
	if err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if added {
		t.Errorf("second Add must return false")
	}
	if s.Size() != 1 {
		t.Errorf("expected one stored copy, got %d", s.Size())
	}

	data, _ := os.ReadFile(s.MemoryFile())
	if n := strings.Count(string(data), "\n"); n != 1 {
		t.Errorf("expected one log line, got %d", n)
	}
}

func TestStoreRebuildsOnRowMismatch(t *testing.T) {
	dir := t.TempDir()
	emb := rbtesting.NewHashEmbedder()
	s := openStore(t, dir, emb)
	s.Add(context.Background(), newMemory("mem_a", "boil water", true))
	s.Add(context.Background(), newMemory("mem_b", "freeze ice", true))

	// Simulate a record appended without its embedding row.
	f, err := os.OpenFile(s.MemoryFile(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprintln(f, `{"memory_id":"mem_c","task_id":"t","task_type":"plant","query":"find a plant","is_success":false}`)
	f.Close()

	fresh := rbtesting.NewHashEmbedder()
	reopened := openStore(t, dir, fresh)
	mems, rows := reopened.MemoriesAndEmbeddings()
	if len(mems) != 3 || len(rows) != 3 {
		t.Fatalf("expected rebuilt matrix with 3 rows, got %d memories / %d rows", len(mems), len(rows))
	}
	if diff := cmp.Diff([]string{"boil water", "freeze ice", "find a plant"}, fresh.Texts()); diff != "" {
		t.Errorf("expected every query re-encoded in order (-want +got):\n%s", diff)
	}

	// The rebuilt matrix is persisted: a third open does not re-encode.
	third := rbtesting.NewHashEmbedder()
	openStore(t, dir, third)
	if third.Calls() != 0 {
		t.Errorf("expected persisted matrix to be reused, got %d encode calls", third.Calls())
	}
}

func TestStoreRebuildsMissingOrCorruptMatrix(t *testing.T) {
	dir := t.TempDir()
	emb := rbtesting.NewHashEmbedder()
	s := openStore(t, dir, emb)
	s.Add(context.Background(), newMemory("mem_a", "boil water", true))

	if err := os.WriteFile(s.EmbeddingsFile(), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	reopened := openStore(t, dir, emb)
	if !reopened.HasEmbeddings() {
		t.Fatalf("expected embeddings after rebuild from corrupt file")
	}

	os.Remove(s.EmbeddingsFile())
	reopened = openStore(t, dir, emb)
	if !reopened.HasEmbeddings() {
		t.Fatalf("expected embeddings after rebuild from missing file")
	}
}

func TestStoreRebuildFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, rbtesting.NewHashEmbedder())
	s.Add(context.Background(), newMemory("mem_a", "boil water", true))
	os.Remove(s.EmbeddingsFile())

	broken := &rbtesting.HashEmbedder{Err: errors.New("model failed to load")}
	if _, err := memory.NewStore(context.Background(), dir, "scienceworld", broken); err == nil {
		t.Fatalf("expected embedder failure to propagate")
	}
}

func TestStoreSkipsUndecodableLines(t *testing.T) {
	dir := t.TempDir()
	content := strings.Join([]string{
		`{"memory_id":"mem_a","query":"boil water","is_success":true}`,
		``,
		`{not json`,
		`{"memory_id":"mem_b","query":"freeze ice"}`,
	}, "\n")
	if err := os.WriteFile(dir+"/scienceworld_memories.jsonl", []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s := openStore(t, dir, rbtesting.NewHashEmbedder())
	if s.Size() != 2 {
		t.Fatalf("expected 2 memories, got %d", s.Size())
	}
	if m, ok := s.Get("mem_b"); !ok || m.Query != "freeze ice" {
		t.Errorf("expected mem_b to load, got %+v", m)
	}
}

func TestStoreAddAfterUnterminatedRecord(t *testing.T) {
	dir := t.TempDir()
	content := `{"memory_id":"mem_a","query":"boil water","is_success":true}` + "\n" +
		`{"memory_id":"mem_b","query":"freeze ice"}`
	if err := os.WriteFile(dir+"/scienceworld_memories.jsonl", []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s := openStore(t, dir, rbtesting.NewHashEmbedder())
	if added, err := s.Add(context.Background(), newMemory("mem_c", "melt ice", true)); err != nil || !added {
		t.Fatalf("Add: %v, %v", added, err)
	}

	reopened := openStore(t, dir, rbtesting.NewHashEmbedder())
	if reopened.Size() != 3 {
		t.Fatalf("expected 3 memories after reload, got %d", reopened.Size())
	}
	for _, id := range []string{"mem_a", "mem_b", "mem_c"} {
		if _, ok := reopened.Get(id); !ok {
			t.Errorf("%s lost on reload", id)
		}
	}
}

func TestStoreAddAfterTornAppend(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, rbtesting.NewHashEmbedder())
	if _, err := s.Add(context.Background(), newMemory("mem_a", "boil water", true)); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(s.MemoryFile(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"memory_id":"mem_x","que`)
	f.Close()

	if _, err := s.Add(context.Background(), newMemory("mem_b", "freeze ice", true)); err != nil {
		t.Fatal(err)
	}
	reopened := openStore(t, dir, rbtesting.NewHashEmbedder())
	if reopened.Size() != 2 {
		t.Fatalf("expected 2 memories after reload, got %d", reopened.Size())
	}
	if _, ok := reopened.Get("mem_b"); !ok {
		t.Errorf("mem_b fused with the torn line")
	}
	data, _ := os.ReadFile(reopened.MemoryFile())
	if strings.Contains(string(data), "mem_x") {
		t.Errorf("torn line should be dropped by the repair, got:\n%s", data)
	}
}

type flakyEmbedder struct {
	*rbtesting.HashEmbedder
	fail bool
}

func (f *flakyEmbedder) EncodeOne(ctx context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedding backend down")
	}
	return f.HashEmbedder.EncodeOne(ctx, text)
}

func TestStoreAddRollsBack(t *testing.T) {
	dir := t.TempDir()
	emb := &flakyEmbedder{HashEmbedder: rbtesting.NewHashEmbedder()}
	s := openStore(t, dir, emb)
	s.Add(context.Background(), newMemory("mem_a", "boil water", true))
	before, _ := os.ReadFile(s.MemoryFile())

	emb.fail = true
	added, err := s.Add(context.Background(), newMemory("mem_b", "freeze ice", true))
	if err == nil || added {
		t.Fatalf("expected failed add, got %v, %v", added, err)
	}
	if s.Size() != 1 {
		t.Errorf("in-memory index must roll back, size=%d", s.Size())
	}
	if _, ok := s.Get("mem_b"); ok {
		t.Errorf("rolled back memory must not be retrievable")
	}
	after, _ := os.ReadFile(s.MemoryFile())
	if string(before) != string(after) {
		t.Errorf("log must be truncated to its previous content")
	}

	emb.fail = false
	if added, err := s.Add(context.Background(), newMemory("mem_b", "freeze ice", true)); err != nil || !added {
		t.Fatalf("retry after rollback = %v, %v", added, err)
	}
	_, rows := s.MemoriesAndEmbeddings()
	if len(rows) != 2 {
		t.Errorf("expected 2 rows after retry, got %d", len(rows))
	}
}

func TestStoreRecordRetrievals(t *testing.T) {
	dir := t.TempDir()
	emb := rbtesting.NewHashEmbedder()
	s := openStore(t, dir, emb)
	s.Add(context.Background(), newMemory("mem_a", "boil water", true))
	s.Add(context.Background(), newMemory("mem_b", "freeze ice", true))
	rowsBefore, _ := os.ReadFile(s.EmbeddingsFile())

	if err := s.RecordRetrievals([]string{"mem_a", "mem_unknown"}, true); err != nil {
		t.Fatalf("RecordRetrievals: %v", err)
	}
	if err := s.RecordRetrievals([]string{"mem_a", "mem_b"}, false); err != nil {
		t.Fatalf("RecordRetrievals: %v", err)
	}

	reopened := openStore(t, dir, emb)
	a, _ := reopened.Get("mem_a")
	b, _ := reopened.Get("mem_b")
	if a.RetrievalCount != 2 || a.RetrievalSuccessCount != 1 {
		t.Errorf("mem_a counters = %d/%d, want 2/1", a.RetrievalSuccessCount, a.RetrievalCount)
	}
	if b.RetrievalCount != 1 || b.RetrievalSuccessCount != 0 {
		t.Errorf("mem_b counters = %d/%d, want 0/1", b.RetrievalSuccessCount, b.RetrievalCount)
	}
	if a.RetrievalSuccessRate() != 0.5 {
		t.Errorf("expected rate 0.5, got %v", a.RetrievalSuccessRate())
	}

	rowsAfter, _ := os.ReadFile(s.EmbeddingsFile())
	if string(rowsBefore) != string(rowsAfter) {
		t.Errorf("matrix must not change on retrieval bookkeeping")
	}
}

func TestStoreStats(t *testing.T) {
	s := openStore(t, t.TempDir(), rbtesting.NewHashEmbedder())
	s.Add(context.Background(), newMemory("mem_a", "boil water", true))
	m := newMemory("mem_b", "freeze ice", false)
	m.TaskType = "freeze"
	s.Add(context.Background(), m)
	s.Add(context.Background(), newMemory("mem_c", "find a plant", true))
	s.RecordRetrievals([]string{"mem_a"}, true)
	s.RecordRetrievals([]string{"mem_b"}, false)

	st := s.Stats()
	if st.Total != 3 || st.SuccessCount != 2 || st.FailureCount != 1 {
		t.Errorf("unexpected counts %+v", st)
	}
	if diff := cmp.Diff(map[string]int{"boil": 2, "freeze": 1}, st.TaskTypes); diff != "" {
		t.Errorf("task types (-want +got):\n%s", diff)
	}
	if !st.HasEmbeddings || st.EmbeddingDimension != 256 {
		t.Errorf("unexpected embedding stats %+v", st)
	}
	if st.TotalRetrievals != 2 || st.TotalRetrievalSuccesses != 1 {
		t.Errorf("unexpected retrieval totals %+v", st)
	}
	// mem_a rate 1.0 and mem_b rate 0.0; mem_c was never retrieved.
	if st.AvgRetrievalSuccessRate != 0.5 {
		t.Errorf("expected average rate 0.5, got %v", st.AvgRetrievalSuccessRate)
	}
}

type recordingMirror struct {
	mu     sync.Mutex
	ids    []string
	resets int
}

func (r *recordingMirror) Upsert(_ context.Context, ids []string, vectors [][]float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, ids...)
	return nil
}

func (r *recordingMirror) Reset(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	r.ids = nil
	return nil
}

func TestStoreMirrorAndClear(t *testing.T) {
	dir := t.TempDir()
	emb := rbtesting.NewHashEmbedder()
	s := openStore(t, dir, emb)
	s.Add(context.Background(), newMemory("mem_a", "boil water", true))

	mirror := &recordingMirror{}
	s = openStore(t, dir, emb, memory.WithMirror(mirror))
	s.Add(context.Background(), newMemory("mem_b", "freeze ice", true))
	if diff := cmp.Diff([]string{"mem_a", "mem_b"}, mirror.ids); diff != "" {
		t.Errorf("mirror ids (-want +got):\n%s", diff)
	}

	if err := s.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !s.IsEmpty() || s.HasEmbeddings() {
		t.Errorf("store must be empty after Clear")
	}
	if mirror.resets != 1 {
		t.Errorf("expected mirror reset")
	}
	for _, p := range []string{s.MemoryFile(), s.EmbeddingsFile()} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("expected %s to be removed", p)
		}
	}
}

func TestStoreWithoutEmbedder(t *testing.T) {
	s := openStore(t, t.TempDir(), nil)
	if added, err := s.Add(context.Background(), newMemory("mem_a", "boil water", true)); err != nil || !added {
		t.Fatalf("Add = %v, %v", added, err)
	}
	if s.HasEmbeddings() {
		t.Errorf("store without embedder has no embeddings")
	}
}

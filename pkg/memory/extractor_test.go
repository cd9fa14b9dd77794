package memory_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	rberrors "github.com/jllopis/reasoningbank/pkg/errors"
	"github.com/jllopis/reasoningbank/pkg/llm"
	"github.com/jllopis/reasoningbank/pkg/memory"
	rbtesting "github.com/jllopis/reasoningbank/pkg/testing"
)

var trajectory = []memory.Step{
	{Action: "look around", Observation: "This room is called the kitchen."},
	{Action: "move water to stove", Observation: "You move the water to the stove."},
}

func newExtractor(provider llm.Provider) *memory.Extractor {
	client := llm.NewClient(provider, "test-model", llm.WithRetry(1, time.Millisecond, time.Millisecond))
	return memory.NewExtractor(client)
}

func TestExtractFencedOutput(t *testing.T) {
	provider := llm.NewScriptedMockProvider(
		"Sure! ```json\n[{\"title\":\"A\",\"description\":\"d\",\"content\":\"c\"}]\n```")
	res := newExtractor(provider).Extract(context.Background(), "1-1_v0_e0", "boil", "boil water", trajectory, true)

	if !res.OK() {
		t.Fatalf("expected memory, got reason %q: %v", res.Reason, res.Err)
	}
	want := []memory.MemoryEntry{{Title: "A", Description: "d", Content: "c"}}
	if diff := cmp.Diff(want, res.Memory.Items); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(res.Memory.ID, "mem_") || len(res.Memory.ID) != 16 {
		t.Errorf("unexpected id %q", res.Memory.ID)
	}
	if res.Memory.Query != "boil water" || !res.Memory.IsSuccess || len(res.Memory.Trajectory) != 2 {
		t.Errorf("unexpected memory %+v", res.Memory)
	}

	req, _ := provider.LastRequest()
	if req.Temperature != 0.3 || req.MaxTokens != 1024 {
		t.Errorf("unexpected sampling temperature=%v max_tokens=%d", req.Temperature, req.MaxTokens)
	}
	if !strings.Contains(req.Messages[1].Content, "Step 1:\n  Action: look around") {
		t.Errorf("prompt must embed the trajectory:\n%s", req.Messages[1].Content)
	}
}

func TestExtractRepairsMalformedArray(t *testing.T) {
	provider := llm.NewScriptedMockProvider(`[{"title": "A", "content": "c",}, {"title": "B", "content": "d"},]`)
	res := newExtractor(provider).Extract(context.Background(), "t", "boil", "g", trajectory, false)
	if !res.OK() || len(res.Memory.Items) != 2 {
		t.Fatalf("expected repaired array with 2 entries, got %+v", res)
	}
	if res.Memory.IsSuccess {
		t.Errorf("failed trajectory must yield a failure memory")
	}
}

func TestExtractParseFailure(t *testing.T) {
	provider := llm.NewScriptedMockProvider("not json at all")
	res := newExtractor(provider).Extract(context.Background(), "t", "boil", "g", trajectory, true)
	if res.Reason != memory.ReasonParseFailure || res.Memory != nil {
		t.Fatalf("expected parse failure, got %+v", res)
	}
	if !rberrors.HasCode(res.Err, rberrors.CodeParseFailure) {
		t.Errorf("expected PARSE_FAILURE code, got %v", res.Err)
	}
}

func TestExtractDropsInvalidEntries(t *testing.T) {
	provider := llm.NewScriptedMockProvider(`[
		{"title": "Keep", "content": "body"},
		{"title": "", "content": "no title"},
		{"title": "No content"},
		"a string",
		{"title": "  Also keep  ", "description": "x", "content": " trimmed "}
	]`)
	res := newExtractor(provider).Extract(context.Background(), "t", "boil", "g", trajectory, true)
	if !res.OK() {
		t.Fatalf("expected memory, got %+v", res)
	}
	want := []memory.MemoryEntry{
		{Title: "Keep", Content: "body"},
		{Title: "Also keep", Description: "x", Content: "trimmed"},
	}
	if diff := cmp.Diff(want, res.Memory.Items); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}
}

func TestExtractNoValidEntries(t *testing.T) {
	provider := llm.NewScriptedMockProvider(`[{"title": "only"}]`)
	res := newExtractor(provider).Extract(context.Background(), "t", "boil", "g", trajectory, true)
	if res.Reason != memory.ReasonNoEntries {
		t.Fatalf("expected no entries, got %+v", res)
	}
}

func TestExtractEmptyTrajectory(t *testing.T) {
	provider := llm.NewScriptedMockProvider("[]")
	res := newExtractor(provider).Extract(context.Background(), "t", "boil", "g", nil, true)
	if res.Reason != memory.ReasonEmptyInput {
		t.Fatalf("expected empty input, got %+v", res)
	}
	if provider.CallCount != 0 {
		t.Errorf("generator must not be called for an empty trajectory")
	}
}

func TestExtractGenerationFailure(t *testing.T) {
	provider := &llm.FailingMockProvider{Err: errors.New("connection refused")}
	res := newExtractor(provider).Extract(context.Background(), "t", "boil", "g", trajectory, true)
	if res.Reason != memory.ReasonGenerationFailure {
		t.Fatalf("expected generation failure, got %+v", res)
	}
	if !rberrors.HasCode(res.Err, rberrors.CodeGenerationFailure) {
		t.Errorf("expected GENERATION_FAILURE code, got %v", res.Err)
	}
}

func TestExtractContrastive(t *testing.T) {
	var items []string
	for i := range 7 {
		items = append(items, fmt.Sprintf(`{"title":"T%d","content":"c%d"}`, i, i))
	}
	provider := llm.NewScriptedMockProvider("[" + strings.Join(items, ",") + "]")
	bundles := []memory.TrajectoryBundle{
		{Trajectory: trajectory[:1], IsSuccess: false, Score: 10, Steps: 1},
		{Trajectory: trajectory, IsSuccess: true, Score: 100, Steps: 2},
	}

	res := newExtractor(provider).ExtractContrastive(context.Background(), "t", "boil", "boil water", bundles)
	if !res.OK() {
		t.Fatalf("expected memory, got %+v", res)
	}
	if len(res.Memory.Items) != memory.MaxContrastiveItems {
		t.Errorf("expected %d entries, got %d", memory.MaxContrastiveItems, len(res.Memory.Items))
	}
	if res.Memory.Items[4].Title != "T4" {
		t.Errorf("truncation must keep the first entries, got %q", res.Memory.Items[4].Title)
	}
	if !res.Memory.IsSuccess {
		t.Errorf("any successful attempt makes the memory successful")
	}
	if len(res.Memory.Trajectory) != 1 {
		t.Errorf("expected the first attempt's trajectory")
	}

	req, _ := provider.LastRequest()
	if req.MaxTokens != 2048 {
		t.Errorf("expected contrastive token limit 2048, got %d", req.MaxTokens)
	}
	prompt := req.Messages[1].Content
	if strings.Index(prompt, "SUCCESS") > strings.Index(prompt, "FAILED") {
		t.Errorf("successful attempts must be listed first:\n%s", prompt)
	}
}

func TestExtractContrastiveAllFailed(t *testing.T) {
	provider := llm.NewScriptedMockProvider(`[{"title":"A","content":"c"}]`)
	bundles := []memory.TrajectoryBundle{
		{Trajectory: trajectory, Score: 0},
		{Trajectory: trajectory, Score: 25},
	}
	res := newExtractor(provider).ExtractContrastive(context.Background(), "t", "boil", "g", bundles)
	if !res.OK() || res.Memory.IsSuccess {
		t.Fatalf("expected failure memory, got %+v", res)
	}
}

func TestExtractAndStore(t *testing.T) {
	emb := rbtesting.NewHashEmbedder()
	store := openStore(t, t.TempDir(), emb)
	provider := llm.NewScriptedMockProvider(
		`[{"title":"A","content":"c"}]`,
		`[{"title":"B","content":"c"}]`,
		`[{"title":"C","content":"c"}]`,
	)
	ex := newExtractor(provider)

	res := ex.ExtractAndStore(context.Background(), store, memory.Request{
		TaskID: "1-1_v0_e0", TaskType: "boil", Goal: "boil water", Trajectory: trajectory, Success: true,
	})
	if !res.OK() {
		t.Fatalf("expected stored memory, got %+v", res)
	}
	if _, ok := store.Get(res.Memory.ID); !ok {
		t.Errorf("memory must be in the store")
	}

	res = ex.ExtractAndStore(context.Background(), store, memory.Request{
		TaskID: "1-1_v0_e0", TaskType: "boil", Goal: "boil water",
		Bundles: []memory.TrajectoryBundle{{Trajectory: trajectory, IsSuccess: true}},
	})
	if !res.OK() || res.Memory.Items[0].Title != "B" {
		t.Fatalf("expected contrastive memory, got %+v", res)
	}
	if store.Size() != 2 {
		t.Errorf("expected 2 stored memories, got %d", store.Size())
	}

	res = ex.ExtractAndStore(context.Background(), nil, memory.Request{
		TaskID: "t", Goal: "g", Trajectory: trajectory,
	})
	if res.Reason != memory.ReasonStoreUnavailable {
		t.Errorf("expected store unavailable, got %+v", res)
	}
}

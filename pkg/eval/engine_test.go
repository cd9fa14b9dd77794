package eval

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/jllopis/reasoningbank/pkg/agent"
	"github.com/jllopis/reasoningbank/pkg/config"
	"github.com/jllopis/reasoningbank/pkg/env"
	"github.com/jllopis/reasoningbank/pkg/llm"
	"github.com/jllopis/reasoningbank/pkg/memory"
	"github.com/jllopis/reasoningbank/pkg/results"
	"github.com/jllopis/reasoningbank/pkg/scheduler"
	rbtesting "github.com/jllopis/reasoningbank/pkg/testing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func boilEnv() *env.Env {
	return env.New(env.NewScriptedSimulator(env.TaskScript{
		Name:        "boil",
		Description: "Your task is to boil water.",
		Initial:     "This room is called the kitchen.",
		Valid:       []string{"activate stove", "wait"},
		Actions: map[string]env.Transition{
			"activate stove": {Observation: "The stove is on.", Score: 50},
			"wait":           {Observation: "The water boils.", Score: 100},
		},
	}))
}

// labProvider plays the boil task as the agent and answers extraction
// prompts with one memory item.
type labProvider struct {
	mu       sync.Mutex
	agent    []llm.ChatRequest
	extract  []llm.ChatRequest
	extractF bool
}

func (p *labProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	system, user := req.Messages[0].Content, req.Messages[1].Content
	if strings.HasPrefix(system, "You are an expert at analyzing") {
		p.extract = append(p.extract, req)
		if p.extractF {
			return &llm.ChatResponse{Content: "no json here"}, nil
		}
		return &llm.ChatResponse{Content: `[{"title": "Heat first", "description": "Use the stove", "content": "Activate the stove, then wait."}]`}, nil
	}
	p.agent = append(p.agent, req)
	if strings.Contains(user, "Action: activate stove") {
		return &llm.ChatResponse{Content: "Think: Let it heat.\nAction: wait"}, nil
	}
	return &llm.ChatResponse{Content: "Think: Heat the water.\nAction: activate stove"}, nil
}

func schedule(ids ...string) []scheduler.EpisodeDescriptor {
	var out []scheduler.EpisodeDescriptor
	for _, id := range ids {
		taskID, variation, episode, err := scheduler.ParseEpisodeID(id)
		if err != nil {
			panic(err)
		}
		out = append(out, scheduler.EpisodeDescriptor{
			TaskID: taskID, TaskName: "boil", Variation: variation, Episode: episode, EpisodeID: id,
		})
	}
	return out
}

func newMemory(t *testing.T, gen llm.Generator) (*memory.Store, Option) {
	t.Helper()
	emb := rbtesting.NewHashEmbedder()
	store, err := memory.NewStore(context.Background(), t.TempDir(), "boil", emb)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	retriever := memory.NewRetriever(store, emb)
	extractor := memory.NewExtractor(gen)
	return store, WithMemory(store, retriever, extractor)
}

func newAgent(p llm.Provider) *agent.Agent {
	client := llm.NewClient(p, "test-model", llm.WithRetry(1, time.Millisecond, time.Millisecond))
	return agent.New(client, agent.WithFewShot(false))
}

func TestRunBaselineWritesResults(t *testing.T) {
	dir := t.TempDir()
	p := &labProvider{}
	e := New(boilEnv(), newAgent(p), Options{
		RunID: "run1", Model: "test-model", Mode: config.ModeBaseline, OutputDir: dir, SaveInterval: 1,
		Config: map[string]string{"split": "dev"},
	}, WithClock(func() time.Time { return fixedNow }))

	report, err := e.Run(context.Background(), schedule("1-1_v0_e0", "1-1_v1_e0"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Ran != 2 || report.Summary.Successes != 2 || report.Summary.SuccessRate != 1 {
		t.Fatalf("unexpected report %+v", report.Summary)
	}
	if len(p.extract) != 0 {
		t.Errorf("baseline must not extract, got %d extraction calls", len(p.extract))
	}

	if report.ResultsPath != filepath.Join(dir, "run1_results.json") {
		t.Errorf("results path %q", report.ResultsPath)
	}
	if _, err := os.Stat(filepath.Join(dir, "run1_20260301_120000_results.json")); err != nil {
		t.Errorf("timestamped results file missing: %v", err)
	}
	data, err := os.ReadFile(report.ResultsPath)
	if err != nil {
		t.Fatal(err)
	}
	var doc results.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("results document: %v", err)
	}
	if doc.RunID != "run1" || doc.Model != "test-model" || doc.Summary.TotalEpisodes != 2 {
		t.Errorf("unexpected document header %+v", doc.Summary)
	}
	if _, err := os.Stat(report.CheckpointPath); !os.IsNotExist(err) {
		t.Errorf("checkpoint must be removed after a complete run, stat err %v", err)
	}
}

func TestRunRetrieveAndExtract(t *testing.T) {
	p := &labProvider{}
	client := llm.NewClient(p, "test-model", llm.WithRetry(1, time.Millisecond, time.Millisecond))
	store, mem := newMemory(t, client)
	e := New(boilEnv(), agent.New(client, agent.WithFewShot(false)), Options{
		RunID: "run2", Mode: config.ModeRetrieveAndExtract, OutputDir: t.TempDir(),
	}, mem)

	report, err := e.Run(context.Background(), schedule("1-1_v0_e0", "1-1_v0_e1"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.Size() != 2 {
		t.Fatalf("each episode stores one memory, store has %d", store.Size())
	}

	first, second := report.Results[0], report.Results[1]
	if len(first.UsedMemories) != 0 {
		t.Errorf("nothing to retrieve for the first episode, got %+v", first.UsedMemories)
	}
	if len(second.UsedMemories) != 1 {
		t.Fatalf("second episode must retrieve the first memory, got %+v", second.UsedMemories)
	}

	mems := store.GetAll()
	if got := []string{mems[0].TaskID, mems[1].TaskID}; !cmp.Equal(got, []string{"1-1_v0_e0", "1-1_v0_e1"}) {
		t.Errorf("memories are keyed by episode id, got %v", got)
	}
	if second.UsedMemories[0].MemoryID != mems[0].ID {
		t.Errorf("retrieved %q, want %q", second.UsedMemories[0].MemoryID, mems[0].ID)
	}
	if mems[0].RetrievalCount != 1 || mems[0].RetrievalSuccessCount != 1 {
		t.Errorf("retrieval outcome not recorded: %+v", mems[0])
	}
	if !strings.Contains(p.agent[len(p.agent)-1].Messages[0].Content, "[Experience #1]") {
		t.Errorf("retrieved memory must reach the agent prompt")
	}
}

func TestRunRetrieveOnlyDoesNotExtract(t *testing.T) {
	p := &labProvider{}
	client := llm.NewClient(p, "test-model", llm.WithRetry(1, time.Millisecond, time.Millisecond))
	store, mem := newMemory(t, client)
	e := New(boilEnv(), agent.New(client), Options{
		RunID: "run3", Mode: config.ModeRetrieveOnly, OutputDir: t.TempDir(),
	}, mem)
	if _, err := e.Run(context.Background(), schedule("1-1_v0_e0")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.Size() != 0 || len(p.extract) != 0 {
		t.Errorf("retrieve only must leave the bank untouched")
	}
}

func TestRunExtractionFailureIsSoft(t *testing.T) {
	p := &labProvider{extractF: true}
	client := llm.NewClient(p, "test-model", llm.WithRetry(1, time.Millisecond, time.Millisecond))
	store, mem := newMemory(t, client)
	e := New(boilEnv(), agent.New(client), Options{RunID: "run4", OutputDir: t.TempDir()}, mem)

	report, err := e.Run(context.Background(), schedule("1-1_v0_e0"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Results[0].Success || store.Size() != 0 {
		t.Errorf("a parse failure must not affect the episode or the bank")
	}
}

func TestRunMultiSample(t *testing.T) {
	p := &labProvider{}
	client := llm.NewClient(p, "test-model", llm.WithRetry(1, time.Millisecond, time.Millisecond))
	store, mem := newMemory(t, client)
	e := New(boilEnv(), agent.New(client), Options{
		RunID: "run5", OutputDir: t.TempDir(),
		MaTTS: MaTTS{Enabled: true, SampleN: 2, Temperature: 0.9, MaxTokens: 256},
	}, mem)

	report, err := e.Run(context.Background(), schedule("1-1_v2_e0"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Results) != 1 || report.Results[0].EpisodeID != "1-1_v2_e0" {
		t.Fatalf("only the scored sample is reported, got %d results", len(report.Results))
	}
	if len(p.agent) != 6 {
		t.Errorf("three samples of two steps each, got %d agent calls", len(p.agent))
	}
	if got := p.agent[len(p.agent)-1]; got.Temperature != 0.9 || got.MaxTokens != 256 {
		t.Errorf("extra samples run with the scaling settings, got temperature %v max tokens %d", got.Temperature, got.MaxTokens)
	}
	if len(p.extract) != 1 || !strings.Contains(p.extract[0].Messages[0].Content, "multiple attempts") {
		t.Fatalf("expected one contrastive extraction, got %d", len(p.extract))
	}
	if !strings.Contains(p.extract[0].Messages[1].Content, "=== Trajectory 3 (SUCCESS") {
		t.Errorf("contrastive prompt must cover every sample")
	}
	mems := store.GetAll()
	if len(mems) != 1 || mems[0].TaskID != "1-1_v2_matts" {
		t.Errorf("unexpected memories %+v", mems)
	}
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	opts := Options{RunID: "resume", Mode: config.ModeBaseline, OutputDir: dir, SaveInterval: 1, KeepCheckpoint: true}

	first := &labProvider{}
	if _, err := New(boilEnv(), newAgent(first), opts).Run(context.Background(), schedule("1-1_v0_e0")); err != nil {
		t.Fatalf("first run: %v", err)
	}

	second := &labProvider{}
	report, err := New(boilEnv(), newAgent(second), opts).Run(context.Background(), schedule("1-1_v0_e0", "1-1_v1_e0"))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Resumed != 1 || report.Ran != 1 || len(report.Results) != 2 {
		t.Fatalf("unexpected report resumed=%d ran=%d results=%d", report.Resumed, report.Ran, len(report.Results))
	}
	if len(second.agent) != 2 {
		t.Errorf("completed episodes must not run again, got %d agent calls", len(second.agent))
	}
	if _, err := os.Stat(report.CheckpointPath); err != nil {
		t.Errorf("checkpoint kept on request: %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(boilEnv(), newAgent(&labProvider{}), Options{RunID: "stop", Mode: config.ModeBaseline, OutputDir: t.TempDir()})

	report, err := e.Run(ctx, schedule("1-1_v0_e0", "1-1_v1_e0"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !report.Interrupted || report.Ran != 0 {
		t.Errorf("unexpected report %+v", report)
	}
	if _, err := os.Stat(report.CheckpointPath); err != nil {
		t.Errorf("an interrupted run keeps its checkpoint: %v", err)
	}
}

// interruptingProvider cancels the run from inside a provider call: on
// the first extraction request, or on agent call number atAgentCall.
type interruptingProvider struct {
	*labProvider
	cancel      context.CancelFunc
	atAgentCall int
	once        sync.Once
}

func (p *interruptingProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.labProvider.Chat(ctx, req)
	p.mu.Lock()
	agentCalls, extractCalls := len(p.agent), len(p.extract)
	p.mu.Unlock()
	if (p.atAgentCall == 0 && extractCalls > 0) || (p.atAgentCall > 0 && agentCalls == p.atAgentCall) {
		p.once.Do(p.cancel)
	}
	return resp, err
}

func TestRunCancelledDuringExtractionCompletesEpisode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &interruptingProvider{labProvider: &labProvider{}, cancel: cancel}
	client := llm.NewClient(p, "test-model", llm.WithRetry(1, time.Millisecond, time.Millisecond))
	store, mem := newMemory(t, client)
	opts := Options{RunID: "halt", Mode: config.ModeRetrieveAndExtract, OutputDir: t.TempDir(), KeepCheckpoint: true}
	eps := schedule("1-1_v0_e0", "1-1_v0_e1")

	report, err := New(boilEnv(), agent.New(client, agent.WithFewShot(false)), opts, mem).Run(ctx, eps)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !report.Interrupted || report.Ran != 1 || report.Results[0].EpisodeID != "1-1_v0_e0" {
		t.Fatalf("the extracted episode must count as completed, got %+v", report)
	}
	if store.Size() != 1 {
		t.Fatalf("expected the first memory to be stored, store has %d", store.Size())
	}

	next := &labProvider{}
	nextClient := llm.NewClient(next, "test-model", llm.WithRetry(1, time.Millisecond, time.Millisecond))
	report, err = New(boilEnv(), agent.New(nextClient, agent.WithFewShot(false)), opts, mem).Run(context.Background(), eps)
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if report.Resumed != 1 || report.Ran != 1 {
		t.Fatalf("only the second episode may run again, resumed=%d ran=%d", report.Resumed, report.Ran)
	}
	mems := store.GetAll()
	if len(mems) != 2 {
		t.Fatalf("expected one memory per episode, store has %d", len(mems))
	}
	if got := []string{mems[0].TaskID, mems[1].TaskID}; !cmp.Equal(got, []string{"1-1_v0_e0", "1-1_v0_e1"}) {
		t.Errorf("memories are keyed by episode id, got %v", got)
	}
	if mems[0].RetrievalCount != 1 {
		t.Errorf("retrieval counted %d times, want 1", mems[0].RetrievalCount)
	}
}

func TestRunMultiSampleCancelledDuringExtraSamples(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &interruptingProvider{labProvider: &labProvider{}, cancel: cancel, atAgentCall: 3}
	client := llm.NewClient(p, "test-model", llm.WithRetry(1, time.Millisecond, time.Millisecond))
	store, mem := newMemory(t, client)
	e := New(boilEnv(), agent.New(client), Options{
		RunID: "halt-matts", OutputDir: t.TempDir(),
		MaTTS: MaTTS{Enabled: true, SampleN: 2, Temperature: 0.9},
	}, mem)

	report, err := e.Run(ctx, schedule("1-1_v2_e0", "1-1_v3_e0"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report.Ran != 1 || !report.Results[0].Success {
		t.Fatalf("the scored sample finished, got %+v", report)
	}
	if len(p.extract) != 1 || strings.Contains(p.extract[0].Messages[1].Content, "=== Trajectory 2") {
		t.Fatalf("only the finished sample is distilled, got %d extraction calls", len(p.extract))
	}
	if mems := store.GetAll(); len(mems) != 1 || mems[0].TaskID != "1-1_v2_matts" {
		t.Errorf("unexpected memories %+v", mems)
	}
}

type panicRunner struct{}

func (panicRunner) RunEpisode(context.Context, env.Environment, agent.EpisodeSpec) results.EpisodeResult {
	panic("simulator crashed")
}

func TestRunPanicBecomesFailedResult(t *testing.T) {
	e := New(boilEnv(), panicRunner{}, Options{RunID: "boom", Mode: config.ModeBaseline, OutputDir: t.TempDir()})
	report, err := e.Run(context.Background(), schedule("1-1_v0_e0"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := report.Results[0]
	if r.Success || r.Score != 0 || !strings.Contains(r.Error, "simulator crashed") || r.TaskID != "1-1" {
		t.Errorf("unexpected failed result %+v", r)
	}
}

func TestNewFallsBackToBaseline(t *testing.T) {
	e := New(boilEnv(), panicRunner{}, Options{RunID: "x", Mode: config.ModeRetrieveAndExtract, OutputDir: t.TempDir()})
	if e.Mode() != config.ModeBaseline {
		t.Errorf("mode = %q, want baseline without a store", e.Mode())
	}
}

package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jllopis/reasoningbank/pkg/env"
	"github.com/jllopis/reasoningbank/pkg/llm"
	"github.com/jllopis/reasoningbank/pkg/memory"
)

func boilSimulator() *env.ScriptedSimulator {
	return env.NewScriptedSimulator(env.TaskScript{
		Name:        "boil",
		Description: "Your task is to boil water.",
		Initial:     "This room is called the hallway.",
		Valid:       []string{"look around", "activate stove", "wait"},
		Actions: map[string]env.Transition{
			"look around":    {Observation: "You see a stove.", Score: 10},
			"activate stove": {Observation: "The stove is on.", Score: 60},
			"wait":           {Observation: "The water boils.", Score: 100},
		},
	})
}

func newClient(p llm.Provider) *llm.Client {
	return llm.NewClient(p, "test-model", llm.WithRetry(1, time.Millisecond, time.Millisecond))
}

func TestRunEpisodeSuccess(t *testing.T) {
	provider := llm.NewScriptedMockProvider(
		"Think: Look first.\nAction: look around (to orient)",
		"Think: Which commands?\nAction: check valid actions",
		"I will heat the water.\nactivate stove",
		"Think: Wait for it.\nAction: wait",
	)
	a := New(newClient(provider), WithHistoryLength(10))
	mems := []memory.RetrievedMemory{{
		Memory:     &memory.Memory{ID: "mem_1", Query: "boil water", IsSuccess: true},
		Similarity: 0.87654,
	}}

	res := a.RunEpisode(context.Background(), env.New(boilSimulator()), EpisodeSpec{
		EpisodeID:       "1-1_v0_e0",
		TaskID:          "1-1",
		TaskName:        "boil",
		Memories:        mems,
		GenerateOptions: []llm.GenerateOption{llm.WithTemperature(0.7)},
	})

	if res.Error != "" {
		t.Fatalf("unexpected error %q", res.Error)
	}
	if !res.Success || res.Score != 100 || res.Steps != 4 {
		t.Fatalf("unexpected outcome %+v", res)
	}
	if diff := cmp.Diff([]string{"look around", "check valid actions", "activate stove", "wait"}, res.Actions); diff != "" {
		t.Errorf("actions (-want +got):\n%s", diff)
	}
	if len(res.Observations) != res.Steps+1 || res.Observations[0] != "This room is called the hallway." {
		t.Errorf("observations must hold the initial observation plus one per step: %q", res.Observations)
	}
	if !strings.HasPrefix(res.Observations[2], "Valid actions:") {
		t.Errorf("check valid actions observation %q", res.Observations[2])
	}
	if res.Thoughts[0] != "Look first." || res.Thoughts[2] != "" {
		t.Errorf("unexpected thoughts %q", res.Thoughts)
	}
	if res.Goal != "Your task is to boil water." {
		t.Errorf("goal = %q", res.Goal)
	}
	if len(res.UsedMemories) != 1 || res.UsedMemories[0].MemoryID != "mem_1" || res.UsedMemories[0].Similarity != 0.8765 {
		t.Errorf("used memories %+v", res.UsedMemories)
	}

	req, _ := provider.LastRequest()
	if req.Temperature != 0.7 {
		t.Errorf("generate options must reach the request, temperature %v", req.Temperature)
	}
	system, user := req.Messages[0].Content, req.Messages[1].Content
	if !strings.Contains(system, "[Experience #1]") || !strings.Contains(system, "--- Example: Boil Task ---") {
		t.Errorf("system prompt misses memories or demonstrations")
	}
	if !strings.Contains(user, "Action: activate stove\n\n") || !strings.Contains(user, "Observation: You see a stove.") {
		t.Errorf("user prompt history not rendered:\n%s", user)
	}
}

func TestRunEpisodeStepBudget(t *testing.T) {
	provider := &llm.MockProvider{Response: "Think: look\nAction: look around"}
	a := New(newClient(provider), WithMaxSteps(10))
	res := a.RunEpisode(context.Background(), env.New(boilSimulator()), EpisodeSpec{
		EpisodeID: "1-1_v0_e0", TaskID: "1-1", TaskName: "boil", MaxSteps: 3,
	})
	if res.Success || res.Steps != 3 || res.Score != 10 || res.Error != "" {
		t.Fatalf("unexpected outcome %+v", res)
	}
	if len(res.Observations) != 4 {
		t.Errorf("expected 4 observations, got %d", len(res.Observations))
	}
}

func TestRunEpisodeGenerationFailure(t *testing.T) {
	provider := llm.NewScriptedMockProvider("Think: look\nAction: look around")
	a := New(newClient(provider))
	res := a.RunEpisode(context.Background(), env.New(boilSimulator()), EpisodeSpec{
		EpisodeID: "1-1_v0_e0", TaskID: "1-1", TaskName: "boil",
	})
	if res.Success || res.Steps != 1 || !strings.Contains(res.Error, "LLM_ERROR") {
		t.Fatalf("expected a recorded generation failure after one step, got %+v", res)
	}
	if len(res.Observations) != 2 {
		t.Errorf("work done before the failure is kept, got %d observations", len(res.Observations))
	}
}

func TestRunEpisodeLoadFailure(t *testing.T) {
	provider := &llm.FailingMockProvider{Err: errors.New("unused")}
	a := New(newClient(provider))
	res := a.RunEpisode(context.Background(), env.New(boilSimulator()), EpisodeSpec{
		EpisodeID: "9-9_v0_e0", TaskID: "9-9", TaskName: "missing",
	})
	if res.Error == "" || res.Steps != 0 || len(res.Observations) != 0 {
		t.Fatalf("expected setup failure, got %+v", res)
	}
	if provider.Calls != 0 {
		t.Errorf("no generation expected after a setup failure")
	}
}

func TestRunEpisodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := New(newClient(&llm.MockProvider{Response: "Action: wait"}))
	res := a.RunEpisode(ctx, env.New(boilSimulator()), EpisodeSpec{
		EpisodeID: "1-1_v0_e0", TaskID: "1-1", TaskName: "boil",
	})
	if res.Error == "" || res.Steps != 0 {
		t.Fatalf("expected cancellation to be recorded, got %+v", res)
	}
}

func TestRunEpisodeRecallUsesGoal(t *testing.T) {
	provider := llm.NewScriptedMockProvider("Think: done\nAction: wait")
	a := New(newClient(provider))
	var asked string
	res := a.RunEpisode(context.Background(), env.New(boilSimulator()), EpisodeSpec{
		EpisodeID: "1-1_v0_e0", TaskID: "1-1", TaskName: "boil",
		Recall: func(_ context.Context, goal string) []memory.RetrievedMemory {
			asked = goal
			return []memory.RetrievedMemory{{Memory: &memory.Memory{ID: "mem_7"}, Similarity: 0.5}}
		},
	})
	if asked != "Your task is to boil water." {
		t.Fatalf("recall queried with %q", asked)
	}
	if len(res.UsedMemories) != 1 || res.UsedMemories[0].MemoryID != "mem_7" {
		t.Errorf("recalled memories must be reported, got %+v", res.UsedMemories)
	}
	req, _ := provider.LastRequest()
	if !strings.Contains(req.Messages[0].Content, "[Experience #1]") {
		t.Errorf("recalled memories must reach the system prompt")
	}
}

package env

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const stdioHelperEnv = "RBENCH_ENV_STDIO_HELPER"

func TestHelperSimulatorStdioServer(t *testing.T) {
	if os.Getenv(stdioHelperEnv) != "1" {
		return
	}
	if err := ServeStdio(NewScriptedSimulator(boilScript())); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestMCPInProcess(t *testing.T) {
	ctx := context.Background()
	backend := NewScriptedSimulator(boilScript())
	sim, err := NewInProcessSimulator(ctx, backend, WithRetry(0, 0))
	if err != nil {
		t.Fatalf("NewInProcessSimulator: %v", err)
	}
	e := New(sim)
	defer e.Close()

	vars, err := e.Variations(ctx, "boil", "dev")
	if err != nil {
		t.Fatalf("Variations: %v", err)
	}
	if diff := cmp.Diff([]int{3, 1, 2}, vars); diff != "" {
		t.Errorf("variations (-want +got):\n%s", diff)
	}

	if err := e.Load(ctx, "boil", 2, "openDoors"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff([]LoadCall{{Task: "boil", Variation: 2, Simplifications: "openDoors"}}, backend.Loads()); diff != "" {
		t.Errorf("loads (-want +got):\n%s", diff)
	}

	obs, info, err := e.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !strings.Contains(obs, "variation 2") || info.TaskDescription == "" {
		t.Errorf("unexpected reset %q %+v", obs, info)
	}

	obs, reward, done, info, err := e.Step(ctx, "look around")
	if err != nil || obs != "You see a stove." || reward != 10 || done || info.Moves != 1 {
		t.Fatalf("unexpected step %q %v %v %+v %v", obs, reward, done, info, err)
	}
	valid, err := sim.ValidActions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"look around", "activate stove"}, valid); diff != "" {
		t.Errorf("valid (-want +got):\n%s", diff)
	}
	desc, err := sim.TaskDescription(ctx)
	if err != nil || desc != "Your task is to boil water." {
		t.Errorf("task description %q %v", desc, err)
	}
}

func TestMCPToolErrorsAreReturned(t *testing.T) {
	ctx := context.Background()
	sim, err := NewInProcessSimulator(ctx, NewScriptedSimulator(boilScript()), WithRetry(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	defer sim.Close()

	if err := sim.Load(ctx, "missing", 0, ""); err == nil || !strings.Contains(err.Error(), "unknown task") {
		t.Errorf("expected unknown task error, got %v", err)
	}
	if _, _, err := sim.Reset(ctx); err == nil {
		t.Errorf("expected reset without a loaded task to fail")
	}
}

func TestMCPStdio(t *testing.T) {
	t.Setenv(stdioHelperEnv, "1")

	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	ctx := context.Background()
	sim, err := NewStdioSimulator(ctx, exe, []string{"-test.run", "TestHelperSimulatorStdioServer"}, nil)
	if err != nil {
		t.Fatalf("NewStdioSimulator: %v", err)
	}
	defer sim.Close()

	if err := sim.Load(ctx, "boil", 0, ""); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, _, err := sim.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	_, _, done, info, err := sim.Step(ctx, "wait")
	if err != nil || done || info.Score != 100 {
		t.Fatalf("unexpected step done=%v info=%+v err=%v", done, info, err)
	}
}

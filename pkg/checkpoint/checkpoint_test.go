package checkpoint

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jllopis/reasoningbank/pkg/results"
)

func TestLoadMissing(t *testing.T) {
	m := New(t.TempDir(), "run", 1)
	st := m.Load()
	if !st.Empty() || st.Completed == nil {
		t.Fatalf("expected empty usable state, got %+v", st)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	m := New(dir, "run", 1, WithClock(func() time.Time { return ts }))

	res := []results.EpisodeResult{
		{EpisodeID: "1-1_v3_e0", TaskID: "1-1", TaskName: "boil", Variation: 3, Success: true, Score: 100, Steps: 4,
			Actions: []string{"a"}, Observations: []string{"o0", "o1"}, Thoughts: []string{"t"}},
		{EpisodeID: "1-2_v0_e0", TaskID: "1-2", TaskName: "melt", Error: "boom"},
	}
	completed := map[string]bool{"1-2_v0_e0": true, "1-1_v3_e0": true}
	if err := m.Save(completed, res); err != nil {
		t.Fatalf("Save: %v", err)
	}

	st := New(dir, "run", 1).Load()
	if diff := cmp.Diff(completed, st.Completed); diff != "" {
		t.Errorf("completed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(res, st.Results); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
	if !st.Timestamp.Equal(ts) {
		t.Errorf("timestamp %v, want %v", st.Timestamp, ts)
	}

	data, _ := os.ReadFile(m.Path())
	if strings.Index(string(data), "1-1_v3_e0") > strings.Index(string(data), "1-2_v0_e0") {
		t.Errorf("completed IDs must be sorted")
	}
}

func TestLoadCorrupt(t *testing.T) {
	m := New(t.TempDir(), "run", 1)
	if err := os.WriteFile(m.Path(), []byte("{\"completed_episode_ids\": [\"a\""), 0o644); err != nil {
		t.Fatal(err)
	}
	if st := m.Load(); !st.Empty() || len(st.Results) != 0 {
		t.Fatalf("corrupt checkpoint must load as empty, got %+v", st)
	}
}

func TestSaveOverwrites(t *testing.T) {
	m := New(t.TempDir(), "run", 1)
	m.Save(map[string]bool{"a": true, "b": true}, nil)
	m.Save(map[string]bool{"c": true}, nil)
	st := m.Load()
	if len(st.Completed) != 1 || !st.Completed["c"] {
		t.Errorf("save must overwrite, got %v", st.Completed)
	}
}

func TestShouldSaveAndRemove(t *testing.T) {
	m := New(t.TempDir(), "run", 3)
	if m.ShouldSave(2) || !m.ShouldSave(3) {
		t.Errorf("unexpected ShouldSave behaviour")
	}
	if !New(t.TempDir(), "run", 0).ShouldSave(1) {
		t.Errorf("interval below 1 means every episode")
	}

	m.Save(map[string]bool{"a": true}, nil)
	if err := m.Remove(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(m.Path()); !os.IsNotExist(err) {
		t.Errorf("checkpoint must be removed")
	}
	if err := m.Remove(); err != nil {
		t.Errorf("removing a missing checkpoint is not an error: %v", err)
	}
}

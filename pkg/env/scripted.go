package env

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Transition is the simulator's answer to one scripted action.
type Transition struct {
	Observation string   `yaml:"observation"`
	Score       float64  `yaml:"score"`
	Done        bool     `yaml:"done"`
	Valid       []string `yaml:"valid"`
}

// TaskScript scripts one task. Actions are matched case-insensitively;
// "{variation}" in Initial is replaced with the loaded variation.
type TaskScript struct {
	Name        string                `yaml:"name"`
	Description string                `yaml:"description"`
	Initial     string                `yaml:"initial"`
	Valid       []string              `yaml:"valid"`
	Variations  map[string][]int      `yaml:"variations"`
	Actions     map[string]Transition `yaml:"actions"`
	Unknown     string                `yaml:"unknown"`
}

// Script is the YAML document read by LoadScript.
type Script struct {
	Tasks []TaskScript `yaml:"tasks"`
}

// LoadCall records one Load received by a ScriptedSimulator.
type LoadCall struct {
	Task            string
	Variation       int
	Simplifications string
}

// ScriptedSimulator is a deterministic Simulator driven by task scripts.
// It backs `rbench serve-sim` fixtures and the tests.
type ScriptedSimulator struct {
	mu        sync.Mutex
	tasks     map[string]TaskScript
	current   *TaskScript
	variation int
	score     float64
	moves     int
	loads     []LoadCall
	closed    bool
}

// NewScriptedSimulator builds a simulator from scripts.
func NewScriptedSimulator(scripts ...TaskScript) *ScriptedSimulator {
	s := &ScriptedSimulator{tasks: make(map[string]TaskScript, len(scripts))}
	for _, ts := range scripts {
		actions := make(map[string]Transition, len(ts.Actions))
		for k, v := range ts.Actions {
			actions[normalizeAction(k)] = v
		}
		ts.Actions = actions
		s.tasks[ts.Name] = ts
	}
	return s
}

// LoadScript reads a YAML script file.
func LoadScript(path string) (*ScriptedSimulator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Script
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	if len(sc.Tasks) == 0 {
		return nil, fmt.Errorf("script %s defines no tasks", path)
	}
	return NewScriptedSimulator(sc.Tasks...), nil
}

var _ Simulator = (*ScriptedSimulator)(nil)

// Load selects a scripted task.
func (s *ScriptedSimulator) Load(_ context.Context, taskName string, variation int, simplifications string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tasks[taskName]
	if !ok {
		return fmt.Errorf("unknown task %q", taskName)
	}
	s.current = &ts
	s.variation = variation
	s.score, s.moves = 0, 0
	s.loads = append(s.loads, LoadCall{Task: taskName, Variation: variation, Simplifications: simplifications})
	return nil
}

// Reset restarts the loaded task.
func (s *ScriptedSimulator) Reset(context.Context) (string, Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", Info{}, fmt.Errorf("no task loaded")
	}
	s.score, s.moves = 0, 0
	obs := strings.ReplaceAll(s.current.Initial, "{variation}", strconv.Itoa(s.variation))
	return obs, Info{TaskDescription: s.current.Description, Valid: s.current.Valid}, nil
}

// Step applies the scripted transition for action. The score never
// decreases; the reward is the score gained.
func (s *ScriptedSimulator) Step(_ context.Context, action string) (string, float64, bool, Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", 0, false, Info{}, fmt.Errorf("no task loaded")
	}
	s.moves++
	tr, ok := s.current.Actions[normalizeAction(action)]
	if !ok {
		obs := s.current.Unknown
		if obs == "" {
			obs = "No known action matches that input."
		}
		return obs, 0, false, Info{Score: s.score, Moves: s.moves, Valid: s.current.Valid}, nil
	}
	var reward float64
	if tr.Score > s.score {
		reward = tr.Score - s.score
		s.score = tr.Score
	}
	valid := tr.Valid
	if valid == nil {
		valid = s.current.Valid
	}
	return tr.Observation, reward, tr.Done, Info{Score: s.score, Done: tr.Done, Moves: s.moves, Valid: valid}, nil
}

// Variations returns the scripted variations for split, defaulting to
// variation 0 when the script lists none.
func (s *ScriptedSimulator) Variations(_ context.Context, taskName, split string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tasks[taskName]
	if !ok {
		return nil, fmt.Errorf("unknown task %q", taskName)
	}
	if len(ts.Variations) == 0 {
		return []int{0}, nil
	}
	return append([]int(nil), ts.Variations[split]...), nil
}

// TaskDescription describes the loaded task.
func (s *ScriptedSimulator) TaskDescription(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", nil
	}
	return s.current.Description, nil
}

// Close marks the simulator closed.
func (s *ScriptedSimulator) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Loads returns every Load received so far.
func (s *ScriptedSimulator) Loads() []LoadCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LoadCall(nil), s.loads...)
}

// Closed reports whether Close was called.
func (s *ScriptedSimulator) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func normalizeAction(a string) string {
	return strings.ToLower(strings.Join(strings.Fields(a), " "))
}

// SPDX-License-Identifier: Apache-2.0

// Package env drives the interactive task simulator an agent acts in.
//
// A Simulator is the raw engine: it loads a task variation, resets it and
// executes textual actions. Env wraps any Simulator with the harness rules
// (simplification presets, the completion threshold and the "check valid
// actions" pseudo-command) and is what the agent talks to. Simulators can
// live in-process or behind an MCP server; see MCPSimulator and
// NewSimulatorServer.
package env

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jllopis/reasoningbank/pkg/errors"
	"github.com/jllopis/reasoningbank/pkg/tasks"
)

// CheckValidActions is the pseudo-action that lists the valid actions
// without advancing the simulator.
const CheckValidActions = "check valid actions"

// CompletionScore is the score at which an episode counts as complete.
const CompletionScore = 100

// Info is the per-step metadata returned by the simulator.
type Info struct {
	Score           float64  `json:"score"`
	Done            bool     `json:"done"`
	Moves           int      `json:"moves"`
	TaskDescription string   `json:"task_description,omitempty"`
	Valid           []string `json:"valid,omitempty"`
}

// Environment is the contract the agent runs episodes against.
type Environment interface {
	Load(ctx context.Context, taskName string, variation int, simplifications string) error
	Reset(ctx context.Context) (string, Info, error)
	Step(ctx context.Context, action string) (obs string, reward float64, done bool, info Info, err error)
	Variations(ctx context.Context, taskName, split string) ([]int, error)
	ValidActions(ctx context.Context) ([]string, error)
	Close() error
}

// Simulator is a raw task engine. Simplifications arrive as a
// comma-separated list already adjusted for the task.
type Simulator interface {
	Load(ctx context.Context, taskName string, variation int, simplifications string) error
	Reset(ctx context.Context) (string, Info, error)
	Step(ctx context.Context, action string) (string, float64, bool, Info, error)
	Variations(ctx context.Context, taskName, split string) ([]int, error)
	TaskDescription(ctx context.Context) (string, error)
	Close() error
}

// Env applies the harness rules on top of a Simulator.
type Env struct {
	sim     Simulator
	catalog *tasks.Catalog
	logger  *slog.Logger

	taskName string
	taskID   string
	valid    []string
	score    float64
}

// Option configures an Env.
type Option func(*Env)

// WithCatalog sets the catalog used to map task names to IDs.
func WithCatalog(c *tasks.Catalog) Option {
	return func(e *Env) {
		if c != nil {
			e.catalog = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Env) {
		if l != nil {
			e.logger = l
		}
	}
}

// New wraps sim.
func New(sim Simulator, opts ...Option) *Env {
	e := &Env{
		sim:     sim,
		catalog: tasks.Default(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ Environment = (*Env)(nil)

// Load selects a task variation. simplifications is a preset name or a
// comma-separated list; noElectricalAction is dropped for electrical tasks.
func (e *Env) Load(ctx context.Context, taskName string, variation int, simplifications string) error {
	id, _ := e.catalog.IDForName(taskName)
	parsed := tasks.ParseSimplifications(simplifications, id)
	if err := e.sim.Load(ctx, taskName, variation, strings.Join(parsed, ",")); err != nil {
		return errors.New(errors.CodeEnvironment, "load task", err).
			WithContext("task", taskName).
			WithContext("variation", variation)
	}
	e.taskName, e.taskID = taskName, id
	e.valid, e.score = nil, 0
	e.logger.Debug("task loaded", "task", taskName, "task_id", id, "variation", variation, "simplifications", parsed)
	return nil
}

// Reset starts the loaded variation and returns the initial observation.
func (e *Env) Reset(ctx context.Context) (string, Info, error) {
	obs, info, err := e.sim.Reset(ctx)
	if err != nil {
		return "", Info{}, errors.New(errors.CodeEnvironment, "reset", err).WithContext("task", e.taskName)
	}
	if strings.TrimSpace(info.TaskDescription) == "" {
		if desc, err := e.sim.TaskDescription(ctx); err == nil {
			info.TaskDescription = desc
		}
	}
	e.valid, e.score = info.Valid, info.Score
	return obs, info, nil
}

// Step executes action. The pseudo-action CheckValidActions answers with the
// current valid actions and leaves the simulator untouched: zero reward and
// the score of the last real step.
//
// Reporting the last score instead of 0 is deliberate, so an episode that
// ends on CheckValidActions keeps the score it earned.
func (e *Env) Step(ctx context.Context, action string) (string, float64, bool, Info, error) {
	if strings.EqualFold(strings.TrimSpace(action), CheckValidActions) {
		var b strings.Builder
		b.WriteString("Valid actions:")
		for _, cmd := range e.valid {
			b.WriteString("\n  - ")
			b.WriteString(cmd)
		}
		return b.String(), 0, false, Info{Score: e.score, Valid: append([]string(nil), e.valid...)}, nil
	}

	obs, reward, done, info, err := e.sim.Step(ctx, action)
	if err != nil {
		return "", 0, false, Info{}, errors.New(errors.CodeEnvironment, "step", err).
			WithContext("task", e.taskName).
			WithContext("action", action)
	}
	e.valid, e.score = info.Valid, info.Score
	done = done || info.Score >= CompletionScore
	info.Done = done
	return obs, reward, done, info, nil
}

// Variations lists the variation indices of taskName in split.
func (e *Env) Variations(ctx context.Context, taskName, split string) ([]int, error) {
	vars, err := e.sim.Variations(ctx, taskName, split)
	if err != nil {
		return nil, errors.New(errors.CodeEnvironment, "list variations", err).
			WithContext("task", taskName).
			WithContext("split", split)
	}
	return vars, nil
}

// ValidActions returns the actions valid after the last reset or step.
func (e *Env) ValidActions(context.Context) ([]string, error) {
	return append([]string(nil), e.valid...), nil
}

// Close releases the simulator.
func (e *Env) Close() error { return e.sim.Close() }

// ExtractTaskDescription returns the goal of an episode: the simulator's
// task description when present, else the observation line that states
// the task, else the head of the observation.
func ExtractTaskDescription(info Info, obs string) string {
	if desc := strings.TrimSpace(info.TaskDescription); desc != "" {
		return desc
	}
	for _, line := range strings.Split(obs, "\n") {
		if strings.Contains(strings.ToLower(line), "your task is to") {
			return strings.TrimSpace(line)
		}
	}
	r := []rune(strings.TrimSpace(obs))
	if len(r) > 200 {
		r = r[:200]
	}
	return string(r)
}

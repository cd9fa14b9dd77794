// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the ReAct episode loop: the model alternates a
// short reasoning step with one simulator action until the task completes,
// the simulator ends the episode or the step budget runs out.
package agent

import (
	"context"
	"log/slog"

	"github.com/jllopis/reasoningbank/pkg/env"
	"github.com/jllopis/reasoningbank/pkg/llm"
	"github.com/jllopis/reasoningbank/pkg/memory"
	"github.com/jllopis/reasoningbank/pkg/results"
)

const (
	defaultMaxSteps      = 50
	defaultHistoryLength = 20
)

// EpisodeSpec describes one episode to run.
type EpisodeSpec struct {
	EpisodeID       string
	TaskID          string
	TaskName        string
	Variation       int
	Simplifications string
	// MaxSteps overrides the agent's step budget when positive.
	MaxSteps int
	// Memories are injected into the system prompt.
	Memories []memory.RetrievedMemory
	// Recall, when set and Memories is empty, is asked for memories once the
	// episode goal is known.
	Recall func(ctx context.Context, goal string) []memory.RetrievedMemory
	// GenerateOptions apply to every model call of the episode.
	GenerateOptions []llm.GenerateOption
}

// Agent runs episodes with a text generator.
type Agent struct {
	gen           llm.Generator
	useFewShot    bool
	historyLength int
	maxSteps      int
	logger        *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithFewShot toggles the demonstrations in the system prompt.
func WithFewShot(enabled bool) Option {
	return func(a *Agent) { a.useFewShot = enabled }
}

// WithHistoryLength sets how many past turns the user prompt shows.
func WithHistoryLength(n int) Option {
	return func(a *Agent) {
		if n >= 0 {
			a.historyLength = n
		}
	}
}

// WithMaxSteps sets the default step budget.
func WithMaxSteps(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// New returns an agent backed by gen.
func New(gen llm.Generator, opts ...Option) *Agent {
	a := &Agent{
		gen:           gen,
		useFewShot:    true,
		historyLength: defaultHistoryLength,
		maxSteps:      defaultMaxSteps,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RunEpisode loads, resets and plays one episode. Failures never escape:
// they end the episode and are reported in the result's Error field, with
// everything recorded up to that point kept.
func (a *Agent) RunEpisode(ctx context.Context, e env.Environment, spec EpisodeSpec) results.EpisodeResult {
	res := results.EpisodeResult{
		EpisodeID: spec.EpisodeID,
		TaskID:    spec.TaskID,
		TaskName:  spec.TaskName,
		Variation: spec.Variation,
	}
	log := a.logger.With("episode_id", spec.EpisodeID)

	if err := e.Load(ctx, spec.TaskName, spec.Variation, spec.Simplifications); err != nil {
		res.Error = WrapEnvError(err, spec.EpisodeID, "load").Error()
		log.Error("episode setup failed", "error", err)
		return res
	}
	initial, info, err := e.Reset(ctx)
	if err != nil {
		res.Error = WrapEnvError(err, spec.EpisodeID, "reset").Error()
		log.Error("episode setup failed", "error", err)
		return res
	}

	res.Goal = env.ExtractTaskDescription(info, initial)
	res.Observations = append(res.Observations, initial)

	memories := spec.Memories
	if len(memories) == 0 && spec.Recall != nil && res.Goal != "" {
		memories = spec.Recall(ctx, res.Goal)
	}
	for _, m := range memories {
		res.UsedMemories = append(res.UsedMemories, m.Summary())
	}
	system := SystemPrompt(a.useFewShot, spec.TaskName, memories)

	maxSteps := a.maxSteps
	if spec.MaxSteps > 0 {
		maxSteps = spec.MaxSteps
	}
	log.Debug("episode started", "goal", res.Goal, "memories", len(memories), "max_steps", maxSteps)

	var history []Turn
	current := initial
	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			res.Error = err.Error()
			break
		}
		user := UserPrompt(res.Goal, history, current, initial, a.historyLength)
		response, err := a.gen.Generate(ctx, system, user, spec.GenerateOptions...)
		if err != nil {
			res.Error = WrapLLMError(err, spec.EpisodeID, step+1).Error()
			log.Error("generation failed", "step", step+1, "error", err)
			break
		}

		thought, action := ParseResponse(response)
		res.Thoughts = append(res.Thoughts, thought)
		res.Actions = append(res.Actions, action)

		obs, _, done, stepInfo, err := e.Step(ctx, action)
		if err != nil {
			res.Error = WrapEnvError(err, spec.EpisodeID, "step").Error()
			log.Error("step failed", "step", step+1, "action", action, "error", err)
			break
		}
		res.Observations = append(res.Observations, obs)
		history = append(history, Turn{Action: action, Observation: obs})
		current = obs
		res.Steps = step + 1
		res.Score = stepInfo.Score
		log.Debug("step", "step", res.Steps, "action", action, "score", res.Score, "observation", preview(obs, 80))

		if stepInfo.Score >= env.CompletionScore {
			res.Success = true
			break
		}
		if done {
			break
		}
	}

	log.Debug("episode finished", "success", res.Success, "score", res.Score, "steps", res.Steps)
	return res
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

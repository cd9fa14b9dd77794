// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides helpers for testing the evaluation harness:
//   - action scenarios replayed against an environment with expectations
//   - a scripted model provider for agent and extraction calls
//   - request assertions and a deterministic embedder
//
// Example usage:
//
//	scenario := testing.NewScenario("boil water").
//	    WithTask("boil", 0).
//	    WithActions("activate stove", "wait").
//	    ExpectScore(100).
//	    ExpectObservation(testing.Contains("boils"))
//
//	result := scenario.Run(t, environment)
//	result.Assert(t, scenario)
package testing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/reasoningbank/pkg/env"
)

// Scenario replays a fixed list of actions against an environment.
type Scenario struct {
	name            string
	taskName        string
	variation       int
	simplifications string
	actions         []string
	context         context.Context
	timeout         time.Duration
	expectations    []Expectation
}

// Expectation is a condition checked after a scenario runs.
type Expectation interface {
	Check(result *ScenarioResult) error
	Description() string
}

// ScenarioResult is what a scenario observed.
type ScenarioResult struct {
	Initial      string
	Observations []string
	Rewards      []float64
	Score        float64
	Done         bool
	// StepsTaken counts the actions executed before the episode ended.
	StepsTaken int
	Error      error
	Duration   time.Duration
}

// NewScenario creates a scenario with a 30s timeout.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:    name,
		timeout: 30 * time.Second,
		context: context.Background(),
	}
}

// WithTask selects the task variation to load.
func (s *Scenario) WithTask(taskName string, variation int) *Scenario {
	s.taskName, s.variation = taskName, variation
	return s
}

// WithSimplifications sets the simplification string passed to Load.
func (s *Scenario) WithSimplifications(simplifications string) *Scenario {
	s.simplifications = simplifications
	return s
}

// WithActions appends actions to replay.
func (s *Scenario) WithActions(actions ...string) *Scenario {
	s.actions = append(s.actions, actions...)
	return s
}

// WithContext sets the parent context.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.context = ctx
	return s
}

// WithTimeout bounds the whole scenario.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// Expect adds an expectation.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectScore expects the final score to equal score.
func (s *Scenario) ExpectScore(score float64) *Scenario {
	return s.Expect(&scoreExpectation{want: score})
}

// ExpectDone expects the episode to have ended.
func (s *Scenario) ExpectDone() *Scenario {
	return s.Expect(&doneExpectation{})
}

// ExpectNoError expects every call to succeed.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&noErrorExpectation{})
}

// ExpectError expects a failure matching matcher.
func (s *Scenario) ExpectError(matcher StringMatcher) *Scenario {
	return s.Expect(&errorExpectation{matcher: matcher})
}

// ExpectObservation expects the last observation to match.
func (s *Scenario) ExpectObservation(matcher StringMatcher) *Scenario {
	return s.Expect(&observationExpectation{matcher: matcher})
}

// ExpectSteps expects exactly n actions to have been executed.
func (s *Scenario) ExpectSteps(n int) *Scenario {
	return s.Expect(&stepsExpectation{want: n})
}

// Run loads, resets and replays the scenario. Replay stops at the first
// error or when the environment reports done.
func (s *Scenario) Run(t *testing.T, e env.Environment) *ScenarioResult {
	t.Helper()

	ctx, cancel := context.WithTimeout(s.context, s.timeout)
	defer cancel()

	start := time.Now()
	r := &ScenarioResult{}
	defer func() { r.Duration = time.Since(start) }()

	if err := e.Load(ctx, s.taskName, s.variation, s.simplifications); err != nil {
		r.Error = err
		return r
	}
	obs, info, err := e.Reset(ctx)
	if err != nil {
		r.Error = err
		return r
	}
	r.Initial, r.Score = obs, info.Score

	for _, action := range s.actions {
		obs, reward, done, info, err := e.Step(ctx, action)
		if err != nil {
			r.Error = err
			return r
		}
		r.Observations = append(r.Observations, obs)
		r.Rewards = append(r.Rewards, reward)
		r.Score, r.Done = info.Score, done
		r.StepsTaken++
		if done {
			break
		}
	}
	return r
}

// Assert checks every expectation of scenario.
func (r *ScenarioResult) Assert(t *testing.T, scenario *Scenario) {
	t.Helper()
	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("scenario %q: expectation %q failed: %v", scenario.name, exp.Description(), err)
		}
	}
}

// LastObservation returns the newest observation, or the initial one
// when no action ran.
func (r *ScenarioResult) LastObservation() string {
	if len(r.Observations) == 0 {
		return r.Initial
	}
	return r.Observations[len(r.Observations)-1]
}

// StringMatcher matches strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains matches strings containing substr.
func Contains(substr string) StringMatcher {
	return &containsMatcher{substr: substr}
}

// Equals matches s exactly.
func Equals(expected string) StringMatcher {
	return &equalsMatcher{expected: expected}
}

// Regex matches strings against pattern. An invalid pattern never matches.
func Regex(pattern string) StringMatcher {
	return &regexMatcher{pattern: pattern}
}

// HasPrefix matches strings starting with prefix.
func HasPrefix(prefix string) StringMatcher {
	return &prefixMatcher{prefix: prefix}
}

type containsMatcher struct{ substr string }

func (m *containsMatcher) Match(s string) bool { return strings.Contains(s, m.substr) }

func (m *containsMatcher) Description() string { return fmt.Sprintf("contains %q", m.substr) }

type equalsMatcher struct{ expected string }

func (m *equalsMatcher) Match(s string) bool { return s == m.expected }

func (m *equalsMatcher) Description() string { return fmt.Sprintf("equals %q", m.expected) }

type regexMatcher struct{ pattern string }

func (m *regexMatcher) Match(s string) bool {
	re, err := regexp.Compile(m.pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func (m *regexMatcher) Description() string { return fmt.Sprintf("matches regex %q", m.pattern) }

type prefixMatcher struct{ prefix string }

func (m *prefixMatcher) Match(s string) bool { return strings.HasPrefix(s, m.prefix) }

func (m *prefixMatcher) Description() string { return fmt.Sprintf("has prefix %q", m.prefix) }

// Expectation implementations

type scoreExpectation struct{ want float64 }

func (e *scoreExpectation) Check(r *ScenarioResult) error {
	if r.Score != e.want {
		return fmt.Errorf("score %v, want %v", r.Score, e.want)
	}
	return nil
}

func (e *scoreExpectation) Description() string { return fmt.Sprintf("score %v", e.want) }

type doneExpectation struct{}

func (e *doneExpectation) Check(r *ScenarioResult) error {
	if !r.Done {
		return fmt.Errorf("episode not done after %d steps", r.StepsTaken)
	}
	return nil
}

func (e *doneExpectation) Description() string { return "episode done" }

type noErrorExpectation struct{}

func (e *noErrorExpectation) Check(r *ScenarioResult) error {
	if r.Error != nil {
		return fmt.Errorf("expected no error, got: %v", r.Error)
	}
	return nil
}

func (e *noErrorExpectation) Description() string { return "no error" }

type errorExpectation struct{ matcher StringMatcher }

func (e *errorExpectation) Check(r *ScenarioResult) error {
	if r.Error == nil {
		return fmt.Errorf("expected error matching %s, got nil", e.matcher.Description())
	}
	if !e.matcher.Match(r.Error.Error()) {
		return fmt.Errorf("error %q does not match: %s", r.Error.Error(), e.matcher.Description())
	}
	return nil
}

func (e *errorExpectation) Description() string {
	return fmt.Sprintf("error %s", e.matcher.Description())
}

type observationExpectation struct{ matcher StringMatcher }

func (e *observationExpectation) Check(r *ScenarioResult) error {
	if last := r.LastObservation(); !e.matcher.Match(last) {
		return fmt.Errorf("observation %q does not match: %s", last, e.matcher.Description())
	}
	return nil
}

func (e *observationExpectation) Description() string {
	return fmt.Sprintf("observation %s", e.matcher.Description())
}

type stepsExpectation struct{ want int }

func (e *stepsExpectation) Check(r *ScenarioResult) error {
	if r.StepsTaken != e.want {
		return fmt.Errorf("%d steps taken, want %d", r.StepsTaken, e.want)
	}
	return nil
}

func (e *stepsExpectation) Description() string { return fmt.Sprintf("%d steps", e.want) }

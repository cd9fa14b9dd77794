// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	rberrors "github.com/jllopis/reasoningbank/pkg/errors"
	"github.com/jllopis/reasoningbank/pkg/llm"
)

// FailureReason tells why an extraction produced no memory.
type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonEmptyInput        FailureReason = "empty_input"
	ReasonGenerationFailure FailureReason = "generation_failure"
	ReasonParseFailure      FailureReason = "parse_failure"
	ReasonNoEntries         FailureReason = "no_entries"
	ReasonStoreUnavailable  FailureReason = "store_unavailable"
)

// ExtractResult is either a Memory or a typed failure. Extraction never
// panics or returns a bare error: callers branch on Reason.
type ExtractResult struct {
	Memory *Memory
	Reason FailureReason
	Err    error
}

// OK reports whether a memory was produced.
func (r ExtractResult) OK() bool { return r.Memory != nil && r.Reason == ReasonNone }

func failed(reason FailureReason, code rberrors.ErrorCode, msg string, cause error, taskID string) ExtractResult {
	return ExtractResult{
		Reason: reason,
		Err:    rberrors.New(code, msg, cause).WithContext("task_id", taskID),
	}
}

// Extractor distills trajectories into memories through a generation call.
type Extractor struct {
	gen                  llm.Generator
	temperature          float64
	maxTokens            int
	contrastiveMaxTokens int
	contrastiveThinking  *bool
	logger               *slog.Logger
	now                  func() time.Time
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithSampling sets temperature and token limits for single-trajectory and
// contrastive extraction.
func WithSampling(temperature float64, maxTokens, contrastiveMaxTokens int) ExtractorOption {
	return func(e *Extractor) {
		e.temperature = temperature
		if maxTokens > 0 {
			e.maxTokens = maxTokens
		}
		if contrastiveMaxTokens > 0 {
			e.contrastiveMaxTokens = contrastiveMaxTokens
		}
	}
}

// WithContrastiveThinking sets the reasoning toggle for contrastive
// extraction calls. nil keeps the generator's default.
func WithContrastiveThinking(enable *bool) ExtractorOption {
	return func(e *Extractor) { e.contrastiveThinking = enable }
}

// WithExtractorLogger sets the logger.
func WithExtractorLogger(l *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithExtractorClock overrides the CreatedAt time source.
func WithExtractorClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExtractor returns an extractor using gen. Defaults: temperature 0.3,
// 1024 tokens for single trajectories and 2048 for contrastive runs.
func NewExtractor(gen llm.Generator, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		gen:                  gen,
		temperature:          0.3,
		maxTokens:            1024,
		contrastiveMaxTokens: 2048,
		logger:               slog.Default(),
		now:                  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract derives a memory from one trajectory.
func (e *Extractor) Extract(ctx context.Context, taskID, taskType, goal string, trajectory []Step, success bool) ExtractResult {
	if len(trajectory) == 0 {
		e.logger.WarnContext(ctx, "empty trajectory, skipping extraction", "task_id", taskID)
		return failed(ReasonEmptyInput, rberrors.CodeEmptyInput, "empty trajectory", nil, taskID)
	}

	prompt := buildExtractionPrompt(taskType, goal, trajectory, success)
	items, res := e.generate(ctx, taskID, extractSystemPrompt, prompt, e.maxTokens)
	if res.Reason != ReasonNone {
		return res
	}

	m := &Memory{
		ID:         NewID(),
		TaskID:     taskID,
		TaskType:   taskType,
		Query:      goal,
		Trajectory: trajectory,
		IsSuccess:  success,
		Items:      items,
		CreatedAt:  e.now(),
	}
	e.logger.DebugContext(ctx, "memory extracted",
		"task_id", taskID, "items", len(items), "success", success)
	return ExtractResult{Memory: m}
}

// ExtractContrastive derives a memory by comparing several attempts at the
// same task. The memory succeeds if any attempt succeeded, keeps the first
// attempt's trajectory and at most MaxContrastiveItems entries.
func (e *Extractor) ExtractContrastive(ctx context.Context, taskID, taskType, goal string, bundles []TrajectoryBundle) ExtractResult {
	if len(bundles) == 0 {
		e.logger.WarnContext(ctx, "no trajectories for contrastive extraction", "task_id", taskID)
		return failed(ReasonEmptyInput, rberrors.CodeEmptyInput, "no trajectories", nil, taskID)
	}

	prompt := buildContrastivePrompt(taskType, goal, bundles)
	items, res := e.generate(ctx, taskID, contrastiveSystemPrompt, prompt, e.contrastiveMaxTokens,
		llm.WithThinking(e.contrastiveThinking))
	if res.Reason != ReasonNone {
		return res
	}
	if len(items) > MaxContrastiveItems {
		e.logger.DebugContext(ctx, "truncating contrastive entries",
			"task_id", taskID, "parsed", len(items), "kept", MaxContrastiveItems)
		items = items[:MaxContrastiveItems]
	}

	anySuccess := false
	for _, b := range bundles {
		anySuccess = anySuccess || b.IsSuccess
	}
	m := &Memory{
		ID:         NewID(),
		TaskID:     taskID,
		TaskType:   taskType,
		Query:      goal,
		Trajectory: bundles[0].Trajectory,
		IsSuccess:  anySuccess,
		Items:      items,
		CreatedAt:  e.now(),
	}
	e.logger.DebugContext(ctx, "contrastive memory extracted",
		"task_id", taskID, "items", len(items), "trajectories", len(bundles))
	return ExtractResult{Memory: m}
}

func (e *Extractor) generate(ctx context.Context, taskID, system, prompt string, maxTokens int, extra ...llm.GenerateOption) ([]MemoryEntry, ExtractResult) {
	e.logger.DebugContext(ctx, "extraction prompt", "task_id", taskID, "system", system, "user", prompt)

	opts := append([]llm.GenerateOption{llm.WithTemperature(e.temperature), llm.WithMaxTokens(maxTokens)}, extra...)
	out, err := e.gen.Generate(ctx, system, prompt, opts...)
	if err != nil {
		e.logger.WarnContext(ctx, "extraction generation failed", "task_id", taskID, "error", err)
		return nil, failed(ReasonGenerationFailure, rberrors.CodeGenerationFailure, "generation call failed", err, taskID)
	}
	e.logger.DebugContext(ctx, "extraction response", "task_id", taskID, "response", out)

	raw, ok := parseItems(out)
	if !ok {
		e.logger.WarnContext(ctx, "extraction output is not a JSON array", "task_id", taskID)
		return nil, failed(ReasonParseFailure, rberrors.CodeParseFailure, "no JSON array in output", nil, taskID)
	}
	items := validateItems(raw)
	if len(items) == 0 {
		e.logger.WarnContext(ctx, "no valid entries extracted", "task_id", taskID, "candidates", len(raw))
		return nil, failed(ReasonNoEntries, rberrors.CodeParseFailure,
			fmt.Sprintf("0 of %d candidates valid", len(raw)), nil, taskID)
	}
	return items, ExtractResult{}
}

// Request describes one extraction. A non-empty Bundles selects
// contrastive extraction; otherwise Trajectory and Success are used.
type Request struct {
	TaskID     string
	TaskType   string
	Goal       string
	Trajectory []Step
	Success    bool
	Bundles    []TrajectoryBundle
}

// ExtractAndStore runs the extraction described by req and adds the
// resulting memory to store. A nil store or a failed add yields
// ReasonStoreUnavailable.
func (e *Extractor) ExtractAndStore(ctx context.Context, store *Store, req Request) ExtractResult {
	var res ExtractResult
	if len(req.Bundles) > 0 {
		res = e.ExtractContrastive(ctx, req.TaskID, req.TaskType, req.Goal, req.Bundles)
	} else {
		res = e.Extract(ctx, req.TaskID, req.TaskType, req.Goal, req.Trajectory, req.Success)
	}
	if !res.OK() {
		return res
	}
	if store == nil {
		return failed(ReasonStoreUnavailable, rberrors.CodeStoreUnavailable, "no memory store", nil, req.TaskID)
	}
	added, err := store.Add(ctx, res.Memory)
	if err != nil {
		e.logger.WarnContext(ctx, "storing extracted memory failed", "task_id", req.TaskID, "error", err)
		return failed(ReasonStoreUnavailable, rberrors.CodeStoreUnavailable, "add memory", err, req.TaskID)
	}
	if !added {
		return failed(ReasonStoreUnavailable, rberrors.CodeStoreUnavailable,
			"memory id already stored: "+res.Memory.ID, nil, req.TaskID)
	}
	return res
}

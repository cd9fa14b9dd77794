// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package eval drives a scheduled run: every episode goes through memory
// retrieval, the agent, retrieval bookkeeping and memory extraction, with
// progress checkpointed so an interrupted run resumes where it stopped.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/reasoningbank/pkg/agent"
	"github.com/jllopis/reasoningbank/pkg/checkpoint"
	"github.com/jllopis/reasoningbank/pkg/config"
	"github.com/jllopis/reasoningbank/pkg/env"
	rberrors "github.com/jllopis/reasoningbank/pkg/errors"
	"github.com/jllopis/reasoningbank/pkg/llm"
	"github.com/jllopis/reasoningbank/pkg/memory"
	"github.com/jllopis/reasoningbank/pkg/results"
	"github.com/jllopis/reasoningbank/pkg/scheduler"
	"github.com/jllopis/reasoningbank/pkg/telemetry"
)

const timestampLayout = "20060102_150405"

// EpisodeRunner plays one episode against an environment.
// *agent.Agent implements it.
type EpisodeRunner interface {
	RunEpisode(ctx context.Context, e env.Environment, spec agent.EpisodeSpec) results.EpisodeResult
}

// MaTTS configures memory-aware test-time scaling: extra samples of each
// episode feed one contrastive extraction.
type MaTTS struct {
	Enabled bool
	// SampleN is the number of extra samples beyond the scored one.
	SampleN        int
	Temperature    float64
	MaxTokens      int
	EnableThinking *bool
}

// Options are the run parameters of an Engine.
type Options struct {
	RunID           string
	Model           string
	Split           string
	Mode            string
	Simplifications string
	MaxSteps        int
	OutputDir       string
	SaveInterval    int
	KeepCheckpoint  bool
	MaTTS           MaTTS
	// Config is echoed verbatim into the results document.
	Config any
}

// Report is the outcome of Run.
type Report struct {
	RunID          string
	Summary        results.Summary
	Results        []results.EpisodeResult
	Scheduled      int
	Resumed        int
	Ran            int
	Interrupted    bool
	ResultsPath    string
	CheckpointPath string
}

// Engine runs schedules. It is not safe for concurrent use: episodes run
// one at a time against a single environment.
type Engine struct {
	opts   Options
	env    env.Environment
	runner EpisodeRunner

	store     *memory.Store
	retriever *memory.Retriever
	extractor *memory.Extractor

	checkpoint *checkpoint.Manager
	ledger     *results.Ledger
	metrics    *telemetry.EvalMetrics
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMemory attaches the memory subsystem. The extractor may be nil for
// retrieve-only runs.
func WithMemory(store *memory.Store, retriever *memory.Retriever, extractor *memory.Extractor) Option {
	return func(e *Engine) {
		e.store = store
		e.retriever = retriever
		e.extractor = extractor
	}
}

// WithLedger records every result in l.
func WithLedger(l *results.Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.EvalMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now for the results timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New builds an engine. A memory mode without a store falls back to
// baseline with a warning.
func New(environment env.Environment, runner EpisodeRunner, opts Options, options ...Option) *Engine {
	e := &Engine{
		opts:   opts,
		env:    environment,
		runner: runner,
		tracer: otel.Tracer("reasoningbank/eval"),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range options {
		opt(e)
	}
	if e.opts.Mode == "" {
		e.opts.Mode = config.ModeRetrieveAndExtract
	}
	if e.opts.Mode != config.ModeBaseline && (e.store == nil || e.retriever == nil) {
		e.logger.Warn("memory subsystem unavailable, running baseline", "mode", e.opts.Mode)
		e.opts.Mode = config.ModeBaseline
	}
	if e.opts.Mode == config.ModeRetrieveAndExtract && e.extractor == nil {
		e.logger.Warn("no extractor configured, running retrieve only")
		e.opts.Mode = config.ModeRetrieveOnly
	}
	e.checkpoint = checkpoint.New(opts.OutputDir, opts.RunID, opts.SaveInterval, checkpoint.WithLogger(e.logger))
	return e
}

// Mode reports the effective memory mode.
func (e *Engine) Mode() string { return e.opts.Mode }

func (e *Engine) shouldRetrieve() bool { return e.opts.Mode != config.ModeBaseline }

func (e *Engine) shouldExtract() bool { return e.opts.Mode == config.ModeRetrieveAndExtract }

func (e *Engine) useMaTTS() bool {
	return e.opts.MaTTS.Enabled && e.opts.MaTTS.SampleN > 0 && e.shouldExtract()
}

// Run executes every episode of schedule not already completed in the
// checkpoint. Cancelling ctx stops the run after the current episode; the
// work done so far is checkpointed and written out, and ctx's error is
// returned along with the report.
func (e *Engine) Run(ctx context.Context, schedule []scheduler.EpisodeDescriptor) (*Report, error) {
	state := e.checkpoint.Load()
	completed := state.Completed
	if completed == nil {
		completed = make(map[string]bool)
	}
	all := state.Results

	var pending []scheduler.EpisodeDescriptor
	for _, d := range schedule {
		if !completed[d.EpisodeID] {
			pending = append(pending, d)
		}
	}
	report := &Report{
		RunID:          e.opts.RunID,
		Scheduled:      len(schedule),
		Resumed:        len(schedule) - len(pending),
		CheckpointPath: e.checkpoint.Path(),
	}

	ctx, span := e.tracer.Start(ctx, "Eval.Run", trace.WithAttributes(
		telemetry.RunAttributes(e.opts.RunID, e.opts.Model, e.opts.Split, e.opts.Mode, len(schedule), len(pending))...,
	))
	defer span.End()

	e.logger.Info("eval.run.start",
		slog.String("run_id", e.opts.RunID),
		slog.String("mode", e.opts.Mode),
		slog.Bool("matts", e.useMaTTS()),
		slog.Int("scheduled", len(schedule)),
		slog.Int("completed", report.Resumed),
		slog.Int("pending", len(pending)),
	)
	if e.store != nil {
		e.metrics.RecordStoreSize(ctx, e.store.Size())
	}

	sinceSave := 0
	for i, d := range pending {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		r, cut := e.runEpisode(ctx, d)
		if cut {
			// Leave it pending for the next run.
			report.Interrupted = true
			break
		}

		all = append(all, r)
		completed[r.EpisodeID] = true
		report.Ran++
		sinceSave++
		e.record(context.WithoutCancel(ctx), r)
		e.logger.Info("eval.episode.complete",
			slog.String("episode_id", r.EpisodeID),
			slog.Int("progress", i+1),
			slog.Int("pending", len(pending)),
			slog.Bool("success", r.Success),
			slog.Float64("score", r.Score),
			slog.Int("steps", r.Steps),
		)

		if e.checkpoint.ShouldSave(sinceSave) {
			if err := e.saveCheckpoint(ctx, completed, all); err != nil {
				span.RecordError(err)
				return report, err
			}
			sinceSave = 0
		}
	}

	// Shutdown work must outlive a cancelled run.
	finishCtx := context.WithoutCancel(ctx)
	if err := e.saveCheckpoint(finishCtx, completed, all); err != nil {
		span.RecordError(err)
		return report, err
	}

	report.Results = all
	report.Summary = results.ComputeSummary(all)
	path, err := e.writeResults(all)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	report.ResultsPath = path

	if !report.Interrupted && !e.opts.KeepCheckpoint {
		if err := e.checkpoint.Remove(); err != nil {
			e.logger.Warn("checkpoint cleanup failed", "path", e.checkpoint.Path(), "error", err)
		}
	}
	if e.store != nil {
		st := e.store.Stats()
		e.logger.Info("memory bank",
			slog.Int("total", st.Total),
			slog.Int("successes", st.SuccessCount),
			slog.Int("failures", st.FailureCount),
			slog.Int("retrievals", st.TotalRetrievals),
		)
	}

	span.SetAttributes(
		attribute.Int("eval.ran", report.Ran),
		attribute.Int("eval.successes", report.Summary.Successes),
		attribute.Float64("eval.success_rate", report.Summary.SuccessRate),
		attribute.Bool("eval.interrupted", report.Interrupted),
	)
	e.logger.Info("eval.run.complete",
		slog.String("run_id", e.opts.RunID),
		slog.Int("episodes", report.Summary.TotalEpisodes),
		slog.Float64("success_rate", report.Summary.SuccessRate),
		slog.Float64("avg_score", report.Summary.AvgScore),
		slog.Bool("interrupted", report.Interrupted),
		slog.String("results", path),
	)
	if report.Interrupted {
		return report, ctx.Err()
	}
	return report, nil
}

func (e *Engine) saveCheckpoint(ctx context.Context, completed map[string]bool, all []results.EpisodeResult) error {
	if err := e.checkpoint.Save(completed, all); err != nil {
		e.metrics.RecordError(ctx, err, "checkpoint")
		return err
	}
	e.metrics.RecordCheckpoint(ctx)
	return nil
}

// writeResults writes the timestamped results file and the stable
// {run_id}_results.json copy, returning the stable path.
func (e *Engine) writeResults(all []results.EpisodeResult) (string, error) {
	now := e.now()
	doc := results.Document{
		Model:     e.opts.Model,
		RunID:     e.opts.RunID,
		Timestamp: now,
		Config:    e.opts.Config,
		Results:   all,
	}
	stamped := filepath.Join(e.opts.OutputDir, fmt.Sprintf("%s_%s_results.json", e.opts.RunID, now.Format(timestampLayout)))
	stable := filepath.Join(e.opts.OutputDir, e.opts.RunID+"_results.json")
	for _, p := range []string{stamped, stable} {
		if err := results.WriteResults(p, doc); err != nil {
			return "", rberrors.New(rberrors.CodeInternal, "writing results", err).
				WithContext("path", p)
		}
	}
	return stable, nil
}

func (e *Engine) record(ctx context.Context, r results.EpisodeResult) {
	e.metrics.RecordEpisode(ctx, r.TaskID, telemetry.Outcome(r.Success, r.Error), r.Score, r.Steps)
	if e.ledger == nil {
		return
	}
	if err := e.ledger.Record(ctx, e.opts.RunID, r); err != nil {
		e.logger.Warn("ledger record failed", "episode_id", r.EpisodeID, "error", err)
		e.metrics.RecordError(ctx, err, "ledger")
	}
}

// runEpisode plays d, in multi-sample form when enabled, and updates the
// memory bank. Panics from the agent or environment become failed results.
//
// cut reports that cancellation interrupted the scored agent run. Once that
// run finishes the episode counts as completed: retrieval outcomes and
// extraction are applied under a context that ignores cancellation, so a
// resumed run never replays them.
func (e *Engine) runEpisode(ctx context.Context, d scheduler.EpisodeDescriptor) (res results.EpisodeResult, cut bool) {
	ctx, span := e.tracer.Start(ctx, "Eval.Episode", trace.WithAttributes(
		telemetry.EpisodeAttributes(d.EpisodeID, d.TaskID, d.TaskName, d.Variation)...,
	))
	defer span.End()
	defer func() {
		if p := recover(); p != nil {
			err := rberrors.New(rberrors.CodeInternal, fmt.Sprintf("episode panicked: %v", p), nil).
				WithContext("episode_id", d.EpisodeID)
			e.logger.Error("episode failed", "episode_id", d.EpisodeID, "error", err)
			e.metrics.RecordError(ctx, err, "episode")
			span.RecordError(err)
			res, cut = results.Failed(d.EpisodeID, d.TaskID, d.TaskName, d.Variation, err), false
		}
		span.SetAttributes(telemetry.OutcomeAttributes(telemetry.Outcome(res.Success, res.Error), res.Score, res.Steps)...)
		if res.Error != "" {
			span.SetStatus(codes.Error, res.Error)
		}
	}()

	if e.useMaTTS() {
		return e.runMultiSample(ctx, d)
	}

	res = e.runner.RunEpisode(ctx, e.env, e.spec(d, d.EpisodeID))
	if ctx.Err() != nil {
		return res, true
	}
	settle := context.WithoutCancel(ctx)
	e.recordRetrievals(settle, res)
	if e.shouldExtract() {
		e.extract(settle, memory.Request{
			TaskID:     res.EpisodeID,
			TaskType:   res.TaskName,
			Goal:       res.Goal,
			Trajectory: res.Trajectory(),
			Success:    res.Success,
		})
	}
	return res, false
}

// runMultiSample plays the scored sample plus MaTTS.SampleN extra samples
// and distills all of them with one contrastive extraction. Only the first
// sample is returned. Cancellation during the extra samples stops sampling;
// the samples already finished are still distilled.
func (e *Engine) runMultiSample(ctx context.Context, d scheduler.EpisodeDescriptor) (results.EpisodeResult, bool) {
	m := e.opts.MaTTS
	main := e.runner.RunEpisode(ctx, e.env, e.spec(d, d.EpisodeID))
	if ctx.Err() != nil {
		return main, true
	}
	settle := context.WithoutCancel(ctx)
	e.recordRetrievals(settle, main)
	bundles := []memory.TrajectoryBundle{main.Bundle()}

	extra := []llm.GenerateOption{llm.WithTemperature(m.Temperature), llm.WithThinking(m.EnableThinking)}
	if m.MaxTokens > 0 {
		extra = append(extra, llm.WithMaxTokens(m.MaxTokens))
	}
	for i := 1; i <= m.SampleN && ctx.Err() == nil; i++ {
		spec := e.spec(d, scheduler.SampleID(d.TaskID, d.Variation, i))
		spec.GenerateOptions = extra
		sample := e.runner.RunEpisode(ctx, e.env, spec)
		if ctx.Err() != nil {
			e.logger.Debug("matts sampling interrupted", "episode_id", d.EpisodeID, "samples", len(bundles))
			break
		}
		e.logger.Debug("matts sample",
			"episode_id", d.EpisodeID, "sample", i, "success", sample.Success, "score", sample.Score)
		bundles = append(bundles, sample.Bundle())
	}

	e.extract(settle, memory.Request{
		TaskID:   fmt.Sprintf("%s_v%d_matts", d.TaskID, d.Variation),
		TaskType: d.TaskName,
		Goal:     main.Goal,
		Bundles:  bundles,
	})
	return main, false
}

func (e *Engine) spec(d scheduler.EpisodeDescriptor, episodeID string) agent.EpisodeSpec {
	spec := agent.EpisodeSpec{
		EpisodeID:       episodeID,
		TaskID:          d.TaskID,
		TaskName:        d.TaskName,
		Variation:       d.Variation,
		Simplifications: e.opts.Simplifications,
		MaxSteps:        e.opts.MaxSteps,
	}
	if e.shouldRetrieve() {
		spec.Recall = e.recall
	}
	return spec
}

// recall retrieves memories for goal. Retrieval failures are logged and the
// episode continues without memories.
func (e *Engine) recall(ctx context.Context, goal string) []memory.RetrievedMemory {
	mems, err := e.retriever.Retrieve(ctx, goal)
	if err != nil {
		e.logger.Warn("memory retrieval failed", "error", err)
		e.metrics.RecordError(ctx, err, "retriever")
		return nil
	}
	e.metrics.RecordRetrieved(ctx, len(mems))
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("memory.retrieved", len(mems)))
	return mems
}

func (e *Engine) recordRetrievals(ctx context.Context, r results.EpisodeResult) {
	ids := r.MemoryIDs()
	if e.store == nil || len(ids) == 0 {
		return
	}
	if err := e.store.RecordRetrievals(ids, r.Success); err != nil {
		e.logger.Warn("recording retrievals failed", "episode_id", r.EpisodeID, "error", err)
		e.metrics.RecordError(ctx, err, "store")
	}
}

func (e *Engine) extract(ctx context.Context, req memory.Request) {
	out := e.extractor.ExtractAndStore(ctx, e.store, req)
	span := trace.SpanFromContext(ctx)
	if !out.OK() {
		reason := string(out.Reason)
		span.SetAttributes(telemetry.MemoryAttributes(0, false, reason)...)
		e.metrics.RecordExtractFailure(ctx, reason)
		level := slog.LevelWarn
		if rberrors.HasCode(out.Err, rberrors.CodeEmptyInput) {
			level = slog.LevelDebug
		}
		e.logger.Log(ctx, level, "memory extraction failed", "task_id", req.TaskID, "reason", reason, "error", out.Err)
		return
	}
	span.SetAttributes(telemetry.MemoryAttributes(0, true, "")...)
	e.metrics.RecordStored(ctx, e.store.Size())
	e.logger.Debug("memory stored", "task_id", req.TaskID, "memory_id", out.Memory.ID, "items", len(out.Memory.Items))
}

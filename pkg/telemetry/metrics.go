// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/reasoningbank/pkg/errors"
)

// EvalMetrics records episode outcomes, memory activity and error rates.
// A nil *EvalMetrics is valid and records nothing.
type EvalMetrics struct {
	episodes         metric.Int64Counter
	steps            metric.Int64Histogram
	score            metric.Float64Histogram
	retrieved        metric.Int64Counter
	stored           metric.Int64Counter
	extractFailures  metric.Int64Counter
	llmRetries       metric.Int64Counter
	errorCounter     metric.Int64Counter
	memoryStoreSize  metric.Int64Gauge
	checkpointsSaved metric.Int64Counter
}

// NewEvalMetrics creates the instruments on the global meter provider.
func NewEvalMetrics(ctx context.Context) (*EvalMetrics, error) {
	meter := otel.Meter("rbench/eval")
	var (
		m   EvalMetrics
		err error
	)

	if m.episodes, err = meter.Int64Counter("rbench.episodes.total",
		metric.WithDescription("Completed episodes by outcome and task")); err != nil {
		return nil, err
	}
	if m.steps, err = meter.Int64Histogram("rbench.episode.steps",
		metric.WithDescription("Environment steps taken per episode")); err != nil {
		return nil, err
	}
	if m.score, err = meter.Float64Histogram("rbench.episode.score",
		metric.WithDescription("Final environment score per episode (0-100)")); err != nil {
		return nil, err
	}
	if m.retrieved, err = meter.Int64Counter("rbench.memory.retrieved",
		metric.WithDescription("Memories injected into episode prompts")); err != nil {
		return nil, err
	}
	if m.stored, err = meter.Int64Counter("rbench.memory.stored",
		metric.WithDescription("Memories extracted and stored")); err != nil {
		return nil, err
	}
	if m.extractFailures, err = meter.Int64Counter("rbench.memory.extract_failures",
		metric.WithDescription("Soft extraction failures by reason")); err != nil {
		return nil, err
	}
	if m.llmRetries, err = meter.Int64Counter("rbench.llm.retries",
		metric.WithDescription("Retried generation calls")); err != nil {
		return nil, err
	}
	if m.errorCounter, err = meter.Int64Counter("rbench.errors.total",
		metric.WithDescription("Errors by code and component")); err != nil {
		return nil, err
	}
	if m.memoryStoreSize, err = meter.Int64Gauge("rbench.memory.store_size",
		metric.WithDescription("Number of memories in the store")); err != nil {
		return nil, err
	}
	if m.checkpointsSaved, err = meter.Int64Counter("rbench.checkpoints.saved",
		metric.WithDescription("Checkpoint writes")); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordEpisode records one finished episode of record.
func (m *EvalMetrics) RecordEpisode(ctx context.Context, taskID, outcome string, score float64, steps int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("task_id", taskID),
		attribute.String("outcome", outcome),
	)
	m.episodes.Add(ctx, 1, attrs)
	m.steps.Record(ctx, int64(steps), attrs)
	m.score.Record(ctx, score, attrs)
}

// RecordRetrieved counts memories supplied to an episode.
func (m *EvalMetrics) RecordRetrieved(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.retrieved.Add(ctx, int64(n))
}

// RecordStored counts a stored memory and updates the store size gauge.
func (m *EvalMetrics) RecordStored(ctx context.Context, storeSize int) {
	if m == nil {
		return
	}
	m.stored.Add(ctx, 1)
	m.memoryStoreSize.Record(ctx, int64(storeSize))
}

// RecordStoreSize records the current number of memories.
func (m *EvalMetrics) RecordStoreSize(ctx context.Context, storeSize int) {
	if m == nil {
		return
	}
	m.memoryStoreSize.Record(ctx, int64(storeSize))
}

// RecordExtractFailure counts a soft extraction failure.
func (m *EvalMetrics) RecordExtractFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.extractFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordLLMRetry counts one retried generation call.
func (m *EvalMetrics) RecordLLMRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.llmRetries.Add(ctx, 1)
}

// RecordCheckpoint counts a checkpoint write.
func (m *EvalMetrics) RecordCheckpoint(ctx context.Context) {
	if m == nil {
		return
	}
	m.checkpointsSaved.Add(ctx, 1)
}

// RecordError increments the error counter for err's code and component.
func (m *EvalMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	code, recoverable := "UNKNOWN", "unknown"
	if be, ok := err.(*errors.BankError); ok {
		code, recoverable = string(be.Code), be.RecoverableString()
	}
	m.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", code),
			attribute.String("component", component),
			attribute.String("recoverable", recoverable),
		),
	)
}

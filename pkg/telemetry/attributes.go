// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires slog and OpenTelemetry for evaluation runs.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for evaluation spans and metrics.
const (
	// Run attributes
	AttrRunID       = "rbench.run.id"
	AttrRunModel    = "rbench.run.model"
	AttrRunSplit    = "rbench.run.split"
	AttrRunMode     = "rbench.run.memory_mode"
	AttrRunEpisodes = "rbench.run.scheduled_episodes"
	AttrRunPending  = "rbench.run.pending_episodes"

	// Episode attributes
	AttrEpisodeID        = "rbench.episode.id"
	AttrEpisodeTaskID    = "rbench.episode.task_id"
	AttrEpisodeTaskName  = "rbench.episode.task_name"
	AttrEpisodeVariation = "rbench.episode.variation"
	AttrEpisodeOutcome   = "rbench.episode.outcome"
	AttrEpisodeScore     = "rbench.episode.score"
	AttrEpisodeSteps     = "rbench.episode.steps"
	AttrEpisodeSamples   = "rbench.episode.samples"

	// Memory attributes
	AttrMemoryRetrieved = "rbench.memory.retrieved_count"
	AttrMemoryStored    = "rbench.memory.stored"
	AttrMemoryReason    = "rbench.memory.extract_reason"
	AttrMemoryID        = "rbench.memory.id"

	// LLM attributes (standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMTemperature  = "gen_ai.request.temperature"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
)

// Episode outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeEnded     = "ended_without_success"
	OutcomeErrored   = "errored"
)

// RunAttributes returns attributes for the run span.
func RunAttributes(runID, model, split, mode string, scheduled, pending int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.String(AttrRunSplit, split),
		attribute.String(AttrRunMode, mode),
		attribute.Int(AttrRunEpisodes, scheduled),
		attribute.Int(AttrRunPending, pending),
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrRunModel, model))
	}
	return attrs
}

// EpisodeAttributes returns attributes identifying an episode.
func EpisodeAttributes(episodeID, taskID, taskName string, variation int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrEpisodeID, episodeID),
		attribute.String(AttrEpisodeTaskID, taskID),
		attribute.String(AttrEpisodeTaskName, taskName),
		attribute.Int(AttrEpisodeVariation, variation),
	}
}

// OutcomeAttributes returns attributes describing how an episode ended.
func OutcomeAttributes(outcome string, score float64, steps int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrEpisodeOutcome, outcome),
		attribute.Float64(AttrEpisodeScore, score),
		attribute.Int(AttrEpisodeSteps, steps),
	}
}

// MemoryAttributes returns attributes for retrieval and extraction.
func MemoryAttributes(retrieved int, stored bool, reason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrMemoryRetrieved, retrieved),
		attribute.Bool(AttrMemoryStored, stored),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String(AttrMemoryReason, reason))
	}
	return attrs
}

// LLMAttributes returns attributes for generation calls.
func LLMAttributes(model, provider string, temperature float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Float64(AttrLLMTemperature, temperature),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	return attrs
}

// Outcome classifies an episode result.
func Outcome(success bool, errMsg string) string {
	switch {
	case errMsg != "":
		return OutcomeErrored
	case success:
		return OutcomeSucceeded
	default:
		return OutcomeEnded
	}
}

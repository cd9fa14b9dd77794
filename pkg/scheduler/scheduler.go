// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler turns a task catalog into the reproducible, interleaved
// list of episodes a run executes.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand/v2"

	"github.com/jllopis/reasoningbank/pkg/tasks"
)

// VariationSource lists the variation indices of a task for a split.
// The environment client implements it.
type VariationSource interface {
	Variations(ctx context.Context, taskName, split string) ([]int, error)
}

// EpisodeDescriptor identifies one scheduled episode.
type EpisodeDescriptor struct {
	TaskID    string `json:"task_id"`
	TaskName  string `json:"task_name"`
	Variation int    `json:"variation"`
	Episode   int    `json:"episode"`
	EpisodeID string `json:"episode_id"`
}

// Params selects what to schedule.
type Params struct {
	// TaskIDs restricts the schedule; empty means the whole catalog.
	TaskIDs         []string
	Split           string
	Seed            int64
	EpisodesPerTask int
	Logger          *slog.Logger
}

// TaskSeed derives the shuffle seed of one task from the base seed and the
// code points of its identifier. It does not depend on which other tasks
// are scheduled.
func TaskSeed(seed int64, taskID string) int64 {
	for _, r := range taskID {
		seed += int64(r)
	}
	return seed
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0))
}

// BuildSchedule selects up to EpisodesPerTask variations per task and
// returns the combined list shuffled by the global seed. Each task's
// variations are shuffled with its own TaskSeed. Unknown tasks, tasks
// without variations and tasks whose lookup fails are skipped with a
// warning. The result only depends on the inputs and on the variation
// lists returned by src.
func BuildSchedule(ctx context.Context, catalog *tasks.Catalog, src VariationSource, p Params) ([]EpisodeDescriptor, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	selected, unknown := catalog.Select(p.TaskIDs)
	for _, id := range unknown {
		logger.Warn("unknown task ID, skipping", "task_id", id)
	}

	var schedule []EpisodeDescriptor
	for _, t := range selected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		variations, err := src.Variations(ctx, t.Name, p.Split)
		if err != nil {
			logger.Warn("failed to get variations, skipping task",
				"task_id", t.ID, "task_name", t.Name, "error", err)
			continue
		}
		if len(variations) == 0 {
			logger.Warn("no variations for split, skipping task",
				"task_id", t.ID, "task_name", t.Name, "split", p.Split)
			continue
		}

		shuffled := append([]int(nil), variations...)
		r := newRand(TaskSeed(p.Seed, t.ID))
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if p.EpisodesPerTask >= 0 && len(shuffled) > p.EpisodesPerTask {
			shuffled = shuffled[:p.EpisodesPerTask]
		}

		for _, v := range shuffled {
			schedule = append(schedule, EpisodeDescriptor{
				TaskID:    t.ID,
				TaskName:  t.Name,
				Variation: v,
				Episode:   0,
				EpisodeID: EpisodeID(t.ID, v, 0),
			})
		}
		logger.Debug("task scheduled", "task_id", t.ID, "available", len(variations), "selected", len(shuffled))
	}

	r := newRand(p.Seed)
	r.Shuffle(len(schedule), func(i, j int) { schedule[i], schedule[j] = schedule[j], schedule[i] })
	return schedule, nil
}

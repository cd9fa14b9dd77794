// Package results holds episode results, their aggregate summary, the
// results document and the SQLite episode ledger.
package results

import "github.com/jllopis/reasoningbank/pkg/memory"

// EpisodeResult is the record of one episode. Observations holds the
// initial observation plus one entry per action.
type EpisodeResult struct {
	EpisodeID    string                    `json:"episode_id"`
	TaskID       string                    `json:"task_id"`
	TaskName     string                    `json:"task_name"`
	Variation    int                       `json:"variation"`
	Success      bool                      `json:"success"`
	Score        float64                   `json:"score"`
	Steps        int                       `json:"steps"`
	Goal         string                    `json:"goal"`
	Actions      []string                  `json:"actions"`
	Observations []string                  `json:"observations"`
	Thoughts     []string                  `json:"thoughts"`
	Error        string                    `json:"error,omitempty"`
	UsedMemories []memory.RetrievalSummary `json:"used_memories"`
}

// Failed builds the zero-score result recorded when an episode could not
// run at all.
func Failed(episodeID, taskID, taskName string, variation int, err error) EpisodeResult {
	r := EpisodeResult{
		EpisodeID: episodeID,
		TaskID:    taskID,
		TaskName:  taskName,
		Variation: variation,
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Trajectory pairs each action with the observation it produced.
func (r EpisodeResult) Trajectory() []memory.Step {
	steps := make([]memory.Step, len(r.Actions))
	for i, a := range r.Actions {
		steps[i].Action = a
		if i+1 < len(r.Observations) {
			steps[i].Observation = r.Observations[i+1]
		}
	}
	return steps
}

// Bundle returns the result as one input of contrastive extraction.
func (r EpisodeResult) Bundle() memory.TrajectoryBundle {
	b := memory.TrajectoryBundle{
		Trajectory: r.Trajectory(),
		IsSuccess:  r.Success,
		Score:      r.Score,
		Steps:      r.Steps,
		Goal:       r.Goal,
	}
	if len(r.Observations) > 0 {
		b.InitialObservation = r.Observations[0]
	}
	return b
}

// MemoryIDs returns the ids of the memories the episode was given.
func (r EpisodeResult) MemoryIDs() []string {
	if len(r.UsedMemories) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.UsedMemories))
	for _, m := range r.UsedMemories {
		if m.MemoryID != "" {
			ids = append(ids, m.MemoryID)
		}
	}
	return ids
}

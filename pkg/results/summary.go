package results

import (
	"encoding/json"
	"io"
	"time"

	"github.com/jllopis/reasoningbank/pkg/fsutil"
)

// TaskSummary aggregates the results of one task.
type TaskSummary struct {
	TaskName    string  `json:"task_name"`
	Total       int     `json:"total"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
	AvgScore    float64 `json:"avg_score"`
	AvgSteps    float64 `json:"avg_steps"`
}

// Summary aggregates a run.
type Summary struct {
	TotalEpisodes   int                    `json:"total_episodes"`
	Successes       int                    `json:"successes"`
	SuccessRate     float64                `json:"success_rate"`
	AvgScore        float64                `json:"avg_score"`
	AvgSteps        float64                `json:"avg_steps"`
	SuccessAvgSteps float64                `json:"success_avg_steps"`
	ByTaskID        map[string]TaskSummary `json:"by_task_id"`
}

// ComputeSummary aggregates results overall and per task ID. Empty input
// yields zero values.
func ComputeSummary(results []EpisodeResult) Summary {
	s := Summary{ByTaskID: make(map[string]TaskSummary)}
	if len(results) == 0 {
		return s
	}

	type acc struct {
		name             string
		total, successes int
		score            float64
		steps            int
	}
	byTask := make(map[string]*acc)
	var totalScore float64
	var totalSteps, successSteps int

	for _, r := range results {
		s.TotalEpisodes++
		totalScore += r.Score
		totalSteps += r.Steps
		if r.Success {
			s.Successes++
			successSteps += r.Steps
		}
		a, ok := byTask[r.TaskID]
		if !ok {
			a = &acc{name: r.TaskName}
			byTask[r.TaskID] = a
		}
		a.total++
		a.score += r.Score
		a.steps += r.Steps
		if r.Success {
			a.successes++
		}
	}

	n := float64(s.TotalEpisodes)
	s.SuccessRate = float64(s.Successes) / n
	s.AvgScore = totalScore / n
	s.AvgSteps = float64(totalSteps) / n
	if s.Successes > 0 {
		s.SuccessAvgSteps = float64(successSteps) / float64(s.Successes)
	}
	for id, a := range byTask {
		t := float64(a.total)
		s.ByTaskID[id] = TaskSummary{
			TaskName:    a.name,
			Total:       a.total,
			Successes:   a.successes,
			SuccessRate: float64(a.successes) / t,
			AvgScore:    a.score / t,
			AvgSteps:    float64(a.steps) / t,
		}
	}
	return s
}

// Document is the results file written at the end of a run.
type Document struct {
	Model     string          `json:"model"`
	RunID     string          `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	Config    any             `json:"config"`
	Summary   Summary         `json:"summary"`
	Results   []EpisodeResult `json:"results"`
}

// WriteResults computes the summary and atomically writes the results
// document to path as indented JSON.
func WriteResults(path string, doc Document) error {
	doc.Summary = ComputeSummary(doc.Results)
	if doc.Results == nil {
		doc.Results = []EpisodeResult{}
	}
	return fsutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(doc)
	})
}

// Package memory implements the episodic memory bank: a durable store of
// distilled lessons, a similarity retriever over their goal embeddings and
// an extractor that turns episode trajectories into new lessons.
package memory

import (
	"encoding/hex"
	"math"
	"time"

	"github.com/google/uuid"
)

// Step is a single action/observation pair of a trajectory.
type Step struct {
	Action      string `json:"action"`
	Observation string `json:"observation"`
}

// MemoryEntry is one distilled, human-readable lesson.
type MemoryEntry struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

// Memory is the durable unit stored in the bank.
type Memory struct {
	ID                    string        `json:"memory_id"`
	TaskID                string        `json:"task_id"`
	TaskType              string        `json:"task_type"`
	Query                 string        `json:"query"`
	Trajectory            []Step        `json:"trajectory"`
	IsSuccess             bool          `json:"is_success"`
	Items                 []MemoryEntry `json:"memory_items"`
	CreatedAt             time.Time     `json:"created_at"`
	RetrievalCount        int           `json:"retrieval_count"`
	RetrievalSuccessCount int           `json:"retrieval_success_count"`
}

// RetrievalSuccessRate returns the fraction of retrievals followed by a
// successful episode, or 0 if the memory was never retrieved.
func (m *Memory) RetrievalSuccessRate() float64 {
	if m.RetrievalCount == 0 {
		return 0
	}
	return float64(m.RetrievalSuccessCount) / float64(m.RetrievalCount)
}

// RecordRetrieval bumps the retrieval counters.
func (m *Memory) RecordRetrieval(success bool) {
	m.RetrievalCount++
	if success {
		m.RetrievalSuccessCount++
	}
}

func (m *Memory) clone() *Memory {
	c := *m
	c.Trajectory = append([]Step(nil), m.Trajectory...)
	c.Items = append([]MemoryEntry(nil), m.Items...)
	return &c
}

// NewID returns a fresh memory identifier of the form mem_<12 hex>.
func NewID() string {
	u := uuid.New()
	return "mem_" + hex.EncodeToString(u[:])[:12]
}

// RetrievedMemory pairs a stored memory with its similarity to one query.
type RetrievedMemory struct {
	Memory     *Memory
	Similarity float64
}

// RetrievalSummary is the compact form of a retrieval kept in results.
type RetrievalSummary struct {
	MemoryID   string  `json:"memory_id"`
	Similarity float64 `json:"similarity"`
	Query      string  `json:"query"`
	IsSuccess  bool    `json:"is_success"`
	NumItems   int     `json:"num_items"`
}

// Summary returns the compact form used in episode results.
func (r RetrievedMemory) Summary() RetrievalSummary {
	q := r.Memory.Query
	if runes := []rune(q); len(runes) > 100 {
		q = string(runes[:100]) + "..."
	}
	return RetrievalSummary{
		MemoryID:   r.Memory.ID,
		Similarity: math.Round(r.Similarity*1e4) / 1e4,
		Query:      q,
		IsSuccess:  r.Memory.IsSuccess,
		NumItems:   len(r.Memory.Items),
	}
}

// TrajectoryBundle is one attempt fed to contrastive extraction.
type TrajectoryBundle struct {
	Trajectory         []Step  `json:"trajectory"`
	IsSuccess          bool    `json:"is_success"`
	Score              float64 `json:"score"`
	Steps              int     `json:"steps"`
	InitialObservation string  `json:"initial_observation,omitempty"`
	Goal               string  `json:"goal,omitempty"`
}

// SPDX-License-Identifier: Apache-2.0

// Package checkpoint persists the completed-episode set and accumulated
// results of a run so it can be resumed after an interruption.
package checkpoint

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	rberrors "github.com/jllopis/reasoningbank/pkg/errors"
	"github.com/jllopis/reasoningbank/pkg/fsutil"
	"github.com/jllopis/reasoningbank/pkg/results"
)

// State is the resumable state of a run. Completed is the single source
// of truth for which episodes never run again.
type State struct {
	Completed map[string]bool
	Results   []results.EpisodeResult
	Timestamp time.Time
}

// Empty reports whether the state holds no completed episodes.
func (s State) Empty() bool { return len(s.Completed) == 0 }

type document struct {
	CompletedEpisodeIDs []string                `json:"completed_episode_ids"`
	Results             []results.EpisodeResult `json:"results"`
	Timestamp           time.Time               `json:"timestamp"`
}

// Manager reads and writes the checkpoint file of one run.
type Manager struct {
	path         string
	saveInterval int
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New returns a manager for {dir}/{runID}_checkpoint.json that saves every
// saveInterval completed episodes (at least 1).
func New(dir, runID string, saveInterval int, opts ...Option) *Manager {
	if saveInterval < 1 {
		saveInterval = 1
	}
	m := &Manager{
		path:         filepath.Join(dir, runID+"_checkpoint.json"),
		saveInterval: saveInterval,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns the checkpoint file path.
func (m *Manager) Path() string { return m.path }

// Load returns the saved state. A missing or unparseable file yields an
// empty state: corruption means starting fresh, never failing the run.
func (m *Manager) Load() State {
	st := State{Completed: make(map[string]bool)}
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return st
	}
	if err != nil {
		m.logger.Warn("checkpoint unreadable, starting fresh", "path", m.path, "error", err)
		return st
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		m.logger.Warn("checkpoint corrupt, starting fresh", "path", m.path, "error", err)
		return st
	}
	for _, id := range doc.CompletedEpisodeIDs {
		st.Completed[id] = true
	}
	st.Results = doc.Results
	st.Timestamp = doc.Timestamp
	m.logger.Info("checkpoint loaded", "path", m.path, "completed", len(st.Completed), "results", len(st.Results))
	return st
}

// Save atomically replaces the checkpoint with completed and res.
// Completed IDs are written sorted.
func (m *Manager) Save(completed map[string]bool, res []results.EpisodeResult) error {
	doc := document{
		CompletedEpisodeIDs: make([]string, 0, len(completed)),
		Results:             res,
		Timestamp:           m.now().UTC(),
	}
	for id, ok := range completed {
		if ok {
			doc.CompletedEpisodeIDs = append(doc.CompletedEpisodeIDs, id)
		}
	}
	slices.Sort(doc.CompletedEpisodeIDs)
	if doc.Results == nil {
		doc.Results = []results.EpisodeResult{}
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return rberrors.New(rberrors.CodeCheckpoint, "create checkpoint directory", err)
	}
	err := fsutil.WriteAtomic(m.path, 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(doc)
	})
	if err != nil {
		return rberrors.New(rberrors.CodeCheckpoint, "write checkpoint", err).WithContext("path", m.path)
	}
	m.logger.Debug("checkpoint saved", "path", m.path, "completed", len(doc.CompletedEpisodeIDs))
	return nil
}

// ShouldSave reports whether sinceLastSave completed episodes warrant a save.
func (m *Manager) ShouldSave(sinceLastSave int) bool {
	return sinceLastSave >= m.saveInterval
}

// Remove deletes the checkpoint file if present.
func (m *Manager) Remove() error {
	if err := fsutil.RemoveIfExists(m.path); err != nil {
		return rberrors.New(rberrors.CodeCheckpoint, "remove checkpoint", err).WithContext("path", m.path)
	}
	return nil
}

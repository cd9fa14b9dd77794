// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	rberrors "github.com/jllopis/reasoningbank/pkg/errors"
	"github.com/jllopis/reasoningbank/pkg/fsutil"
)

// Store keeps memories in an append-only JSONL log and their goal
// embeddings in a parallel .npy matrix. Row i of the matrix always embeds
// the query of memory i.
type Store struct {
	mu sync.RWMutex

	memoriesPath   string
	embeddingsPath string
	embedder       Embedder
	mirror         Mirror
	logger         *slog.Logger
	now            func() time.Time

	memories   []*Memory
	index      map[string]int
	embeddings [][]float32
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for load and recovery events.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Mirror copies stored vectors into an external search index. The store
// stays the source of truth; mirror failures are logged, never fatal.
type Mirror interface {
	Upsert(ctx context.Context, ids []string, vectors [][]float32) error
	Reset(ctx context.Context) error
}

// WithMirror keeps m in sync with the store's rows.
func WithMirror(m Mirror) StoreOption {
	return func(s *Store) { s.mirror = m }
}

// WithClock overrides the time source used for CreatedAt defaults.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore opens (or creates) the bank named taskName under dir.
//
// Loading reads the record log in file order, then the vector matrix. A
// row/record mismatch, an unreadable matrix or a missing one triggers a
// full re-encode of every query through embedder. A nil embedder yields a
// store without embeddings.
func NewStore(ctx context.Context, dir, taskName string, embedder Embedder, opts ...StoreOption) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, rberrors.New(rberrors.CodeMemoryError, "create memory directory", err).
			WithContext("dir", dir)
	}
	s := &Store{
		memoriesPath:   filepath.Join(dir, taskName+"_memories.jsonl"),
		embeddingsPath: filepath.Join(dir, taskName+"_embeddings.npy"),
		embedder:       embedder,
		logger:         slog.Default(),
		now:            time.Now,
		index:          make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	if s.mirror != nil && len(s.embeddings) > 0 {
		ids := make([]string, len(s.memories))
		for i, m := range s.memories {
			ids[i] = m.ID
		}
		if err := s.mirror.Upsert(ctx, ids, s.embeddings); err != nil {
			s.logger.Warn("initial index sync failed", "error", err)
		}
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	f, err := os.Open(s.memoriesPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return rberrors.New(rberrors.CodeMemoryError, "open memory log", err).
			WithContext("path", s.memoriesPath)
	default:
		dirty, err := s.readLog(f)
		f.Close()
		if err != nil {
			return rberrors.New(rberrors.CodeMemoryError, "read memory log", err).
				WithContext("path", s.memoriesPath)
		}
		// Appends must start on a fresh line, or the next record fuses
		// with a torn or unterminated one.
		if dirty {
			if err := s.rewriteLog(); err != nil {
				return rberrors.New(rberrors.CodeMemoryError, "repair memory log", err).
					WithContext("path", s.memoriesPath)
			}
			s.logger.Warn("memory log repaired", "memories", len(s.memories), "path", s.memoriesPath)
		}
	}

	if len(s.memories) == 0 {
		s.embeddings = nil
		return nil
	}
	s.logger.Info("memory log loaded", "memories", len(s.memories), "path", s.memoriesPath)

	if s.embedder == nil {
		return nil
	}

	rows, err := readMatrix(s.embeddingsPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Warn("embedding matrix missing, re-encoding", "memories", len(s.memories))
	case err != nil:
		s.logger.Warn("embedding matrix unreadable, re-encoding", "error", err)
	case len(rows) != len(s.memories):
		s.logger.Warn("embedding rows do not match memory count, re-encoding",
			"rows", len(rows), "memories", len(s.memories))
	case !sameDimension(rows):
		s.logger.Warn("embedding matrix has ragged rows, re-encoding")
	default:
		s.embeddings = rows
		return nil
	}
	return s.rebuildEmbeddings(ctx)
}

// readLog decodes one record per line. dirty reports that the file
// holds skipped lines or lacks a final newline and should be rewritten.
func (s *Store) readLog(r io.Reader) (dirty bool, err error) {
	br := bufio.NewReader(r)
	lineNo := 0
	for {
		line, rerr := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			if line[len(line)-1] != '\n' {
				dirty = true
			}
			line = bytes.TrimSpace(line)
			if len(line) > 0 {
				var m Memory
				if uerr := json.Unmarshal(line, &m); uerr != nil || m.ID == "" {
					s.logger.Warn("skipping undecodable memory record", "line", lineNo, "error", uerr)
					dirty = true
				} else if _, dup := s.index[m.ID]; dup {
					s.logger.Warn("skipping duplicate memory record", "line", lineNo, "memory_id", m.ID)
					dirty = true
				} else {
					s.index[m.ID] = len(s.memories)
					s.memories = append(s.memories, &m)
				}
			}
		}
		if errors.Is(rerr, io.EOF) {
			return dirty, nil
		}
		if rerr != nil {
			return dirty, rerr
		}
	}
}

func (s *Store) rebuildEmbeddings(ctx context.Context) error {
	queries := make([]string, len(s.memories))
	for i, m := range s.memories {
		queries[i] = m.Query
	}
	rows, err := s.embedder.Encode(ctx, queries)
	if err != nil {
		return rberrors.New(rberrors.CodeMemoryError, "re-encode memory queries", err)
	}
	if len(rows) != len(queries) {
		return rberrors.New(rberrors.CodeMemoryError,
			fmt.Sprintf("embedder returned %d vectors for %d queries", len(rows), len(queries)), nil)
	}
	if err := writeMatrix(s.embeddingsPath, rows); err != nil {
		return rberrors.New(rberrors.CodeMemoryError, "persist embedding matrix", err).
			WithContext("path", s.embeddingsPath)
	}
	s.embeddings = rows
	s.logger.Info("embedding matrix rebuilt", "rows", len(rows))
	return nil
}

// Add appends m to the bank. It returns false without touching anything
// when m.ID is already stored. Any failure after the in-memory append
// rolls the store back, truncating the log to its previous length.
func (s *Store) Add(ctx context.Context, m *Memory) (bool, error) {
	if m == nil || m.ID == "" {
		return false, rberrors.New(rberrors.CodeInvalidInput, "memory must have an id", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[m.ID]; ok {
		s.logger.Warn("memory already stored", "memory_id", m.ID)
		return false, nil
	}

	rec := m.clone()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return false, rberrors.New(rberrors.CodeMemoryError, "encode memory", err)
	}

	prevSize, err := fileSize(s.memoriesPath)
	if err != nil {
		return false, rberrors.New(rberrors.CodeMemoryError, "stat memory log", err)
	}
	s.index[rec.ID] = len(s.memories)
	s.memories = append(s.memories, rec)
	prevRows := s.embeddings

	rollback := func(cause error, msg string) (bool, error) {
		delete(s.index, rec.ID)
		s.memories = s.memories[:len(s.memories)-1]
		s.embeddings = prevRows
		if terr := truncateLog(s.memoriesPath, prevSize); terr != nil {
			s.logger.Error("memory log rollback failed", "error", terr)
		}
		return false, rberrors.New(rberrors.CodeMemoryError, msg, cause).
			WithContext("memory_id", rec.ID)
	}

	if err := appendLine(s.memoriesPath, line); err != nil {
		return rollback(err, "append memory record")
	}

	if s.embedder != nil {
		vec, err := s.embedder.EncodeOne(ctx, rec.Query)
		if err != nil {
			return rollback(err, "embed memory query")
		}
		if len(prevRows) > 0 && len(prevRows[0]) != len(vec) {
			return rollback(fmt.Errorf("dimension %d, matrix has %d", len(vec), len(prevRows[0])),
				"embedding dimension changed")
		}
		rows := make([][]float32, len(prevRows), len(prevRows)+1)
		copy(rows, prevRows)
		rows = append(rows, append([]float32(nil), vec...))
		if err := writeMatrix(s.embeddingsPath, rows); err != nil {
			return rollback(err, "persist embedding matrix")
		}
		s.embeddings = rows
		if s.mirror != nil {
			if err := s.mirror.Upsert(ctx, []string{rec.ID}, rows[len(rows)-1:]); err != nil {
				s.logger.Warn("index upsert failed", "memory_id", rec.ID, "error", err)
			}
		}
	}

	s.logger.Debug("memory added", "memory_id", rec.ID, "task_id", rec.TaskID, "size", len(s.memories))
	return true, nil
}

// Get returns a copy of the memory with the given id.
func (s *Store) Get(id string) (*Memory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.memories[i].clone(), true
}

// GetAll returns copies of every memory in insertion order.
func (s *Store) GetAll() []*Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Memory, len(s.memories))
	for i, m := range s.memories {
		out[i] = m.clone()
	}
	return out
}

// MemoriesAndEmbeddings returns the memories with their aligned rows.
// Rows are never mutated after being stored and may be shared.
func (s *Store) MemoriesAndEmbeddings() ([]*Memory, [][]float32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mems := make([]*Memory, len(s.memories))
	for i, m := range s.memories {
		mems[i] = m.clone()
	}
	return mems, append([][]float32(nil), s.embeddings...)
}

// Size returns the number of stored memories.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memories)
}

// IsEmpty reports whether the bank holds no memories.
func (s *Store) IsEmpty() bool { return s.Size() == 0 }

// HasEmbeddings reports whether a non-empty vector matrix is loaded.
func (s *Store) HasEmbeddings() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.embeddings) > 0
}

// RecordRetrievals bumps the retrieval counters of the given memories and
// rewrites the log atomically. Unknown ids are ignored. The matrix is not
// touched.
func (s *Store) RecordRetrievals(ids []string, success bool) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	type counters struct{ total, ok int }
	prev := make(map[int]counters)
	for _, id := range ids {
		i, ok := s.index[id]
		if !ok {
			continue
		}
		m := s.memories[i]
		if _, seen := prev[i]; !seen {
			prev[i] = counters{m.RetrievalCount, m.RetrievalSuccessCount}
		}
		m.RecordRetrieval(success)
		s.logger.Debug("retrieval recorded", "memory_id", id, "success", success,
			"total", m.RetrievalCount, "rate", m.RetrievalSuccessRate())
	}
	if len(prev) == 0 {
		return nil
	}
	if err := s.rewriteLog(); err != nil {
		for i, c := range prev {
			s.memories[i].RetrievalCount = c.total
			s.memories[i].RetrievalSuccessCount = c.ok
		}
		return rberrors.New(rberrors.CodeMemoryError, "rewrite memory log", err).
			WithContext("path", s.memoriesPath)
	}
	return nil
}

func (s *Store) rewriteLog() error {
	return fsutil.WriteAtomic(s.memoriesPath, 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		for _, m := range s.memories {
			if err := enc.Encode(m); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear deletes both durable artifacts and empties the bank.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = nil
	s.embeddings = nil
	s.index = make(map[string]int)
	if err := fsutil.RemoveIfExists(s.memoriesPath); err != nil {
		return rberrors.New(rberrors.CodeMemoryError, "remove memory log", err)
	}
	if err := fsutil.RemoveIfExists(s.embeddingsPath); err != nil {
		return rberrors.New(rberrors.CodeMemoryError, "remove embedding matrix", err)
	}
	if s.mirror != nil {
		if err := s.mirror.Reset(ctx); err != nil {
			s.logger.Warn("index reset failed", "error", err)
		}
	}
	s.logger.Info("memory bank cleared", "path", s.memoriesPath)
	return nil
}

// Stats summarizes the bank.
type Stats struct {
	Total                   int            `json:"total"`
	SuccessCount            int            `json:"success_count"`
	FailureCount            int            `json:"failure_count"`
	TaskTypes               map[string]int `json:"task_types"`
	HasEmbeddings           bool           `json:"has_embeddings"`
	EmbeddingDimension      int            `json:"embedding_dimension"`
	MemoryFile              string         `json:"memory_file"`
	EmbeddingsFile          string         `json:"embeddings_file"`
	TotalRetrievals         int            `json:"total_retrievals"`
	TotalRetrievalSuccesses int            `json:"total_retrieval_successes"`
	AvgRetrievalSuccessRate float64        `json:"avg_retrieval_success_rate"`
}

// Stats computes counts and retrieval aggregates. The average success
// rate covers only memories that were retrieved at least once.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Total:          len(s.memories),
		TaskTypes:      make(map[string]int),
		HasEmbeddings:  len(s.embeddings) > 0,
		MemoryFile:     s.memoriesPath,
		EmbeddingsFile: s.embeddingsPath,
	}
	if st.HasEmbeddings {
		st.EmbeddingDimension = len(s.embeddings[0])
	}
	var rateSum float64
	var retrieved int
	for _, m := range s.memories {
		if m.IsSuccess {
			st.SuccessCount++
		}
		st.TaskTypes[m.TaskType]++
		st.TotalRetrievals += m.RetrievalCount
		st.TotalRetrievalSuccesses += m.RetrievalSuccessCount
		if m.RetrievalCount > 0 {
			rateSum += m.RetrievalSuccessRate()
			retrieved++
		}
	}
	st.FailureCount = st.Total - st.SuccessCount
	if retrieved > 0 {
		st.AvgRetrievalSuccessRate = rateSum / float64(retrieved)
	}
	return st
}

// MemoryFile returns the path of the record log.
func (s *Store) MemoryFile() string { return s.memoriesPath }

// EmbeddingsFile returns the path of the vector matrix.
func (s *Store) EmbeddingsFile() string { return s.embeddingsPath }

func sameDimension(rows [][]float32) bool {
	for _, r := range rows {
		if len(r) != len(rows[0]) || len(r) == 0 {
			return false
		}
	}
	return true
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// appendLine writes line plus a newline at the end of path, first
// terminating a previous line left without one.
func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	buf := append(line, '\n')
	if fi, err := f.Stat(); err == nil && fi.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, fi.Size()-1); err == nil && last[0] != '\n' {
			buf = append([]byte{'\n'}, buf...)
		}
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func truncateLog(path string, size int64) error {
	if size == 0 {
		return fsutil.RemoveIfExists(path)
	}
	return os.Truncate(path, size)
}

package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jllopis/reasoningbank/pkg/memory"
)

// LedgerEntry is one ledger row: the outcome of an episode in a run
// without its step transcript.
type LedgerEntry struct {
	RunID        string
	EpisodeID    string
	TaskID       string
	Variation    int
	Success      bool
	Score        float64
	Steps        int
	Error        string
	UsedMemories []memory.RetrievalSummary
	CreatedAt    time.Time
}

// LedgerFilter limits ledger queries.
type LedgerFilter struct {
	RunID   string
	TaskID  string
	Success *bool
	Limit   int
}

// RunStats aggregates the ledger rows of one run.
type RunStats struct {
	RunID       string  `json:"run_id"`
	Episodes    int     `json:"episodes"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
	AvgScore    float64 `json:"avg_score"`
	AvgSteps    float64 `json:"avg_steps"`
	Errors      int     `json:"errors"`
}

// Ledger records episode outcomes across runs in SQLite.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// OpenLedger opens (or creates) the SQLite ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	l, err := NewLedger(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// NewLedger wraps db and ensures the schema.
func NewLedger(db *sql.DB) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureLedgerSchema(db); err != nil {
		return nil, err
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// Record upserts the result of an episode for runID.
func (l *Ledger) Record(ctx context.Context, runID string, r EpisodeResult) error {
	used, err := json.Marshal(r.UsedMemories)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO episodes (
			run_id, episode_id, task_id, variation, success, score, steps, error_text, used_memories, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, episode_id) DO UPDATE SET
			task_id = excluded.task_id,
			variation = excluded.variation,
			success = excluded.success,
			score = excluded.score,
			steps = excluded.steps,
			error_text = excluded.error_text,
			used_memories = excluded.used_memories,
			created_at = excluded.created_at
	`,
		runID,
		r.EpisodeID,
		r.TaskID,
		r.Variation,
		r.Success,
		r.Score,
		r.Steps,
		r.Error,
		string(used),
		l.now().UTC(),
	)
	return err
}

// List returns ledger rows matching the filter, oldest first.
func (l *Ledger) List(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	query := `
		SELECT run_id, episode_id, task_id, variation, success, score, steps, error_text, used_memories, created_at
		FROM episodes
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.TaskID != "" {
		addFilter("task_id = ?", filter.TaskID)
	}
	if filter.Success != nil {
		addFilter("success = ?", *filter.Success)
	}
	query += where + " ORDER BY created_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var (
			e       LedgerEntry
			used    string
			errText sql.NullString
			created sql.NullTime
		)
		if err := rows.Scan(
			&e.RunID,
			&e.EpisodeID,
			&e.TaskID,
			&e.Variation,
			&e.Success,
			&e.Score,
			&e.Steps,
			&errText,
			&used,
			&created,
		); err != nil {
			return nil, err
		}
		e.Error = errText.String
		if used != "" && used != "null" {
			if err := json.Unmarshal([]byte(used), &e.UsedMemories); err != nil {
				return nil, err
			}
		}
		if created.Valid {
			e.CreatedAt = created.Time
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RunSummary aggregates the rows of runID.
func (l *Ledger) RunSummary(ctx context.Context, runID string) (RunStats, error) {
	st := RunStats{RunID: runID}
	var successes, errs sql.NullInt64
	var avgScore, avgSteps sql.NullFloat64
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			SUM(CASE WHEN success THEN 1 ELSE 0 END),
			AVG(score),
			AVG(steps),
			SUM(CASE WHEN error_text IS NOT NULL AND error_text != '' THEN 1 ELSE 0 END)
		FROM episodes WHERE run_id = ?
	`, runID).Scan(&st.Episodes, &successes, &avgScore, &avgSteps, &errs)
	if err != nil {
		return st, err
	}
	st.Successes = int(successes.Int64)
	st.Errors = int(errs.Int64)
	st.AvgScore = avgScore.Float64
	st.AvgSteps = avgSteps.Float64
	if st.Episodes > 0 {
		st.SuccessRate = float64(st.Successes) / float64(st.Episodes)
	}
	return st, nil
}

func ensureLedgerSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS episodes (
			run_id TEXT NOT NULL,
			episode_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			variation INTEGER NOT NULL,
			success BOOLEAN NOT NULL,
			score REAL NOT NULL,
			steps INTEGER NOT NULL,
			error_text TEXT,
			used_memories TEXT,
			created_at TIMESTAMP,
			PRIMARY KEY (run_id, episode_id)
		);
		CREATE INDEX IF NOT EXISTS idx_episodes_task ON episodes(task_id);
	`)
	return err
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cdnprobe/cdnprobe/pkg/run"
	"github.com/cdnprobe/cdnprobe/pkg/score"
)

// ErrNotFound is returned when a run id is not in the history.
var ErrNotFound = errors.New("store: run not found")

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// RunSummary is one row of the run history.
type RunSummary struct {
	RunID      string                `json:"runId"`
	StartedAt  time.Time             `json:"startedAt"`
	FinishedAt time.Time             `json:"finishedAt"`
	Rounds     int                   `json:"rounds"`
	Total      int                   `json:"total"`
	Completed  int                   `json:"completed"`
	Cancelled  bool                  `json:"cancelled"`
	Providers  []score.ProviderScore `json:"providers"`
	Issues     []string              `json:"issues"`
}

// History persists finished runs in a SQLite database. Only the newest
// `keep` runs are retained.
type History struct {
	db   *sql.DB
	keep int
}

// OpenHistory opens (or creates) the database at path and runs migrations.
func OpenHistory(ctx context.Context, path string, keep int) (*History, error) {
	db, err := sql.Open("sqlite", historyDSN(path))
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}
	h := &History{db: db, keep: keep}
	if err := h.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return h, nil
}

// historyDSN builds the modernc.org/sqlite DSN for path. Pragmas are applied
// to every pooled connection.
func historyDSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Close closes the database.
func (h *History) Close() error { return h.db.Close() }

func (h *History) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	started_at   TEXT NOT NULL,
	finished_at  TEXT NOT NULL,
	rounds       INTEGER NOT NULL,
	total        INTEGER NOT NULL,
	completed    INTEGER NOT NULL,
	cancelled    INTEGER NOT NULL,
	summary      TEXT NOT NULL,
	report       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at DESC);
`
	_, err := h.db.ExecContext(ctx, schema)
	return err
}

// Save stores rep and prunes rows beyond the retention limit.
func (h *History) Save(ctx context.Context, rep *run.Report) error {
	summary, err := json.Marshal(rep.Summary)
	if err != nil {
		return fmt.Errorf("store: encode summary: %w", err)
	}
	full, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("store: encode report: %w", err)
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
INSERT INTO runs (run_id, started_at, finished_at, rounds, total, completed, cancelled, summary, report)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
	finished_at = excluded.finished_at,
	completed   = excluded.completed,
	cancelled   = excluded.cancelled,
	summary     = excluded.summary,
	report      = excluded.report`,
		rep.RunID,
		rep.StartedAt.UTC().Format(timeLayout),
		rep.FinishedAt.UTC().Format(timeLayout),
		rep.Config.Rounds,
		rep.Total,
		rep.Completed,
		boolInt(rep.Cancelled),
		string(summary),
		string(full),
	)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}

	if h.keep > 0 {
		_, err = tx.ExecContext(ctx, `
DELETE FROM runs WHERE run_id NOT IN (
	SELECT run_id FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?
)`, h.keep)
		if err != nil {
			return fmt.Errorf("store: prune runs: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// List returns up to limit runs, newest first.
func (h *History) List(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = h.keep
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx, `
SELECT run_id, started_at, finished_at, rounds, total, completed, cancelled, summary
FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query runs: %w", err)
	}
	defer rows.Close()

	out := []RunSummary{}
	for rows.Next() {
		var (
			rs                RunSummary
			started, finished string
			cancelled         int
			summaryJSON       string
		)
		if err := rows.Scan(&rs.RunID, &started, &finished, &rs.Rounds, &rs.Total, &rs.Completed, &cancelled, &summaryJSON); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		rs.StartedAt, _ = time.Parse(timeLayout, started)
		rs.FinishedAt, _ = time.Parse(timeLayout, finished)
		rs.Cancelled = cancelled != 0

		var sum score.Summary
		if err := json.Unmarshal([]byte(summaryJSON), &sum); err != nil {
			return nil, fmt.Errorf("store: decode summary for %s: %w", rs.RunID, err)
		}
		rs.Providers = sum.Providers
		rs.Issues = sum.Issues
		out = append(out, rs)
	}
	return out, rows.Err()
}

// Get returns the full report for runID.
func (h *History) Get(ctx context.Context, runID string) (*run.Report, error) {
	var raw string
	err := h.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE run_id = ?`, runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query run: %w", err)
	}
	var rep run.Report
	if err := json.Unmarshal([]byte(raw), &rep); err != nil {
		return nil, fmt.Errorf("store: decode report: %w", err)
	}
	return &rep, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

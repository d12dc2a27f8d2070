package learner

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Index is the derived SQLite cache over learning.jsonl, per §4.6's
// expansion. It is never authoritative: a missing or deleted index
// file is transparently rebuilt from the JSONL log, the same division
// of labor the teacher keeps between its append-only dispatch history
// and internal/store's SQL queries (internal/store/store.go's
// Open/schema idiom, reused here for a single-table cache instead of
// that package's full dispatch schema).
type Index struct {
	db *sql.DB
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS task_metrics (
	task_id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	complexity TEXT NOT NULL DEFAULT '',
	aggregate TEXT NOT NULL DEFAULT '',
	domain TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	estimate REAL,
	actual REAL NOT NULL DEFAULT 0,
	estimate_ratio REAL,
	commits INTEGER NOT NULL DEFAULT 0,
	files_changed INTEGER NOT NULL DEFAULT 0,
	blockers INTEGER NOT NULL DEFAULT 0,
	success INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_task_metrics_aggregate ON task_metrics(aggregate);
CREATE INDEX IF NOT EXISTS idx_task_metrics_type ON task_metrics(type);
`

// OpenIndex opens or creates the SQLite index at dbPath.
func OpenIndex(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("learner: open index %s: %w", dbPath, err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("learner: create index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database connection.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Rebuild replaces the index contents with the given metrics, folding
// the whole of learning.jsonl (and, transitively, tasks.jsonl) back
// in — the index carries no state Rebuild doesn't recompute.
func (idx *Index) Rebuild(metrics []TaskMetrics) error {
	tx, err := idx.db.Begin()
	if err != nil {
		return fmt.Errorf("learner: begin rebuild: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM task_metrics`); err != nil {
		tx.Rollback()
		return fmt.Errorf("learner: clear index: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO task_metrics
			(task_id, type, complexity, aggregate, domain, duration_ms, estimate, actual, estimate_ratio, commits, files_changed, blockers, success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			type=excluded.type, complexity=excluded.complexity, aggregate=excluded.aggregate,
			domain=excluded.domain, duration_ms=excluded.duration_ms, estimate=excluded.estimate,
			actual=excluded.actual, estimate_ratio=excluded.estimate_ratio, commits=excluded.commits,
			files_changed=excluded.files_changed, blockers=excluded.blockers, success=excluded.success
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("learner: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range metrics {
		complexity := ""
		if m.Complexity != nil {
			complexity = string(*m.Complexity)
		}
		var estimate, ratio sql.NullFloat64
		if m.Estimate != nil {
			estimate = sql.NullFloat64{Float64: *m.Estimate, Valid: true}
		}
		if m.EstimateRatio != nil {
			ratio = sql.NullFloat64{Float64: *m.EstimateRatio, Valid: true}
		}
		if _, err := stmt.Exec(
			m.TaskID, string(m.Type), complexity, m.Aggregate, m.Domain,
			m.DurationMS, estimate, m.Actual, ratio, m.Commits, m.FilesChanged, m.Blockers, m.Success,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("learner: insert task metric %s: %w", m.TaskID, err)
		}
	}

	return tx.Commit()
}

// DurationPercentile returns the duration (ms) at the given percentile
// (0-100) for tasks of the given type, or 0 if there are none.
func (idx *Index) DurationPercentile(taskType string, percentile int) (float64, error) {
	rows, err := idx.db.Query(`SELECT duration_ms FROM task_metrics WHERE type = ? ORDER BY duration_ms ASC`, taskType)
	if err != nil {
		return 0, fmt.Errorf("learner: query durations: %w", err)
	}
	defer rows.Close()

	var durations []float64
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return 0, fmt.Errorf("learner: scan duration: %w", err)
		}
		durations = append(durations, d)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(durations) == 0 {
		return 0, nil
	}
	idxPos := (percentile * (len(durations) - 1)) / 100
	if idxPos < 0 {
		idxPos = 0
	}
	if idxPos >= len(durations) {
		idxPos = len(durations) - 1
	}
	return durations[idxPos], nil
}

// AggregateCountByType returns per-type task counts from the index.
func (idx *Index) AggregateCountByType() (map[string]int, error) {
	rows, err := idx.db.Query(`SELECT type, COUNT(*) FROM task_metrics GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("learner: query type counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("learner: scan type count: %w", err)
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

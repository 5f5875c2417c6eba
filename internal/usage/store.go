package usage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_usage (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id        TEXT NOT NULL,
    attempt       INTEGER NOT NULL DEFAULT 1,
    job_type      TEXT NOT NULL,
    owner         TEXT NOT NULL DEFAULT '',
    source        TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    error_kind    TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    cache_hit     INTEGER NOT NULL DEFAULT 0,
    provider      TEXT NOT NULL DEFAULT '',
    started_at    TEXT NOT NULL,
    completed_at  TEXT NOT NULL,
    duration_ms   INTEGER NOT NULL,
    worker_id     TEXT NOT NULL DEFAULT '',
    synced        INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE(job_id, attempt)
);
CREATE INDEX IF NOT EXISTS idx_job_usage_synced ON job_usage(synced) WHERE synced = 0;
CREATE INDEX IF NOT EXISTS idx_job_usage_started ON job_usage(started_at);
`

// timeLayout sorts lexically, so started_at can be range-compared as text.
const timeLayout = "2006-01-02T15:04:05.000Z"

const recordColumns = `id, job_id, attempt, job_type, owner, source, status,
       error_kind, error_message, cache_hit, provider,
       started_at, completed_at, duration_ms, worker_id, synced`

// Store provides SQLite-backed storage for usage records.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the usage database at dbPath and runs migrations.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}

	// WAL lets the syncer read while the runner writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Insert stores a usage record. A second record for the same job attempt is
// silently ignored.
func (s *Store) Insert(r UsageRecord) error {
	if r.Attempt == 0 {
		r.Attempt = 1
	}
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO job_usage (
			job_id, attempt, job_type, owner, source, status,
			error_kind, error_message, cache_hit, provider,
			started_at, completed_at, duration_ms, worker_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.JobID, r.Attempt, r.JobType, r.Owner, r.Source, r.Status,
		r.ErrorKind, r.ErrorMessage, r.CacheHit, r.Provider,
		r.StartedAt.UTC().Format(timeLayout), r.CompletedAt.UTC().Format(timeLayout), r.DurationMs,
		r.WorkerID,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// QueryUnsynced returns up to limit records that have not been synced.
func (s *Store) QueryUnsynced(limit int) ([]UsageRecord, error) {
	rows, err := s.db.Query(`SELECT `+recordColumns+`
		FROM job_usage
		WHERE synced = 0
		ORDER BY id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsynced: %w", err)
	}
	return scanRecords(rows)
}

// Recent returns the newest records first.
func (s *Store) Recent(limit int) ([]UsageRecord, error) {
	rows, err := s.db.Query(`SELECT `+recordColumns+`
		FROM job_usage
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]UsageRecord, error) {
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var r UsageRecord
		var startedAt, completedAt string
		if err := rows.Scan(
			&r.ID, &r.JobID, &r.Attempt, &r.JobType, &r.Owner, &r.Source, &r.Status,
			&r.ErrorKind, &r.ErrorMessage, &r.CacheHit, &r.Provider,
			&startedAt, &completedAt, &r.DurationMs, &r.WorkerID, &r.Synced,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if t, err := time.Parse(timeLayout, startedAt); err == nil {
			r.StartedAt = t
		}
		if t, err := time.Parse(timeLayout, completedAt); err == nil {
			r.CompletedAt = t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// TypeSummary aggregates the ledger for one job type.
type TypeSummary struct {
	JobType       string
	Total         int64
	Succeeded     int64
	Failed        int64
	CacheHits     int64
	AvgDurationMs float64
}

// Summarize aggregates records started at or after since, per job type.
func (s *Store) Summarize(since time.Time) ([]TypeSummary, error) {
	rows, err := s.db.Query(`
		SELECT job_type,
		       COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status != 'success' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(cache_hit), 0),
		       COALESCE(AVG(duration_ms), 0)
		FROM job_usage
		WHERE started_at >= ?
		GROUP BY job_type
		ORDER BY job_type`, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("summarize usage: %w", err)
	}
	defer rows.Close()

	var out []TypeSummary
	for rows.Next() {
		var ts TypeSummary
		if err := rows.Scan(&ts.JobType, &ts.Total, &ts.Succeeded, &ts.Failed, &ts.CacheHits, &ts.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// MarkSynced sets the synced flag to 1 for the given record IDs.
func (s *Store) MarkSynced(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("UPDATE job_usage SET synced = 1 WHERE id = ?")
	if err != nil {
		return fmt.Errorf("prepare update: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return fmt.Errorf("mark synced id=%d: %w", id, err)
		}
	}

	return tx.Commit()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Package usage keeps a local SQLite ledger of processed jobs (one row per
// attempt) and periodically forwards it to an external system.
package usage

import "time"

// UsageRecord captures the outcome of a single job attempt.
type UsageRecord struct {
	// Database ID (set after insert)
	ID int64 `json:"-"`

	// Job identification
	JobID   string `json:"job_id"`
	JobType string `json:"job_type"`
	Owner   string `json:"owner,omitempty"`
	Source  string `json:"source"`

	// Attempt is the delivery count of this run (1 for the first delivery)
	Attempt int `json:"attempt"`

	// Outcome
	Status       string `json:"status"` // "success", "failure", "retry"
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CacheHit     bool   `json:"cache_hit"`
	Provider     string `json:"provider,omitempty"` // provider that produced the result, if any

	// Timing
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`

	WorkerID string `json:"worker_id"`

	// Sync status
	Synced bool `json:"-"`
}

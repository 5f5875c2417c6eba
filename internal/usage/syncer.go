package usage

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aceteam-ai/aiworker/internal/logging"
)

const (
	defaultSyncInterval = 60 * time.Second
	defaultBatchSize    = 50
	defaultMaxBatches   = 20
	finalFlushTimeout   = 5 * time.Second
)

// PublishFunc forwards one batch of ledger records. A batch is marked synced
// only when it returns nil.
type PublishFunc func(ctx context.Context, records []UsageRecord) error

// BatchStats summarizes a published batch.
type BatchStats struct {
	Records   int
	CacheHits int

	// ByType counts records per job type, then per attempt status.
	ByType map[string]map[string]int

	// ErrorKinds counts failed and retried attempts by error kind.
	ErrorKinds map[string]int
}

// SummarizeBatch builds the stats for records.
func SummarizeBatch(records []UsageRecord) BatchStats {
	st := BatchStats{
		Records:    len(records),
		ByType:     make(map[string]map[string]int),
		ErrorKinds: make(map[string]int),
	}
	for _, r := range records {
		if r.CacheHit {
			st.CacheHits++
		}
		byStatus := st.ByType[r.JobType]
		if byStatus == nil {
			byStatus = make(map[string]int)
			st.ByType[r.JobType] = byStatus
		}
		byStatus[r.Status]++
		if r.ErrorKind != "" {
			st.ErrorKinds[r.ErrorKind]++
		}
	}
	return st
}

// SyncerConfig holds configuration for the background syncer.
type SyncerConfig struct {
	Store     *Store
	PublishFn PublishFunc

	// Interval between sync cycles (default: 60s)
	Interval time.Duration

	// BatchSize is the max records per publish call (default: 50)
	BatchSize int

	// MaxBatches bounds how many batches one cycle drains (default: 20)
	MaxBatches int

	// OnBatch, if set, is called after each batch is published and marked.
	OnBatch func(BatchStats)

	Logger zerolog.Logger
}

// Syncer forwards unsynced ledger records. Each cycle drains the backlog in
// batches, so records piled up during a publisher outage catch up on the
// first cycle after it recovers.
type Syncer struct {
	cfg SyncerConfig
}

// NewSyncer creates a new usage syncer.
func NewSyncer(cfg SyncerConfig) *Syncer {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSyncInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = defaultMaxBatches
	}
	return &Syncer{cfg: cfg}
}

// Start runs sync cycles until ctx is cancelled, then makes one last bounded
// attempt to flush what is left. It always returns nil.
func (s *Syncer) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
			n := s.Sync(flushCtx)
			cancel()
			if n > 0 {
				s.log("info", "usage sync: flushed %d records on shutdown", n)
			}
			return nil
		case <-ticker.C:
			s.Sync(ctx)
		}
	}
}

// Sync runs one cycle and returns the number of records marked synced. It
// stops at the first short batch, the first failure or MaxBatches.
func (s *Syncer) Sync(ctx context.Context) int {
	synced := 0
	for i := 0; i < s.cfg.MaxBatches && ctx.Err() == nil; i++ {
		n, ok := s.syncBatch(ctx)
		synced += n
		if !ok || n < s.cfg.BatchSize {
			break
		}
	}
	return synced
}

func (s *Syncer) syncBatch(ctx context.Context) (int, bool) {
	records, err := s.cfg.Store.QueryUnsynced(s.cfg.BatchSize)
	if err != nil {
		s.log("warning", "usage sync: query failed: %v", err)
		return 0, false
	}
	if len(records) == 0 {
		return 0, true
	}

	if err := s.cfg.PublishFn(ctx, records); err != nil {
		s.log("warning", "usage sync: publish failed (%d records): %v", len(records), err)
		return 0, false
	}

	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	if err := s.cfg.Store.MarkSynced(ids); err != nil {
		// Published but unmarked; the next cycle republishes them.
		s.log("warning", "usage sync: mark synced failed: %v", err)
		return 0, false
	}

	st := SummarizeBatch(records)
	s.cfg.Logger.Debug().Int("records", st.Records).Int("cache_hits", st.CacheHits).
		Interface("error_kinds", st.ErrorKinds).Msg("usage batch published")
	if s.cfg.OnBatch != nil {
		s.cfg.OnBatch(st)
	}
	return len(records), true
}

func (s *Syncer) log(level, format string, args ...any) {
	logging.Logf(s.cfg.Logger, level, format, args...)
}

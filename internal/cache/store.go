package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one cached job result. Entries are replaced wholesale on write.
type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is the persistence contract behind the Manager. Get reports found=false
// for missing or expired keys. A ttl of 0 means the entry does not expire.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
	Close() error
}

// Package cache provides the result cache shared by all workers. Lookups are
// advisory: concurrent misses for the same key may both compute and the last
// writer wins.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Manager derives keys and reads/writes entries through a Store.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewManager creates a Manager. ttl 0 keeps entries until they are replaced.
func NewManager(store Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl, now: time.Now}
}

// Get looks up the cached result for jobType and input.
func (m *Manager) Get(ctx context.Context, jobType string, input map[string]any) (*Entry, bool, error) {
	key, err := Key(jobType, input)
	if err != nil {
		return nil, false, err
	}
	entry, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return entry, ok, nil
}

// Set stores value as the result for jobType and input, replacing any
// existing entry.
func (m *Manager) Set(ctx context.Context, jobType string, input map[string]any, value any) error {
	key, err := Key(jobType, input)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	entry := &Entry{Key: key, Value: raw, CreatedAt: m.now().UTC()}
	if err := m.store.Put(ctx, key, entry, m.ttl); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

// TTL returns the configured entry lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Close closes the underlying store.
func (m *Manager) Close() error { return m.store.Close() }

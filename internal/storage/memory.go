package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local backend used when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	samples map[string][]Sample
	alerts  []AlertRecord
	nextID  int64
}

// NewMemoryStore returns an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{samples: make(map[string][]Sample)}
}

// Close is a no-op.
func (m *MemoryStore) Close() {}

// RecordSample appends a sample.
func (m *MemoryStore) RecordSample(_ context.Context, sample Sample) error {
	key := NormalizePoolID(sample.PoolID)
	sample.PoolID = key

	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[key] = append(m.samples[key], sample)
	return nil
}

// SamplesBetween lists samples with from <= ts <= to.
func (m *MemoryStore) SamplesBetween(_ context.Context, poolID string, from, to time.Time) ([]Sample, error) {
	fromMs, toMs := toMillis(from), toMillis(to)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Sample, 0)
	for _, s := range m.samples[NormalizePoolID(poolID)] {
		ts := toMillis(s.Timestamp)
		if ts >= fromMs && ts <= toMs {
			out = append(out, s)
		}
	}
	return out, nil
}

// RecentSamples lists the newest samples, newest first.
func (m *MemoryStore) RecentSamples(_ context.Context, poolID string, limit int) ([]Sample, error) {
	m.mu.RLock()
	all := append([]Sample(nil), m.samples[NormalizePoolID(poolID)]...)
	m.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// PruneBefore drops samples strictly older than olderThan.
func (m *MemoryStore) PruneBefore(_ context.Context, poolID string, olderThan time.Time) error {
	key := NormalizePoolID(poolID)
	cutoff := toMillis(olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.samples[key][:0]
	for _, s := range m.samples[key] {
		if toMillis(s.Timestamp) >= cutoff {
			kept = append(kept, s)
		}
	}
	m.samples[key] = kept
	return nil
}

// InsertAlert records an alert and assigns an id.
func (m *MemoryStore) InsertAlert(_ context.Context, alert AlertRecord) (AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	alert.ID = m.nextID
	alert.PoolID = NormalizePoolID(alert.PoolID)
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

// ListRecentAlerts returns the newest alerts first.
func (m *MemoryStore) ListRecentAlerts(_ context.Context, limit int) ([]AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AlertRecord, 0, len(m.alerts))
	for i := len(m.alerts) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.alerts[i])
	}
	return out, nil
}

var _ Backend = (*MemoryStore)(nil)

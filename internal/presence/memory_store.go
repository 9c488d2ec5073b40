package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps presence entries in a map keyed by visitor.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Heartbeat(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stored, ok := m.entries[e.VisitorID]; ok && !shouldReplace(stored, e) {
		return nil
	}
	m.entries[e.VisitorID] = e
	return nil
}

func (m *MemoryStore) ListActive(_ context.Context, websiteID string, nowMs int64, window time.Duration) ([]Entry, error) {
	windowMs := windowMillis(window)

	m.mu.RLock()
	var active []Entry
	for _, e := range m.entries {
		if e.WebsiteID == websiteID && isActive(e, nowMs, windowMs) {
			active = append(active, e)
		}
	}
	m.mu.RUnlock()

	sort.Slice(active, func(i, j int) bool {
		if active[i].LastSeenMs != active[j].LastSeenMs {
			return active[i].LastSeenMs > active[j].LastSeenMs
		}
		return active[i].VisitorID < active[j].VisitorID
	})
	return active, nil
}

func (m *MemoryStore) DeleteByWebsite(_ context.Context, websiteID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, e := range m.entries {
		if e.WebsiteID == websiteID {
			delete(m.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

var _ Tracker = (*MemoryStore)(nil)

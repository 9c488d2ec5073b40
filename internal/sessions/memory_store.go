package sessions

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process. Reads return copies so callers never
// observe a row while a writer mutates it.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   []Session
	nextID uint
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.ID = m.nextID
	m.nextID++
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.rows = append(m.rows, cloneSession(*s))
	return nil
}

func (m *MemoryStore) Close(_ context.Context, visitorID, websiteID string, exit ExitFields) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.rows) - 1; i >= 0; i-- {
		row := &m.rows[i]
		if row.VisitorID != visitorID || row.WebsiteID != websiteID {
			continue
		}
		if !row.IsOpen() {
			if sameExit(row, exit) {
				return false, nil
			}
			continue
		}
		exitTime := exit.ExitTimeMs
		row.ExitTimeMs = &exitTime
		row.TotalActiveTimeMs = exit.TotalActiveTimeMs
		row.ExitURL = nil
		if exit.ExitURL != "" {
			exitURL := exit.ExitURL
			row.ExitURL = &exitURL
		}
		return true, nil
	}
	return false, nil
}

// sameExit reports whether a closed row already carries this exit.
func sameExit(row *Session, exit ExitFields) bool {
	if row.ExitTimeMs == nil || *row.ExitTimeMs != exit.ExitTimeMs {
		return false
	}
	if row.ExitURL == nil {
		return exit.ExitURL == ""
	}
	return *row.ExitURL == exit.ExitURL
}

func (m *MemoryStore) QueryByWebsite(_ context.Context, websiteID string, r *Range) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Session
	for _, row := range m.rows {
		if row.WebsiteID == websiteID && r.Contains(row.EntryTimeMs) {
			out = append(out, cloneSession(row))
		}
	}
	return out, nil
}

func (m *MemoryStore) RecentIPs(_ context.Context, websiteID string, limit int) ([]RecentIP, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []Session
	for i := len(m.rows) - 1; i >= 0 && len(rows) < limit; i-- {
		if m.rows[i].WebsiteID == websiteID {
			rows = append(rows, m.rows[i])
		}
	}
	return uniqueIPs(rows), nil
}

func (m *MemoryStore) DeleteByWebsite(_ context.Context, websiteID string) (int64, error) {
	return m.deleteWhere(func(s *Session) bool { return s.WebsiteID == websiteID }), nil
}

func (m *MemoryStore) DeleteOlderThan(_ context.Context, cutoffMs int64) (int64, error) {
	return m.deleteWhere(func(s *Session) bool { return s.EntryMillis() < cutoffMs }), nil
}

func (m *MemoryStore) deleteWhere(match func(*Session) bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.rows[:0]
	var deleted int64
	for i := range m.rows {
		if match(&m.rows[i]) {
			deleted++
			continue
		}
		kept = append(kept, m.rows[i])
	}
	m.rows = kept
	return deleted
}

func cloneSession(s Session) Session {
	if s.ExitTimeMs != nil {
		v := *s.ExitTimeMs
		s.ExitTimeMs = &v
	}
	if s.ExitURL != nil {
		v := *s.ExitURL
		s.ExitURL = &v
	}
	return s
}

var _ Store = (*MemoryStore)(nil)

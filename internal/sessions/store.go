// Package sessions stores per-visit session rows.
//
// Two implementations share one contract: GormStore persists to SQLite through
// cartridge's write helper and MemoryStore keeps rows in process. Both compare
// entry times after canonicalizing them with events.ToMillis, so rows stored in
// seconds and rows stored in milliseconds answer range queries identically.
package sessions

import (
	"context"
)

// Store is the session table used by ingestion and aggregation.
type Store interface {
	// Create always inserts; a visitor may own many sessions.
	Create(ctx context.Context, s *Session) error
	// Close writes exit fields onto the newest still-open session of the
	// visitor on that website. It reports false, without error, when there is none.
	Close(ctx context.Context, visitorID, websiteID string, exit ExitFields) (bool, error)
	// QueryByWebsite returns sessions in insertion order. A nil range returns all.
	QueryByWebsite(ctx context.Context, websiteID string, r *Range) ([]Session, error)
	// RecentIPs returns the distinct IPs among the last limit sessions, newest first.
	RecentIPs(ctx context.Context, websiteID string, limit int) ([]RecentIP, error)
	DeleteByWebsite(ctx context.Context, websiteID string) (int64, error)
	// DeleteOlderThan removes sessions that entered before cutoffMs.
	DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error)
}

// RecentIP is the location snapshot of a recent visit.
type RecentIP struct {
	IP          string `json:"ip"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	Region      string `json:"region"`
	City        string `json:"city"`
	EntryTimeMs int64  `json:"entryTime"`
}

// uniqueIPs keeps the first row per IP, skipping rows without one.
func uniqueIPs(rows []Session) []RecentIP {
	seen := make(map[string]struct{}, len(rows))
	out := make([]RecentIP, 0, len(rows))
	for _, row := range rows {
		if row.IP == "" {
			continue
		}
		if _, ok := seen[row.IP]; ok {
			continue
		}
		seen[row.IP] = struct{}{}
		out = append(out, RecentIP{
			IP:          row.IP,
			Country:     row.Country,
			CountryCode: row.CountryCode,
			Region:      row.Region,
			City:        row.City,
			EntryTimeMs: row.EntryMillis(),
		})
	}
	return out
}

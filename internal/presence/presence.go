// Package presence answers "who is on the site right now" from visitor heartbeats.
package presence

import (
	"context"
	"time"
)

// DefaultWindow is how long a heartbeat keeps a visitor live.
const DefaultWindow = 30 * time.Second

// Entry is the last known presence of one visitor. There is at most one per visitor.
type Entry struct {
	VisitorID   string `gorm:"primaryKey" json:"visitorId"`
	WebsiteID   string `gorm:"not null;index" json:"websiteId"`
	LastSeenMs  int64  `gorm:"not null" json:"last_seen"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	Region      string `json:"region"`
	City        string `json:"city"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Device      string `json:"device"`
	OS          string `gorm:"column:os" json:"os"`
	Browser     string `json:"browser"`
}

// TableName pins the table name.
func (Entry) TableName() string {
	return "presence_entries"
}

// Tracker records heartbeats and lists live visitors. Stale entries are never
// evicted; they simply drop out of ListActive.
type Tracker interface {
	// Heartbeat upserts the visitor's entry. Within the same website the stored
	// last-seen only moves forward; a heartbeat for another website overwrites it.
	Heartbeat(ctx context.Context, e Entry) error
	// ListActive returns entries of the website with nowMs-lastSeen < window.
	ListActive(ctx context.Context, websiteID string, nowMs int64, window time.Duration) ([]Entry, error)
	DeleteByWebsite(ctx context.Context, websiteID string) (int64, error)
}

// shouldReplace decides whether an incoming heartbeat wins over the stored one.
func shouldReplace(stored, incoming Entry) bool {
	if stored.WebsiteID != incoming.WebsiteID {
		return true
	}
	return incoming.LastSeenMs >= stored.LastSeenMs
}

func windowMillis(window time.Duration) int64 {
	if window <= 0 {
		window = DefaultWindow
	}
	return window.Milliseconds()
}

func isActive(e Entry, nowMs, windowMs int64) bool {
	return nowMs-e.LastSeenMs < windowMs
}

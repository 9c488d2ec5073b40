package sessions

import (
	"time"

	"webtrack/internal/events"
)

// Session is one visitor visit, created on entry and closed at most once on exit.
type Session struct {
	ID                uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	WebsiteID         string    `gorm:"not null;index:idx_sessions_website_visitor,priority:1" json:"websiteId"`
	VisitorID         string    `gorm:"not null;index:idx_sessions_website_visitor,priority:2" json:"visitorId"`
	Domain            string    `json:"domain"`
	URL               string    `json:"url"`
	Referrer          string    `json:"referrer"`
	EntryTimeMs       int64     `gorm:"not null;index" json:"entryTime"`
	ExitTimeMs        *int64    `json:"exitTime,omitempty"`
	TotalActiveTimeMs int64     `gorm:"not null;default:0" json:"totalActiveTime"`
	ExitURL           *string   `json:"exitUrl,omitempty"`
	URLParams         string    `json:"urlParams"`
	RefParams         string    `json:"refParams"`
	UTMSource         string    `json:"utmSource"`
	UTMMedium         string    `json:"utmMedium"`
	UTMCampaign       string    `json:"utmCampaign"`
	Device            string    `json:"device"`
	OS                string    `gorm:"column:os" json:"os"`
	Browser           string    `json:"browser"`
	IP                string    `gorm:"column:ip" json:"ip"`
	Country           string    `json:"country"`
	CountryCode       string    `json:"countryCode"`
	Region            string    `json:"region"`
	City              string    `json:"city"`
	Lat               string    `json:"lat"`
	Lon               string    `json:"lon"`
	CreatedAt         time.Time `json:"createdAt"`
}

// TableName pins the table name independently of the struct name.
func (Session) TableName() string {
	return "sessions"
}

// IsOpen reports whether no exit has been recorded yet.
func (s *Session) IsOpen() bool {
	return s.ExitTimeMs == nil
}

// EntryMillis returns the entry time canonicalized to milliseconds.
func (s *Session) EntryMillis() int64 {
	return events.ToMillis(s.EntryTimeMs)
}

// ExitFields are the values an exit event writes onto a session.
type ExitFields struct {
	ExitTimeMs        int64
	TotalActiveTimeMs int64
	ExitURL           string
}

// Range is an inclusive window over canonicalized entry times, in milliseconds.
type Range struct {
	FromMs int64
	ToMs   int64
}

// Contains reports whether the entry timestamp, of either unit, falls inside the range.
func (r *Range) Contains(entryTime int64) bool {
	if r == nil {
		return true
	}
	ms := events.ToMillis(entryTime)
	return ms >= r.FromMs && ms <= r.ToMs
}

// FromEvent builds a new session row from a normalized entry event.
func FromEvent(ev *events.TrackedEvent) *Session {
	return &Session{
		WebsiteID:   ev.WebsiteID,
		VisitorID:   ev.VisitorID,
		Domain:      ev.Domain,
		URL:         ev.URL,
		Referrer:    ev.Referrer,
		EntryTimeMs: ev.EntryTimeMs,
		URLParams:   ev.URLParams,
		RefParams:   ev.RefParams,
		UTMSource:   ev.UTMSource,
		UTMMedium:   ev.UTMMedium,
		UTMCampaign: ev.UTMCampaign,
	}
}

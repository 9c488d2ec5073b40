package events

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// EventType represents the type of a tracking event.
type EventType string

const (
	EventTypeEntry EventType = "entry"
	EventTypeExit  EventType = "exit"
	EventTypePing  EventType = "ping"
)

// Constants for unknown or default values
const (
	Unknown         = "Unknown"
	DirectReferrer  = "Direct"
	UnknownCountry  = "Unknown Country"
	UnknownRegion   = "Unknown Region"
	UnknownCity     = "Unknown City"
	UnknownLocation = "0"
)

// RawValue holds a JSON scalar that may arrive either as a string or as a number.
// The collector sends epoch values both ways.
type RawValue string

// UnmarshalJSON accepts strings, numbers and null.
func (v *RawValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = RawValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = RawValue(n.String())
	return nil
}

// String returns the raw text.
func (v RawValue) String() string {
	return string(v)
}

// Int64 parses the value as an integer, truncating fractions.
func (v RawValue) Int64() (int64, bool) {
	if v == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(string(v), 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}

// RawEvent is the payload posted by the in-browser collector. Entry, exit and
// presence pings share one shape; fields irrelevant to a type are ignored.
type RawEvent struct {
	Type            EventType `json:"type"`
	WebsiteID       string    `json:"websiteId"`
	Domain          string    `json:"domain"`
	VisitorID       string    `json:"visitorId"`
	URL             string    `json:"url"`
	Referrer        string    `json:"referrer"`
	URLParams       string    `json:"urlParams"`
	RefParams       string    `json:"refParams"`
	UTMSource       string    `json:"utmSource"`
	UTMMedium       string    `json:"utmMedium"`
	UTMCampaign     string    `json:"utmCampaign"`
	EntryTime       RawValue  `json:"entryTime"`
	ExitTime        RawValue  `json:"exitTime"`
	TotalActiveTime RawValue  `json:"totalActiveTime"`
	ExitURL         string    `json:"exitUrl"`
	LastSeen        RawValue  `json:"last_seen"`
}

// TrackedEvent is a validated, canonical event. All times are Unix milliseconds.
type TrackedEvent struct {
	Type        EventType
	WebsiteID   string
	Domain      string
	VisitorID   string
	URL         string
	Referrer    string
	URLParams   string
	RefParams   string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string

	// Entry
	EntryTimeMs int64

	// Exit
	ExitTimeMs        int64
	TotalActiveTimeMs int64
	ExitURL           string

	// OccurredAtMs is the event's own timestamp, used as the presence last-seen value.
	OccurredAtMs int64
}

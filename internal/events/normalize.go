package events

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation is matched by every *ValidationError through errors.Is.
var ErrValidation = errors.New("invalid event")

// ValidationError reports why a single raw event was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

// Is lets callers use errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Clock returns the current time in Unix milliseconds.
type Clock func() int64

// SystemClock reads the wall clock.
func SystemClock() int64 {
	return time.Now().UnixMilli()
}

// Normalizer validates raw collector events and canonicalizes their timestamps.
type Normalizer struct {
	now Clock
}

// NewNormalizer creates a Normalizer. A nil clock falls back to SystemClock.
func NewNormalizer(now Clock) *Normalizer {
	if now == nil {
		now = SystemClock
	}
	return &Normalizer{now: now}
}

// Normalize validates raw against the wall clock.
func Normalize(raw RawEvent) (*TrackedEvent, error) {
	return NewNormalizer(nil).Normalize(raw)
}

// Normalize turns one raw event into a TrackedEvent. It has no side effects.
func (n *Normalizer) Normalize(raw RawEvent) (*TrackedEvent, error) {
	visitorID := strings.TrimSpace(raw.VisitorID)
	if visitorID == "" {
		return nil, newValidationError("visitorId", "is required")
	}
	websiteID := strings.TrimSpace(raw.WebsiteID)
	if websiteID == "" {
		return nil, newValidationError("websiteId", "is required")
	}

	ev := &TrackedEvent{
		Type:        raw.Type,
		WebsiteID:   websiteID,
		Domain:      strings.TrimSpace(raw.Domain),
		VisitorID:   visitorID,
		URL:         raw.URL,
		Referrer:    raw.Referrer,
		URLParams:   raw.URLParams,
		RefParams:   raw.RefParams,
		UTMSource:   raw.UTMSource,
		UTMMedium:   raw.UTMMedium,
		UTMCampaign: raw.UTMCampaign,
	}

	switch raw.Type {
	case EventTypeEntry:
		if raw.EntryTime == "" {
			return nil, newValidationError("entryTime", "is required")
		}
		ms, err := positiveMillis(raw.EntryTime)
		if err != nil {
			return nil, newValidationError("entryTime", err.Error())
		}
		ev.EntryTimeMs = ms
		ev.OccurredAtMs = ms
		if ev.Referrer == "" {
			ev.Referrer = DirectReferrer
		}

	case EventTypeExit:
		ev.ExitTimeMs = n.now()
		if raw.ExitTime != "" {
			ms, err := positiveMillis(raw.ExitTime)
			if err != nil {
				return nil, newValidationError("exitTime", err.Error())
			}
			ev.ExitTimeMs = ms
		}
		if raw.TotalActiveTime != "" {
			active, ok := raw.TotalActiveTime.Int64()
			if !ok {
				return nil, newValidationError("totalActiveTime", "must be numeric")
			}
			// Durations are already milliseconds; malformed negatives count as no activity.
			if active > 0 {
				ev.TotalActiveTimeMs = active
			}
		}
		ev.ExitURL = raw.ExitURL
		ev.OccurredAtMs = ev.ExitTimeMs

	case EventTypePing:
		ev.OccurredAtMs = n.now()
		if raw.LastSeen != "" {
			ms, err := positiveMillis(raw.LastSeen)
			if err != nil {
				return nil, newValidationError("last_seen", err.Error())
			}
			ev.OccurredAtMs = ms
		}

	case "":
		return nil, newValidationError("type", "is required")

	default:
		return nil, newValidationError("type", fmt.Sprintf("%q is not recognized", raw.Type))
	}

	return ev, nil
}

func positiveMillis(v RawValue) (int64, error) {
	ms, err := ParseTimestamp(v.String())
	if err != nil {
		return 0, fmt.Errorf("must be a numeric timestamp")
	}
	if ms <= 0 {
		return 0, fmt.Errorf("must be a positive timestamp")
	}
	return ms, nil
}

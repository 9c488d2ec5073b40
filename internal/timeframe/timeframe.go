package timeframe

import (
	"fmt"
	"strings"
	"time"
)

// CivilDateLayout is the civil date format used by bucket keys and query parameters.
const CivilDateLayout = "2006-01-02"

type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

// DefaultTimeProvider reads the system clock.
type DefaultTimeProvider struct{}

func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// LoadLocation resolves an IANA zone name. An empty or unknown name yields UTC
// together with an error, so callers can warn and keep going.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, fmt.Errorf("empty timezone")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, fmt.Errorf("error loading timezone %q: %w", name, err)
	}
	return loc, nil
}

// IsValidTimeZone reports whether name is a loadable, non-empty IANA zone.
func IsValidTimeZone(name string) bool {
	_, err := LoadLocation(name)
	return err == nil
}

// CivilHour is an instant as seen on a wall clock in a specific zone.
type CivilHour struct {
	Date      string
	Hour      int
	HourLabel string
}

// CivilHourOf converts a Unix millisecond instant to its civil date and hour in loc.
func CivilHourOf(unixMs int64, loc *time.Location) CivilHour {
	if loc == nil {
		loc = time.UTC
	}
	local := time.UnixMilli(unixMs).In(loc)
	return CivilHour{
		Date:      local.Format(CivilDateLayout),
		Hour:      local.Hour(),
		HourLabel: HourLabel(local.Hour()),
	}
}

// HourLabel renders a 0-23 hour on a 12-hour clock, e.g. "12 AM" or "3 PM".
func HourLabel(hour int) string {
	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d %s", h, suffix)
}

// DayLabel renders a civil date such as "2024-03-15" as "Fri, Mar 15".
// Dates that do not parse are returned unchanged.
func DayLabel(date string) string {
	t, err := time.Parse(CivilDateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("Mon, Jan 2")
}

// StartOfDay returns midnight of the civil date in loc.
func StartOfDay(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// EndOfDay returns the last millisecond of the civil date in loc. It is computed
// from the next midnight so days shortened or lengthened by DST stay correct.
func EndOfDay(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day+1, 0, 0, 0, 0, loc).Add(-time.Millisecond)
}

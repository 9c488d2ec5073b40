package timeframe

import (
	"fmt"
	"time"
)

// TimeWindowBuffer extends open-ended ranges past "now" so events recorded by
// clients with slightly fast clocks are still included.
const TimeWindowBuffer = 5 * time.Minute

type DateRangeParserParams struct {
	FromDate string
	ToDate   string
	Tz       string
}

// DateRange is an inclusive interval in Unix milliseconds.
type DateRange struct {
	FromMs int64
	ToMs   int64
}

type DateRangeParser struct {
	timeProvider TimeProvider
}

func NewDateRangeParser(timeProvider ...TimeProvider) *DateRangeParser {
	var provider TimeProvider = &DefaultTimeProvider{}
	if len(timeProvider) > 0 && timeProvider[0] != nil {
		provider = timeProvider[0]
	}

	return &DateRangeParser{
		timeProvider: provider,
	}
}

// ParseDateRange turns optional civil dates into a millisecond range. Both dates
// are read in params.Tz, falling back to UTC, and "to" covers its whole day.
// With neither date set the result is nil, meaning all time.
func (p *DateRangeParser) ParseDateRange(params DateRangeParserParams) (*DateRange, error) {
	if params.FromDate == "" && params.ToDate == "" {
		return nil, nil
	}

	loc, _ := LoadLocation(params.Tz)

	var from, to time.Time
	if params.FromDate == "" {
		from = time.UnixMilli(0).In(loc)
	} else {
		date, err := time.ParseInLocation(CivilDateLayout, params.FromDate, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid 'from' date: %w", err)
		}
		from = StartOfDay(date.Year(), date.Month(), date.Day(), loc)
	}

	if params.ToDate == "" {
		to = p.timeProvider.Now(loc).Add(TimeWindowBuffer)
	} else {
		date, err := time.ParseInLocation(CivilDateLayout, params.ToDate, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid 'to' date: %w", err)
		}
		to = EndOfDay(date.Year(), date.Month(), date.Day(), loc)
	}

	if from.After(to) {
		return nil, fmt.Errorf("'from' date must not be after 'to' date")
	}

	return &DateRange{FromMs: from.UnixMilli(), ToMs: to.UnixMilli()}, nil
}

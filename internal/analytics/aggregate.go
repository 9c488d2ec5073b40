// Package analytics computes dashboard statistics from stored sessions.
//
// Everything is recomputed per query from the sessions in scope: visitor and
// session totals, hourly and daily buckets on the website's civil calendar,
// and categorical breakdowns kept in first-seen order.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"webtrack/internal/pkg/referrers"
	"webtrack/internal/sessions"
	"webtrack/internal/timeframe"
)

// Aggregator reads sessions from a store and summarizes them.
type Aggregator struct {
	store       sessions.Store
	logger      *slog.Logger
	warnedZones sync.Map
}

func NewAggregator(store sessions.Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

// Aggregate summarizes a website's sessions within r (nil means all time),
// bucketed in timeZone. An unusable zone falls back to UTC.
func (a *Aggregator) Aggregate(ctx context.Context, websiteID string, r *sessions.Range, timeZone string) (*Result, error) {
	loc, err := timeframe.LoadLocation(timeZone)
	if err != nil {
		a.warnTimeZone(websiteID, timeZone, err)
	}

	rows, err := a.store.QueryByWebsite(ctx, websiteID, r)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions for website %s: %w", websiteID, err)
	}

	return Summarize(rows, loc), nil
}

// warnTimeZone logs a bad zone once per zone name.
func (a *Aggregator) warnTimeZone(websiteID, timeZone string, err error) {
	if _, seen := a.warnedZones.LoadOrStore(timeZone, struct{}{}); seen {
		return
	}
	a.logger.Warn("Invalid website time zone, using UTC",
		slog.String("website_id", websiteID),
		slog.String("time_zone", timeZone),
		slog.Any("error", err))
}

type hourKey struct {
	date string
	hour int
}

// Summarize is the pure core of Aggregate. Rows may hold entry times in
// seconds or milliseconds.
func Summarize(rows []sessions.Session, loc *time.Location) *Result {
	if loc == nil {
		loc = time.UTC
	}
	result := EmptyResult()

	hours := make(map[hourKey]*HourBucket)
	days := make(map[string]int)
	countries := NewOrderedCounter()
	regions := NewOrderedCounter()
	cities := NewOrderedCounter()
	devices := NewOrderedCounter()
	oss := NewOrderedCounter()
	browsers := NewOrderedCounter()
	refs := NewOrderedCounter()
	visitors := make(map[string]struct{})

	for i := range rows {
		s := &rows[i]

		civil := timeframe.CivilHourOf(s.EntryMillis(), loc)
		key := hourKey{date: civil.Date, hour: civil.Hour}
		bucket, ok := hours[key]
		if !ok {
			bucket = &HourBucket{Date: civil.Date, Hour: civil.Hour, HourLabel: civil.HourLabel}
			hours[key] = bucket
		}
		bucket.Visitors++
		days[civil.Date]++

		if s.Country != "" {
			countries.Add(s.Country, s.CountryCode)
		}
		if s.Region != "" {
			regions.Add(s.Region, s.CountryCode)
		}
		if s.City != "" {
			cities.Add(s.City, s.CountryCode)
		}
		if name := deviceLabel(s.Device); name != "" {
			devices.Add(name, "")
		}
		if name := osLabel(s.OS); name != "" {
			oss.Add(name, "")
		}
		if name := browserLabel(s.Browser); name != "" {
			browsers.Add(name, "")
		}
		refs.Add(referrers.FromURL(s.Referrer), "")

		// Zero and negative durations come from broken clients and are left out.
		if s.TotalActiveTimeMs > 0 {
			result.TotalActiveTime += s.TotalActiveTimeMs
		}
		result.TotalSessions++
		if s.VisitorID != "" {
			visitors[s.VisitorID] = struct{}{}
		}
	}

	result.TotalVisitors = len(visitors)
	if result.TotalSessions > 0 {
		result.AvgActiveTime = result.TotalActiveTime / int64(result.TotalSessions)
	}

	for _, bucket := range hours {
		result.HourlyVisitors = append(result.HourlyVisitors, *bucket)
	}
	sort.Slice(result.HourlyVisitors, func(i, j int) bool {
		a, b := result.HourlyVisitors[i], result.HourlyVisitors[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.Hour < b.Hour
	})

	for date, count := range days {
		result.DailyVisitors = append(result.DailyVisitors, DayBucket{
			Date:     date,
			DayLabel: timeframe.DayLabel(date),
			Visitors: count,
		})
	}
	sort.Slice(result.DailyVisitors, func(i, j int) bool {
		return result.DailyVisitors[i].Date < result.DailyVisitors[j].Date
	})

	result.Countries = geoMetrics(countries, "/country.png")
	result.Regions = geoMetrics(regions, "/region.png")
	result.Cities = geoMetrics(cities, "/city.png")
	result.Devices = iconMetrics(devices)
	result.OS = iconMetrics(oss)
	result.Browsers = iconMetrics(browsers)
	result.Referrers = plainMetrics(refs)

	return result
}

func geoMetrics(c *OrderedCounter, fallback string) []NamedMetric {
	out := make([]NamedMetric, 0, c.Len())
	c.Each(func(name string, count int, code string) {
		out = append(out, NamedMetric{Name: name, Visitors: count, Image: geoImage(code, fallback)})
	})
	return out
}

func iconMetrics(c *OrderedCounter) []NamedMetric {
	out := make([]NamedMetric, 0, c.Len())
	c.Each(func(name string, count int, _ string) {
		out = append(out, NamedMetric{Name: name, Visitors: count, Image: iconImage(name)})
	})
	return out
}

func plainMetrics(c *OrderedCounter) []NamedMetric {
	out := make([]NamedMetric, 0, c.Len())
	c.Each(func(name string, count int, _ string) {
		out = append(out, NamedMetric{Name: name, Visitors: count})
	})
	return out
}

package analytics

import (
	"context"
	"log/slog"
	"strconv"

	"webtrack/internal/pkg/async"
	"webtrack/internal/sessions"
)

// SiteQuery asks for one website's statistics.
type SiteQuery struct {
	WebsiteID string
	Range     *sessions.Range
	TimeZone  string
}

// AggregateWebsites runs one aggregation per query on a bounded worker pool and
// returns results in query order. A site that fails to load yields an empty
// result so the rest of the dashboard still renders.
func (a *Aggregator) AggregateWebsites(ctx context.Context, queries []SiteQuery, workers int) []*Result {
	if workers <= 0 {
		workers = 4
	}

	tasks := make([]async.Task, len(queries))
	for i, q := range queries {
		q := q
		tasks[i] = async.Task{
			Name: strconv.Itoa(i),
			Execute: func() (interface{}, error) {
				return a.Aggregate(ctx, q.WebsiteID, q.Range, q.TimeZone)
			},
		}
	}

	results := async.NewPool(workers).Execute(ctx, tasks)

	out := make([]*Result, len(queries))
	for i, q := range queries {
		res, ok := results[strconv.Itoa(i)]
		if ok && res.Err == nil {
			if r, isResult := res.Data.(*Result); isResult {
				out[i] = r
				continue
			}
		}
		if ok && res.Err != nil {
			a.logger.Error("Failed to aggregate website",
				slog.String("website_id", q.WebsiteID),
				slog.Any("error", res.Err))
		}
		out[i] = EmptyResult()
	}
	return out
}

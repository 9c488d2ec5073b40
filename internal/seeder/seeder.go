// Package seeder fills a website with synthetic visits for local development.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"webtrack/internal/events"
	"webtrack/internal/tracking"
	"webtrack/internal/websites"
)

// Tracker ingests one collector event.
type Tracker interface {
	Track(ctx context.Context, raw events.RawEvent, meta tracking.RequestMeta) error
}

// Seeder replays synthetic page views through the ingestion pipeline, so
// seeded sessions are classified and located like real ones.
type Seeder struct {
	tracker  Tracker
	logger   *slog.Logger
	Sessions int
	Days     int

	rng *rand.Rand
	now func() time.Time
}

// NewSeeder creates a seeder producing sessionCount visits spread over the last 30 days.
func NewSeeder(tracker Tracker, logger *slog.Logger, sessionCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		tracker:  tracker,
		logger:   logger,
		Sessions: sessionCount,
		Days:     30,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		now:      time.Now,
	}
}

// Stats counts what one seeding run produced.
type Stats struct {
	Sessions int
	Rejected int
}

var journeyTemplates = [][]string{
	{"/", "/about", "/contact"},
	{"/", "/features", "/pricing", "/signup"},
	{"/", "/blog", "/blog/article-1", "/signup"},
	{"/pricing", "/features", "/signup"},
	{"/", "/products", "/products/widget-a", "/products/gadget-b", "/pricing"},
	{"/", "/docs", "/docs/getting-started", "/docs/api-reference"},
	{"/", "/signup"},
	{"/login", "/dashboard", "/settings"},
	{"/blog/article-1"},
}

// SeedWebsite records Sessions visits for website. Each visit is an entry
// followed by an exit whose active time comes from an ActivityTracker replaying
// the journey.
func (s *Seeder) SeedWebsite(ctx context.Context, website *websites.Website) (Stats, error) {
	start := time.Now()
	s.logger.Info("Seeding website",
		slog.String("website_id", website.WebsiteID),
		slog.String("domain", website.Domain),
		slog.Int("sessions", s.Sessions))

	ipPool := generateIPPool(s.rng, 100)
	userAgents := getUserAgents()
	referrers := getReferrers()
	window := time.Duration(s.Days) * 24 * time.Hour

	var stats Stats
	for i := 0; i < s.Sessions; i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		meta := tracking.RequestMeta{
			IP:        ipPool[s.rng.IntN(len(ipPool))],
			UserAgent: userAgents[s.rng.IntN(len(userAgents))],
		}
		visitorID := uuid.NewString()
		journey := journeyTemplates[s.rng.IntN(len(journeyTemplates))]
		entry := s.now().Add(-time.Duration(s.rng.Int64N(int64(window))))

		entryURL := s.addUTMParams(addQueryParams(s.rng, journey[0]))
		raw := events.RawEvent{
			Type:      events.EventTypeEntry,
			WebsiteID: website.WebsiteID,
			Domain:    website.Domain,
			VisitorID: visitorID,
			URL:       fmt.Sprintf("https://%s%s", website.Domain, entryURL),
			Referrer:  referrers[s.rng.IntN(len(referrers))],
			EntryTime: events.RawValue(strconv.FormatInt(entry.Unix(), 10)),
		}
		fillUTM(&raw, entryURL)

		if err := s.tracker.Track(ctx, raw, meta); err != nil {
			s.logger.Debug("Seeded entry rejected", slog.Any("error", err))
			stats.Rejected++
			continue
		}

		exitMs, activeMs := s.replayJourney(entry.UnixMilli(), len(journey))
		exit := events.RawEvent{
			Type:            events.EventTypeExit,
			WebsiteID:       website.WebsiteID,
			Domain:          website.Domain,
			VisitorID:       visitorID,
			ExitTime:        events.RawValue(strconv.FormatInt(exitMs, 10)),
			TotalActiveTime: events.RawValue(strconv.FormatInt(activeMs, 10)),
			ExitURL:         fmt.Sprintf("https://%s%s", website.Domain, journey[len(journey)-1]),
		}
		if err := s.tracker.Track(ctx, exit, meta); err != nil {
			s.logger.Debug("Seeded exit rejected", slog.Any("error", err))
			stats.Rejected++
			continue
		}
		stats.Sessions++
	}

	s.logger.Info("Website seeded",
		slog.String("domain", website.Domain),
		slog.Int("sessions", stats.Sessions),
		slog.Int("rejected", stats.Rejected),
		slog.Duration("elapsed", time.Since(start)))
	return stats, nil
}

// replayJourney simulates reading pages pages starting at entryMs and returns
// the exit time and accumulated active milliseconds.
func (s *Seeder) replayJourney(entryMs int64, pages int) (int64, int64) {
	activity := tracking.NewActivityTracker(entryMs, tracking.IdleTimeout)
	now := entryMs
	for p := 0; p < pages; p++ {
		reading := int64(10+s.rng.IntN(110)) * 1000
		for elapsed := int64(0); elapsed < reading; elapsed += 5000 {
			now += 5000
			if s.rng.IntN(4) > 0 {
				activity.Input(now)
			}
			activity.Tick(now)
		}
		// Switching tabs now and then.
		if s.rng.IntN(5) == 0 {
			activity.Hide(now)
			now += int64(5+s.rng.IntN(60)) * 1000
			activity.Show(now)
		}
	}
	return now, activity.Exit(now)
}

func fillUTM(raw *events.RawEvent, path string) {
	u, err := url.Parse(path)
	if err != nil || u.RawQuery == "" {
		return
	}
	q := u.Query()
	raw.URLParams = u.RawQuery
	raw.UTMSource = q.Get("utm_source")
	raw.UTMMedium = q.Get("utm_medium")
	raw.UTMCampaign = q.Get("utm_campaign")
}

// generateIPPool creates a pool of unique IPv4 addresses
func generateIPPool(rng *rand.Rand, count int) []string {
	seen := make(map[string]bool)
	var ips []string
	for len(ips) < count {
		ip := fmt.Sprintf("%d.%d.%d.%d", rng.IntN(222)+1, rng.IntN(256), rng.IntN(256), rng.IntN(254)+1)
		if !seen[ip] {
			seen[ip] = true
			ips = append(ips, ip)
		}
	}
	return ips
}

func getUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_1_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Mobile/15E148 Safari/605.1",
		"Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
		"Mozilla/5.0 (iPad; CPU OS 16_1_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Mobile/15E148 Safari/605.1",
		"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	}
}

func getReferrers() []string {
	return []string{
		"", // direct
		"",
		"https://google.com",
		"https://bing.com",
		"https://duckduckgo.com",
		"https://facebook.com",
		"https://twitter.com",
		"https://linkedin.com",
		"https://github.com",
		"https://some-other-website.com/blog/post",
	}
}

// addQueryParams adds random query parameters to a path about 30% of the time.
func addQueryParams(rng *rand.Rand, path string) string {
	if rng.IntN(10) < 7 {
		return path
	}

	params := url.Values{}
	possibleParams := []string{"ref", "source", "id", "query", "page"}
	for i := rng.IntN(3) + 1; i > 0; i-- {
		params.Add(possibleParams[rng.IntN(len(possibleParams))], fmt.Sprintf("value%d", rng.IntN(100)))
	}
	return path + "?" + params.Encode()
}

// addUTMParams tags about 20% of entries with a campaign.
func (s *Seeder) addUTMParams(path string) string {
	if s.rng.IntN(10) < 8 {
		return path
	}

	u, err := url.Parse(path)
	if err != nil {
		s.logger.Warn("Failed to parse path for UTM params", slog.String("path", path), slog.Any("error", err))
		return path
	}
	params := u.Query()

	sources := []string{"google", "facebook", "newsletter", "twitter", "linkedin"}
	mediums := []string{"cpc", "social", "email", "organic", "referral"}
	campaigns := []string{"spring_sale", "product_launch", "dev_outreach", "q4_promo"}

	params.Set("utm_source", sources[s.rng.IntN(len(sources))])
	params.Set("utm_medium", mediums[s.rng.IntN(len(mediums))])
	params.Set("utm_campaign", campaigns[s.rng.IntN(len(campaigns))])

	u.RawQuery = params.Encode()
	return u.String()
}

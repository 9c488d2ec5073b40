// main.go - Synthetic visitor traffic generator for webtrack
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"webtrack/internal/events"
	"webtrack/internal/tracking"
)

// LoadConfig holds the configuration for a load run
type LoadConfig struct {
	BaseURL     string
	WebsiteID   string
	Domain      string
	Concurrency int
	Duration    time.Duration
	Pings       bool
	Timeout     time.Duration
}

// LoadStats aggregates request outcomes per endpoint
type LoadStats struct {
	mu          sync.Mutex
	Visits      int64
	StatusCodes map[string]map[int]int64
	Latencies   map[string][]time.Duration
	Errors      int64
	StartTime   time.Time
	EndTime     time.Time
}

func newLoadStats() *LoadStats {
	return &LoadStats{
		StatusCodes: make(map[string]map[int]int64),
		Latencies:   make(map[string][]time.Duration),
		StartTime:   time.Now(),
	}
}

func (s *LoadStats) record(kind string, status int, latency time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.Errors++
		return
	}
	if s.StatusCodes[kind] == nil {
		s.StatusCodes[kind] = make(map[int]int64)
	}
	s.StatusCodes[kind][status]++
	s.Latencies[kind] = append(s.Latencies[kind], latency)
}

func (s *LoadStats) visitDone() {
	s.mu.Lock()
	s.Visits++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "Base URL of the webtrack server")
	websiteID := flag.String("website", "", "websiteId of a registered website (required)")
	domain := flag.String("domain", "example.com", "Domain the synthetic pages belong to")
	concurrency := flag.Int("c", 10, "Number of concurrent visitors")
	duration := flag.Duration("d", 30*time.Second, "Duration of the run")
	pings := flag.Bool("pings", true, "Send presence pings during visits")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *websiteID == "" {
		logger.Error("Missing -website flag")
		os.Exit(2)
	}

	cfg := &LoadConfig{
		BaseURL:     strings.TrimSuffix(*baseURL, "/"),
		WebsiteID:   *websiteID,
		Domain:      *domain,
		Concurrency: *concurrency,
		Duration:    *duration,
		Pings:       *pings,
		Timeout:     *timeout,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, stop := context.WithTimeout(ctx, cfg.Duration)
	defer stop()

	logger.Info("Starting load run",
		slog.String("url", cfg.BaseURL),
		slog.String("website_id", cfg.WebsiteID),
		slog.Int("concurrency", cfg.Concurrency),
		slog.Duration("duration", cfg.Duration))

	stats := newLoadStats()
	run(ctx, cfg, stats)
	stats.EndTime = time.Now()

	printResults(os.Stdout, stats)
}

// run starts one goroutine per concurrent visitor until ctx is done.
func run(ctx context.Context, cfg *LoadConfig, stats *LoadStats) {
	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			client := &http.Client{Timeout: cfg.Timeout}
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)))
			for ctx.Err() == nil {
				simulateVisit(ctx, client, cfg, rng, stats)
			}
		}(i)
	}
	wg.Wait()
}

// simulateVisit plays one page view: entry, a compressed browsing session
// driven by an ActivityTracker, optional pings and the exit.
func simulateVisit(ctx context.Context, client *http.Client, cfg *LoadConfig, rng *rand.Rand, stats *LoadStats) {
	visitorID := uuid.NewString()
	userAgent := userAgents[rng.Intn(len(userAgents))]
	ip := fmt.Sprintf("%d.%d.%d.%d", 1+rng.Intn(222), rng.Intn(256), rng.Intn(256), 1+rng.Intn(254))
	pageURL := fmt.Sprintf("https://%s%s", cfg.Domain, paths[rng.Intn(len(paths))])

	start := time.Now().UnixMilli()
	entry := events.RawEvent{
		Type:      events.EventTypeEntry,
		WebsiteID: cfg.WebsiteID,
		Domain:    cfg.Domain,
		VisitorID: visitorID,
		URL:       pageURL,
		Referrer:  referrers[rng.Intn(len(referrers))],
		EntryTime: events.RawValue(strconv.FormatInt(start/1000, 10)),
	}
	send(ctx, client, cfg, "entry", "/api/track", entry, userAgent, ip, stats)

	// Simulated page time runs on its own clock so a visit of several minutes
	// costs a few hundred milliseconds of wall time.
	activity := tracking.NewActivityTracker(start, tracking.IdleTimeout)
	now := start
	steps := 3 + rng.Intn(10)
	for i := 0; i < steps && ctx.Err() == nil; i++ {
		now += int64(5000 + rng.Intn(20000))
		switch r := rng.Float64(); {
		case r < 0.6:
			activity.Input(now)
		case r < 0.75:
			activity.Hide(now)
		case r < 0.85:
			activity.Show(now)
		}
		activity.Tick(now)

		if cfg.Pings && i%2 == 1 {
			ping := events.RawEvent{
				WebsiteID: cfg.WebsiteID,
				VisitorID: visitorID,
				URL:       pageURL,
				LastSeen:  events.RawValue(strconv.FormatInt(time.Now().UnixMilli(), 10)),
			}
			send(ctx, client, cfg, "ping", "/api/live", ping, userAgent, ip, stats)
		}
		time.Sleep(time.Duration(20+rng.Intn(40)) * time.Millisecond)
	}

	exit := events.RawEvent{
		Type:            events.EventTypeExit,
		WebsiteID:       cfg.WebsiteID,
		Domain:          cfg.Domain,
		VisitorID:       visitorID,
		ExitTime:        events.RawValue(strconv.FormatInt(now/1000, 10)),
		TotalActiveTime: events.RawValue(strconv.FormatInt(activity.Exit(now), 10)),
		ExitURL:         pageURL,
	}
	// The exit is sent even after the deadline so no visit is left open.
	send(context.Background(), client, cfg, "exit", "/api/track", exit, userAgent, ip, stats)
	stats.visitDone()
}

func send(ctx context.Context, client *http.Client, cfg *LoadConfig, kind, path string, payload events.RawEvent, userAgent, ip string, stats *LoadStats) {
	body, err := json.Marshal(payload)
	if err != nil {
		stats.record(kind, 0, 0, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		stats.record(kind, 0, 0, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Forwarded-For", ip)
	req.Header.Set("Origin", "https://"+cfg.Domain)

	started := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(started)
	if err != nil {
		if ctx.Err() == nil {
			stats.record(kind, 0, latency, err)
		}
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	stats.record(kind, resp.StatusCode, latency, nil)
}

// printResults writes a per-endpoint summary table.
func printResults(out io.Writer, stats *LoadStats) {
	elapsed := stats.EndTime.Sub(stats.StartTime)
	fmt.Fprintf(out, "\nLoad Run Results (%v)\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "Visits completed: %d\n", stats.Visits)
	fmt.Fprintf(out, "Transport errors: %d\n\n", stats.Errors)

	kinds := make([]string, 0, len(stats.Latencies))
	for kind := range stats.Latencies {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", "KIND", "REQUESTS", "RPS", "P50", "P95", "P99", "STATUS")
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", "----", "--------", "---", "---", "---", "---", "------")
	for _, kind := range kinds {
		latencies := stats.Latencies[kind]
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		rps := float64(len(latencies)) / elapsed.Seconds()
		fmt.Fprintf(w, "%s\t%d\t%.1f\t%v\t%v\t%v\t%s\n",
			kind,
			len(latencies),
			rps,
			percentile(latencies, 0.50),
			percentile(latencies, 0.95),
			percentile(latencies, 0.99),
			formatStatusCodes(stats.StatusCodes[kind]))
	}
	w.Flush()
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx].Round(time.Microsecond)
}

func formatStatusCodes(codes map[int]int64) string {
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	sort.Ints(keys)
	parts := make([]string, 0, len(keys))
	for _, code := range keys {
		parts = append(parts, fmt.Sprintf("%d=%d", code, codes[code]))
	}
	return strings.Join(parts, " ")
}

var paths = []string{
	"/",
	"/products",
	"/pricing",
	"/about",
	"/blog",
	"/blog/launch",
	"/contact",
	"/docs",
}

var referrers = []string{
	"",
	"",
	"https://www.google.com/",
	"https://duckduckgo.com/",
	"https://news.ycombinator.com/",
	"https://www.reddit.com/r/golang/",
	"https://twitter.com/",
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
}

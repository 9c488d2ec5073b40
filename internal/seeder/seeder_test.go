package seeder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webtrack/internal/events"
	"webtrack/internal/tracking"
	"webtrack/internal/websites"
)

type recordingTracker struct {
	events []events.RawEvent
	metas  []tracking.RequestMeta
	fail   func(events.RawEvent) error
}

func (r *recordingTracker) Track(_ context.Context, raw events.RawEvent, meta tracking.RequestMeta) error {
	if r.fail != nil {
		if err := r.fail(raw); err != nil {
			return err
		}
	}
	r.events = append(r.events, raw)
	r.metas = append(r.metas, meta)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSeedWebsite(t *testing.T) {
	website := &websites.Website{WebsiteID: "site-1", Domain: "example.com"}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("records an entry and an exit per session", func(t *testing.T) {
		tracker := &recordingTracker{}
		s := NewSeeder(tracker, testLogger(), 25)
		s.now = func() time.Time { return now }

		stats, err := s.SeedWebsite(context.Background(), website)
		require.NoError(t, err)
		assert.Equal(t, Stats{Sessions: 25}, stats)
		require.Len(t, tracker.events, 50)

		earliest := now.Add(-30 * 24 * time.Hour).Unix()
		for i := 0; i < len(tracker.events); i += 2 {
			entry, exit := tracker.events[i], tracker.events[i+1]

			assert.Equal(t, events.EventTypeEntry, entry.Type)
			assert.Equal(t, events.EventTypeExit, exit.Type)
			assert.Equal(t, entry.VisitorID, exit.VisitorID)
			assert.Equal(t, "site-1", entry.WebsiteID)
			assert.Equal(t, tracker.metas[i], tracker.metas[i+1])

			entrySeconds, ok := entry.EntryTime.Int64()
			require.True(t, ok)
			assert.GreaterOrEqual(t, entrySeconds, earliest)
			assert.LessOrEqual(t, entrySeconds, now.Unix())

			exitMs, ok := exit.ExitTime.Int64()
			require.True(t, ok)
			activeMs, ok := exit.TotalActiveTime.Int64()
			require.True(t, ok)
			assert.Greater(t, exitMs, entrySeconds*1000)
			assert.GreaterOrEqual(t, activeMs, int64(0))
			assert.LessOrEqual(t, activeMs, exitMs-entrySeconds*1000)

			u, err := url.Parse(entry.URL)
			require.NoError(t, err)
			assert.Equal(t, "example.com", u.Host)
			if u.Query().Get("utm_source") != "" {
				assert.Equal(t, u.Query().Get("utm_source"), entry.UTMSource)
			}

			// Every seeded event passes validation.
			_, err = events.Normalize(entry)
			assert.NoError(t, err)
			_, err = events.Normalize(exit)
			assert.NoError(t, err)
		}
	})

	t.Run("counts rejected visits", func(t *testing.T) {
		tracker := &recordingTracker{fail: func(raw events.RawEvent) error {
			if raw.Type == events.EventTypeEntry {
				return errors.New("boom")
			}
			return nil
		}}
		s := NewSeeder(tracker, testLogger(), 5)

		stats, err := s.SeedWebsite(context.Background(), website)
		require.NoError(t, err)
		assert.Equal(t, Stats{Rejected: 5}, stats)
		assert.Empty(t, tracker.events)
	})

	t.Run("stops when cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		s := NewSeeder(&recordingTracker{}, testLogger(), 5)
		_, err := s.SeedWebsite(ctx, website)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestReplayJourney(t *testing.T) {
	s := NewSeeder(&recordingTracker{}, testLogger(), 1)

	exitMs, activeMs := s.replayJourney(1_000_000, 3)
	assert.Greater(t, exitMs, int64(1_000_000))
	assert.Greater(t, activeMs, int64(0))
	assert.LessOrEqual(t, activeMs, exitMs-1_000_000)
}

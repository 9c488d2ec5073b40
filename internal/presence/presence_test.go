package presence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webtrack/internal/presence"
	"webtrack/internal/testsupport"
)

const now int64 = 1700000100000

func forEachTracker(t *testing.T, fn func(t *testing.T, tracker presence.Tracker)) {
	t.Run("gorm", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		testsupport.CleanAllTables(dbManager.GetConnection())
		fn(t, presence.NewGormStore(dbManager, logger))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, presence.NewMemoryStore())
	})
}

func visitorIDs(entries []presence.Entry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.VisitorID)
	}
	return ids
}

func TestListActiveWindowBoundary(t *testing.T) {
	ctx := context.Background()

	forEachTracker(t, func(t *testing.T, tracker presence.Tracker) {
		require.NoError(t, tracker.Heartbeat(ctx, presence.Entry{VisitorID: "fresh", WebsiteID: "site-1", LastSeenMs: now - 29999}))
		require.NoError(t, tracker.Heartbeat(ctx, presence.Entry{VisitorID: "edge", WebsiteID: "site-1", LastSeenMs: now - 30000}))
		require.NoError(t, tracker.Heartbeat(ctx, presence.Entry{VisitorID: "stale", WebsiteID: "site-1", LastSeenMs: now - 30001}))
		require.NoError(t, tracker.Heartbeat(ctx, presence.Entry{VisitorID: "elsewhere", WebsiteID: "site-2", LastSeenMs: now}))

		active, err := tracker.ListActive(ctx, "site-1", now, presence.DefaultWindow)
		require.NoError(t, err)
		assert.Equal(t, []string{"fresh"}, visitorIDs(active))

		// A zero window means the default.
		active, err = tracker.ListActive(ctx, "site-1", now, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"fresh"}, visitorIDs(active))

		// Reads never evict: the stale entry comes back with a later heartbeat.
		require.NoError(t, tracker.Heartbeat(ctx, presence.Entry{VisitorID: "stale", WebsiteID: "site-1", LastSeenMs: now}))
		active, err = tracker.ListActive(ctx, "site-1", now, presence.DefaultWindow)
		require.NoError(t, err)
		assert.Equal(t, []string{"stale", "fresh"}, visitorIDs(active))
	})
}

func TestHeartbeatOnlyAdvancesWithinWebsite(t *testing.T) {
	ctx := context.Background()

	forEachTracker(t, func(t *testing.T, tracker presence.Tracker) {
		require.NoError(t, tracker.Heartbeat(ctx, presence.Entry{VisitorID: "a", WebsiteID: "site-1", LastSeenMs: now, Browser: "Firefox"}))
		require.NoError(t, tracker.Heartbeat(ctx, presence.Entry{VisitorID: "a", WebsiteID: "site-1", LastSeenMs: now - 60000, Browser: "Chrome"}))

		active, err := tracker.ListActive(ctx, "site-1", now, presence.DefaultWindow)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, now, active[0].LastSeenMs)
		assert.Equal(t, "Firefox", active[0].Browser)
	})
}

func TestHeartbeatOverwritesAcrossWebsites(t *testing.T) {
	ctx := context.Background()

	forEachTracker(t, func(t *testing.T, tracker presence.Tracker) {
		require.NoError(t, tracker.Heartbeat(ctx, presence.Entry{VisitorID: "a", WebsiteID: "site-1", LastSeenMs: now}))
		// Older timestamp, different site: still applied.
		require.NoError(t, tracker.Heartbeat(ctx, presence.Entry{VisitorID: "a", WebsiteID: "site-2", LastSeenMs: now - 5000}))

		first, err := tracker.ListActive(ctx, "site-1", now, presence.DefaultWindow)
		require.NoError(t, err)
		assert.Empty(t, first)

		second, err := tracker.ListActive(ctx, "site-2", now, presence.DefaultWindow)
		require.NoError(t, err)
		require.Len(t, second, 1)
		assert.Equal(t, now-5000, second[0].LastSeenMs)
	})
}

func TestDeleteByWebsite(t *testing.T) {
	ctx := context.Background()

	forEachTracker(t, func(t *testing.T, tracker presence.Tracker) {
		require.NoError(t, tracker.Heartbeat(ctx, presence.Entry{VisitorID: "a", WebsiteID: "site-1", LastSeenMs: now}))
		require.NoError(t, tracker.Heartbeat(ctx, presence.Entry{VisitorID: "b", WebsiteID: "site-1", LastSeenMs: now}))
		require.NoError(t, tracker.Heartbeat(ctx, presence.Entry{VisitorID: "c", WebsiteID: "site-2", LastSeenMs: now}))

		deleted, err := tracker.DeleteByWebsite(ctx, "site-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		active, err := tracker.ListActive(ctx, "site-2", now, presence.DefaultWindow)
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, visitorIDs(active))
	})
}

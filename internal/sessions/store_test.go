package sessions_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webtrack/internal/sessions"
	"webtrack/internal/testsupport"
)

// forEachStore runs fn against the SQLite and in-memory stores so both honor one contract.
func forEachStore(t *testing.T, fn func(t *testing.T, store sessions.Store)) {
	t.Run("gorm", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		testsupport.CleanAllTables(dbManager.GetConnection())
		fn(t, sessions.NewGormStore(dbManager, logger))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, sessions.NewMemoryStore())
	})
}

func newSession(websiteID, visitorID string, entryTime int64) *sessions.Session {
	return &sessions.Session{
		WebsiteID:   websiteID,
		VisitorID:   visitorID,
		URL:         "https://example.com/",
		EntryTimeMs: entryTime,
	}
}

func TestCreateAndQueryByWebsite(t *testing.T) {
	ctx := context.Background()

	forEachStore(t, func(t *testing.T, store sessions.Store) {
		require.NoError(t, store.Create(ctx, newSession("site-1", "a", 1700000000000)))
		require.NoError(t, store.Create(ctx, newSession("site-1", "a", 1700000001000)))
		require.NoError(t, store.Create(ctx, newSession("site-2", "b", 1700000002000)))
		require.NoError(t, store.Create(ctx, newSession("site-1", "c", 1600000000000)))

		rows, err := store.QueryByWebsite(ctx, "site-1", nil)
		require.NoError(t, err)
		require.Len(t, rows, 3)

		// Insertion order, not entry time order.
		assert.Equal(t, []string{"a", "a", "c"}, []string{rows[0].VisitorID, rows[1].VisitorID, rows[2].VisitorID})
		assert.Less(t, rows[0].ID, rows[1].ID)
		assert.Less(t, rows[1].ID, rows[2].ID)

		none, err := store.QueryByWebsite(ctx, "unknown", nil)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestQueryByWebsiteRangeWithMixedUnits(t *testing.T) {
	ctx := context.Background()

	forEachStore(t, func(t *testing.T, store sessions.Store) {
		// Rows written by older collectors hold seconds.
		require.NoError(t, store.Create(ctx, newSession("site-1", "seconds-in", 1700000000)))
		require.NoError(t, store.Create(ctx, newSession("site-1", "millis-in", 1700000500000)))
		require.NoError(t, store.Create(ctx, newSession("site-1", "seconds-out", 1800000000)))
		require.NoError(t, store.Create(ctx, newSession("site-1", "millis-out", 1699999999999)))
		require.NoError(t, store.Create(ctx, newSession("site-1", "upper-edge", 1700000600)))

		r := &sessions.Range{FromMs: 1700000000000, ToMs: 1700000600000}
		rows, err := store.QueryByWebsite(ctx, "site-1", r)
		require.NoError(t, err)

		var visitors []string
		for _, row := range rows {
			visitors = append(visitors, row.VisitorID)
		}
		assert.Equal(t, []string{"seconds-in", "millis-in", "upper-edge"}, visitors)
	})
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()

	forEachStore(t, func(t *testing.T, store sessions.Store) {
		require.NoError(t, store.Create(ctx, newSession("site-1", "a", 1700000000000)))

		closed, err := store.Close(ctx, "a", "site-1", sessions.ExitFields{
			ExitTimeMs:        1700000045000,
			TotalActiveTimeMs: 45000,
			ExitURL:           "https://example.com/bye",
		})
		require.NoError(t, err)
		assert.True(t, closed)

		closed, err = store.Close(ctx, "a", "site-1", sessions.ExitFields{ExitTimeMs: 1700000099000, TotalActiveTimeMs: 1})
		require.NoError(t, err)
		assert.False(t, closed)

		rows, err := store.QueryByWebsite(ctx, "site-1", nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.NotNil(t, rows[0].ExitTimeMs)
		assert.Equal(t, int64(1700000045000), *rows[0].ExitTimeMs)
		assert.Equal(t, int64(45000), rows[0].TotalActiveTimeMs)
		require.NotNil(t, rows[0].ExitURL)
		assert.Equal(t, "https://example.com/bye", *rows[0].ExitURL)
	})
}

func TestCloseWithoutEntryIsNoop(t *testing.T) {
	ctx := context.Background()

	forEachStore(t, func(t *testing.T, store sessions.Store) {
		closed, err := store.Close(ctx, "ghost", "site-1", sessions.ExitFields{ExitTimeMs: 1700000000000})
		require.NoError(t, err)
		assert.False(t, closed)

		rows, err := store.QueryByWebsite(ctx, "site-1", nil)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestCloseTargetsNewestOpenSession(t *testing.T) {
	ctx := context.Background()

	forEachStore(t, func(t *testing.T, store sessions.Store) {
		// Two tabs: the second tab's entry has an older client clock.
		require.NoError(t, store.Create(ctx, newSession("site-1", "a", 1700000100000)))
		require.NoError(t, store.Create(ctx, newSession("site-1", "a", 1700000000000)))

		closed, err := store.Close(ctx, "a", "site-1", sessions.ExitFields{ExitTimeMs: 1700000200000, TotalActiveTimeMs: 2000})
		require.NoError(t, err)
		require.True(t, closed)

		rows, err := store.QueryByWebsite(ctx, "site-1", nil)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.True(t, rows[0].IsOpen())
		assert.False(t, rows[1].IsOpen())
		assert.Equal(t, int64(2000), rows[1].TotalActiveTimeMs)

		closed, err = store.Close(ctx, "a", "site-1", sessions.ExitFields{ExitTimeMs: 1700000300000, TotalActiveTimeMs: 3000})
		require.NoError(t, err)
		require.True(t, closed)

		rows, err = store.QueryByWebsite(ctx, "site-1", nil)
		require.NoError(t, err)
		assert.False(t, rows[0].IsOpen())
		assert.Equal(t, int64(3000), rows[0].TotalActiveTimeMs)
		assert.Equal(t, int64(2000), rows[1].TotalActiveTimeMs)

		closed, err = store.Close(ctx, "a", "site-1", sessions.ExitFields{ExitTimeMs: 1700000400000})
		require.NoError(t, err)
		assert.False(t, closed)
	})
}

func TestCloseIgnoresRepeatedExit(t *testing.T) {
	ctx := context.Background()

	forEachStore(t, func(t *testing.T, store sessions.Store) {
		// An earlier visit whose exit never arrived, then the current page.
		require.NoError(t, store.Create(ctx, newSession("site-1", "a", 1700000000000)))
		require.NoError(t, store.Create(ctx, newSession("site-1", "a", 1700000500000)))

		exit := sessions.ExitFields{
			ExitTimeMs:        1700000560000,
			TotalActiveTimeMs: 60000,
			ExitURL:           "https://example.com/pricing",
		}

		// pagehide and beforeunload both deliver the same exit.
		closed, err := store.Close(ctx, "a", "site-1", exit)
		require.NoError(t, err)
		assert.True(t, closed)

		closed, err = store.Close(ctx, "a", "site-1", exit)
		require.NoError(t, err)
		assert.False(t, closed)

		rows, err := store.QueryByWebsite(ctx, "site-1", nil)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.True(t, rows[0].IsOpen())
		assert.Equal(t, int64(0), rows[0].TotalActiveTimeMs)
		assert.False(t, rows[1].IsOpen())
		assert.Equal(t, int64(60000), rows[1].TotalActiveTimeMs)

		// A different exit still closes the older visit.
		closed, err = store.Close(ctx, "a", "site-1", sessions.ExitFields{ExitTimeMs: 1700000600000})
		require.NoError(t, err)
		assert.True(t, closed)

		rows, err = store.QueryByWebsite(ctx, "site-1", nil)
		require.NoError(t, err)
		assert.False(t, rows[0].IsOpen())
		assert.Nil(t, rows[0].ExitURL)
	})
}

func TestConcurrentEntryAndExit(t *testing.T) {
	ctx := context.Background()
	const visitors, visitsPerVisitor = 10, 4

	forEachStore(t, func(t *testing.T, store sessions.Store) {
		var wg sync.WaitGroup
		errs := make(chan error, visitors*visitsPerVisitor*2)

		for v := 0; v < visitors; v++ {
			for n := 0; n < visitsPerVisitor; n++ {
				wg.Add(1)
				go func(v, n int) {
					defer wg.Done()
					visitor := fmt.Sprintf("visitor-%d", v)
					entry := int64(1700000000000 + n*1000)
					if err := store.Create(ctx, newSession("site-1", visitor, entry)); err != nil {
						errs <- err
						return
					}
					// Every exit is distinct, so each one closes some open visit.
					if _, err := store.Close(ctx, visitor, "site-1", sessions.ExitFields{
						ExitTimeMs:        entry + 30000,
						TotalActiveTimeMs: int64(n + 1),
					}); err != nil {
						errs <- err
					}
				}(v, n)
			}
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		rows, err := store.QueryByWebsite(ctx, "site-1", nil)
		require.NoError(t, err)
		require.Len(t, rows, visitors*visitsPerVisitor)

		perVisitor := make(map[string]int)
		for _, row := range rows {
			assert.False(t, row.IsOpen(), "session %d of %s left open", row.ID, row.VisitorID)
			perVisitor[row.VisitorID]++
		}
		assert.Len(t, perVisitor, visitors)
		for visitor, count := range perVisitor {
			assert.Equal(t, visitsPerVisitor, count, visitor)
		}
	})
}

func TestCloseIsScopedToWebsite(t *testing.T) {
	ctx := context.Background()

	forEachStore(t, func(t *testing.T, store sessions.Store) {
		require.NoError(t, store.Create(ctx, newSession("site-1", "a", 1700000000000)))
		require.NoError(t, store.Create(ctx, newSession("site-2", "a", 1700000001000)))

		closed, err := store.Close(ctx, "a", "site-1", sessions.ExitFields{ExitTimeMs: 1700000010000})
		require.NoError(t, err)
		require.True(t, closed)

		other, err := store.QueryByWebsite(ctx, "site-2", nil)
		require.NoError(t, err)
		require.Len(t, other, 1)
		assert.True(t, other[0].IsOpen())
	})
}

func TestRecentIPs(t *testing.T) {
	ctx := context.Background()

	forEachStore(t, func(t *testing.T, store sessions.Store) {
		for i, ip := range []string{"10.0.0.1", "", "10.0.0.2", "10.0.0.1", "10.0.0.3"} {
			s := newSession("site-1", "v", int64(1700000000+i))
			s.IP = ip
			s.Country = "Spain"
			s.CountryCode = "ES"
			require.NoError(t, store.Create(ctx, s))
		}

		recent, err := store.RecentIPs(ctx, "site-1", 20)
		require.NoError(t, err)

		var ips []string
		for _, r := range recent {
			ips = append(ips, r.IP)
		}
		assert.Equal(t, []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"}, ips)
		assert.Equal(t, "ES", recent[0].CountryCode)
		assert.Equal(t, int64(1700000004000), recent[0].EntryTimeMs)

		limited, err := store.RecentIPs(ctx, "site-1", 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})
}

func TestDeletes(t *testing.T) {
	ctx := context.Background()

	forEachStore(t, func(t *testing.T, store sessions.Store) {
		require.NoError(t, store.Create(ctx, newSession("site-1", "old-seconds", 1600000000)))
		require.NoError(t, store.Create(ctx, newSession("site-1", "new", 1700000000000)))
		require.NoError(t, store.Create(ctx, newSession("site-2", "other", 1700000000000)))

		deleted, err := store.DeleteOlderThan(ctx, 1650000000000)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		deleted, err = store.DeleteByWebsite(ctx, "site-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		rows, err := store.QueryByWebsite(ctx, "site-1", nil)
		require.NoError(t, err)
		assert.Empty(t, rows)

		rows, err = store.QueryByWebsite(ctx, "site-2", nil)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})
}

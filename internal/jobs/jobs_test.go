package jobs

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webtrack/internal/sessions"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler(t *testing.T) {
	t.Run("runs the job once on start", func(t *testing.T) {
		var runs atomic.Int32
		s := NewScheduler(testLogger(),
			Job{Name: "count", Interval: time.Hour, Run: func(context.Context) error { runs.Add(1); return nil }},
		)
		require.NoError(t, s.Start())
		assert.True(t, s.IsRunning())

		assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)

		s.Stop()
		assert.False(t, s.IsRunning())
		assert.Equal(t, int32(1), runs.Load())
	})

	t.Run("job errors are logged", func(t *testing.T) {
		var runs atomic.Int32
		s := NewScheduler(testLogger(), Job{Name: "fails", Interval: time.Hour, Run: func(context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		}})
		assert.True(t, s.RunNow("fails"))
		assert.True(t, s.RunNow("fails"))
		assert.Equal(t, int32(2), runs.Load())
	})

	t.Run("drops disabled jobs", func(t *testing.T) {
		s := NewScheduler(testLogger(),
			Job{Name: "no-interval", Run: func(context.Context) error { return nil }},
			Job{Name: "no-run", Interval: time.Second},
		)
		assert.Empty(t, s.jobs)
		assert.False(t, s.RunNow("no-interval"))
	})

	t.Run("recovers from panics", func(t *testing.T) {
		s := NewScheduler(testLogger(), Job{Name: "panics", Interval: time.Hour, Run: func(context.Context) error {
			panic("bad job")
		}})
		assert.NotPanics(t, func() { s.RunNow("panics") })
		assert.False(t, s.isProcessing)
	})

	t.Run("stop cancels the job context", func(t *testing.T) {
		started := make(chan struct{})
		var cancelled atomic.Bool
		s := NewScheduler(testLogger(), Job{Name: "blocking", Interval: time.Hour, Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			cancelled.Store(true)
			return ctx.Err()
		}})
		require.NoError(t, s.Start())
		<-started
		s.Stop()
		assert.True(t, cancelled.Load())
	})
}

func TestCleanupJob(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	newStore := func(t *testing.T) *sessions.MemoryStore {
		store := sessions.NewMemoryStore()
		rows := []sessions.Session{
			{WebsiteID: "site", VisitorID: "old-ms", EntryTimeMs: now.AddDate(0, 0, -40).UnixMilli()},
			{WebsiteID: "site", VisitorID: "old-seconds", EntryTimeMs: now.AddDate(0, 0, -31).Unix()},
			{WebsiteID: "site", VisitorID: "recent", EntryTimeMs: now.AddDate(0, 0, -2).UnixMilli()},
		}
		for i := range rows {
			require.NoError(t, store.Create(ctx, &rows[i]))
		}
		return store
	}

	t.Run("deletes sessions past retention", func(t *testing.T) {
		store := newStore(t)
		job := NewCleanupJob(store, testLogger(), 30)
		job.now = func() time.Time { return now }

		require.NoError(t, job.Run(ctx))

		remaining, err := store.QueryByWebsite(ctx, "site", nil)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Equal(t, "recent", remaining[0].VisitorID)
	})

	t.Run("zero retention keeps everything", func(t *testing.T) {
		store := newStore(t)
		job := NewCleanupJob(store, testLogger(), 0)

		require.NoError(t, job.Run(ctx))
		assert.Nil(t, job.Job(time.Hour).Run)

		remaining, err := store.QueryByWebsite(ctx, "site", nil)
		require.NoError(t, err)
		assert.Len(t, remaining, 3)
	})
}

func geoLiteArchive(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
	return buf.Bytes()
}

func TestGeoLiteUpdaterJob(t *testing.T) {
	ctx := context.Background()

	t.Run("downloads and installs the database", func(t *testing.T) {
		archive := geoLiteArchive(t, "GeoLite2-City_20240101/GeoLite2-City.mmdb", []byte("mmdb-bytes"))
		var gotKey string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotKey = r.URL.Query().Get("license_key")
			w.Write(archive)
		}))
		defer server.Close()

		dest := filepath.Join(t.TempDir(), "geo", "GeoLite2-City.mmdb")
		var updated atomic.Int32
		job := NewGeoLiteUpdaterJob(testLogger(), "secret", server.URL+"/download?license_key=%s", dest, func() { updated.Add(1) })

		require.NoError(t, job.Run(ctx))

		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, "mmdb-bytes", string(data))
		assert.Equal(t, "secret", gotKey)
		assert.Equal(t, int32(1), updated.Load())
		assert.False(t, job.LastUpdate().IsZero())

		// A fresh file is not downloaded again.
		require.NoError(t, job.Run(ctx))
		assert.Equal(t, int32(1), updated.Load())
	})

	t.Run("upstream failure leaves the old file", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		dest := filepath.Join(t.TempDir(), "GeoLite2-City.mmdb")
		require.NoError(t, os.WriteFile(dest, []byte("old"), 0644))
		stale := time.Now().Add(-2 * GeoLiteUpdateInterval)
		require.NoError(t, os.Chtimes(dest, stale, stale))

		job := NewGeoLiteUpdaterJob(testLogger(), "secret", server.URL+"/%s", dest, nil)
		err := job.Run(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")

		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, "old", string(data))
	})

	t.Run("archive without a database", func(t *testing.T) {
		archive := geoLiteArchive(t, "README.txt", []byte("nothing here"))
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(archive)
		}))
		defer server.Close()

		dest := filepath.Join(t.TempDir(), "GeoLite2-City.mmdb")
		job := NewGeoLiteUpdaterJob(testLogger(), "secret", server.URL+"/%s", dest, nil)

		err := job.Run(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no .mmdb file found")
		_, statErr := os.Stat(dest)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("disabled without a license key", func(t *testing.T) {
		job := NewGeoLiteUpdaterJob(testLogger(), "", "https://example.invalid/%s", "", nil)
		assert.False(t, job.IsConfigured())
		assert.Nil(t, job.Job(time.Hour).Run)
		assert.NoError(t, job.Run(ctx))
	})
}

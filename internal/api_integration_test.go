package internal_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webtrack/internal/http/middleware"
	"webtrack/internal/presence"
	"webtrack/internal/sessions"
	"webtrack/internal/testsupport"
	"webtrack/internal/websites"
)

func doRequest(t *testing.T, app *fiber.App, method, path, account string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if account != "" {
		req.Header.Set(middleware.AccountHeader, account)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestWebsiteAPI(t *testing.T) {
	t.Run("requires an account", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		app := testsupport.CreateMinimalTestApp(t, dbManager.GetConnection())

		for _, tc := range []struct{ method, path string }{
			{http.MethodGet, "/api/website"},
			{http.MethodPost, "/api/website"},
			{http.MethodDelete, "/api/website/abc"},
			{http.MethodGet, "/api/recentip?websiteId=abc"},
		} {
			resp, body := doRequest(t, app, tc.method, tc.path, "", nil)
			assert.Equalf(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", tc.method, tc.path)
			assert.JSONEq(t, `{"message":"Unauthorized"}`, string(body))
		}
	})

	t.Run("creates lists and deletes websites per account", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		resp, body := doRequest(t, app, http.MethodPost, "/api/website", "acct-a", map[string]any{
			"domain":   "https://Shop.Example.com/",
			"timeZone": "Europe/Berlin",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

		var created struct {
			Message string           `json:"message"`
			Data    websites.Website `json:"data"`
		}
		require.NoError(t, json.Unmarshal(body, &created))
		assert.Equal(t, "Website created successfully", created.Message)
		assert.Equal(t, "shop.example.com", created.Data.Domain)
		assert.Equal(t, "Europe/Berlin", created.Data.TimeZone)
		assert.Equal(t, "acct-a", created.Data.OwnerID)
		require.NotEmpty(t, created.Data.WebsiteID)

		// Same domain for the same account is a duplicate.
		resp, body = doRequest(t, app, http.MethodPost, "/api/website", "acct-a", map[string]any{"domain": "shop.example.com"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, string(body), "Domain already exists!")

		// Another account may register it.
		resp, _ = doRequest(t, app, http.MethodPost, "/api/website", "acct-b", map[string]any{"domain": "shop.example.com"})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		resp, body = doRequest(t, app, http.MethodGet, "/api/website?websiteOnly=true", "acct-a", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var listed []websites.Website
		require.NoError(t, json.Unmarshal(body, &listed))
		require.Len(t, listed, 1)
		assert.Equal(t, created.Data.WebsiteID, listed[0].WebsiteID)

		// acct-b cannot delete acct-a's site.
		resp, _ = doRequest(t, app, http.MethodDelete, "/api/website/"+created.Data.WebsiteID, "acct-b", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp, body = doRequest(t, app, http.MethodDelete, "/api/website/"+created.Data.WebsiteID, "acct-a", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		resp, body = doRequest(t, app, http.MethodGet, "/api/website?websiteOnly=true", "acct-a", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `[]`, string(body))
	})

	t.Run("validates create input", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		resp, body := doRequest(t, app, http.MethodPost, "/api/website", "acct-a", map[string]any{"domain": ""})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, string(body), "Domain is required")

		resp, body = doRequest(t, app, http.MethodPost, "/api/website", "acct-a", map[string]any{
			"domain":   "example.com",
			"timeZone": "Mars/Olympus",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, string(body), "invalid time zone")
	})

	t.Run("aggregates tracked traffic", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		resp, body := doRequest(t, app, http.MethodPost, "/api/website", "acct-a", map[string]any{
			"domain":   "example.com",
			"timeZone": "UTC",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
		var created struct {
			Data websites.Website `json:"data"`
		}
		require.NoError(t, json.Unmarshal(body, &created))
		websiteID := created.Data.WebsiteID

		entry := time.Now().Add(-10 * time.Minute)
		for _, visitor := range []string{"v1", "v2"} {
			resp, body = doRequest(t, app, http.MethodPost, "/api/track", "", map[string]any{
				"type":      "entry",
				"websiteId": websiteID,
				"domain":    "example.com",
				"visitorId": visitor,
				"url":       "https://example.com/",
				"entryTime": entry.Unix(),
			})
			require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		}
		resp, body = doRequest(t, app, http.MethodPost, "/api/track", "", map[string]any{
			"type":            "exit",
			"websiteId":       websiteID,
			"visitorId":       "v1",
			"exitTime":        entry.Add(time.Minute).UnixMilli(),
			"totalActiveTime": 30000,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		resp, body = doRequest(t, app, http.MethodGet, "/api/website", "acct-a", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		var stats []struct {
			Website   websites.Website `json:"website"`
			Analytics struct {
				TotalVisitors   int   `json:"totalVisitors"`
				TotalSessions   int   `json:"totalSessions"`
				TotalActiveTime int64 `json:"totalActiveTime"`
				Browsers        []struct {
					Name     string `json:"name"`
					Visitors int    `json:"visitors"`
				} `json:"browsers"`
			} `json:"analytics"`
		}
		require.NoError(t, json.Unmarshal(body, &stats))
		require.Len(t, stats, 1)
		assert.Equal(t, websiteID, stats[0].Website.WebsiteID)
		assert.Equal(t, 2, stats[0].Analytics.TotalVisitors)
		assert.Equal(t, 2, stats[0].Analytics.TotalSessions)
		assert.Equal(t, int64(30000), stats[0].Analytics.TotalActiveTime)
		require.NotEmpty(t, stats[0].Analytics.Browsers)
		assert.Equal(t, 2, stats[0].Analytics.Browsers[0].Visitors)

		// A range that ends before the visits yields nothing.
		resp, body = doRequest(t, app, http.MethodGet, "/api/website?from=2020-01-01&to=2020-01-31", "acct-a", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		require.NoError(t, json.Unmarshal(body, &stats))
		require.Len(t, stats, 1)
		assert.Zero(t, stats[0].Analytics.TotalVisitors)

		resp, body = doRequest(t, app, http.MethodGet, "/api/website?range=24h", "acct-a", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		require.NoError(t, json.Unmarshal(body, &stats))
		assert.Equal(t, 2, stats[0].Analytics.TotalVisitors)

		// Deleting the website removes its sessions and presence.
		resp, _ = doRequest(t, app, http.MethodDelete, "/api/website/"+websiteID, "acct-a", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var remaining int64
		db.Model(&sessions.Session{}).Where("website_id = ?", websiteID).Count(&remaining)
		assert.Zero(t, remaining)
		db.Model(&presence.Entry{}).Where("website_id = ?", websiteID).Count(&remaining)
		assert.Zero(t, remaining)
	})
}

func TestRecentIPAPI(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	website := testsupport.CreateTestWebsite(t, db, "example.com")
	base := time.Now().Add(-time.Hour).UnixMilli()
	for i, ip := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.1"} {
		testsupport.CreateTestSession(t, db, sessions.Session{
			WebsiteID:   website.WebsiteID,
			VisitorID:   "visitor",
			EntryTimeMs: base + int64(i)*1000,
			IP:          ip,
			Country:     "Netherlands",
			CountryCode: "NL",
		})
	}

	app := testsupport.CreateMinimalTestApp(t, db)

	t.Run("lists distinct recent addresses", func(t *testing.T) {
		resp, body := doRequest(t, app, http.MethodGet, "/api/recentip?websiteId="+website.WebsiteID, testsupport.TestOwnerID, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		var ips []sessions.RecentIP
		require.NoError(t, json.Unmarshal(body, &ips))
		require.Len(t, ips, 2)
		assert.Equal(t, "203.0.113.1", ips[0].IP)
		assert.Equal(t, "203.0.113.2", ips[1].IP)
		assert.Equal(t, "NL", ips[0].CountryCode)
	})

	t.Run("hides other accounts' websites", func(t *testing.T) {
		resp, body := doRequest(t, app, http.MethodGet, "/api/recentip?websiteId="+website.WebsiteID, "someone-else", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `[]`, string(body))
	})

	t.Run("requires website id", func(t *testing.T) {
		resp, _ := doRequest(t, app, http.MethodGet, "/api/recentip", testsupport.TestOwnerID, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHealthAPI(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	app := testsupport.CreateMinimalTestApp(t, dbManager.GetConnection())

	resp, body := doRequest(t, app, http.MethodGet, "/_health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "ok", health["db_status"])
	assert.Equal(t, "sqlite", health["session_store"])
	assert.Equal(t, false, health["geo_database"])
}

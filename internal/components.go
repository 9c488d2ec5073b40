package internal

import (
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"webtrack/internal/analytics"
	"webtrack/internal/config"
	"webtrack/internal/jobs"
	"webtrack/internal/pkg/geoip"
	"webtrack/internal/presence"
	"webtrack/internal/sessions"
	"webtrack/internal/tracking"
	"webtrack/internal/websites"
)

// Components holds the long-lived services shared by routes and background jobs.
type Components struct {
	Sessions  sessions.Store
	Presence  presence.Tracker
	GeoLite   *geoip.MaxMindResolver
	GeoLookup *geoip.HTTPResolver
	Geo       *geoip.CachedResolver
	Tracking  *tracking.Service
	Analytics *analytics.Aggregator

	cfg    *config.Config
	logger *slog.Logger
}

// NewComponents builds the storage backends and services selected by cfg.
func NewComponents(cfg *config.Config, dbManager cartridge.DBManager, logger *slog.Logger) *Components {
	c := &Components{cfg: cfg, logger: logger}

	switch cfg.SessionStore {
	case config.SessionStoreMemory:
		c.Sessions = sessions.NewMemoryStore()
		c.Presence = presence.NewMemoryStore()
	default:
		c.Sessions = sessions.NewGormStore(dbManager, logger)
		c.Presence = presence.NewGormStore(dbManager, logger)
	}
	logger.Debug("Session store selected", slog.String("store", cfg.SessionStore))

	c.GeoLite = geoip.NewMaxMindResolver(cfg.GeoDBPath, logger)
	c.GeoLookup = geoip.NewHTTPResolver(cfg.GeoLookupURL, cfg.GetGeoLookupTimeout(), logger)
	c.Geo = geoip.NewCachedResolver(geoip.NewChainResolver(c.GeoLite, c.GeoLookup), cfg.GetGeoCacheTTL(), logger)

	c.Tracking = tracking.NewService(dbManager, c.Sessions, c.Presence, c.Geo, logger, tracking.Options{
		GeoTimeout: cfg.GetGeoLookupTimeout(),
	})
	c.Analytics = analytics.NewAggregator(c.Sessions, logger)
	return c
}

// PresenceWindow is how long a heartbeat keeps a visitor active.
func (c *Components) PresenceWindow() time.Duration {
	return c.cfg.GetPresenceWindow()
}

// DefaultTimeZone is the zone used for websites without a valid one.
func (c *Components) DefaultTimeZone() string {
	return c.cfg.GetDefaultTimeZone()
}

// WebsiteCascades removes a website's sessions and presence entries.
func (c *Components) WebsiteCascades() []websites.Cascade {
	return []websites.Cascade{
		c.Sessions.DeleteByWebsite,
		c.Presence.DeleteByWebsite,
	}
}

// ReloadGeoDatabase swaps in a freshly downloaded GeoLite database and
// forgets locations resolved without it.
func (c *Components) ReloadGeoDatabase() {
	c.GeoLite.Reload()
	c.Geo.Clear()
}

// Scheduler assembles the background jobs.
func (c *Components) Scheduler() *jobs.Scheduler {
	interval := time.Duration(c.cfg.JobIntervalSeconds) * time.Second

	cleanup := jobs.NewCleanupJob(c.Sessions, c.logger, c.cfg.SessionRetentionDays)
	geoLite := jobs.NewGeoLiteUpdaterJob(c.logger, c.cfg.MaxMindLicenseKey, c.cfg.GeoLiteDownloadURL, c.cfg.GeoDBPath, c.ReloadGeoDatabase)

	return jobs.NewScheduler(c.logger,
		cleanup.Job(interval),
		geoLite.Job(interval),
	)
}

// Close releases resources held by the components.
func (c *Components) Close() {
	if err := c.Geo.Close(); err != nil {
		c.logger.Warn("Failed to stop location cache", slog.Any("error", err))
	}
	if err := c.GeoLite.Close(); err != nil {
		c.logger.Warn("Failed to close GeoLite database", slog.Any("error", err))
	}
}

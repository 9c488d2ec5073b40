package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "webtrack/api/v1"
	"webtrack/internal/config"
	"webtrack/internal/http"
	"webtrack/internal/http/middleware"
)

// publicCORSConfig is shared by every endpoint the collector or the dashboard
// calls from another origin.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
	AllowHeaders: "Content-Type, Authorization, X-Requested-With, X-Account-ID",
	MaxAge:       86400,
}

// MountAppRoutes builds the components from the server's database and logger
// and mounts every route.
func MountAppRoutes(srv *cartridge.Server) {
	comps := NewComponents(config.GetConfig(), srv.GetDBManager(), srv.GetLogger())
	MountRoutes(srv, comps)
}

// MountRoutes mounts all application routes using cartridge's route API
func MountRoutes(srv *cartridge.Server, comps *Components) {
	cfg := config.GetConfig()
	logger := srv.GetLogger()

	// Rate limiting only applies in production; in development and test it
	// would interfere with local tooling.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// Collector traffic: one entry, one exit and a ping every 30s per page view.
	collectorRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(120),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	apiRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(60),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// ============================================
	// ROUTE CONFIGURATIONS
	// ============================================

	// Collector endpoints are called cross-origin by browsers and by sendBeacon,
	// which does not always send Sec-Fetch-Site.
	collectorConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CORSConfig:         publicCORSConfig,
		CustomMiddleware:   []fiber.Handler{collectorRateLimiter},
		EnableSecFetchSite: cartridge.Bool(false),
	}

	sdkConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CORSConfig:       publicCORSConfig,
		CustomMiddleware: []fiber.Handler{collectorRateLimiter},
	}

	// Management API: account scoped, optionally behind an API key.
	accountConfig := &cartridge.RouteConfig{
		EnableCORS: true,
		CORSConfig: publicCORSConfig,
		CustomMiddleware: []fiber.Handler{
			apiRateLimiter,
			middleware.APIKeyAuth(cfg.APIKey, logger),
			middleware.AccountScope(logger),
		},
		EnableSecFetchSite: cartridge.Bool(false),
	}

	lookupConfig := &cartridge.RouteConfig{
		EnableCORS: true,
		CORSConfig: publicCORSConfig,
		CustomMiddleware: []fiber.Handler{
			apiRateLimiter,
			middleware.APIKeyAuth(cfg.APIKey, logger),
		},
		EnableSecFetchSite: cartridge.Bool(false),
	}

	preflight := func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}

	track := v1.NewTrackHandler(comps.Tracking)
	live := v1.NewLiveHandler(comps.Tracking, comps.Presence, comps.PresenceWindow())
	ipinfo := v1.NewIPInfoHandler(comps.GeoLookup)
	sdk := v1.NewSDKHandler(cfg.GetSessionTimeout())
	sites := http.NewWebsitesHandler(comps.Analytics, comps.WebsiteCascades(), comps.DefaultTimeZone())
	recentIPs := http.NewRecentIPHandler(comps.Sessions)
	health := http.NewHealthHandler(cfg.SessionStore, comps.GeoLite)

	// === HEALTH ===
	srv.Get("/_health", health.Show)
	srv.Head("/_health", health.Show)

	// === COLLECTOR ===
	srv.Get("/sdk.js", sdk.Script, sdkConfig)

	srv.Post("/api/track", track.Track, collectorConfig)
	srv.Options("/api/track", preflight, collectorConfig)

	srv.Post("/api/live", live.Record, collectorConfig)
	srv.Get("/api/live", live.Active, collectorConfig)
	srv.Options("/api/live", preflight, collectorConfig)

	// === MANAGEMENT API ===
	srv.Get("/api/website", sites.Index, accountConfig)
	srv.Post("/api/website", sites.Create, accountConfig)
	srv.Delete("/api/website/:websiteId", sites.Delete, accountConfig)
	srv.Options("/api/website", preflight, collectorConfig)
	srv.Options("/api/website/:websiteId", preflight, collectorConfig)

	srv.Get("/api/recentip", recentIPs.Index, accountConfig)
	srv.Options("/api/recentip", preflight, collectorConfig)

	srv.Get("/api/ipinfo", ipinfo.Show, lookupConfig)
	srv.Options("/api/ipinfo", preflight, collectorConfig)
}

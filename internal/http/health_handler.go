package http

import (
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	DBStatus     string    `json:"db_status"`
	SessionStore string    `json:"session_store"`
	GeoDatabase  bool      `json:"geo_database"`
}

// GeoDatabase reports whether a local geo database is loaded.
type GeoDatabase interface {
	Available() bool
}

// HealthHandler reports database connectivity and which backends are active.
type HealthHandler struct {
	sessionStore string
	geo          GeoDatabase
}

func NewHealthHandler(sessionStore string, geo GeoDatabase) *HealthHandler {
	return &HealthHandler{sessionStore: sessionStore, geo: geo}
}

// Show handles the health check endpoint
func (h *HealthHandler) Show(ctx *cartridge.Context) error {
	dbStatus := "ok"

	db := ctx.DBManager.GetConnection()
	if db == nil {
		dbStatus = "error"
		ctx.Logger.Error("Database connection unavailable")
	} else {
		sqlDB, err := db.DB()
		if err != nil {
			dbStatus = "error"
			ctx.Logger.Error("Database connection error", slog.Any("error", err))
		} else if err := sqlDB.Ping(); err != nil {
			dbStatus = "error"
			ctx.Logger.Error("Database ping failed", slog.Any("error", err))
		}
	}

	health := HealthStatus{
		Status:       "ok",
		Timestamp:    time.Now(),
		DBStatus:     dbStatus,
		SessionStore: h.sessionStore,
		GeoDatabase:  h.geo != nil && h.geo.Available(),
	}

	if dbStatus != "ok" {
		health.Status = "degraded"
	}

	return ctx.JSON(health)
}

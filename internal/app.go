// Package internal wires the webtrack services into a runnable application.
package internal

import (
	"fmt"

	"github.com/karloscodes/cartridge"

	"webtrack/internal/config"
	"webtrack/internal/database"
	"webtrack/internal/jobs"
)

// Application wraps cartridge.Application with webtrack-specific components
type Application struct {
	*cartridge.Application
	DBManager  *database.DBManager // webtrack DB manager with migration methods
	Components *Components
	Jobs       *jobs.Scheduler
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	comps := NewComponents(cfg, dbManager, logger)
	scheduler := comps.Scheduler()

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		RouteMountFunc: func(srv *cartridge.Server) {
			MountRoutes(srv, comps)
		},
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		comps.Close()
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Components:  comps,
		Jobs:        scheduler,
	}, nil
}

// main.go - Admin control tool for webtrack
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/karloscodes/cartridge/crypto"
	"golang.org/x/term"

	"webtrack/internal"
	"webtrack/internal/config"
	"webtrack/internal/jobs"
	"webtrack/internal/seeder"
	"webtrack/internal/sessions"
	"webtrack/internal/websites"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// NeedsApp reports whether the command requires the database and services
	NeedsApp() bool
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&MigrateCommand{},
	&CreateWebsiteCommand{},
	&SeedCommand{},
	&CleanupCommand{},
	&UpdateGeoLiteCommand{},
	&HashAPIKeyCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	var app *internal.Application
	if cmd.NeedsApp() {
		var err error
		app, err = internal.NewApp()
		if err != nil {
			log.Fatalf("Failed to initialize app: %v", err)
		}

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
			app.Components.Close()
		}()
	}

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }
func (c *MigrateCommand) NeedsApp() bool      { return true }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Println("Running database migrations...")

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// CreateWebsiteCommand registers a website for an account
type CreateWebsiteCommand struct{}

func (c *CreateWebsiteCommand) Name() string { return "create-website" }
func (c *CreateWebsiteCommand) Description() string {
	return "Registers a website: create-website <account-id> <domain> [time-zone]"
}
func (c *CreateWebsiteCommand) NeedsApp() bool { return true }

func (c *CreateWebsiteCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s <account-id> <domain> [time-zone]", c.Name())
	}

	website := &websites.Website{
		OwnerID:  args[0],
		Domain:   args[1],
		TimeZone: app.Components.DefaultTimeZone(),
	}
	if len(args) >= 3 {
		website.TimeZone = args[2]
	}

	created, err := websites.CreateWebsite(slog.Default(), app.DBManager.GetConnection(), website)
	if errors.Is(err, websites.ErrDomainExists) {
		log.Printf("Website %s already exists for %s", created.Domain, created.OwnerID)
		fmt.Println(created.WebsiteID)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Println(created.WebsiteID)
	return nil
}

// SeedCommand populates a website with synthetic visits
type SeedCommand struct{}

func (c *SeedCommand) Name() string { return "seed" }
func (c *SeedCommand) Description() string {
	return "Seeds a website with sample sessions: seed [-sessions N] [-days N] <website-id>"
}
func (c *SeedCommand) NeedsApp() bool { return true }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	count := fs.Int("sessions", 500, "number of sessions to generate")
	days := fs.Int("days", 30, "spread sessions over this many past days")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: %s [-sessions N] [-days N] <website-id>", c.Name())
	}

	website, err := websites.GetWebsiteOrNotFound(app.DBManager.GetConnection(), fs.Arg(0))
	if err != nil {
		return err
	}

	se := seeder.NewSeeder(app.Components.Tracking, slog.Default(), *count)
	se.Days = *days

	stats, err := se.SeedWebsite(ctx, website)
	if err != nil {
		return err
	}
	log.Printf("Seeded %d sessions (%d rejected)", stats.Sessions, stats.Rejected)
	return nil
}

// CleanupCommand deletes sessions past the retention period
type CleanupCommand struct{}

func (c *CleanupCommand) Name() string { return "cleanup" }
func (c *CleanupCommand) Description() string {
	return "Deletes sessions older than the retention period: cleanup [-days N]"
}
func (c *CleanupCommand) NeedsApp() bool { return true }

func (c *CleanupCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	days := fs.Int("days", config.GetConfig().SessionRetentionDays, "retention in days")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days <= 0 {
		return fmt.Errorf("retention is disabled; pass -days or set WEBTRACK_SESSION_RETENTION_DAYS")
	}

	return jobs.NewCleanupJob(app.Components.Sessions, slog.Default(), *days).Run(ctx)
}

// UpdateGeoLiteCommand downloads the GeoLite2 City database
type UpdateGeoLiteCommand struct{}

func (c *UpdateGeoLiteCommand) Name() string { return "update-geolite" }
func (c *UpdateGeoLiteCommand) Description() string {
	return "Downloads the GeoLite2 City database when it is missing or stale"
}
func (c *UpdateGeoLiteCommand) NeedsApp() bool { return true }

func (c *UpdateGeoLiteCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	cfg := config.GetConfig()
	updater := jobs.NewGeoLiteUpdaterJob(slog.Default(), cfg.MaxMindLicenseKey, cfg.GeoLiteDownloadURL, cfg.GeoDBPath, app.Components.ReloadGeoDatabase)
	if !updater.IsConfigured() {
		return fmt.Errorf("no MaxMind license key; set WEBTRACK_MAXMIND_LICENSE_KEY")
	}
	if err := updater.Run(ctx); err != nil {
		return err
	}

	if last := updater.LastUpdate(); !last.IsZero() {
		log.Printf("GeoLite database at %s updated %s", cfg.GeoDBPath, last.Format(time.RFC3339))
	}
	return nil
}

// HashAPIKeyCommand prints a bcrypt hash to use as WEBTRACK_API_KEY
type HashAPIKeyCommand struct{}

func (c *HashAPIKeyCommand) Name() string { return "hash-api-key" }
func (c *HashAPIKeyCommand) Description() string {
	return "Prompts for an API key and prints its hash for WEBTRACK_API_KEY"
}
func (c *HashAPIKeyCommand) NeedsApp() bool { return false }

func (c *HashAPIKeyCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	var key string
	for {
		fmt.Fprint(os.Stderr, "Enter API key (minimum 16 characters): ")
		keyBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		key = strings.TrimSpace(string(keyBytes))
		if len(key) < 16 {
			fmt.Fprintln(os.Stderr, "Error: API key must be at least 16 characters")
			continue
		}

		fmt.Fprint(os.Stderr, "Confirm API key: ")
		confirmBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		if key != strings.TrimSpace(string(confirmBytes)) {
			fmt.Fprintln(os.Stderr, "Error: Keys do not match. Please try again.")
			continue
		}
		break
	}

	hash, err := crypto.GeneratePasswordHash(key)
	if err != nil {
		return fmt.Errorf("failed to hash key: %w", err)
	}
	fmt.Println(string(hash))
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }
func (c *StatusCommand) NeedsApp() bool      { return true }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db := app.DBManager.GetConnection()
	cfg := config.GetConfig()

	sites, err := websites.GetAllWebsites(db)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	var sessionCount int64
	if err := db.Model(&sessions.Session{}).Count(&sessionCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Websites: %d", len(sites))
	for _, site := range sites {
		log.Printf("    %s  %s  (%s, owner %s)", site.WebsiteID, site.Domain, site.TimeZone, site.OwnerID)
	}
	log.Printf("- Stored sessions: %d", sessionCount)
	log.Printf("- Session store: %s", cfg.SessionStore)
	log.Printf("- GeoLite database loaded: %t", app.Components.GeoLite.Available())
	log.Printf("- API key configured: %t", cfg.APIKey != "")

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)
	log.Printf("- In Use: %d", sqlDB.Stats().InUse)
	log.Printf("- Idle: %d", sqlDB.Stats().Idle)

	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }
func (c *HelpCommand) NeedsApp() bool      { return false }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: webtrackctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}

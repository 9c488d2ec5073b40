package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"webtrack/internal"
	"webtrack/internal/config"
	"webtrack/internal/database"
	"webtrack/internal/sessions"
	"webtrack/internal/websites"
)

// TestOwnerID is the account used by helpers that create websites.
const TestOwnerID = "owner-test"

func init() {
	// Packages importing testsupport always run against the test environment.
	if os.Getenv("WEBTRACK_ENV") == "" {
		os.Setenv("WEBTRACK_ENV", "test")
		config.Reset()
	}
	// Geo lookups must never leave the machine during tests.
	if os.Getenv("WEBTRACK_GEO_LOOKUP_URL") == "" {
		os.Setenv("WEBTRACK_GEO_LOOKUP_URL", "http://127.0.0.1:9/json/")
		config.Reset()
	}
}

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// allModels returns all models for migration
func allModels() []any {
	return database.Models()
}

// SetupTestDB creates a test database with all models migrated.
// Uses a named in-memory database with cache=shared to allow multiple connections
// to share the same database within a test. Caches the database by test name
// so multiple calls within the same test return the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()

	// Use root test name for caching to handle closure issues where
	// setup functions capture the outer t while t.Run has subtest t
	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	cfg := config.GetConfig()

	// SAFETY CHECK: Ensure we're in test environment
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set WEBTRACK_ENV=test", cfg.Environment)
	}

	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// SetupTestDBManagerWithWebsite creates a test database manager with a test website
func SetupTestDBManagerWithWebsite(t *testing.T, domain string) (*TestDBManager, *slog.Logger, websites.Website) {
	dbManager, logger := SetupTestDBManager(t)
	website := CreateTestWebsite(t, dbManager.GetConnection(), domain)
	return dbManager, logger, website
}

// CleanAllTables clears all non-system tables in the database
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)

	if len(tableNames) == 0 {
		return
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tableNames {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// CreateTestWebsite creates a UTC website owned by TestOwnerID, or returns the existing one.
func CreateTestWebsite(t *testing.T, db *gorm.DB, domain string) websites.Website {
	return CreateTestWebsiteWith(t, db, websites.Website{Domain: domain, TimeZone: "UTC"})
}

// CreateTestWebsiteWith inserts the given website, filling in the owner when empty.
func CreateTestWebsiteWith(t *testing.T, db *gorm.DB, website websites.Website) websites.Website {
	t.Helper()

	if website.OwnerID == "" {
		website.OwnerID = TestOwnerID
	}
	created, err := websites.CreateWebsite(GetLogger(), db, &website)
	if err != nil && err != websites.ErrDomainExists {
		require.NoError(t, err)
	}
	return *created
}

// CreateTestSession inserts a session row as-is, bypassing ingestion.
func CreateTestSession(t *testing.T, db *gorm.DB, session sessions.Session) sessions.Session {
	t.Helper()
	require.NoError(t, db.Create(&session).Error)
	return session
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CreateMinimalTestApp creates a test Fiber app with all routes
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager
	// Collector and API calls come from other origins and from server-side scripts.
	cfg.EnableSecFetchSite = false

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}

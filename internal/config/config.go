// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

// Session store backends
const (
	SessionStoreSQLite = "sqlite"
	SessionStoreMemory = "memory"
)

// Built-in fallbacks used by the typed resolution helpers below.
const (
	DefaultPresenceWindow   = 30 * time.Second
	DefaultGeoLookupTimeout = 1500 * time.Millisecond
	DefaultGeoCacheTTL      = 10 * time.Minute
	DefaultTimeZone         = "UTC"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName               string   `mapstructure:"appname"`
	AppPort               string   `mapstructure:"appport"`
	Environment           string   `mapstructure:"environment"`
	LogLevel              LogLevel `mapstructure:"loglevel"`
	PrivateKey            string   `mapstructure:"privatekey"`
	SessionTimeoutSeconds int      `mapstructure:"sessiontimeoutseconds"`
	Domain                string   `mapstructure:"domain"`
	APIKey                string   `mapstructure:"apikey"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	GeoDBPath             string `mapstructure:"geodbpath"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`
	SessionStore         string `mapstructure:"sessionstore"`

	// Geo lookup settings
	GeoLookupURL       string `mapstructure:"geolookupurl"`
	GeoLookupTimeoutMs int    `mapstructure:"geolookuptimeoutms"`
	GeoCacheTTLSeconds int    `mapstructure:"geocachettlseconds"`
	MaxMindLicenseKey  string `mapstructure:"maxmindlicensekey"`
	GeoLiteDownloadURL string `mapstructure:"geolitedownloadurl"`

	// Analytics settings
	PresenceWindowMs int    `mapstructure:"presencewindowms"`
	DefaultTimeZone  string `mapstructure:"defaulttimezone"`

	// Job scheduling settings
	JobIntervalSeconds int `mapstructure:"jobintervalseconds"`

	// Data retention settings (0 keeps sessions forever)
	SessionRetentionDays int `mapstructure:"sessionretentiondays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "webtrack")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", "88888888888888888888888888888888")
		v.SetDefault("sessiontimeoutseconds", 36000)
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("publicdir", "public")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("sessionstore", SessionStoreSQLite)
		v.SetDefault("geolookupurl", "http://ip-api.com/json/")
		v.SetDefault("geolookuptimeoutms", 0)
		v.SetDefault("geocachettlseconds", 0)
		v.SetDefault("geolitedownloadurl", "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City&license_key=%s&suffix=tar.gz")
		v.SetDefault("presencewindowms", 0)
		v.SetDefault("defaulttimezone", "")
		v.SetDefault("jobintervalseconds", 3600)
		v.SetDefault("sessionretentiondays", 0)

		v.BindEnv("appname", "WEBTRACK_APP_NAME")
		v.BindEnv("appport", "WEBTRACK_APP_PORT")
		v.BindEnv("environment", "WEBTRACK_ENV")
		v.BindEnv("loglevel", "WEBTRACK_LOG_LEVEL")
		v.BindEnv("privatekey", "WEBTRACK_PRIVATE_KEY")
		v.BindEnv("sessiontimeoutseconds", "WEBTRACK_SESSION_TIMEOUT_SECONDS")
		v.BindEnv("domain", "WEBTRACK_DOMAIN")
		v.BindEnv("apikey", "WEBTRACK_API_KEY")
		v.BindEnv("storagepath", "WEBTRACK_STORAGE_PATH")
		v.BindEnv("geodbpath", "WEBTRACK_GEO_DB_PATH")
		v.BindEnv("publicdir", "WEBTRACK_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "WEBTRACK_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "WEBTRACK_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "WEBTRACK_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "WEBTRACK_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "WEBTRACK_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "WEBTRACK_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "WEBTRACK_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "WEBTRACK_DB_MAX_IDLE_CONNS")
		v.BindEnv("sessionstore", "WEBTRACK_SESSION_STORE")
		v.BindEnv("geolookupurl", "WEBTRACK_GEO_LOOKUP_URL")
		v.BindEnv("geolookuptimeoutms", "WEBTRACK_GEO_LOOKUP_TIMEOUT_MS")
		v.BindEnv("geocachettlseconds", "WEBTRACK_GEO_CACHE_TTL_SECONDS")
		v.BindEnv("maxmindlicensekey", "WEBTRACK_MAXMIND_LICENSE_KEY")
		v.BindEnv("geolitedownloadurl", "WEBTRACK_GEOLITE_DOWNLOAD_URL")
		v.BindEnv("presencewindowms", "WEBTRACK_PRESENCE_WINDOW_MS")
		v.BindEnv("defaulttimezone", "WEBTRACK_DEFAULT_TIME_ZONE")
		v.BindEnv("jobintervalseconds", "WEBTRACK_JOB_INTERVAL_SECONDS")
		v.BindEnv("sessionretentiondays", "WEBTRACK_SESSION_RETENTION_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()

		defaultKey := "88888888888888888888888888888888"
		if cfg.PrivateKey == "" {
			log.Fatal("Private key is required")
		}
		if cfg.IsProduction() && cfg.PrivateKey == defaultKey {
			log.Fatal("Production requires a unique WEBTRACK_PRIVATE_KEY (cannot use default)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	validStores := map[string]bool{
		SessionStoreSQLite: true,
		SessionStoreMemory: true,
	}
	if !validStores[c.SessionStore] {
		return fmt.Errorf("invalid session store: %s", c.SessionStore)
	}

	if c.SessionRetentionDays < 0 {
		return fmt.Errorf("session retention days must not be negative: %d", c.SessionRetentionDays)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetSessionTimeout returns how long, in seconds, the collector keeps a visitor id
// before starting a new visit.
func (c *Config) GetSessionTimeout() int {
	return c.SessionTimeoutSeconds
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1
// - Development/Production: 10 (concurrent dashboard reads while ingestion writes)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetPresenceWindow resolves the live-presence window.
// Precedence: explicit positive PresenceWindowMs, then DefaultPresenceWindow.
func (c *Config) GetPresenceWindow() time.Duration {
	if c.PresenceWindowMs > 0 {
		return time.Duration(c.PresenceWindowMs) * time.Millisecond
	}
	return DefaultPresenceWindow
}

// GetGeoLookupTimeout resolves the upper bound for a single geo lookup.
// Precedence: explicit positive GeoLookupTimeoutMs, then 200ms in test, then
// DefaultGeoLookupTimeout.
func (c *Config) GetGeoLookupTimeout() time.Duration {
	if c.GeoLookupTimeoutMs > 0 {
		return time.Duration(c.GeoLookupTimeoutMs) * time.Millisecond
	}
	if c.IsTest() {
		return 200 * time.Millisecond
	}
	return DefaultGeoLookupTimeout
}

// GetGeoCacheTTL resolves how long a resolved IP location is memoized.
// Precedence: explicit positive GeoCacheTTLSeconds, then DefaultGeoCacheTTL.
func (c *Config) GetGeoCacheTTL() time.Duration {
	if c.GeoCacheTTLSeconds > 0 {
		return time.Duration(c.GeoCacheTTLSeconds) * time.Second
	}
	return DefaultGeoCacheTTL
}

// GetDefaultTimeZone resolves the zone used for websites registered without one.
// Precedence: DefaultTimeZone setting, then UTC.
func (c *Config) GetDefaultTimeZone() string {
	if c.DefaultTimeZone != "" {
		return c.DefaultTimeZone
	}
	return DefaultTimeZone
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}

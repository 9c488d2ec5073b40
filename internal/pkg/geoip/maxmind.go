package geoip

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// MaxMindResolver reads a GeoLite2-City database from disk. A missing or
// unreadable database leaves the resolver answering Unknown.
type MaxMindResolver struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	reader *geoip2.Reader
}

// NewMaxMindResolver opens the database at path. GeoIP is optional, so a
// missing file is logged and not returned as an error.
func NewMaxMindResolver(path string, logger *slog.Logger) *MaxMindResolver {
	r := &MaxMindResolver{path: path, logger: logger}
	r.reader = r.open()
	return r
}

func (r *MaxMindResolver) open() *geoip2.Reader {
	if r.path == "" {
		r.logger.Debug("GeoIP database path not configured - GeoIP features disabled")
		return nil
	}

	info, err := os.Stat(r.path)
	if os.IsNotExist(err) {
		r.logger.Info("GeoLite2 database not found - GeoIP features disabled",
			slog.String("path", r.path),
			slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		return nil
	} else if err != nil {
		r.logger.Warn("Error checking GeoLite2 database file",
			slog.String("path", r.path),
			slog.Any("error", err))
		return nil
	}

	reader, err := geoip2.Open(r.path)
	if err != nil {
		r.logger.Error("Failed to open GeoLite2 database",
			slog.String("path", r.path),
			slog.Any("error", err))
		return nil
	}

	r.logger.Info("GeoLite2 database initialized successfully",
		slog.String("path", r.path),
		slog.Int64("size_bytes", info.Size()))
	return reader
}

// Available reports whether a database is loaded.
func (r *MaxMindResolver) Available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reader != nil
}

// Reload reopens the database from disk, e.g. after the updater job replaced it.
func (r *MaxMindResolver) Reload() {
	reader := r.open()

	r.mu.Lock()
	old := r.reader
	r.reader = reader
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if reader != nil {
		r.logger.Info("GeoLite2 database reloaded successfully")
	}
}

// Close releases the database.
func (r *MaxMindResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader == nil {
		return nil
	}
	err := r.reader.Close()
	r.reader = nil
	return err
}

func (r *MaxMindResolver) Lookup(_ context.Context, ip string) Location {
	if !IsPublicIP(ip) {
		return Unknown
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.reader == nil {
		return Unknown
	}

	record, err := r.reader.City(net.ParseIP(ip))
	if err != nil {
		r.logger.Debug("GeoLite2 lookup failed", slog.String("ip", ip), slog.Any("error", err))
		return Unknown
	}
	if record.Country.IsoCode == "" || record.Country.IsoCode == "--" {
		return Unknown
	}

	loc := Location{
		Country:     record.Country.Names["en"],
		CountryCode: record.Country.IsoCode,
		City:        record.City.Names["en"],
		Lat:         formatCoordinate(record.Location.Latitude),
		Lon:         formatCoordinate(record.Location.Longitude),
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}
	return complete(loc)
}

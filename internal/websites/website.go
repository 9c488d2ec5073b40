package websites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"webtrack/internal/timeframe"
)

// ErrDomainExists is returned when the owner already registered the domain.
var ErrDomainExists = errors.New("domain already exists")

// ErrInvalidTimeZone is returned when a website is created with an unknown zone.
var ErrInvalidTimeZone = errors.New("invalid time zone")

// WebsiteNotFoundError represents an error when a website is not found
type WebsiteNotFoundError struct {
	WebsiteID string
}

func (e *WebsiteNotFoundError) Error() string {
	return fmt.Sprintf("website not found: %s", e.WebsiteID)
}

// NewWebsiteNotFoundError creates a new WebsiteNotFoundError
func NewWebsiteNotFoundError(websiteID string) *WebsiteNotFoundError {
	return &WebsiteNotFoundError{WebsiteID: websiteID}
}

// Website represents a tracked website
type Website struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	WebsiteID      string    `gorm:"uniqueIndex;not null" json:"websiteId"`
	OwnerID        string    `gorm:"not null;uniqueIndex:idx_websites_owner_domain,priority:1" json:"ownerId"`
	Domain         string    `gorm:"not null;uniqueIndex:idx_websites_owner_domain,priority:2" json:"domain"`
	TimeZone       string    `gorm:"not null" json:"timeZone"`
	TrackLocalhost bool      `gorm:"not null;default:false" json:"enableLocalhostTracking"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Cascade removes data that belongs to a website being deleted.
type Cascade func(ctx context.Context, websiteID string) (int64, error)

// GetWebsiteOrNotFound retrieves a website by its public identifier.
func GetWebsiteOrNotFound(db *gorm.DB, websiteID string) (*Website, error) {
	var website Website
	if err := db.Where("website_id = ?", websiteID).First(&website).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewWebsiteNotFoundError(websiteID)
		}
		return nil, fmt.Errorf("unexpected error querying website: %w", err)
	}
	return &website, nil
}

// ListByOwner returns the owner's websites, newest first. A non-empty
// websiteID narrows the list to that one site.
func ListByOwner(db *gorm.DB, ownerID, websiteID string) ([]Website, error) {
	query := db.Where("owner_id = ?", ownerID)
	if websiteID != "" {
		query = query.Where("website_id = ?", websiteID)
	}

	var websites []Website
	if err := query.Order("id DESC").Find(&websites).Error; err != nil {
		return nil, fmt.Errorf("failed to get websites: %w", err)
	}
	return websites, nil
}

// GetAllWebsites retrieves all websites
func GetAllWebsites(db *gorm.DB) ([]Website, error) {
	var websites []Website
	if err := db.Order("id ASC").Find(&websites).Error; err != nil {
		return nil, fmt.Errorf("failed to get websites: %w", err)
	}
	return websites, nil
}

// CreateWebsite registers a website for its owner. When the owner already has
// the domain, the existing record is returned along with ErrDomainExists.
func CreateWebsite(logger *slog.Logger, db *gorm.DB, website *Website) (*Website, error) {
	website.Domain = NormalizeDomain(website.Domain)
	if website.Domain == "" {
		return nil, fmt.Errorf("domain is required")
	}
	if website.TimeZone != "" && !timeframe.IsValidTimeZone(website.TimeZone) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimeZone, website.TimeZone)
	}
	if website.WebsiteID == "" {
		website.WebsiteID = uuid.NewString()
	}
	website.CreatedAt = time.Now().UTC()

	var existing Website
	found := false
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		err := tx.Where("owner_id = ? AND domain = ?", website.OwnerID, website.Domain).First(&existing).Error
		if err == nil {
			found = true
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(website).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create website: %w", err)
	}
	if found {
		return &existing, ErrDomainExists
	}
	return website, nil
}

// DeleteWebsite removes an owner's website after running every cascade.
// Cascades run first so a failure leaves the website in place for a retry.
func DeleteWebsite(ctx context.Context, logger *slog.Logger, db *gorm.DB, ownerID, websiteID string, cascades ...Cascade) error {
	var website Website
	if err := db.WithContext(ctx).Where("owner_id = ? AND website_id = ?", ownerID, websiteID).First(&website).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NewWebsiteNotFoundError(websiteID)
		}
		return fmt.Errorf("unexpected error querying website: %w", err)
	}

	for _, cascade := range cascades {
		removed, err := cascade(ctx, websiteID)
		if err != nil {
			return fmt.Errorf("failed to cascade delete for website %s: %w", websiteID, err)
		}
		logger.Debug("Cascade delete", slog.String("website_id", websiteID), slog.Int64("removed", removed))
	}

	return sqlite.PerformWrite(logger, db.WithContext(ctx), func(tx *gorm.DB) error {
		return tx.Delete(&Website{}, website.ID).Error
	})
}

// ResolveTimeZone picks the zone used to bucket a website's traffic: the
// website's own zone when valid, then the configured default when valid, then UTC.
// Every substitution of a zone that was set but invalid is logged.
func ResolveTimeZone(logger *slog.Logger, website *Website, defaultTimeZone string) string {
	if website != nil && website.TimeZone != "" {
		if timeframe.IsValidTimeZone(website.TimeZone) {
			return website.TimeZone
		}
		logger.Warn("Invalid website time zone, using fallback",
			slog.String("website_id", website.WebsiteID),
			slog.String("time_zone", website.TimeZone),
			slog.String("fallback", fallbackTimeZone(defaultTimeZone)))
	}
	if defaultTimeZone != "" && !timeframe.IsValidTimeZone(defaultTimeZone) {
		logger.Warn("Invalid default time zone, using UTC",
			slog.String("time_zone", defaultTimeZone),
			slog.String("fallback", "UTC"))
	}
	return fallbackTimeZone(defaultTimeZone)
}

func fallbackTimeZone(defaultTimeZone string) string {
	if timeframe.IsValidTimeZone(defaultTimeZone) {
		return defaultTimeZone
	}
	return "UTC"
}

// NormalizeDomain lowercases a domain and drops any scheme, path, port,
// trailing dot and leading "www.".
func NormalizeDomain(raw string) string {
	domain := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(domain, "://"); i >= 0 {
		domain = domain[i+3:]
	}
	if i := strings.IndexAny(domain, "/?#"); i >= 0 {
		domain = domain[:i]
	}
	if host, _, err := net.SplitHostPort(domain); err == nil {
		domain = host
	}
	domain = strings.TrimSuffix(domain, ".")
	return strings.TrimPrefix(domain, "www.")
}

// IsLocalhost reports whether a host (optionally with port) is a loopback name or address.
func IsLocalhost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsUnspecified()
	}
	return false
}

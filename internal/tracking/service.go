// Package tracking ingests collector events: it validates them, enriches them
// with device and location data and writes sessions and presence.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/karloscodes/cartridge"

	"webtrack/internal/events"
	"webtrack/internal/pkg/geoip"
	"webtrack/internal/pkg/user_agent"
	"webtrack/internal/presence"
	"webtrack/internal/sessions"
	"webtrack/internal/websites"
)

// ErrUnknownWebsite is returned for events naming a website that is not registered.
var ErrUnknownWebsite = errors.New("unknown website")

// ErrLocalhostIgnored is returned for localhost traffic to a website that did
// not opt into it. Nothing is written.
var ErrLocalhostIgnored = errors.New("localhost tracking disabled for website")

// RequestMeta is what the transport knows about the sender of an event.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Service is the ingestion pipeline shared by the track and live endpoints.
type Service struct {
	dbManager  cartridge.DBManager
	sessions   sessions.Store
	presence   presence.Tracker
	geo        geoip.Resolver
	normalizer *events.Normalizer
	geoTimeout time.Duration
	logger     *slog.Logger
}

// Options configures a Service. Zero values pick defaults.
type Options struct {
	Clock      events.Clock
	GeoTimeout time.Duration
}

func NewService(dbManager cartridge.DBManager, store sessions.Store, tracker presence.Tracker, geo geoip.Resolver, logger *slog.Logger, opts Options) *Service {
	if opts.GeoTimeout <= 0 {
		opts.GeoTimeout = 1500 * time.Millisecond
	}
	return &Service{
		dbManager:  dbManager,
		sessions:   store,
		presence:   tracker,
		geo:        geo,
		normalizer: events.NewNormalizer(opts.Clock),
		geoTimeout: opts.GeoTimeout,
		logger:     logger,
	}
}

// Track processes a single event.
func (s *Service) Track(ctx context.Context, raw events.RawEvent, meta RequestMeta) error {
	ev, err := s.normalizer.Normalize(raw)
	if err != nil {
		return err
	}

	website, err := websites.GetWebsiteOrNotFound(s.dbManager.GetConnection().WithContext(ctx), ev.WebsiteID)
	if err != nil {
		var notFound *websites.WebsiteNotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("%w: %s", ErrUnknownWebsite, ev.WebsiteID)
		}
		return err
	}

	if !website.TrackLocalhost && isLocalTraffic(ev) {
		s.logger.Debug("Ignoring localhost event",
			slog.String("website_id", ev.WebsiteID),
			slog.String("domain", ev.Domain))
		return ErrLocalhostIgnored
	}

	device, os, browser := user_agent.Classify(meta.UserAgent)
	loc := s.lookup(ctx, meta.IP)

	switch ev.Type {
	case events.EventTypeEntry:
		session := sessions.FromEvent(ev)
		session.Device = device
		session.OS = os
		session.Browser = browser
		session.IP = meta.IP
		session.Country = loc.Country
		session.CountryCode = loc.CountryCode
		session.Region = loc.Region
		session.City = loc.City
		session.Lat = loc.Lat
		session.Lon = loc.Lon
		if err := s.sessions.Create(ctx, session); err != nil {
			return fmt.Errorf("failed to record entry: %w", err)
		}

	case events.EventTypeExit:
		closed, err := s.sessions.Close(ctx, ev.VisitorID, ev.WebsiteID, sessions.ExitFields{
			ExitTimeMs:        ev.ExitTimeMs,
			TotalActiveTimeMs: ev.TotalActiveTimeMs,
			ExitURL:           ev.ExitURL,
		})
		if err != nil {
			return fmt.Errorf("failed to record exit: %w", err)
		}
		if !closed {
			s.logger.Debug("Exit without open session",
				slog.String("website_id", ev.WebsiteID),
				slog.String("visitor_id", ev.VisitorID))
		}
	}

	err = s.presence.Heartbeat(ctx, presence.Entry{
		VisitorID:   ev.VisitorID,
		WebsiteID:   ev.WebsiteID,
		LastSeenMs:  ev.OccurredAtMs,
		Country:     loc.Country,
		CountryCode: loc.CountryCode,
		Region:      loc.Region,
		City:        loc.City,
		Lat:         loc.Lat,
		Lon:         loc.Lon,
		Device:      device,
		OS:          os,
		Browser:     browser,
	})
	if err != nil {
		if ev.Type == events.EventTypePing {
			return fmt.Errorf("failed to record heartbeat: %w", err)
		}
		// The session write already succeeded; presence catches up on the next ping.
		s.logger.Warn("Failed to record presence",
			slog.String("website_id", ev.WebsiteID),
			slog.String("visitor_id", ev.VisitorID),
			slog.Any("error", err))
	}

	return nil
}

// TrackBatch processes events independently. The result has one entry per
// event, nil for the ones that were recorded.
func (s *Service) TrackBatch(ctx context.Context, raws []events.RawEvent, meta RequestMeta) []error {
	errs := make([]error, len(raws))
	for i, raw := range raws {
		errs[i] = s.Track(ctx, raw, meta)
	}
	return errs
}

// lookup resolves ip within the service's geo timeout.
func (s *Service) lookup(ctx context.Context, ip string) geoip.Location {
	if s.geo == nil {
		return geoip.Unknown
	}
	ctx, cancel := context.WithTimeout(ctx, s.geoTimeout)
	defer cancel()
	return s.geo.Lookup(ctx, ip)
}

func isLocalTraffic(ev *events.TrackedEvent) bool {
	if ev.Domain != "" && websites.IsLocalhost(hostOf(ev.Domain)) {
		return true
	}
	return ev.URL != "" && websites.IsLocalhost(hostOf(ev.URL))
}

// hostOf extracts the host from a URL or a bare domain.
func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return websites.NormalizeDomain(raw)
}

// Package geoip resolves visitor IP addresses to a coarse location.
//
// Resolvers never fail: anything that cannot be resolved comes back as
// Unknown so ingestion can carry on without geo data.
package geoip

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/pariz/gountries"

	"webtrack/internal/events"
)

// ErrUpstreamUnavailable is returned when the lookup service cannot be reached
// or answers with something other than 200.
var ErrUpstreamUnavailable = errors.New("geo lookup service unavailable")

// LookupFailedError is the lookup service's own refusal, e.g. "invalid query".
type LookupFailedError struct {
	Message string
}

func (e *LookupFailedError) Error() string {
	return "geo lookup failed: " + e.Message
}

// Location is where an IP address is, as far as a resolver knows.
type Location struct {
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	Region      string `json:"region"`
	City        string `json:"city"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// Unknown is the location of anything a resolver cannot place.
var Unknown = Location{
	Country: events.UnknownCountry,
	Region:  events.UnknownRegion,
	City:    events.UnknownCity,
	Lat:     events.UnknownLocation,
	Lon:     events.UnknownLocation,
}

// IsKnown reports whether the location names a country.
func (l Location) IsKnown() bool {
	return l.CountryCode != "" || (l.Country != "" && l.Country != events.UnknownCountry)
}

// Resolver looks up the location of an IP address.
type Resolver interface {
	Lookup(ctx context.Context, ip string) Location
}

// IsPublicIP reports whether ip is a routable address worth looking up.
func IsPublicIP(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	return !(parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() ||
		parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast() || parsed.IsMulticast())
}

var countries = gountries.New()

// complete fills blanks with the Unknown values and derives the country name
// from its ISO code when the provider left it out.
func complete(loc Location) Location {
	loc.CountryCode = strings.ToUpper(strings.TrimSpace(loc.CountryCode))
	if loc.Country == "" && loc.CountryCode != "" {
		if country, err := countries.FindCountryByAlpha(loc.CountryCode); err == nil {
			loc.Country = country.Name.Common
		}
	}
	if loc.Country == "" {
		loc.Country = events.UnknownCountry
	}
	if loc.Region == "" {
		loc.Region = events.UnknownRegion
	}
	if loc.City == "" {
		loc.City = events.UnknownCity
	}
	if loc.Lat == "" {
		loc.Lat = events.UnknownLocation
	}
	if loc.Lon == "" {
		loc.Lon = events.UnknownLocation
	}
	return loc
}

func formatCoordinate(v float64) string {
	if v == 0 {
		return events.UnknownLocation
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

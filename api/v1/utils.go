package v1

import (
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"

	"webtrack/internal/pkg/geoip"
)

// proxyHeaders are searched in order for the visitor's address.
var proxyHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
	"Forwarded",
}

// clientIP returns the address recorded on sessions and used for geo lookup.
// The first public address in the proxy headers wins, then the peer address.
// When nothing public is seen the first address found is kept, so local
// traffic still shows up as such.
func clientIP(c *fiber.Ctx) string {
	var fallback string
	for _, header := range proxyHeaders {
		value := c.Get(header)
		if value == "" {
			continue
		}
		for _, candidate := range headerAddresses(header, value) {
			ip := cleanIP(candidate)
			if ip == "" {
				continue
			}
			if geoip.IsPublicIP(ip) {
				return ip
			}
			if fallback == "" {
				fallback = ip
			}
		}
	}

	if peer := cleanIP(c.IP()); peer != "" && (fallback == "" || geoip.IsPublicIP(peer)) {
		return peer
	}
	return fallback
}

// headerAddresses splits a header value into address candidates.
func headerAddresses(header, value string) []string {
	if header != "Forwarded" {
		return strings.Split(value, ",")
	}

	// RFC 7239: for=192.0.2.60;proto=http, for="[2001:db8::1]:4711"
	var candidates []string
	for _, element := range strings.Split(value, ",") {
		for _, pair := range strings.Split(element, ";") {
			key, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if ok && strings.EqualFold(key, "for") {
				candidates = append(candidates, val)
			}
		}
	}
	return candidates
}

// cleanIP canonicalizes one address as sent by a proxy: quotes, ports,
// brackets and zones are dropped and IPv4-mapped IPv6 is unmapped. Anything
// that is not an address, or is unspecified, yields "".
func cleanIP(raw string) string {
	s := strings.Trim(strings.TrimSpace(raw), `"`)
	if s == "" {
		return ""
	}

	var addr netip.Addr
	if addrPort, err := netip.ParseAddrPort(s); err == nil {
		addr = addrPort.Addr()
	} else if parsed, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")); err == nil {
		addr = parsed
	} else {
		return ""
	}

	addr = addr.WithZone("").Unmap()
	if addr.IsUnspecified() {
		return ""
	}
	return addr.String()
}

// generateETag creates a strong ETag from content using SHA-256
func generateETag(content []byte) string {
	hash := sha256.Sum256(content)
	return `"` + hex.EncodeToString(hash[:]) + `"`
}

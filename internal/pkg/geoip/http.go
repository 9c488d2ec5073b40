package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DetailFields is the field list requested for the IP details view.
const DetailFields = "status,message,continent,continentCode,country,countryCode,region,regionName,city,district,zip,lat,lon,timezone,query"

// HTTPResolver queries an ip-api.com compatible JSON endpoint.
type HTTPResolver struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPResolver creates a resolver for baseURL, e.g. "http://ip-api.com/json/".
// Each lookup is bounded by timeout.
func NewHTTPResolver(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPResolver {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &HTTPResolver{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger,
	}
}

type ipAPIResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

func (r *HTTPResolver) Lookup(ctx context.Context, ip string) Location {
	if !IsPublicIP(ip) {
		return Unknown
	}

	var resp ipAPIResponse
	if err := r.fetch(ctx, ip, "", &resp); err != nil {
		r.logger.Debug("Geo lookup unavailable", slog.String("ip", ip), slog.Any("error", err))
		return Unknown
	}
	if resp.Status == "fail" {
		r.logger.Debug("Geo lookup refused", slog.String("ip", ip), slog.String("message", resp.Message))
		return Unknown
	}

	return complete(Location{
		Country:     resp.Country,
		CountryCode: resp.CountryCode,
		Region:      resp.RegionName,
		City:        resp.City,
		Lat:         formatCoordinate(resp.Lat),
		Lon:         formatCoordinate(resp.Lon),
	})
}

// Details returns the lookup service's full answer for ip, as sent. A
// "fail" status is reported as *LookupFailedError.
func (r *HTTPResolver) Details(ctx context.Context, ip string) (map[string]any, error) {
	var body map[string]any
	if err := r.fetch(ctx, ip, DetailFields, &body); err != nil {
		return nil, err
	}
	if status, _ := body["status"].(string); status == "fail" {
		message, _ := body["message"].(string)
		if message == "" {
			message = "Lookup failed"
		}
		return nil, &LookupFailedError{Message: message}
	}
	return body, nil
}

func (r *HTTPResolver) fetch(ctx context.Context, ip, fields string, out any) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	endpoint := r.baseURL + url.PathEscape(strings.TrimSpace(ip))
	if fields != "" {
		endpoint += "?fields=" + fields
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build geo request: %w", err)
	}
	res, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: invalid response: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

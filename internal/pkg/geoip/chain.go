package geoip

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/cache"
)

// ChainResolver asks each resolver in turn and keeps the first known location.
type ChainResolver struct {
	resolvers []Resolver
}

func NewChainResolver(resolvers ...Resolver) *ChainResolver {
	return &ChainResolver{resolvers: resolvers}
}

func (c *ChainResolver) Lookup(ctx context.Context, ip string) Location {
	if !IsPublicIP(ip) {
		return Unknown
	}
	for _, r := range c.resolvers {
		if ctx.Err() != nil {
			break
		}
		if loc := r.Lookup(ctx, ip); loc.IsKnown() {
			return loc
		}
	}
	return Unknown
}

// MaxNegativeTTL bounds how long an unresolved IP is remembered.
const MaxNegativeTTL = time.Minute

// CachedResolver memoizes locations per IP. Known locations live for the
// configured ttl; unknown ones for at most MaxNegativeTTL so a struggling
// upstream is not asked again on every event while a recovered one is
// retried soon. The upstream lookup runs outside the cache lock with the
// caller's context.
type CachedResolver struct {
	next        Resolver
	store       *cache.MemoryStore
	ttl         time.Duration
	negativeTTL time.Duration
	logger      *slog.Logger
}

// NewCachedResolver wraps next with a ttl-bound cache.
func NewCachedResolver(next Resolver, ttl time.Duration, logger *slog.Logger) *CachedResolver {
	negativeTTL := min(ttl, MaxNegativeTTL)
	return &CachedResolver{
		next:        next,
		store:       cache.NewMemoryStore(cache.WithTTL(ttl), cache.WithMaxEntries(100_000)),
		ttl:         ttl,
		negativeTTL: negativeTTL,
		logger:      logger,
	}
}

func (c *CachedResolver) Lookup(ctx context.Context, ip string) Location {
	if !IsPublicIP(ip) {
		return Unknown
	}

	if raw, ok := c.store.Read(ctx, ip); ok {
		var loc Location
		if err := json.Unmarshal(raw, &loc); err == nil {
			return loc
		}
	}

	loc := c.next.Lookup(ctx, ip)

	ttl := c.ttl
	if !loc.IsKnown() {
		loc = Unknown
		ttl = c.negativeTTL
	}
	raw, err := json.Marshal(loc)
	if err != nil {
		return loc
	}
	if err := c.store.WriteWithTTL(ctx, ip, raw, ttl); err != nil {
		c.logger.Debug("Failed to cache location", slog.String("ip", ip), slog.Any("error", err))
	}
	return loc
}

// Clear drops every memoized location.
func (c *CachedResolver) Clear() {
	if err := c.store.Clear(context.Background()); err != nil {
		c.logger.Warn("Failed to clear location cache", slog.Any("error", err))
	}
}

// Close stops the cache's expiry sweeper.
func (c *CachedResolver) Close() error {
	return c.store.Close()
}

package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"campusbus/internal/cache"
	"campusbus/internal/domain"
	"campusbus/internal/geo"
	"campusbus/internal/metrics"
)

// Router computes a route between two points
type Router interface {
	Route(ctx context.Context, origin, dest geo.Point) (*domain.Route, error)
}

// Cache stores routes by key. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (*domain.Route, bool)
	Set(ctx context.Context, key string, route *domain.Route)
}

// MemoryCache is an in-process LRU with per-entry expiry
type MemoryCache struct {
	lru *expirable.LRU[string, *domain.Route]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{lru: expirable.NewLRU[string, *domain.Route](size, nil, ttl)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (*domain.Route, bool) {
	return m.lru.Get(key)
}

func (m *MemoryCache) Set(_ context.Context, key string, route *domain.Route) {
	m.lru.Add(key, route)
}

func (m *MemoryCache) Len() int {
	return m.lru.Len()
}

// RedisCache shares routes between restarts through Redis
type RedisCache struct {
	rc     *cache.RedisCache
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(rc *cache.RedisCache, ttl time.Duration, logger *slog.Logger) *RedisCache {
	return &RedisCache{
		rc:     rc,
		ttl:    ttl,
		logger: logger.With("component", "route_cache"),
	}
}

func (r *RedisCache) Get(ctx context.Context, key string) (*domain.Route, bool) {
	route, ok, err := r.rc.LookupRoute(ctx, key)
	if err != nil {
		r.logger.Debug("shared route cache lookup failed", "key", key, "error", err)
		return nil, false
	}
	return route, ok
}

func (r *RedisCache) Set(ctx context.Context, key string, route *domain.Route) {
	if err := r.rc.PutRoute(ctx, key, route, r.ttl); err != nil {
		r.logger.Debug("shared route cache store failed", "key", key, "error", err)
	}
}

// CachedRouter consults the caches in order before calling next, and
// collapses concurrent lookups for the same key into a single call.
type CachedRouter struct {
	next    Router
	caches  []Cache
	group   singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
}

func NewCachedRouter(next Router, timeout time.Duration, logger *slog.Logger, caches ...Cache) *CachedRouter {
	return &CachedRouter{
		next:    next,
		caches:  caches,
		timeout: timeout,
		logger:  logger.With("component", "router"),
	}
}

func (r *CachedRouter) Route(ctx context.Context, origin, dest geo.Point) (*domain.Route, error) {
	key := cache.KeyRoute(origin.Lat, origin.Lon, dest.Lat, dest.Lon)

	for i, c := range r.caches {
		if route, ok := c.Get(ctx, key); ok {
			metrics.RouteRequests.WithLabelValues("cache_hit").Inc()
			for _, lower := range r.caches[:i] {
				lower.Set(ctx, key, route)
			}
			return route, nil
		}
	}

	ch := r.group.DoChan(key, func() (any, error) {
		return r.fetch(origin, dest)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, ctx.Err())
	case res = <-ch:
	}
	if res.Shared {
		metrics.RouteRequests.WithLabelValues("shared").Inc()
	}
	if res.Err != nil {
		return nil, res.Err
	}

	route := res.Val.(*domain.Route)
	for _, c := range r.caches {
		c.Set(ctx, key, route)
	}
	return route, nil
}

// fetch runs detached from the caller's context so one cancelled caller
// does not fail the others sharing the flight.
func (r *CachedRouter) fetch(origin, dest geo.Point) (*domain.Route, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	route, err := r.next.Route(ctx, origin, dest)
	metrics.RouteLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RouteRequests.WithLabelValues("failed").Inc()
		r.logger.Warn("route request failed",
			"origin_lat", origin.Lat, "origin_lon", origin.Lon,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}

	metrics.RouteRequests.WithLabelValues("success").Inc()
	r.logger.Debug("route computed",
		"distance_m", route.DistanceMeters,
		"duration_s", route.DurationSeconds,
		"points", len(route.Polyline),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return route, nil
}

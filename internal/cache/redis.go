package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/redis/go-redis/v9"

	"campusbus/internal/domain"
)

// RedisCache keeps computed routes in Redis as gzipped JSON so they
// survive restarts.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisCache(addr, password string, db int, logger *slog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewWithClient(client, logger), nil
}

// NewWithClient wraps an existing client without checking connectivity
func NewWithClient(client *redis.Client, logger *slog.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: "campusbus:",
		logger: logger.With("component", "redis_cache"),
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// PutRoute stores route under key for ttl
func (c *RedisCache) PutRoute(ctx context.Context, key string, route *domain.Route, ttl time.Duration) error {
	data, err := encodeRoute(route)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	c.logger.Debug("route cached", "key", key, "size_bytes", len(data), "ttl", ttl)
	return nil
}

// LookupRoute returns the route under key. A miss is (nil, false, nil).
func (c *RedisCache) LookupRoute(ctx context.Context, key string) (*domain.Route, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	route, err := decodeRoute(data)
	if err != nil {
		// Unreadable entries are dropped so the next lookup refetches
		c.client.Del(ctx, c.prefix+key)
		return nil, false, err
	}
	return route, true, nil
}

func encodeRoute(route *domain.Route) ([]byte, error) {
	raw, err := json.Marshal(route)
	if err != nil {
		return nil, fmt.Errorf("encoding route: %w", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("compressing route: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compressing route: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRoute(data []byte) (*domain.Route, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompressing route: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompressing route: %w", err)
	}
	var route domain.Route
	if err := json.Unmarshal(raw, &route); err != nil {
		return nil, fmt.Errorf("decoding route: %w", err)
	}
	return &route, nil
}

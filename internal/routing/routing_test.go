package routing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"campusbus/internal/cache"
	"campusbus/internal/domain"
	"campusbus/internal/geo"
)

type countingRouter struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (c *countingRouter) Route(ctx context.Context, origin, dest geo.Point) (*domain.Route, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return &domain.Route{DistanceMeters: geo.Distance(origin, dest), DurationSeconds: 60}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	origin = geo.Point{Lat: 23.30, Lon: 77.34}
	dest   = geo.Point{Lat: 23.3039, Lon: 77.34}
)

func TestCachedRouterUsesMemoryCache(t *testing.T) {
	next := &countingRouter{}
	mem := NewMemoryCache(16, time.Minute)
	r := NewCachedRouter(next, time.Second, discardLogger(), mem)

	for i := 0; i < 3; i++ {
		route, err := r.Route(context.Background(), origin, dest)
		if err != nil {
			t.Fatalf("Route() error = %v", err)
		}
		if route.DurationSeconds != 60 {
			t.Errorf("DurationSeconds = %f, want 60", route.DurationSeconds)
		}
	}

	if got := next.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
	if mem.Len() != 1 {
		t.Errorf("cache len = %d, want 1", mem.Len())
	}
}

func TestCachedRouterCollapsesConcurrentLookups(t *testing.T) {
	next := &countingRouter{delay: 100 * time.Millisecond}
	r := NewCachedRouter(next, time.Second, discardLogger(), NewMemoryCache(16, time.Minute))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Route(context.Background(), origin, dest); err != nil {
				t.Errorf("Route() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := next.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestCachedRouterWrapsUpstreamErrors(t *testing.T) {
	next := &countingRouter{err: errors.New("connection refused")}
	mem := NewMemoryCache(16, time.Minute)
	r := NewCachedRouter(next, time.Second, discardLogger(), mem)

	_, err := r.Route(context.Background(), origin, dest)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("error = %v, want ErrUpstream", err)
	}
	if mem.Len() != 0 {
		t.Error("failed lookups must not be cached")
	}

	if _, err := r.Route(context.Background(), origin, dest); err == nil {
		t.Fatal("expected second call to fail too")
	}
	if got := next.calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

func TestCachedRouterTimeout(t *testing.T) {
	next := &countingRouter{delay: time.Second}
	r := NewCachedRouter(next, 50*time.Millisecond, discardLogger())

	start := time.Now()
	_, err := r.Route(context.Background(), origin, dest)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("error = %v, want ErrUpstream", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("routing call was not time-bounded")
	}
}

func TestRedisCacheLogsThroughInjectedLogger(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rc := NewRedisCache(cache.NewWithClient(client, discardLogger()), time.Minute, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, ok := rc.Get(ctx, "k"); ok {
		t.Fatal("unreachable redis reported a hit")
	}
	rc.Set(ctx, "k", &domain.Route{DistanceMeters: 1})

	out := buf.String()
	for _, want := range []string{`"component":"route_cache"`, "lookup failed", "store failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"campusbus/internal/cache"
	"campusbus/internal/config"
	"campusbus/internal/coordinator"
	"campusbus/internal/geo"
	"campusbus/internal/handler"
	"campusbus/internal/hub"
	"campusbus/internal/middleware"
	"campusbus/internal/routing"
	"campusbus/internal/store"
	"campusbus/internal/tracker"
	"campusbus/pkg/osrm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename: cfg.LogFile,
			MaxSize:  64, // MB
			MaxAge:   14,
			Compress: true,
		})
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	mode, err := coordinator.ParseMode(cfg.DeliveryMode)
	if err != nil {
		logger.Error("invalid delivery mode", "error", err)
		os.Exit(1)
	}

	logger.Info("starting campusbus server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"delivery_mode", mode,
		"osrm_url", cfg.OSRMURL,
		"redis_enabled", cfg.RedisEnabled,
	)

	var (
		caches   []routing.Cache
		memCache *routing.MemoryCache
	)
	if cfg.RouteCacheSize > 0 {
		memCache = routing.NewMemoryCache(cfg.RouteCacheSize, cfg.RouteCacheTTL)
		caches = append(caches, memCache)
	}
	if cfg.RedisEnabled {
		rc, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Warn("redis unavailable, continuing without shared route cache", "error", err)
		} else {
			defer rc.Close()
			caches = append(caches, routing.NewRedisCache(rc, cfg.RouteCacheTTL, logger))
		}
	}

	osrmClient := osrm.New(cfg.OSRMURL, cfg.OSRMProfile, cfg.RouteTimeout)
	router := routing.NewCachedRouter(osrmClient, cfg.RouteTimeout, logger, caches...)

	tr := tracker.New(router, tracker.Config{
		Destination:             geo.Point{Lat: cfg.DestinationLat, Lon: cfg.DestinationLon},
		ArrivalThresholdMeters:  cfg.ArrivalThresholdMeters,
		MovementThresholdMeters: cfg.MovementThresholdMeters,
		Timeout:                 cfg.RouteTimeout,
	}, logger)

	wsHub := hub.NewHub(hub.NewSubscriptions(), logger)
	registry := store.New(wsHub)
	coord := coordinator.New(registry, tr, wsHub, mode, logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger)
	stats := handler.NewStats()

	var routeSizer handler.Sizer
	if memCache != nil {
		routeSizer = memCache
	}

	httpHandler := handler.NewHTTPHandler(coord)
	wsHandler := handler.NewWSHandler(wsHub, coord, stats, handler.WSOptions{
		BufferSize:   cfg.ClientBufferSize,
		ReportErrors: cfg.ReportErrors,
	}, logger)
	healthHandler := handler.NewHealthHandler(wsHub, coord)
	statsHandler := handler.NewStatsHandler(stats, wsHub, coord, routeSizer, limiter)

	gzip := func(f http.HandlerFunc) http.Handler { return handler.GzipMiddleware(f) }

	mux := http.NewServeMux()

	mux.Handle("GET /v1/vehicles", gzip(httpHandler.ListVehicles))
	mux.Handle("GET /v1/vehicles/{id}", gzip(httpHandler.GetVehicle))
	mux.Handle("GET /v1/stats", gzip(statsHandler.GetStats))
	mux.HandleFunc("/v1/ws", wsHandler.ServeWS)

	mux.HandleFunc("GET /healthz", healthHandler.Healthz)
	mux.HandleFunc("GET /readyz", healthHandler.Readyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.CORSMiddleware(stats.CountRequests(limiter.Middleware(mux))),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		healthHandler.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		coord.Wait()
		return nil
	})

	healthHandler.SetReady(true)

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

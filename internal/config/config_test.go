package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DeliveryMode != "follow" {
		t.Errorf("DeliveryMode = %q", cfg.DeliveryMode)
	}
	if cfg.DestinationLat != 23.3039 || cfg.DestinationLon != 77.34 {
		t.Errorf("destination = (%v, %v)", cfg.DestinationLat, cfg.DestinationLon)
	}
	if cfg.ArrivalThresholdMeters != 100 || cfg.MovementThresholdMeters != 50 {
		t.Errorf("thresholds = %v / %v", cfg.ArrivalThresholdMeters, cfg.MovementThresholdMeters)
	}
	if cfg.RouteTimeout != 5*time.Second {
		t.Errorf("RouteTimeout = %v", cfg.RouteTimeout)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DELIVERY_MODE", "Broadcast")
	t.Setenv("DEST_LAT", "12.5")
	t.Setenv("ROUTE_TIMEOUT", "2s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("OSRM_URL", "http://osrm.local:5000/")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, ,10.0.0.2")
	t.Setenv("REPORT_ERRORS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DeliveryMode != "broadcast" {
		t.Errorf("DeliveryMode = %q", cfg.DeliveryMode)
	}
	if cfg.DestinationLat != 12.5 {
		t.Errorf("DestinationLat = %v", cfg.DestinationLat)
	}
	if cfg.RouteTimeout != 2*time.Second {
		t.Errorf("RouteTimeout = %v", cfg.RouteTimeout)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	if cfg.OSRMURL != "http://osrm.local:5000" {
		t.Errorf("OSRMURL = %q", cfg.OSRMURL)
	}
	if len(cfg.RateLimitWhitelist) != 2 {
		t.Errorf("whitelist = %v", cfg.RateLimitWhitelist)
	}
	if !cfg.ReportErrors {
		t.Error("ReportErrors not set")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campusbus.yaml")
	data := []byte(`
deliveryMode: broadcast
arrivalThresholdMeters: 150
routeCacheTTL: 30s
redisEnabled: true
redisAddr: redis:6379
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("ARRIVAL_THRESHOLD_METERS", "80")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DeliveryMode != "broadcast" {
		t.Errorf("DeliveryMode = %q", cfg.DeliveryMode)
	}
	if cfg.ArrivalThresholdMeters != 80 {
		t.Errorf("env must win over file, got %v", cfg.ArrivalThresholdMeters)
	}
	if cfg.RouteCacheTTL != 30*time.Second {
		t.Errorf("RouteCacheTTL = %v", cfg.RouteCacheTTL)
	}
	if !cfg.RedisEnabled || cfg.RedisAddr != "redis:6379" {
		t.Errorf("redis = %v %q", cfg.RedisEnabled, cfg.RedisAddr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown mode", "DELIVERY_MODE", "multicast"},
		{"latitude out of range", "DEST_LAT", "123"},
		{"zero arrival threshold", "ARRIVAL_THRESHOLD_METERS", "0"},
		{"bad osrm url", "OSRM_URL", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%s succeeded", tt.key, tt.val)
			}
		})
	}
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel        slog.Level    `yaml:"-"`
	LogLevelName    string        `yaml:"logLevel"`
	LogFile         string        `yaml:"logFile"`
	HTTPAddr        string        `yaml:"httpAddr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"readTimeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" validate:"gt=0"`

	DeliveryMode string `yaml:"deliveryMode" validate:"oneof=follow broadcast"`
	ReportErrors bool   `yaml:"reportErrors"`

	DestinationLat          float64 `yaml:"destinationLat" validate:"min=-90,max=90"`
	DestinationLon          float64 `yaml:"destinationLon" validate:"min=-180,max=180"`
	ArrivalThresholdMeters  float64 `yaml:"arrivalThresholdMeters" validate:"gt=0"`
	MovementThresholdMeters float64 `yaml:"movementThresholdMeters" validate:"gt=0"`

	OSRMURL        string        `yaml:"osrmURL" validate:"required,url"`
	OSRMProfile    string        `yaml:"osrmProfile" validate:"required"`
	RouteTimeout   time.Duration `yaml:"routeTimeout" validate:"gt=0"`
	RouteCacheSize int           `yaml:"routeCacheSize" validate:"gte=0"`
	RouteCacheTTL  time.Duration `yaml:"routeCacheTTL" validate:"gte=0"`

	RedisEnabled  bool   `yaml:"redisEnabled"`
	RedisAddr     string `yaml:"redisAddr" validate:"required_if=RedisEnabled true"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB" validate:"gte=0"`

	ClientBufferSize int `yaml:"clientBufferSize" validate:"gt=0"`

	RateLimitPerWindow int           `yaml:"rateLimitPerWindow" validate:"gt=0"`
	RateLimitWindow    time.Duration `yaml:"rateLimitWindow" validate:"gt=0"`
	RateLimitWhitelist []string      `yaml:"rateLimitWhitelist"`
}

func defaults() *Config {
	return &Config{
		LogLevelName:    "info",
		HTTPAddr:        ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 30 * time.Second,

		DeliveryMode: "follow",

		DestinationLat:          23.3039,
		DestinationLon:          77.3400,
		ArrivalThresholdMeters:  100,
		MovementThresholdMeters: 50,

		OSRMURL:        "https://router.project-osrm.org",
		OSRMProfile:    "driving",
		RouteTimeout:   5 * time.Second,
		RouteCacheSize: 1024,
		RouteCacheTTL:  10 * time.Minute,

		RedisAddr: "localhost:6379",

		ClientBufferSize: 256,

		RateLimitPerWindow: 120,
		RateLimitWindow:    time.Minute,
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE, and environment variables, in that order of precedence.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.LogLevelName = getEnv("LOG_LEVEL", cfg.LogLevelName)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.ReadTimeout = getDurationEnv("READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getDurationEnv("WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.DeliveryMode = strings.ToLower(getEnv("DELIVERY_MODE", cfg.DeliveryMode))
	cfg.ReportErrors = getBoolEnv("REPORT_ERRORS", cfg.ReportErrors)

	cfg.DestinationLat = getFloatEnv("DEST_LAT", cfg.DestinationLat)
	cfg.DestinationLon = getFloatEnv("DEST_LON", cfg.DestinationLon)
	cfg.ArrivalThresholdMeters = getFloatEnv("ARRIVAL_THRESHOLD_METERS", cfg.ArrivalThresholdMeters)
	cfg.MovementThresholdMeters = getFloatEnv("MOVEMENT_THRESHOLD_METERS", cfg.MovementThresholdMeters)

	cfg.OSRMURL = strings.TrimRight(getEnv("OSRM_URL", cfg.OSRMURL), "/")
	cfg.OSRMProfile = getEnv("OSRM_PROFILE", cfg.OSRMProfile)
	cfg.RouteTimeout = getDurationEnv("ROUTE_TIMEOUT", cfg.RouteTimeout)
	cfg.RouteCacheSize = getIntEnv("ROUTE_CACHE_SIZE", cfg.RouteCacheSize)
	cfg.RouteCacheTTL = getDurationEnv("ROUTE_CACHE_TTL", cfg.RouteCacheTTL)

	cfg.RedisEnabled = getBoolEnv("REDIS_ENABLED", cfg.RedisEnabled)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getIntEnv("REDIS_DB", cfg.RedisDB)

	cfg.ClientBufferSize = getIntEnv("CLIENT_BUFFER_SIZE", cfg.ClientBufferSize)

	cfg.RateLimitPerWindow = getIntEnv("RATE_LIMIT_PER_WINDOW", cfg.RateLimitPerWindow)
	cfg.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", cfg.RateLimitWindow)
	if wl := getCSVEnv("RATE_LIMIT_WHITELIST"); wl != nil {
		cfg.RateLimitWhitelist = wl
	}

	cfg.LogLevel = parseLogLevel(cfg.LogLevelName, slog.LevelInfo)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func parseLogLevel(v string, defaultVal slog.Level) slog.Level {
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}

package config

import (
	"os"
	"strings"
	"time"
)

const (
	defaultHTTPAddr        = ":8081"
	defaultMetricsAddr     = ":9092"
	defaultPlansConfig     = "config/plans.yaml"
	defaultWatchInterval   = 500 * time.Millisecond
	defaultExecutorTimeout = 5 * time.Minute

	envHTTPAddr        = "GATEWAY_HTTP_ADDR"
	envMetricsAddr     = "GATEWAY_METRICS_ADDR"
	envRedisURL        = "REDIS_URL"
	envNATSURL         = "NATS_URL"
	envExecutorURL     = "EXECUTOR_URL"
	envExecutorTimeout = "EXECUTOR_TIMEOUT"
	envPlansConfigPath = "PLANS_CONFIG_PATH"
	envWatchInterval   = "WATCH_POLL_INTERVAL"
)

// Config holds runtime configuration for the gateway and its collaborators.
type Config struct {
	HTTPAddr        string
	MetricsAddr     string
	RedisURL        string // empty: in-memory identity store
	NatsURL         string // empty: no event relay
	ExecutorURL     string // empty: demo mode
	ExecutorTimeout time.Duration
	PlansConfigPath string
	WatchInterval   time.Duration
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	cfg := &Config{
		HTTPAddr:        getenv(envHTTPAddr, defaultHTTPAddr),
		MetricsAddr:     getenv(envMetricsAddr, defaultMetricsAddr),
		RedisURL:        strings.TrimSpace(os.Getenv(envRedisURL)),
		NatsURL:         strings.TrimSpace(os.Getenv(envNATSURL)),
		ExecutorURL:     strings.TrimSpace(os.Getenv(envExecutorURL)),
		ExecutorTimeout: defaultExecutorTimeout,
		PlansConfigPath: getenv(envPlansConfigPath, defaultPlansConfig),
		WatchInterval:   defaultWatchInterval,
	}

	if v := strings.TrimSpace(os.Getenv(envExecutorTimeout)); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			cfg.ExecutorTimeout = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv(envWatchInterval)); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			cfg.WatchInterval = parsed
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Package config loads runtime settings from the environment. Every knob has
// a working default so a bare `geogrid-server` starts against localhost
// services.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	InstanceID string

	StoreBaseURL string
	StoreToken   string
	StoreTimeout time.Duration

	RedisAddr    string
	CacheEnabled bool
	CacheTTL     time.Duration

	PermissionsDSN string
	PermCacheSize  int

	MetricsEnabled bool

	DefaultClassCount int
	DefaultRamp       string

	Invalidation InvalidationCfg
}

func FromEnv() Config {
	classes := getint("DEFAULT_CLASS_COUNT", 5)
	if classes < 1 {
		classes = 1
	}

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		InstanceID: getenv("INSTANCE_ID", ""),

		StoreBaseURL: getenv("STORE_BASE_URL", "http://localhost:8080"),
		StoreToken:   getenv("STORE_TOKEN", ""),
		StoreTimeout: getduration("STORE_TIMEOUT", 30*time.Second),

		RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),
		CacheEnabled: getbool("CACHE_ENABLED", true),
		CacheTTL:     getduration("CACHE_TTL", 60*time.Second),

		PermissionsDSN: getenv("PERMISSIONS_DSN", ""),
		PermCacheSize:  getint("PERM_CACHE_SIZE", 256),

		MetricsEnabled: getbool("METRICS_ENABLED", true),

		DefaultClassCount: classes,
		DefaultRamp:       getenv("DEFAULT_RAMP", "YlOrRd"),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "record-changes"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "geogrid-invalidator"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

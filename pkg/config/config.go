// Package config loads the proxy's runtime configuration from environment
// variables. There is no config file and no database-backed settings: the
// process is stateless and every setting it needs fits in the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for the proxy.
type Config struct {
	Server ServerConfig
	Redis  RedisConfig
}

// ServerConfig holds HTTP server and proxy-level configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	ShutdownWait time.Duration

	// PathPrefix is stripped from incoming request paths before routing,
	// e.g. "/foo" when the proxy is mounted behind a reverse proxy at
	// that sub-path. Empty means mounted at root.
	PathPrefix string

	// MaxBodyBytes bounds the size of the whole incoming request body
	// (multipart upload included). Exceeding it yields a 413.
	MaxBodyBytes int64

	// RegistryTimeout bounds a single outbound call to the backing OCI
	// registry, including the token-fetch round trip it may trigger.
	RegistryTimeout time.Duration

	LogLevel string
}

// RedisConfig holds the optional token-cache backend settings. When Addr is
// empty the token cache runs in-process instead (see internal/transport).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

const defaultMaxBodyBytes = 50 * 1024 * 1024 // 50 MiB, per spec.md §4.G

// LoadFromEnv loads configuration from environment variables, applying the
// same defaults spec.md §6 documents (PORT=8080, PYOCI_PATH empty).
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "::",
			Port:            getEnvInt("PORT", 8080),
			ReadTimeout:     getEnvDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 0), // streaming downloads/uploads: no fixed write deadline
			IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 120*time.Second),
			ShutdownWait:    getEnvDuration("SHUTDOWN_WAIT", 30*time.Second),
			PathPrefix:      normalizePrefix(getEnv("PYOCI_PATH", "")),
			MaxBodyBytes:    getEnvInt64("MAX_BODY_BYTES", defaultMaxBodyBytes),
			RegistryTimeout: getEnvDuration("REGISTRY_TIMEOUT", 30*time.Second),
			LogLevel:        getEnv("LOG_LEVEL", "info"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
	}
}

// normalizePrefix tolerates a trailing slash and makes an empty prefix mean
// "mounted at root", per spec.md §6.
func normalizePrefix(p string) string {
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Package config provides configuration management for the dispensing server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete application configuration.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Dispense DispenseConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string
	Pretty bool
}

// DatabaseConfig holds SQLite configuration.
type DatabaseConfig struct {
	Path string
}

// DispenseConfig holds domain settings.
type DispenseConfig struct {
	// ExpiryWarningDays is the look-ahead window for expiring-soon alerts.
	ExpiryWarningDays int

	// ExcludePastExpiry stops the selector offering vials past their
	// expiry date even before the sweeper marks them EXPIRED.
	ExcludePastExpiry bool

	ExpirySweepEnabled  bool
	ExpirySweepInterval time.Duration
}

// Load creates a Config from environment variables.
func Load() Config {
	return Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			CORSOrigins:     parseList(os.Getenv("CORS_ORIGINS")),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getEnvBool("LOG_PRETTY", false),
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "dispensing.db"),
		},
		Dispense: DispenseConfig{
			ExpiryWarningDays:   getEnvInt("EXPIRY_WARNING_DAYS", 30),
			ExcludePastExpiry:   getEnvBool("EXCLUDE_PAST_EXPIRY", false),
			ExpirySweepEnabled:  getEnvBool("EXPIRY_SWEEP_ENABLED", true),
			ExpirySweepInterval: getEnvDuration("EXPIRY_SWEEP_INTERVAL", time.Hour),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			result = append(result, v)
		}
	}
	return result
}

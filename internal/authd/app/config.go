package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const minSecretLength = 32

type Config struct {
	Issuer        string        // Issuer claim for minted tokens
	AccessSecret  string        // Required: HMAC secret for access tokens
	RefreshSecret string        // Required: HMAC secret for refresh tokens, distinct from AccessSecret
	AccessTTL     time.Duration // Access token lifetime (default: 15m)
	SessionTTL    time.Duration // Session lifetime without remember-me (default: 1h)
	RememberMeTTL time.Duration // Session lifetime with remember-me (default: 168h)
	GracePeriod   time.Duration // Grace window for just-rotated refresh tokens (default: 20s)

	DatabaseFile         string        // Path to SQLite database file (default: ./authd.db)
	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8081)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Expired session sweep interval (default: 1h)
}

func LoadConfig() Config {
	// Missing .env is fine; real deployments use actual environment variables.
	_ = godotenv.Load()

	return Config{
		Issuer:        getEnvOrDefault("AUTH_ISSUER", "vitalgate-authd"),
		AccessSecret:  os.Getenv("AUTH_ACCESS_SECRET"),
		RefreshSecret: os.Getenv("AUTH_REFRESH_SECRET"),
		AccessTTL:     getEnvDurationOrDefault("AUTH_ACCESS_TTL", 15*time.Minute),
		SessionTTL:    getEnvDurationOrDefault("AUTH_SESSION_TTL", time.Hour),
		RememberMeTTL: getEnvDurationOrDefault("AUTH_REMEMBER_ME_TTL", 7*24*time.Hour),
		GracePeriod:   getEnvDurationOrDefault("AUTH_REFRESH_GRACE_PERIOD", 20*time.Second),

		DatabaseFile:         getEnvOrDefault("AUTH_DATABASE_FILE", "authd.db"),
		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8081),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}
}

// Validate rejects configurations that would silently weaken token security.
func (c Config) Validate() error {
	if len(c.AccessSecret) < minSecretLength {
		return fmt.Errorf("AUTH_ACCESS_SECRET must be at least %d characters", minSecretLength)
	}
	if len(c.RefreshSecret) < minSecretLength {
		return fmt.Errorf("AUTH_REFRESH_SECRET must be at least %d characters", minSecretLength)
	}
	if c.AccessSecret == c.RefreshSecret {
		return errors.New("AUTH_ACCESS_SECRET and AUTH_REFRESH_SECRET must differ")
	}
	if c.AccessTTL <= 0 || c.SessionTTL <= 0 || c.RememberMeTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}

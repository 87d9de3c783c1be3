package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const minSecretLength = 32

type Config struct {
	BackendURL    string        // Required: base URL of the backend API
	SessionSecret string        // Required: HMAC secret for the session cookie envelope
	SessionTTL    time.Duration // Envelope lifetime without remember-me (default: 1h)
	RememberMeTTL time.Duration // Envelope lifetime with remember-me (default: 168h)

	CookieName   string // Session cookie name (default: vitalgate_session)
	CookieDomain string // Optional cookie Domain attribute

	ForwardTimeout time.Duration // Per-attempt timeout for buffered forwards (default: 30s)
	ForwardRetries int           // Additional attempts after a retryable failure (default: 2)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	// Missing .env is fine; real deployments use actual environment variables.
	_ = godotenv.Load()

	return Config{
		BackendURL:    os.Getenv("GATEWAY_BACKEND_URL"),
		SessionSecret: os.Getenv("GATEWAY_SESSION_SECRET"),
		SessionTTL:    getEnvDurationOrDefault("GATEWAY_SESSION_TTL", time.Hour),
		RememberMeTTL: getEnvDurationOrDefault("GATEWAY_REMEMBER_ME_TTL", 7*24*time.Hour),

		CookieName:   getEnvOrDefault("GATEWAY_COOKIE_NAME", ""),
		CookieDomain: os.Getenv("GATEWAY_COOKIE_DOMAIN"),

		ForwardTimeout: getEnvDurationOrDefault("GATEWAY_FORWARD_TIMEOUT", 30*time.Second),
		ForwardRetries: getEnvIntOrDefault("GATEWAY_FORWARD_RETRIES", 2),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

// Validate fails fast on configurations that would weaken the cookie or
// point the proxy nowhere.
func (c Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("GATEWAY_BACKEND_URL is required")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("GATEWAY_BACKEND_URL is not a valid absolute URL: %q", c.BackendURL)
	}
	if len(c.SessionSecret) < minSecretLength {
		return fmt.Errorf("GATEWAY_SESSION_SECRET must be at least %d characters", minSecretLength)
	}
	if c.SessionTTL <= 0 || c.RememberMeTTL <= 0 {
		return errors.New("session lifetimes must be positive")
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

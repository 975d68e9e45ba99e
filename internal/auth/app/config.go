package app

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Backend driver names accepted in AUTH_BACKEND.
const (
	BackendLocal    = "local"
	BackendSupabase = "supabase"
)

type Config struct {
	Backend            string // Identity backend driver (local, supabase) (default: local)
	SupabaseURL        string // Required for supabase backend: GoTrue base URL
	SupabaseServiceKey string // Required for supabase backend: service role API key
	ClientURL          string // Required: client origin for CORS/redirect validation

	DatabaseFile string // Optional: path to SQLite database file (default: ./authcore.db)
	RedisAddr    string // Optional: redis address for shared rate counters; empty means in-memory

	JWTSecret string // Required for local backend: HS256 signing secret (min 32 bytes)
	Issuer    string // Issuer claim for local tokens and the TOTP provisioning label
	Pepper    string // Optional: server-side pepper mixed into password hashes

	BackendTimeout       time.Duration // Per-call identity backend timeout (default: 15s)
	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	SecureCookies        bool          // Set the Secure flag on auth cookies (default: true outside dev)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	env := getEnvOrDefault("ENV", "dev")

	cfg := Config{
		Backend:            getEnvOrDefault("AUTH_BACKEND", BackendLocal),
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		ClientURL:          os.Getenv("CLIENT_URL"),

		DatabaseFile: getEnvOrDefault("AUTH_DATABASE_FILE", "authcore.db"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),

		JWTSecret: os.Getenv("AUTH_JWT_SECRET"),
		Issuer:    getEnvOrDefault("AUTH_ISSUER", "authcore"),
		Pepper:    os.Getenv("AUTH_PEPPER"),

		BackendTimeout:       getEnvDurationOrDefault("AUTH_BACKEND_TIMEOUT", 15*time.Second),
		Env:                  env,
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		SecureCookies:        getEnvBoolOrDefault("COOKIE_SECURE", env != "dev"),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	return cfg
}

// Validate enforces the startup environment contract. The process must not
// come up half-configured: a missing client origin or missing backend
// credentials is fatal.
func (c Config) Validate() error {
	if c.ClientURL == "" {
		return fmt.Errorf("CLIENT_URL is required")
	}
	if _, err := url.ParseRequestURI(c.ClientURL); err != nil {
		return fmt.Errorf("CLIENT_URL is not a valid URL: %w", err)
	}

	switch c.Backend {
	case BackendLocal:
		if c.JWTSecret == "" {
			return fmt.Errorf("AUTH_JWT_SECRET is required for the local backend")
		}
	case BackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for the supabase backend")
		}
	default:
		return fmt.Errorf("unknown AUTH_BACKEND %q", c.Backend)
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

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
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

	// Bare integers are read as seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}

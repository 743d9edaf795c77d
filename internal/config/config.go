package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cache backend constants
const (
	CacheTypeMemory = "memory"
	CacheTypeRedis  = "redis"
)

// Rate limit store constants
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

type Config struct {
	// Backend API
	APIBaseURL         string
	APITimeout         time.Duration
	APIMaxRetries      int // transport retries; 0 keeps retries user-initiated only
	APIRetryDelay      time.Duration
	APIMaxRetryDelay   time.Duration
	InsecureSkipVerify bool

	// Credentials for non-interactive startup (either a pre-issued token or
	// an email/password pair the agent logs in with)
	AccessToken string
	Email       string
	Password    string

	// Loopback callback server
	CallbackAddr    string // listen address for the callback server
	CallbackBaseURL string // public base URL registered with the backend
	AllowedOrigins  []string

	// Popup behavior
	SuccessCloseDelay time.Duration // confirmation page auto-close
	ErrorCloseDelay   time.Duration // denied page auto-close

	// Widget refresh
	DefaultRefreshInterval time.Duration
	SnapshotTTL            time.Duration

	// Snapshot cache
	CacheType     string // "memory" or "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Metrics
	MetricsEnabled bool
	MetricsToken   string

	// Rate limiting (callback route)
	EnableRateLimit          bool
	RateLimitStore           string // "memory" or "redis"
	CallbackRateLimit        int    // requests per minute
	RateLimitCleanupInterval time.Duration

	IsProduction bool
}

func Load() *Config {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	callbackAddr := getEnv("CALLBACK_ADDR", ":8091")
	callbackBase := getEnv("CALLBACK_BASE_URL", "http://localhost:8091")

	return &Config{
		APIBaseURL:         getEnv("API_BASE_URL", "http://localhost:8000"),
		APITimeout:         getEnvDuration("API_TIMEOUT", 15*time.Second),
		APIMaxRetries:      getEnvInt("API_MAX_RETRIES", 0),
		APIRetryDelay:      getEnvDuration("API_RETRY_DELAY", 1*time.Second),
		APIMaxRetryDelay:   getEnvDuration("API_MAX_RETRY_DELAY", 10*time.Second),
		InsecureSkipVerify: getEnvBool("API_INSECURE_SKIP_VERIFY", false),

		AccessToken: getEnv("ACCESS_TOKEN", ""),
		Email:       getEnv("DASHBOARD_EMAIL", ""),
		Password:    getEnv("DASHBOARD_PASSWORD", ""),

		CallbackAddr:    callbackAddr,
		CallbackBaseURL: callbackBase,
		AllowedOrigins:  getEnvSlice("ALLOWED_ORIGINS", []string{callbackBase}),

		SuccessCloseDelay: getEnvDuration("SUCCESS_CLOSE_DELAY", 2*time.Second),
		ErrorCloseDelay:   getEnvDuration("ERROR_CLOSE_DELAY", 3*time.Second),

		DefaultRefreshInterval: getEnvDuration("DEFAULT_REFRESH_INTERVAL", 15*time.Minute),
		SnapshotTTL:            getEnvDuration("SNAPSHOT_TTL", 5*time.Minute),

		CacheType:     getEnv("CACHE_TYPE", CacheTypeMemory),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
		MetricsToken:   getEnv("METRICS_TOKEN", ""),

		EnableRateLimit:          getEnvBool("ENABLE_RATE_LIMIT", true),
		RateLimitStore:           getEnv("RATE_LIMIT_STORE", RateLimitStoreMemory),
		CallbackRateLimit:        getEnvInt("CALLBACK_RATE_LIMIT", 30),
		RateLimitCleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),

		IsProduction: getEnvBool("PRODUCTION", false),
	}
}

// Validate checks cross-field constraints that Load cannot default away.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.APIBaseURL); err != nil {
		return fmt.Errorf("invalid API_BASE_URL %q: %w", c.APIBaseURL, err)
	}
	if _, err := url.ParseRequestURI(c.CallbackBaseURL); err != nil {
		return fmt.Errorf("invalid CALLBACK_BASE_URL %q: %w", c.CallbackBaseURL, err)
	}
	if c.CacheType != CacheTypeMemory && c.CacheType != CacheTypeRedis {
		return fmt.Errorf("invalid CACHE_TYPE: %s (must be: memory, redis)", c.CacheType)
	}
	if c.RateLimitStore != RateLimitStoreMemory && c.RateLimitStore != RateLimitStoreRedis {
		return fmt.Errorf("invalid RATE_LIMIT_STORE: %s (must be: memory, redis)", c.RateLimitStore)
	}
	if c.APIMaxRetries < 0 {
		return fmt.Errorf("API_MAX_RETRIES must be >= 0, got %d", c.APIMaxRetries)
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS must contain at least one origin")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var parts []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

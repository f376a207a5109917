package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cache backends accepted by CACHE_BACKEND.
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
	CacheDisk   = "disk"
	CacheNone   = "none"
)

// Config holds all configuration for the screenshot service.
type Config struct {
	// HTTP server
	Host            string
	Port            int
	CORS            bool
	RateLimitMax    int
	RateLimitWindow time.Duration
	TrustProxy      bool

	// Cache
	CacheBackend        string
	RedisURL            string
	CacheKeyPrefix      string
	CacheTTL            time.Duration
	CacheConnectTimeout time.Duration
	CacheMemoryEntries  int
	CacheDir            string

	// Browser
	CDPURL             string
	CDPAddress         string
	CDPPort            int
	BrowserProfileDir  string
	BrowserInsecureTLS bool

	DedupeInflight bool

	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		Host:                getEnvOrDefault("HOST", "0.0.0.0"),
		Port:                getEnvIntOrDefault("PORT", 3001),
		CORS:                getEnvBoolOrDefault("CORS", true),
		RateLimitMax:        getEnvIntOrDefault("RATE_LIMIT_MAX", 100),
		RateLimitWindow:     getEnvDurationOrDefault("RATE_LIMIT_WINDOW", time.Minute),
		TrustProxy:          getEnvBoolOrDefault("TRUST_PROXY", false),
		CacheBackend:        strings.ToLower(getEnvOrDefault("CACHE_BACKEND", CacheRedis)),
		RedisURL:            getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		CacheKeyPrefix:      getEnvOrDefault("CACHE_KEY_PREFIX", "screenshot"),
		CacheTTL:            time.Duration(getEnvIntOrDefault("CACHE_TTL_SECONDS", 3600)) * time.Second,
		CacheConnectTimeout: time.Duration(getEnvIntOrDefault("CACHE_CONNECT_TIMEOUT_MS", 5000)) * time.Millisecond,
		CacheMemoryEntries:  getEnvIntOrDefault("CACHE_MEMORY_ENTRIES", 256),
		CacheDir:            getEnvOrDefault("CACHE_DIR", "./cache"),
		CDPURL:              getEnvOrDefault("CHROMIUM_CDP_URL", ""),
		CDPAddress:          getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:             getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		BrowserProfileDir:   getEnvOrDefault("BROWSER_PROFILE_DIR", "./browser_profile"),
		BrowserInsecureTLS:  getEnvBoolOrDefault("BROWSER_INSECURE_TLS", false),
		DedupeInflight:      getEnvBoolOrDefault("CAPTURE_DEDUPE_INFLIGHT", false),
		LogLevel:            strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		LogFile:             getEnvOrDefault("LOG_FILE", "logs/pagesnap.log"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.CacheBackend {
	case CacheRedis, CacheMemory, CacheDisk, CacheNone:
	default:
		return fmt.Errorf("CACHE_BACKEND must be one of redis, memory, disk, none (got %q)", c.CacheBackend)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.RateLimitMax < 0 {
		return fmt.Errorf("RATE_LIMIT_MAX must not be negative: %d", c.RateLimitMax)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive: %s", c.RateLimitWindow)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive: %s", c.CacheTTL)
	}
	return nil
}

// BindAddr is the HTTP listen address.
func (c *Config) BindAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LaunchBrowser reports whether a local browser must be started.
func (c *Config) LaunchBrowser() bool {
	return c.CDPURL == ""
}

// GetCDPURL returns the CDP endpoint used by chromedp's remote allocator.
func (c *Config) GetCDPURL() string {
	if c.CDPURL != "" {
		return c.CDPURL
	}
	return "http://" + net.JoinHostPort(c.CDPAddress, strconv.Itoa(c.CDPPort))
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDurationOrDefault accepts Go durations ("90s") or bare milliseconds.
func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}

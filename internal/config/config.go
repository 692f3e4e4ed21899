// Package config collects all environment-driven settings for the realtime
// core into one struct so services never read os.Getenv themselves.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// CacheSchemaVersion is bumped whenever the shape of cached data changes.
// On mismatch every durable cache entry is wiped before the first read.
const CacheSchemaVersion = "2.1"

// Config holds all tunables for the realtime core
type Config struct {
	// Logging
	LogLevel string
	LogFile  string

	// Backend platform endpoints
	DatabaseURL  string
	RedisHost    string
	RedisPort    string
	RedisPass    string
	RealtimeURL  string // websocket realtime endpoint, empty = use Redis transport
	JWTSecret    string
	AccessToken  string // signed token identifying the member this process runs as
	MetricsAddr  string // prometheus scrape endpoint, empty = disabled
	S3Region     string
	S3Bucket     string
	S3BaseURL    string

	// Presence
	HeartbeatInterval  time.Duration // self "last active" stamp
	RosterPollInterval time.Duration // who's-online poll while panel open
	ActivityWindow     time.Duration // recent-heartbeat cutoff

	// Chat
	TypingDebounce time.Duration // min gap between typing broadcasts per peer
	TypingExpiry   time.Duration // auto-clear of the peer-is-typing flag

	// Notifications
	FeedLimit int // most-recent window kept in memory

	// Cache
	DefaultTTL time.Duration
}

// Load reads .env (when present) and the process environment, applying
// reference defaults for anything unset.
func Load() *Config {
	// Missing .env is fine; system environment still applies
	_ = godotenv.Load()

	return &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisHost:   getEnv("REDIS_HOST", "localhost"),
		RedisPort:   getEnv("REDIS_PORT", "6379"),
		RedisPass:   getEnv("REDIS_PASSWORD", ""),
		RealtimeURL: getEnv("REALTIME_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		AccessToken: getEnv("ACCESS_TOKEN", ""),
		MetricsAddr: getEnv("METRICS_ADDR", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3BaseURL:   getEnv("S3_BASE_URL", ""),

		HeartbeatInterval:  getDuration("HEARTBEAT_INTERVAL", 60*time.Second),
		RosterPollInterval: getDuration("ROSTER_POLL_INTERVAL", 30*time.Second),
		ActivityWindow:     getDuration("ACTIVITY_WINDOW", 5*time.Minute),

		TypingDebounce: getDuration("TYPING_DEBOUNCE", 3*time.Second),
		TypingExpiry:   getDuration("TYPING_EXPIRY", 3*time.Second),

		FeedLimit: getInt("NOTIFICATION_FEED_LIMIT", 20),

		DefaultTTL: getDuration("CACHE_DEFAULT_TTL", 10*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Cache    CacheConfig
	Relay    RelayConfig
	Feed     FeedConfig
	Identity IdentityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr       string
	RefreshMinGap  time.Duration // minimum interval between manual refreshes
	RelayRateLimit time.Duration // minimum delay between requests to same relay host
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	Backend   string // "memory" or "redis"
	TTL       time.Duration
	RedisAddr string
}

// RelayConfig holds the relay pool configuration
type RelayConfig struct {
	URLs         []string
	FetchTimeout time.Duration
	JoinTimeout  time.Duration
	MaxAttempts  int
	BaseDelay    time.Duration
}

// FeedConfig tunes the feed assembler
type FeedConfig struct {
	PageSize           int
	DisplayStep        int
	FreshnessThreshold time.Duration
	RefreshInterval    time.Duration
}

// IdentityConfig holds the current viewer identity, when one is configured
type IdentityConfig struct {
	ViewerPubKey string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
}

var defaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.nostr.band",
	"wss://nostr.wine",
}

// Load parses flags and environment variables to build configuration
func Load() *Config {
	httpAddr := flag.String("http", ":8080", "HTTP server address")
	cacheTTL := flag.Duration("cache-ttl", 10*time.Minute, "Cache TTL for assembled feed pages")
	cacheBackend := flag.String("cache-backend", "memory", "Cache backend: memory or redis")
	redisAddr := flag.String("redis-addr", "localhost:6379", "Redis server address")
	relayList := flag.String("relays", strings.Join(defaultRelays, ","), "Comma-separated relay URLs")
	fetchTimeout := flag.Duration("fetch-timeout", 10*time.Second, "Per-relay fetch timeout")
	joinTimeout := flag.Duration("join-timeout", 8*time.Second, "Per-kind supplementary fetch timeout")
	rateLimitDur := flag.Duration("rate-limit", time.Second, "Minimum delay between requests to same relay host")
	refreshGap := flag.Duration("refresh-gap", 2*time.Minute, "Minimum interval between manual refreshes")
	pageSize := flag.Int("page-size", 100, "Records requested per network fetch")
	displayStep := flag.Int("display-step", 20, "Display-limit increment for load-more")
	freshness := flag.Duration("freshness", 2*time.Minute, "Cached entry age that triggers a background refresh")
	refreshInterval := flag.Duration("refresh-interval", 5*time.Minute, "Background refresh cadence")
	viewerPubKey := flag.String("viewer-pubkey", "", "Pubkey of the current viewer, for interaction flags")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	applyEnvOverrides(httpAddr, cacheTTL, cacheBackend, redisAddr, relayList, fetchTimeout, joinTimeout, rateLimitDur, refreshGap, pageSize, displayStep, freshness, refreshInterval, viewerPubKey, logLevel)

	urls := make([]string, 0)
	for _, u := range strings.Split(*relayList, ",") {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if len(urls) == 0 {
		urls = defaultRelays
	}

	return &Config{
		Server: ServerConfig{
			HTTPAddr:       *httpAddr,
			RefreshMinGap:  *refreshGap,
			RelayRateLimit: *rateLimitDur,
		},
		Cache: CacheConfig{
			Backend:   *cacheBackend,
			TTL:       *cacheTTL,
			RedisAddr: *redisAddr,
		},
		Relay: RelayConfig{
			URLs:         urls,
			FetchTimeout: *fetchTimeout,
			JoinTimeout:  *joinTimeout,
			MaxAttempts:  2,
			BaseDelay:    500 * time.Millisecond,
		},
		Feed: FeedConfig{
			PageSize:           *pageSize,
			DisplayStep:        *displayStep,
			FreshnessThreshold: *freshness,
			RefreshInterval:    *refreshInterval,
		},
		Identity: IdentityConfig{
			ViewerPubKey: *viewerPubKey,
		},
		Logging: LoggingConfig{
			Level: *logLevel,
		},
	}
}

func applyEnvOverrides(
	httpAddr *string,
	cacheTTL *time.Duration,
	cacheBackend *string,
	redisAddr *string,
	relayList *string,
	fetchTimeout *time.Duration,
	joinTimeout *time.Duration,
	rateLimitDur *time.Duration,
	refreshGap *time.Duration,
	pageSize *int,
	displayStep *int,
	freshness *time.Duration,
	refreshInterval *time.Duration,
	viewerPubKey *string,
	logLevel *string,
) {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		*httpAddr = v
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*cacheTTL = d
		}
	}
	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		*cacheBackend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		*redisAddr = v
	}
	if v := os.Getenv("RELAY_URLS"); v != "" {
		*relayList = v
	}
	if v := os.Getenv("FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*fetchTimeout = d
		}
	}
	if v := os.Getenv("JOIN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*joinTimeout = d
		}
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*rateLimitDur = d
		}
	}
	if v := os.Getenv("REFRESH_GAP"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*refreshGap = d
		}
	}
	if v := os.Getenv("PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*pageSize = n
		}
	}
	if v := os.Getenv("DISPLAY_STEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*displayStep = n
		}
	}
	if v := os.Getenv("FRESHNESS_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*freshness = d
		}
	}
	if v := os.Getenv("REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*refreshInterval = d
		}
	}
	if v := os.Getenv("VIEWER_PUBKEY"); v != "" {
		*viewerPubKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		*logLevel = v
	}
}

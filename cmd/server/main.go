package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkarlsen/pacerelay/internal/cache"
	"github.com/mkarlsen/pacerelay/internal/config"
	"github.com/mkarlsen/pacerelay/internal/dedup"
	"github.com/mkarlsen/pacerelay/internal/enrich"
	"github.com/mkarlsen/pacerelay/internal/feed"
	"github.com/mkarlsen/pacerelay/internal/httpapi"
	"github.com/mkarlsen/pacerelay/internal/identity"
	"github.com/mkarlsen/pacerelay/internal/logging"
	"github.com/mkarlsen/pacerelay/internal/models"
	"github.com/mkarlsen/pacerelay/internal/ratelimit"
	"github.com/mkarlsen/pacerelay/internal/relay"
)

func main() {
	cfg := config.Load()
	logger := logging.New(logging.ParseLevel(cfg.Logging.Level))

	// Cache backend, with the manual-refresh limiter riding along: redis
	// when available so replicas share one refresh budget, in-memory
	// otherwise.
	var feedCache cache.Cache
	var refreshLimiter ratelimit.RateLimiter
	switch cfg.Cache.Backend {
	case "redis":
		logger.Info("Using Redis cache backend", logging.WithField("addr", cfg.Cache.RedisAddr))
		redisCache, err := cache.NewRedis(cache.RedisConfig{
			Addr:   cfg.Cache.RedisAddr,
			Prefix: "pacerelay:",
		}, cfg.Cache.TTL)
		if err != nil {
			logger.Error("Failed to connect to Redis, falling back to memory cache", logging.WithField("error", err.Error()))
			feedCache = cache.NewMemory(cfg.Cache.TTL)
			refreshLimiter = ratelimit.New(cfg.Server.RefreshMinGap)
		} else {
			feedCache = redisCache
			refreshLimiter = ratelimit.NewRedis(redisCache.Client(), "ratelimit:refresh:", cfg.Server.RefreshMinGap)
		}
	default:
		logger.Info("Using in-memory cache backend")
		feedCache = cache.NewMemory(cfg.Cache.TTL)
		refreshLimiter = ratelimit.New(cfg.Server.RefreshMinGap)
	}

	limiter := ratelimit.New(cfg.Server.RelayRateLimit)
	pool := relay.NewPool(cfg.Relay.URLs, limiter, relay.PoolConfig{
		FetchTimeout: cfg.Relay.FetchTimeout,
		MaxAttempts:  cfg.Relay.MaxAttempts,
		BaseDelay:    cfg.Relay.BaseDelay,
	}, logger)
	defer pool.Close()

	viewer := identity.NewStatic(cfg.Identity.ViewerPubKey)
	joiner := enrich.New(pool, viewer, cfg.Relay.JoinTimeout, logger)
	deduper := dedup.New(dedup.DefaultTolerances())

	assembler := feed.New(pool, joiner, deduper, feedCache, feed.Config{
		PageSize:           cfg.Feed.PageSize,
		DisplayStep:        cfg.Feed.DisplayStep,
		CacheTTL:           cfg.Cache.TTL,
		FreshnessThreshold: cfg.Feed.FreshnessThreshold,
		RefreshInterval:    cfg.Feed.RefreshInterval,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutting down...")
		cancel()
	}()

	// Pre-fetch the default feed in the background so the first request
	// is warm, then keep it refreshed.
	go func() {
		logger.Info("Pre-fetching feed in background...")
		if err := assembler.Refresh(ctx, models.FeedQuery{}); err != nil {
			logger.Warn("Initial fetch had errors", logging.WithField("error", err.Error()))
		}
		logger.Info("Initial fetch complete")
	}()

	stopRefresh := assembler.StartBackgroundRefresh(ctx, models.FeedQuery{})
	defer stopRefresh()

	logger.Info("Starting HTTP server", logging.WithField("addr", cfg.Server.HTTPAddr))
	httpServer := httpapi.New(assembler, pool, refreshLimiter, logger)
	if err := httpServer.Start(cfg.Server.HTTPAddr); err != nil {
		logger.Error("HTTP server error", logging.WithField("error", err.Error()))
		os.Exit(1)
	}
}

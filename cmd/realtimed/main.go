package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uplinq/uplinq/internal/bus"
	"github.com/uplinq/uplinq/internal/cache"
	"github.com/uplinq/uplinq/internal/chat"
	"github.com/uplinq/uplinq/internal/config"
	"github.com/uplinq/uplinq/internal/container"
	"github.com/uplinq/uplinq/internal/database"
	"github.com/uplinq/uplinq/internal/logger"
	"github.com/uplinq/uplinq/internal/metrics"
	"github.com/uplinq/uplinq/internal/notify"
	"github.com/uplinq/uplinq/internal/platform"
	"github.com/uplinq/uplinq/internal/presence"
	"github.com/uplinq/uplinq/internal/realtime"
	"github.com/uplinq/uplinq/internal/storage"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := logger.Initialize(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	logger.Log.Info("🚀 Realtime core starting")

	metrics.Initialize()

	if cfg.JWTSecret == "" {
		logger.Log.Fatal("JWT_SECRET environment variable is required")
	}
	session, err := platform.SessionFromToken(cfg.AccessToken, []byte(cfg.JWTSecret))
	if err != nil {
		logger.Log.Fatal("Invalid access token", zap.Error(err))
	}
	logger.Log.Info("Authenticated", zap.String("user_id", session.UserID))

	// Database
	if cfg.DatabaseURL == "" {
		logger.Log.Fatal("DATABASE_URL environment variable is required")
	}
	if err := database.Initialize(cfg.DatabaseURL); err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}
	if err := database.Migrate(); err != nil {
		logger.Log.Fatal("Failed to run migrations", zap.Error(err))
	}

	c := container.New()
	c.SetLogger(logger.Log)
	c.SetDB(database.DB)
	c.SetSession(session)
	c.SetStore(platform.NewStore(database.DB))
	c.OnCleanup(func(ctx context.Context) error {
		return database.Close()
	})

	// Redis backs both the durable cache tier and, without a websocket
	// endpoint, the realtime transport
	rdb, err := cache.NewRedisClient(cfg.RedisHost, cfg.RedisPort, cfg.RedisPass)
	if err != nil {
		logger.Log.Warn("Redis unavailable, caching degrades to memory only", zap.Error(err))
	} else {
		c.SetRedis(rdb)
		c.OnCleanup(func(ctx context.Context) error {
			return rdb.Close()
		})
	}

	// Two-tier cache with schema-version wipe on mismatch
	cacheOpts := []cache.Option{}
	if rdb != nil {
		cacheOpts = append(cacheOpts, cache.WithDurable(cache.NewRedisStore(rdb)))
	}
	appCache := cache.New(config.CacheSchemaVersion, cacheOpts...)
	c.SetCache(appCache)

	// Realtime transport: prefer the websocket endpoint, fall back to Redis
	var transport realtime.Transport
	switch {
	case cfg.RealtimeURL != "":
		ws := realtime.NewWSTransport(cfg.RealtimeURL, cfg.AccessToken)
		ws.Start()
		c.OnCleanup(func(ctx context.Context) error {
			ws.Stop()
			return nil
		})
		transport = ws
	case rdb != nil:
		transport = realtime.NewRedisTransport(rdb)
	default:
		logger.Log.Fatal("No realtime transport available: set REALTIME_URL or REDIS_HOST")
	}
	c.SetTransport(transport)

	channels := realtime.NewManager(transport)
	c.SetChannels(channels)

	// S3 uploads are optional; chat falls back to text-only messages
	if cfg.S3Bucket != "" {
		s3Uploader, err := storage.NewS3Uploader(cfg.S3Region, cfg.S3Bucket, cfg.S3BaseURL)
		if err != nil {
			logger.Log.Warn("Failed to initialize S3 uploader", zap.Error(err))
		} else {
			if err := s3Uploader.CheckBucketAccess(context.Background()); err != nil {
				logger.Log.Warn("S3 bucket access failed, attachments will fail", zap.Error(err))
			}
			c.SetS3Uploader(s3Uploader)
		}
	}

	// Presence
	tracker := presence.NewTracker(c.Store(), session.UserID, presence.Config{
		HeartbeatInterval:  cfg.HeartbeatInterval,
		RosterPollInterval: cfg.RosterPollInterval,
		ActivityWindow:     cfg.ActivityWindow,
	})
	c.SetPresence(tracker)

	// Chat
	var blobs chat.Blobs
	if c.S3() != nil {
		blobs = c.S3()
	}
	chatManager := chat.NewManager(session.UserID, c.Store(), channels, blobs, chat.Config{
		TypingDebounce: cfg.TypingDebounce,
		TypingExpiry:   cfg.TypingExpiry,
	})
	c.SetChat(chatManager)

	// Notifications
	resolver := notify.NewResolver(c.Store(), c.Store(), appCache)
	c.SetResolver(resolver)
	alerter := notify.NewToastAlerter(0)
	center := notify.NewCenter(session.UserID, cfg.FeedLimit, c.Store(), resolver, channels, alerter)
	c.SetNotify(center)

	// Command bus wires chat-open requests from other surfaces
	commandBus := bus.New()
	commandBus.SubscribeStartChat(func(cmd bus.StartChat) error {
		_, err := chatManager.Open(context.Background(), cmd.PeerID)
		return err
	})
	c.SetBus(commandBus)

	if err := c.Validate(); err != nil {
		logger.Log.Fatal("Container validation failed", zap.Error(err))
	}

	// Start services
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker.Start(runCtx)
	defer tracker.Stop()

	if err := chatManager.Start(runCtx); err != nil {
		logger.Log.Fatal("Failed to start chat", zap.Error(err))
	}
	defer chatManager.Stop()

	if err := center.Start(runCtx); err != nil {
		logger.Log.Fatal("Failed to start notification center", zap.Error(err))
	}
	defer center.Stop()

	// Prometheus scrape endpoint
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Log.Error("Metrics endpoint failed", zap.Error(err))
			}
		}()
		logger.Log.Info("📈 Metrics endpoint listening", zap.String("addr", cfg.MetricsAddr))
	}

	logger.Log.Info("✅ Realtime core running",
		zap.String("user_id", session.UserID),
		zap.Int("feed_limit", cfg.FeedLimit))

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("🛑 Shutting down")
	cancel()
	channels.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := c.Cleanup(shutdownCtx); err != nil {
		logger.Log.Error("Cleanup failed", zap.Error(err))
	}

	logger.Log.Info("👋 Realtime core stopped")
}

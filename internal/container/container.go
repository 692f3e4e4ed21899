// Package container provides dependency injection management for the
// realtime core. It consolidates all services and provides type-safe
// access to dependencies.
package container

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/uplinq/uplinq/internal/bus"
	"github.com/uplinq/uplinq/internal/cache"
	"github.com/uplinq/uplinq/internal/chat"
	"github.com/uplinq/uplinq/internal/logger"
	"github.com/uplinq/uplinq/internal/notify"
	"github.com/uplinq/uplinq/internal/platform"
	"github.com/uplinq/uplinq/internal/presence"
	"github.com/uplinq/uplinq/internal/realtime"
	"github.com/uplinq/uplinq/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Container holds all application dependencies and provides type-safe access.
// It implements the Service Locator pattern with additional lifecycle management.
type Container struct {
	// Core infrastructure
	db      *gorm.DB
	logger  *zap.Logger
	redis   *redis.Client
	cache   *cache.Cache
	store   *platform.Store
	session *platform.Session

	// Realtime plumbing
	transport realtime.Transport
	channels  *realtime.Manager

	// Features
	presence *presence.Tracker
	chat     *chat.Manager
	notify   *notify.Center
	resolver *notify.Resolver
	bus      *bus.Bus
	s3       *storage.S3Uploader

	// Lifecycle hooks
	cleanupFuncs []func(context.Context) error
	mu           sync.RWMutex
}

// New creates a new empty container.
// Services should be registered using Set* methods.
func New() *Container {
	return &Container{
		cleanupFuncs: make([]func(context.Context) error, 0),
	}
}

// SetDB registers the database connection
func (c *Container) SetDB(db *gorm.DB) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.db = db
	return c
}

// DB returns the database connection
func (c *Container) DB() *gorm.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

// SetLogger registers the logger
func (c *Container) SetLogger(l *zap.Logger) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = l
	return c
}

// Logger returns the logger instance
func (c *Container) Logger() *zap.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.logger == nil {
		return logger.Log
	}
	return c.logger
}

// SetRedis registers the Redis client
func (c *Container) SetRedis(client *redis.Client) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redis = client
	return c
}

// Redis returns the Redis client
func (c *Container) Redis() *redis.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.redis
}

// SetCache registers the two-tier cache
func (c *Container) SetCache(cc *cache.Cache) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = cc
	return c
}

// Cache returns the two-tier cache
func (c *Container) Cache() *cache.Cache {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache
}

// SetStore registers the row store
func (c *Container) SetStore(s *platform.Store) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = s
	return c
}

// Store returns the row store
func (c *Container) Store() *platform.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}

// SetSession registers the authenticated session
func (c *Container) SetSession(s *platform.Session) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
	return c
}

// Session returns the authenticated session
func (c *Container) Session() *platform.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// SetTransport registers the realtime event transport
func (c *Container) SetTransport(t realtime.Transport) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
	return c
}

// Transport returns the realtime event transport
func (c *Container) Transport() realtime.Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport
}

// SetChannels registers the channel manager
func (c *Container) SetChannels(m *realtime.Manager) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = m
	return c
}

// Channels returns the channel manager
func (c *Container) Channels() *realtime.Manager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels
}

// SetPresence registers the presence tracker
func (c *Container) SetPresence(t *presence.Tracker) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence = t
	return c
}

// Presence returns the presence tracker
func (c *Container) Presence() *presence.Tracker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.presence
}

// SetChat registers the chat manager
func (c *Container) SetChat(m *chat.Manager) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chat = m
	return c
}

// Chat returns the chat manager
func (c *Container) Chat() *chat.Manager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chat
}

// SetNotify registers the notification center
func (c *Container) SetNotify(n *notify.Center) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = n
	return c
}

// Notify returns the notification center
func (c *Container) Notify() *notify.Center {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notify
}

// SetResolver registers the notification resolver
func (c *Container) SetResolver(r *notify.Resolver) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolver = r
	return c
}

// Resolver returns the notification resolver
func (c *Container) Resolver() *notify.Resolver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolver
}

// SetBus registers the command bus
func (c *Container) SetBus(b *bus.Bus) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bus = b
	return c
}

// Bus returns the command bus
func (c *Container) Bus() *bus.Bus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bus
}

// SetS3Uploader registers the S3 storage uploader
func (c *Container) SetS3Uploader(uploader *storage.S3Uploader) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s3 = uploader
	return c
}

// S3 returns the S3 storage uploader
func (c *Container) S3() *storage.S3Uploader {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s3
}

// OnCleanup registers a cleanup function to be called during shutdown.
// Cleanup functions are called in LIFO order (last registered, first cleaned up).
// This ensures proper dependency ordering during shutdown.
func (c *Container) OnCleanup(fn func(context.Context) error) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
	return c
}

// Cleanup performs graceful shutdown of all registered services.
// It calls cleanup functions in reverse order of registration.
func (c *Container) Cleanup(ctx context.Context) error {
	log := c.Logger()

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](ctx); err != nil {
			// Log error but continue cleanup
			log.Error("Cleanup function failed",
				zap.Int("index", i),
				zap.Error(err))
		}
	}

	return nil
}

// InitializationError indicates that required dependencies are missing
type InitializationError struct {
	Message     string
	MissingDeps []string
}

// Error implements the error interface
func (e *InitializationError) Error() string {
	if len(e.MissingDeps) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.MissingDeps, ", "))
}

// Validate checks that all required dependencies are registered.
// This should be called after initialization and before starting services.
func (c *Container) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	missingDeps := []string{}

	if c.session == nil {
		missingDeps = append(missingDeps, "session")
	}
	if c.store == nil {
		missingDeps = append(missingDeps, "row store")
	}
	if c.transport == nil {
		missingDeps = append(missingDeps, "realtime transport")
	}
	if c.channels == nil {
		missingDeps = append(missingDeps, "channel manager")
	}
	if c.cache == nil {
		missingDeps = append(missingDeps, "cache")
	}

	if len(missingDeps) > 0 {
		return &InitializationError{Message: "missing required dependencies", MissingDeps: missingDeps}
	}

	return nil
}

// Package uplinq provides the realtime core for the Uplinq member
// directory: live chat, presence, and notifications for an authenticated
// member session.

// The implementation is organized into subpackages:

// - internal/realtime: channel lifecycle, transports, event decoding
// - internal/chat: direct-message sessions, typing, read receipts
// - internal/presence: heartbeat and online-member roster
// - internal/notify: notification feed, deep links, avatar resolution
// - internal/cache: two-tier TTL cache (memory + Redis)
// - internal/platform: database store, SQL functions, session tokens
// - internal/badges: reward-tier progression
// - internal/bus: in-process command bus
// - internal/storage: file storage (S3) operations
// - internal/database: database connection and migrations
// - internal/container: dependency wiring and lifecycle

// See the individual package documentation for detailed reference.
package uplinq

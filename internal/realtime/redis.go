package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/uplinq/uplinq/internal/logger"
	"go.uber.org/zap"
)

const redisChannelPrefix = "realtime:"

// RedisTransport implements Transport over Redis pub/sub. Each logical
// channel maps to one Redis channel; the platform's server-side triggers
// publish change events into the same namespace.
type RedisTransport struct {
	rdb *redis.Client
}

// NewRedisTransport creates a transport over an existing Redis client
func NewRedisTransport(rdb *redis.Client) *RedisTransport {
	return &RedisTransport{rdb: rdb}
}

type redisSub struct {
	t       *RedisTransport
	channel string
	pubsub  *redis.PubSub
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Subscribe opens a Redis subscription and pumps matching events to fn
// from a dedicated goroutine, preserving per-channel arrival order.
func (t *RedisTransport) Subscribe(ctx context.Context, channel string, rules []Rule, fn func(Event)) (Handle, error) {
	subCtx, cancel := context.WithCancel(context.Background())

	pubsub := t.rdb.Subscribe(subCtx, redisChannelPrefix+channel)

	// Wait for subscription confirmation before returning the handle
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisSub{t: t, channel: channel, pubsub: pubsub, cancel: cancel}

	go func() {
		for msg := range pubsub.Channel() {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				logger.Error("unparseable event on redis channel",
					logger.WithChannel(channel), zap.Error(err))
				continue
			}
			if !matchesAny(rules, e) {
				continue
			}
			fn(e)
		}
		logger.Debug("redis pubsub channel closed", logger.WithChannel(channel))
	}()

	return sub, nil
}

// Broadcast publishes a named event to a channel without a subscription
func (t *RedisTransport) Broadcast(ctx context.Context, channel string, event string, payload any) error {
	e, err := broadcastEvent(event, payload)
	if err != nil {
		return err
	}
	return t.publish(ctx, channel, e)
}

func (t *RedisTransport) publish(ctx context.Context, channel string, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return t.rdb.Publish(ctx, redisChannelPrefix+channel, data).Err()
}

// Broadcast publishes through the transport; Redis pub/sub echoes to all
// subscribers including the sender, so senders dedup their own events by id.
func (s *redisSub) Broadcast(ctx context.Context, event string, payload any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errChannelClosed
	}
	s.mu.Unlock()

	e, err := broadcastEvent(event, payload)
	if err != nil {
		return err
	}
	return s.t.publish(ctx, s.channel, e)
}

// Close tears down the Redis subscription; extra calls are no-ops
func (s *redisSub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	return s.pubsub.Close()
}

func matchesAny(rules []Rule, e Event) bool {
	if len(rules) == 0 {
		return true
	}
	for _, r := range rules {
		if r.Matches(e) {
			return true
		}
	}
	return false
}

package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// durableKeyPrefix namespaces every durable cache entry so a schema wipe
// never touches unrelated keys
const durableKeyPrefix = "cache:"

// DurableStore is the storage medium behind the persistent cache tier.
// A missing key is reported as (nil, nil); every other failure is an error
// the cache degrades around.
type DurableStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	WipeAll(ctx context.Context) error
}

// RedisStore implements DurableStore on Redis. Entries carry the TTL at the
// Redis level too, so abandoned keys expire server-side.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a Redis-backed durable store
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, durableKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}

func (s *RedisStore) Write(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, durableKeyPrefix+key, data, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = durableKeyPrefix + k
	}
	return s.rdb.Del(ctx, full...).Err()
}

// WipeAll removes every durable entry, including the version marker
func (s *RedisStore) WipeAll(ctx context.Context) error {
	keys, err := s.rdb.Keys(ctx, durableKeyPrefix+"*").Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// MapStore is an in-memory DurableStore used in tests and when no Redis is
// configured. TTLs are honored lazily on read.
type MapStore struct {
	mu      sync.Mutex
	entries map[string]mapEntry
	now     func() time.Time
}

type mapEntry struct {
	data    []byte
	expires time.Time // zero = no expiry
}

// NewMapStore creates an empty in-memory durable store
func NewMapStore() *MapStore {
	return &MapStore{entries: make(map[string]mapEntry), now: time.Now}
}

// SetClock overrides the store's clock; tests advance time with it
func (s *MapStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MapStore) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[durableKeyPrefix+key]
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && s.now().After(e.expires) {
		delete(s.entries, durableKeyPrefix+key)
		return nil, nil
	}
	return e.data, nil
}

func (s *MapStore) Write(_ context.Context, key string, data []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := mapEntry{data: data}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.entries[durableKeyPrefix+key] = e
	return nil
}

func (s *MapStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, durableKeyPrefix+k)
	}
	return nil
}

func (s *MapStore) WipeAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if strings.HasPrefix(k, durableKeyPrefix) {
			delete(s.entries, k)
		}
	}
	return nil
}

// Len returns the number of stored entries (version marker included)
func (s *MapStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

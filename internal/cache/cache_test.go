package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uplinq/uplinq/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize("error", ""); err != nil {
		panic(err)
	}
	m.Run()
}

// fakeClock is an adjustable time source shared between a cache and its
// durable store
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestMemoryTierSetGet(t *testing.T) {
	clock := newFakeClock()
	c := New("1.0", WithClock(clock.Now))

	c.Set("countries", []string{"US", "DE"}, 10*time.Minute)

	got, ok := c.Get("countries")
	require.True(t, ok)
	assert.Equal(t, []string{"US", "DE"}, got)
}

func TestMemoryTierExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New("1.0", WithClock(clock.Now))

	c.Set("banner", "hero.png", 10*time.Minute)

	// Just inside the TTL
	clock.Advance(10 * time.Minute)
	_, ok := c.Get("banner")
	assert.True(t, ok, "entry should survive exactly its TTL")

	// Just past it
	clock.Advance(time.Second)
	_, ok = c.Get("banner")
	assert.False(t, ok, "entry should expire past its TTL")

	// The expired read deletes the entry; a renewed Set works normally
	c.Set("banner", "hero2.png", 10*time.Minute)
	got, ok := c.Get("banner")
	require.True(t, ok)
	assert.Equal(t, "hero2.png", got)
}

func TestMemoryTierOverwriteRestartsTTL(t *testing.T) {
	clock := newFakeClock()
	c := New("1.0", WithClock(clock.Now))

	c.Set("k", 1, time.Minute)
	clock.Advance(50 * time.Second)
	c.Set("k", 2, time.Minute)
	clock.Advance(50 * time.Second)

	got, ok := c.Get("k")
	require.True(t, ok, "overwrite should restart the TTL window")
	assert.Equal(t, 2, got)
}

func TestClear(t *testing.T) {
	c := New("1.0")
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("c", 3, time.Minute)

	c.Clear("a", "b")
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)

	c.Clear()
	_, ok = c.Get("c")
	assert.False(t, ok)
}

func TestDurableRoundTrip(t *testing.T) {
	clock := newFakeClock()
	store := NewMapStore()
	store.SetClock(clock.Now)
	c := New("1.0", WithDurable(store), WithClock(clock.Now))

	ctx := context.Background()
	c.SetDurable(ctx, "profile_summary", map[string]string{"name": "alice"}, time.Hour)

	var got map[string]string
	require.True(t, c.GetDurable(ctx, "profile_summary", &got))
	assert.Equal(t, "alice", got["name"])

	// Expired entries read as absent and are deleted
	clock.Advance(2 * time.Hour)
	got = nil
	assert.False(t, c.GetDurable(ctx, "profile_summary", &got))
}

func TestDurableSchemaWipeOnVersionMismatch(t *testing.T) {
	clock := newFakeClock()
	store := NewMapStore()
	store.SetClock(clock.Now)
	ctx := context.Background()

	old := New("1.0", WithDurable(store), WithClock(clock.Now))
	old.SetDurable(ctx, "categories", []string{"jobs", "events"}, time.Hour)
	old.SetDurable(ctx, "countries", []string{"US"}, time.Hour)
	require.Equal(t, 3, store.Len(), "two entries plus the version marker")

	// Same version: entries survive a new cache instance
	same := New("1.0", WithDurable(store), WithClock(clock.Now))
	var cats []string
	require.True(t, same.GetDurable(ctx, "categories", &cats))

	// Bumped version: everything is wiped before the first read
	next := New("2.0", WithDurable(store), WithClock(clock.Now))
	cats = nil
	assert.False(t, next.GetDurable(ctx, "categories", &cats))
	assert.Equal(t, 1, store.Len(), "only the refreshed version marker remains")

	// Entries written under the new version persist
	next.SetDurable(ctx, "categories", []string{"jobs"}, time.Hour)
	cats = nil
	require.True(t, next.GetDurable(ctx, "categories", &cats))
	assert.Equal(t, []string{"jobs"}, cats)
}

func TestDurableMalformedEntryDeleted(t *testing.T) {
	store := NewMapStore()
	c := New("1.0", WithDurable(store))
	ctx := context.Background()

	// Corrupt blob straight into the store, bypassing the envelope
	require.NoError(t, store.Write(ctx, "broken", []byte("{not json"), time.Hour))

	var dst string
	assert.False(t, c.GetDurable(ctx, "broken", &dst))

	raw, err := store.Read(ctx, "broken")
	require.NoError(t, err)
	assert.Nil(t, raw, "malformed entry should be deleted on read")
}

func TestDurableDataShapeMismatchDeleted(t *testing.T) {
	store := NewMapStore()
	c := New("1.0", WithDurable(store))
	ctx := context.Background()

	// Valid envelope whose data no longer decodes into the caller's type
	env := envelope{
		Data:          json.RawMessage(`{"unexpected":"shape"}`),
		StoredAt:      time.Now(),
		TTLMillis:     time.Hour.Milliseconds(),
		SchemaVersion: "1.0",
	}
	blob, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, "reshaped", blob, time.Hour))

	var dst []string
	assert.False(t, c.GetDurable(ctx, "reshaped", &dst))

	raw, err := store.Read(ctx, "reshaped")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestDurableEntryFromOtherSchemaVersionIgnored(t *testing.T) {
	store := NewMapStore()
	ctx := context.Background()

	// Marker says 2.0; one stray entry still carries 1.0 (written after the
	// wipe by a lagging old process)
	require.NoError(t, store.Write(ctx, schemaMarkerKey, []byte("2.0"), 0))
	env := envelope{
		Data:          json.RawMessage(`"old"`),
		StoredAt:      time.Now(),
		TTLMillis:     time.Hour.Milliseconds(),
		SchemaVersion: "1.0",
	}
	blob, _ := json.Marshal(env)
	require.NoError(t, store.Write(ctx, "stray", blob, time.Hour))

	c := New("2.0", WithDurable(store))
	var dst string
	assert.False(t, c.GetDurable(ctx, "stray", &dst))
}

func TestClearDurableRestoresMarker(t *testing.T) {
	store := NewMapStore()
	c := New("1.0", WithDurable(store))
	ctx := context.Background()

	c.SetDurable(ctx, "a", 1, time.Hour)
	c.SetDurable(ctx, "b", 2, time.Hour)
	c.ClearDurable(ctx)

	require.Equal(t, 1, store.Len(), "full clear keeps only the version marker")

	// A follow-up cache with the same version must not re-wipe
	c.SetDurable(ctx, "a", 1, time.Hour)
	again := New("1.0", WithDurable(store))
	var got int
	assert.True(t, again.GetDurable(ctx, "a", &got))
}

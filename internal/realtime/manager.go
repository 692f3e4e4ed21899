package realtime

import (
	"context"
	"strings"
	"sync"

	"github.com/uplinq/uplinq/internal/errors"
	"github.com/uplinq/uplinq/internal/logger"
	"github.com/uplinq/uplinq/internal/metrics"
	"go.uber.org/zap"
)

var errChannelClosed = errors.Conflict("channel already unsubscribed")

// Manager owns all live channels for one process. It enforces the
// single-ownership invariant: at most one active channel per scope key.
// Opening a key that is already open tears the stale channel down first,
// which is the leak pattern this layer exists to prevent.
type Manager struct {
	transport Transport
	metrics   *metrics.Metrics

	mu       sync.Mutex
	channels map[string]*Channel

	// test hook, incremented whenever Open finds a stale channel
	staleTeardowns int
}

// NewManager creates a channel manager over the given transport
func NewManager(t Transport) *Manager {
	return &Manager{
		transport: t,
		metrics:   metrics.Get(),
		channels:  make(map[string]*Channel),
	}
}

// Open subscribes to the channel for key with the given rules. If a channel
// for key is already live it is unsubscribed before the new one opens; this
// keeps exactly one connection per scope key across dependency changes.
func (m *Manager) Open(ctx context.Context, key string, rules []Rule, fn func(Event)) (*Channel, error) {
	m.mu.Lock()
	stale := m.channels[key]
	if stale != nil {
		delete(m.channels, key)
		m.staleTeardowns++
	}
	m.mu.Unlock()

	if stale != nil {
		logger.Warn("channel already open for scope key, tearing down stale handle",
			logger.WithChannel(key))
		stale.Unsubscribe()
	}

	delivered := func(e Event) {
		m.metrics.EventsReceivedTotal.WithLabelValues(string(e.Type)).Inc()
		fn(e)
	}
	handle, err := m.transport.Subscribe(ctx, key, rules, delivered)
	if err != nil {
		return nil, errors.Transient("channel subscribe failed", err)
	}

	ch := &Channel{key: key, handle: handle, mgr: m}

	m.mu.Lock()
	m.channels[key] = ch
	m.mu.Unlock()

	purpose := purposeOf(key)
	m.metrics.ChannelsOpenedTotal.WithLabelValues(purpose).Inc()
	m.metrics.ChannelsActive.WithLabelValues(purpose).Inc()
	logger.Debug("channel opened", logger.WithChannel(key))
	return ch, nil
}

// Swap atomically replaces the channel for oldKey with one for newKey.
// Used when a scope dependency changes, e.g. the open chat peer.
func (m *Manager) Swap(ctx context.Context, oldKey, newKey string, rules []Rule, fn func(Event)) (*Channel, error) {
	if oldKey != "" && oldKey != newKey {
		m.Close(oldKey)
	}
	return m.Open(ctx, newKey, rules, fn)
}

// Close unsubscribes the channel for key if one is live
func (m *Manager) Close(key string) {
	m.mu.Lock()
	ch := m.channels[key]
	m.mu.Unlock()
	if ch != nil {
		ch.Unsubscribe()
	}
}

// release is called from Channel.Unsubscribe exactly once per channel
func (m *Manager) release(c *Channel, h Handle) {
	m.mu.Lock()
	if m.channels[c.key] == c {
		delete(m.channels, c.key)
	}
	m.mu.Unlock()

	if err := h.Close(); err != nil {
		logger.Warn("channel close failed", logger.WithChannel(c.key), zap.Error(err))
	}
	purpose := purposeOf(c.key)
	m.metrics.ChannelsClosedTotal.WithLabelValues(purpose).Inc()
	m.metrics.ChannelsActive.WithLabelValues(purpose).Dec()
	logger.Debug("channel closed", logger.WithChannel(c.key))
}

// Active reports whether a channel is live for key
func (m *Manager) Active(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[key] != nil
}

// ActiveKeys returns the scope keys of all live channels
func (m *Manager) ActiveKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.channels))
	for k := range m.channels {
		keys = append(keys, k)
	}
	return keys
}

// StaleTeardowns returns how many times Open had to tear down a stale
// channel for a key that was still live. Nonzero values during tests point
// at a missing Unsubscribe in a caller.
func (m *Manager) StaleTeardowns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.staleTeardowns
}

// Stop unsubscribes every live channel
func (m *Manager) Stop() {
	m.mu.Lock()
	open := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		open = append(open, ch)
	}
	m.mu.Unlock()

	for _, ch := range open {
		ch.Unsubscribe()
	}
	logger.Info("channel manager stopped", zap.Int("channels_closed", len(open)))
}

// purposeWords are the segments scope keys are built from. Everything
// after them is a scope id and must stay out of the metrics label, or
// every user/pair would mint its own label value.
var purposeWords = map[string]bool{
	"chat":          true,
	"popup":         true,
	"notifications": true,
	"typing":        true,
	"indicators":    true,
	"presence":      true,
}

// purposeOf maps a scope key to a metrics label: the leading segments
// that are purpose words, e.g. "chat_popup" or "notifications"
func purposeOf(key string) string {
	segments := strings.Split(key, "_")
	n := 0
	for _, s := range segments {
		if !purposeWords[s] {
			break
		}
		n++
	}
	if n == 0 {
		return "other"
	}
	return strings.Join(segments[:n], "_")
}

// Package chat coordinates the viewer's open chat popups. Each peer gets an
// independent session (its own state machine and live feed); the typing
// indicator rides one shared broadcast channel multiplexed across all
// sessions. Opening a broadcast channel per keystroke overloads the
// platform, so the one persistent handle is reused for every signal.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/uplinq/uplinq/internal/errors"
	"github.com/uplinq/uplinq/internal/logger"
	"github.com/uplinq/uplinq/internal/metrics"
	"github.com/uplinq/uplinq/internal/models"
	"github.com/uplinq/uplinq/internal/realtime"
	"go.uber.org/zap"
)

// typingChannelKey is the one shared broadcast channel for typing signals
const typingChannelKey = "typing_indicators"

// typingEventName is the broadcast event name for typing signals
const typingEventName = "typing"

// historyLimit caps the initial history fetch per thread
const historyLimit = 50

// Store is the row access the chat core needs
type Store interface {
	// History returns the most recent messages between two users, oldest first
	History(ctx context.Context, a, b string, limit int) ([]models.Message, error)
	// InsertMessage stores a message and returns the canonical row (server
	// id and timestamp)
	InsertMessage(ctx context.Context, m *models.Message) (*models.Message, error)
	// MarkMessagesRead stamps read_at on all given messages in one call
	MarkMessagesRead(ctx context.Context, ids []string, at time.Time) error
	// GetProfile loads a peer's display data
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
}

// Blobs uploads chat attachments; nil disables attachments
type Blobs interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// Config holds chat tunables
type Config struct {
	TypingDebounce time.Duration // min gap between typing broadcasts per peer
	TypingExpiry   time.Duration // auto-clear of the peer-is-typing flag
}

// DefaultConfig returns the reference values
func DefaultConfig() Config {
	return Config{
		TypingDebounce: 3 * time.Second,
		TypingExpiry:   3 * time.Second,
	}
}

// Manager owns every open chat session for one viewer
type Manager struct {
	viewerID string
	store    Store
	channels *realtime.Manager
	blobs    Blobs
	cfg      Config

	mu       sync.Mutex
	sessions map[string]*Session
	typing   *realtime.Channel
	lastSent map[string]time.Time // peer id -> last typing broadcast

	now     func() time.Time
	metrics *metrics.Metrics
}

// NewManager creates a chat manager for the viewer
func NewManager(viewerID string, store Store, channels *realtime.Manager, blobs Blobs, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.TypingDebounce <= 0 {
		cfg.TypingDebounce = def.TypingDebounce
	}
	if cfg.TypingExpiry <= 0 {
		cfg.TypingExpiry = def.TypingExpiry
	}
	return &Manager{
		viewerID: viewerID,
		store:    store,
		channels: channels,
		blobs:    blobs,
		cfg:      cfg,
		sessions: make(map[string]*Session),
		lastSent: make(map[string]time.Time),
		now:      time.Now,
		metrics:  metrics.Get(),
	}
}

// SetClock overrides the manager clock; tests drive the typing debounce
// with it
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Start opens the shared typing channel. Inbound signals are filtered by
// recipient and routed to the matching session.
func (m *Manager) Start(ctx context.Context) error {
	rules := []realtime.Rule{{
		Types:  []realtime.EventType{realtime.EventBroadcast},
		Name:   typingEventName,
		Filter: "recipient_id=eq." + m.viewerID,
	}}
	ch, err := m.channels.Open(ctx, typingChannelKey, rules, m.onTyping)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.typing = ch
	m.mu.Unlock()
	logger.Info("chat manager started", logger.WithUserID(m.viewerID))
	return nil
}

// Stop closes every session and the shared typing channel
func (m *Manager) Stop() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	typing := m.typing
	m.typing = nil
	m.mu.Unlock()

	for _, s := range open {
		s.close()
	}
	if typing != nil {
		typing.Unsubscribe()
	}
	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	logger.Info("chat manager stopped", zap.Int("sessions_closed", len(open)))
}

// Open returns the session for peerID, creating it if needed. A new session
// subscribes to the pair-scoped message feed first and then loads history
// in the background (Loading -> Ready); events arriving during the load are
// merged by id.
func (m *Manager) Open(ctx context.Context, peerID string) (*Session, error) {
	if peerID == m.viewerID {
		return nil, errors.Conflict("cannot open a chat with yourself")
	}

	m.mu.Lock()
	if s, ok := m.sessions[peerID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	peer, err := m.store.GetProfile(ctx, peerID)
	if err != nil {
		return nil, errors.Transient("peer profile load failed", err)
	}

	s := newSession(m, *peer)

	// claim the slot before subscribing so a concurrent Open for the same
	// peer returns this session instead of building a second one whose
	// subscribe would tear this one's channel down
	m.mu.Lock()
	if existing, ok := m.sessions[peerID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[peerID] = s
	m.mu.Unlock()

	key := models.PairKey(m.viewerID, peerID)
	rules := []realtime.Rule{{
		Types: []realtime.EventType{realtime.EventInsert},
		Table: "messages",
	}}
	ch, err := m.channels.Open(ctx, key, rules, s.onEvent)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, peerID)
		m.mu.Unlock()
		return nil, err
	}
	s.setChannel(ch)

	s.loadHistory(ctx)
	return s, nil
}

// Close tears down the session for peerID, if open
func (m *Manager) Close(peerID string) {
	m.mu.Lock()
	s := m.sessions[peerID]
	delete(m.sessions, peerID)
	m.mu.Unlock()
	if s != nil {
		s.close()
	}
}

// Session returns the open session for peerID, or nil
func (m *Manager) Session(peerID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[peerID]
}

// OpenPeers returns the peer ids of all open sessions
func (m *Manager) OpenPeers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	peers := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		peers = append(peers, id)
	}
	return peers
}

// NotifyTyping broadcasts a typing signal to peerID through the shared
// handle. Signals are debounced: nothing is sent when a signal already went
// out for this peer inside the debounce window.
func (m *Manager) NotifyTyping(ctx context.Context, peerID string) error {
	now := m.now()

	m.mu.Lock()
	typing := m.typing
	if typing == nil {
		// not started; don't record a debounce stamp for a signal that
		// was never sent
		m.mu.Unlock()
		return errors.Unavailable("typing channel")
	}
	if last, ok := m.lastSent[peerID]; ok && now.Sub(last) < m.cfg.TypingDebounce {
		m.mu.Unlock()
		return nil
	}
	m.lastSent[peerID] = now
	m.mu.Unlock()

	payload := realtime.TypingPayload{
		SenderID:    m.viewerID,
		RecipientID: peerID,
		Timestamp:   now.UnixMilli(),
	}
	if err := typing.Broadcast(ctx, typingEventName, payload); err != nil {
		// allow the next keystroke to retry immediately
		m.mu.Lock()
		delete(m.lastSent, peerID)
		m.mu.Unlock()
		return errors.Transient("typing broadcast failed", err)
	}
	m.metrics.TypingSignalsTotal.WithLabelValues().Inc()
	return nil
}

// onTyping routes an inbound typing signal to the sender's session
func (m *Manager) onTyping(e realtime.Event) {
	t, err := realtime.DecodeTyping(e)
	if err != nil {
		logger.Warn("dropping typing signal", zap.Error(err))
		return
	}
	if t.RecipientID != m.viewerID || t.SenderID == m.viewerID {
		return
	}

	m.mu.Lock()
	s := m.sessions[t.SenderID]
	m.mu.Unlock()
	if s != nil {
		s.setPeerTyping()
	}
}

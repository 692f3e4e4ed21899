package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uplinq/uplinq/internal/errors"
	"github.com/uplinq/uplinq/internal/logger"
	"github.com/uplinq/uplinq/internal/models"
	"github.com/uplinq/uplinq/internal/realtime"
	"go.uber.org/zap"
)

// State is a session's lifecycle phase
type State int

const (
	StateClosed State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "closed"
	}
}

// Session is one open chat thread with a peer. Sessions are independent:
// operations on different threads never block each other.
type Session struct {
	mgr  *Manager
	peer models.Profile

	mu          sync.Mutex
	state       State
	msgs        []models.Message
	seen        *realtime.Deduper
	peerTyping  bool
	typingTimer *time.Timer
	gen         int // bumped on close; stale async completions check it

	channel *realtime.Channel

	// OnUpdate, when set, fires after every state change (history loaded,
	// message appended, typing flag flip). The UI binding re-renders on it.
	OnUpdate func()

	// OnSendFailed, when set, receives the body of a message whose insert
	// failed so the binding can restore the input text
	OnSendFailed func(body string)
}

func newSession(mgr *Manager, peer models.Profile) *Session {
	return &Session{
		mgr:   mgr,
		peer:  peer,
		state: StateLoading,
		seen:  realtime.NewDeduper(512),
	}
}

// Peer returns the peer's profile
func (s *Session) Peer() models.Profile {
	return s.peer
}

// State returns the session's current phase
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a snapshot of the thread, oldest first
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// IsPeerTyping reports whether the peer sent a typing signal inside the
// expiry window
func (s *Session) IsPeerTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerTyping
}

// loadHistory fetches the thread history in the background. The generation
// counter guards against a late-arriving response racing a closed or
// reopened session.
func (s *Session) loadHistory(ctx context.Context) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	go func() {
		history, err := s.mgr.store.History(ctx, s.mgr.viewerID, s.peer.ID, historyLimit)
		if err != nil {
			logger.Warn("chat history load failed",
				logger.WithPeerID(s.peer.ID), zap.Error(err))
			history = nil
		}

		s.mu.Lock()
		if s.gen != gen || s.state == StateClosed {
			// session was closed while the fetch was in flight
			s.mu.Unlock()
			return
		}
		// merge: live events may have arrived during the fetch
		for _, m := range history {
			if !s.seen.Seen(m.ID) {
				s.msgs = append(s.msgs, m)
			}
		}
		sort.SliceStable(s.msgs, func(i, j int) bool {
			return s.msgs[i].CreatedAt.Before(s.msgs[j].CreatedAt)
		})
		s.state = StateReady
		s.mu.Unlock()

		s.notify()
		s.maybeMarkRead(context.Background())
	}()
}

// Send inserts a message. The caller clears the input optimistically before
// calling; on failure the body is handed back through OnSendFailed so the
// text is never silently dropped.
func (s *Session) Send(ctx context.Context, body string) error {
	if body == "" {
		return errors.Conflict("empty message body")
	}

	row, err := s.mgr.store.InsertMessage(ctx, &models.Message{
		SenderID:    s.mgr.viewerID,
		RecipientID: s.peer.ID,
		Body:        body,
	})
	if err != nil {
		s.mgr.metrics.MessagesSentTotal.WithLabelValues("error").Inc()
		if s.OnSendFailed != nil {
			s.OnSendFailed(body)
		}
		return errors.Transient("message send failed", err)
	}

	s.mgr.metrics.MessagesSentTotal.WithLabelValues("ok").Inc()
	s.append(*row)
	return nil
}

// SendAttachment uploads a file and sends a message carrying its URL
func (s *Session) SendAttachment(ctx context.Context, filename string, data []byte, contentType string) error {
	if s.mgr.blobs == nil {
		return errors.Unavailable("attachment storage")
	}

	path := fmt.Sprintf("chat/%s/%s%s", s.mgr.viewerID, uuid.New().String(), filepath.Ext(filename))
	url, err := s.mgr.blobs.Upload(ctx, path, data, contentType)
	if err != nil {
		return errors.Transient("attachment upload failed", err)
	}

	row, err := s.mgr.store.InsertMessage(ctx, &models.Message{
		SenderID:      s.mgr.viewerID,
		RecipientID:   s.peer.ID,
		Body:          filename,
		AttachmentURL: &url,
	})
	if err != nil {
		s.mgr.metrics.MessagesSentTotal.WithLabelValues("error").Inc()
		return errors.Transient("message send failed", err)
	}
	s.mgr.metrics.MessagesSentTotal.WithLabelValues("ok").Inc()
	s.append(*row)
	return nil
}

// onEvent consumes the pair-scoped message feed
func (s *Session) onEvent(e realtime.Event) {
	if e.Type != realtime.EventInsert {
		return
	}
	m, err := realtime.DecodeMessage(e)
	if err != nil {
		logger.Warn("dropping message event", logger.WithPeerID(s.peer.ID), zap.Error(err))
		return
	}
	// the feed is pair-scoped, but guard against misrouted rows anyway
	if m.SenderID != s.peer.ID && m.SenderID != s.mgr.viewerID {
		return
	}
	s.append(*m)
}

// append adds a message unless its id was already applied: the optimistic
// local insert and the echoed server event carry the same id, and the feed
// can double-deliver
func (s *Session) append(m models.Message) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if s.seen.Seen(m.ID) {
		s.mu.Unlock()
		return
	}
	s.msgs = append(s.msgs, m)
	// a message from the peer means they stopped typing
	if m.SenderID == s.peer.ID && s.peerTyping {
		s.clearTypingLocked()
	}
	s.mu.Unlock()

	s.notify()
	s.maybeMarkRead(context.Background())
}

// maybeMarkRead issues one batched mark-read call when the visible list
// contains unread messages addressed to the viewer. The local flip is
// optimistic and the write is fire-and-forget: a failure is logged, and the
// next list change re-attempts whatever is still unread server-side.
func (s *Session) maybeMarkRead(ctx context.Context) {
	now := s.mgr.now()

	s.mu.Lock()
	var ids []string
	for i := range s.msgs {
		if s.msgs[i].IsUnreadBy(s.mgr.viewerID) {
			ids = append(ids, s.msgs[i].ID)
			at := now
			s.msgs[i].ReadAt = &at
		}
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	go func() {
		if err := s.mgr.store.MarkMessagesRead(ctx, ids, now); err != nil {
			s.mgr.metrics.ReadReceiptsTotal.WithLabelValues("error").Inc()
			logger.Warn("mark-read failed", logger.WithPeerID(s.peer.ID),
				zap.Int("count", len(ids)), zap.Error(err))
			return
		}
		s.mgr.metrics.ReadReceiptsTotal.WithLabelValues("ok").Inc()
	}()
}

// setPeerTyping flips the typing flag and (re)arms the expiry timer
func (s *Session) setPeerTyping() {
	s.mu.Lock()
	s.peerTyping = true
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.mgr.cfg.TypingExpiry, func() {
		s.mu.Lock()
		s.clearTypingLocked()
		s.mu.Unlock()
		s.notify()
	})
	s.mu.Unlock()
	s.notify()
}

func (s *Session) clearTypingLocked() {
	s.peerTyping = false
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
}

func (s *Session) notify() {
	if s.OnUpdate != nil {
		s.OnUpdate()
	}
}

// setChannel attaches the live feed channel. A session closed while the
// subscribe was in flight releases the channel immediately.
func (s *Session) setChannel(ch *realtime.Channel) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		ch.Unsubscribe()
		return
	}
	s.channel = ch
	s.mu.Unlock()
}

// close tears the session down; called via Manager.Close or Manager.Stop
func (s *Session) close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.gen++
	s.clearTypingLocked()
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()

	if ch != nil {
		ch.Unsubscribe()
	}
}

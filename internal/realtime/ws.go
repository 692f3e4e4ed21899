package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/uplinq/uplinq/internal/logger"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a frame to the realtime endpoint
	wsWriteWait = 10 * time.Second

	// Ceiling for the reconnect backoff
	wsMaxReconnectWait = 30 * time.Second
)

// wsFrame is the wire envelope exchanged with the realtime endpoint
type wsFrame struct {
	Op      string `json:"op"` // "subscribe", "unsubscribe", "event"
	Channel string `json:"channel"`
	Rules   []Rule `json:"rules,omitempty"`
	Event   *Event `json:"event,omitempty"`
}

// WSTransport implements Transport over a single multiplexed websocket to
// the platform's realtime endpoint. All channels share the one connection;
// on reconnect every live channel is resubscribed, so a dropped connection
// never silently loses feeds.
type WSTransport struct {
	url   string
	token string

	mu   sync.Mutex
	conn *websocket.Conn
	subs map[string]*wsSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type wsSub struct {
	t       *WSTransport
	channel string
	rules   []Rule
	fn      func(Event)

	mu     sync.Mutex
	closed bool
}

// NewWSTransport creates a websocket transport. Start must be called
// before Subscribe.
func NewWSTransport(url, token string) *WSTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &WSTransport{
		url:    url,
		token:  token,
		subs:   make(map[string]*wsSub),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start runs the connect/read loop until Stop is called. Reconnects use
// exponential backoff with jitter and resubscribe every live channel.
func (t *WSTransport) Start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.runLoop()
	}()
}

// Stop closes the connection and halts reconnection
func (t *WSTransport) Stop() {
	t.cancel()
	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.Close(websocket.StatusNormalClosure, "shutting down")
		t.conn = nil
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *WSTransport) runLoop() {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = wsMaxReconnectWait
	policy.MaxElapsedTime = 0 // retry forever until Stop

	for {
		if t.ctx.Err() != nil {
			return
		}

		conn, err := t.dial()
		if err != nil {
			wait := policy.NextBackOff()
			logger.Warn("realtime endpoint dial failed",
				zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		policy.Reset()

		t.mu.Lock()
		t.conn = conn
		live := make([]*wsSub, 0, len(t.subs))
		for _, s := range t.subs {
			live = append(live, s)
		}
		t.mu.Unlock()

		// Re-establish every live channel on the fresh connection
		for _, s := range live {
			if err := t.send(wsFrame{Op: "subscribe", Channel: s.channel, Rules: s.rules}); err != nil {
				logger.Warn("resubscribe failed", logger.WithChannel(s.channel), zap.Error(err))
			}
		}
		logger.Info("realtime endpoint connected", zap.Int("channels", len(live)))

		t.readLoop(conn)

		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
	}
}

func (t *WSTransport) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(t.ctx, wsWriteWait)
	defer cancel()

	opts := &websocket.DialOptions{}
	if t.token != "" {
		opts.HTTPHeader = map[string][]string{
			"Authorization": {"Bearer " + t.token},
		}
	}
	conn, _, err := websocket.Dial(ctx, t.url, opts)
	return conn, err
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		var frame wsFrame
		if err := wsjson.Read(t.ctx, conn, &frame); err != nil {
			if t.ctx.Err() == nil {
				logger.Warn("realtime connection lost", zap.Error(err))
			}
			return
		}
		if frame.Op != "event" || frame.Event == nil {
			continue
		}

		t.mu.Lock()
		sub := t.subs[frame.Channel]
		t.mu.Unlock()
		if sub == nil {
			continue
		}
		if matchesAny(sub.rules, *frame.Event) {
			sub.fn(*frame.Event)
		}
	}
}

func (t *WSTransport) send(frame wsFrame) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		// Not connected; subscribe frames replay on reconnect
		return nil
	}
	ctx, cancel := context.WithTimeout(t.ctx, wsWriteWait)
	defer cancel()
	return wsjson.Write(ctx, conn, frame)
}

// Subscribe registers a channel on the shared connection
func (t *WSTransport) Subscribe(_ context.Context, channel string, rules []Rule, fn func(Event)) (Handle, error) {
	sub := &wsSub{t: t, channel: channel, rules: rules, fn: fn}

	t.mu.Lock()
	t.subs[channel] = sub
	t.mu.Unlock()

	if err := t.send(wsFrame{Op: "subscribe", Channel: channel, Rules: rules}); err != nil {
		t.mu.Lock()
		delete(t.subs, channel)
		t.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

// Broadcast sends a named event to a channel over the shared connection
func (t *WSTransport) Broadcast(_ context.Context, channel string, event string, payload any) error {
	e, err := broadcastEvent(event, payload)
	if err != nil {
		return err
	}
	return t.send(wsFrame{Op: "event", Channel: channel, Event: &e})
}

// Broadcast sends through the already-open shared connection
func (s *wsSub) Broadcast(ctx context.Context, event string, payload any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errChannelClosed
	}
	s.mu.Unlock()
	return s.t.Broadcast(ctx, s.channel, event, payload)
}

// Close unsubscribes the channel; extra calls are no-ops
func (s *wsSub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.t.mu.Lock()
	if s.t.subs[s.channel] == s {
		delete(s.t.subs, s.channel)
	}
	s.t.mu.Unlock()

	return s.t.send(wsFrame{Op: "unsubscribe", Channel: s.channel})
}

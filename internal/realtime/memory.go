package realtime

import (
	"context"
	"sync"
	"time"
)

// MemoryTransport is an in-process Transport. It backs unit tests and
// single-node deployments where no Redis or realtime endpoint is
// configured. Delivery is synchronous in the caller's goroutine, which
// preserves per-channel FIFO ordering.
type MemoryTransport struct {
	mu   sync.Mutex
	subs map[string][]*memorySub
	next int
}

type memorySub struct {
	id      int
	channel string
	rules   []Rule
	fn      func(Event)
	t       *MemoryTransport

	mu     sync.Mutex
	closed bool
}

// NewMemoryTransport creates an empty in-process transport
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string][]*memorySub)}
}

// Subscribe registers a callback for the channel
func (t *MemoryTransport) Subscribe(_ context.Context, channel string, rules []Rule, fn func(Event)) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	sub := &memorySub{id: t.next, channel: channel, rules: rules, fn: fn, t: t}
	t.subs[channel] = append(t.subs[channel], sub)
	return sub, nil
}

// Broadcast sends a named event to all subscribers of the channel
func (t *MemoryTransport) Broadcast(_ context.Context, channel string, event string, payload any) error {
	e, err := broadcastEvent(event, payload)
	if err != nil {
		return err
	}
	t.deliver(channel, e, 0)
	return nil
}

// Deliver injects a change event on a channel, standing in for the
// platform's server-side triggers. Tests and local mode use this to emit
// insert/update/delete events.
func (t *MemoryTransport) Deliver(channel string, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	t.deliver(channel, e, 0)
}

// SubscriberCount returns the number of live subscriptions for the channel
func (t *MemoryTransport) SubscriberCount(channel string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs[channel])
}

func (t *MemoryTransport) deliver(channel string, e Event, skipID int) {
	t.mu.Lock()
	subs := make([]*memorySub, len(t.subs[channel]))
	copy(subs, t.subs[channel])
	t.mu.Unlock()

	for _, sub := range subs {
		if sub.id == skipID {
			continue
		}
		if sub.matches(e) {
			sub.fn(e)
		}
	}
}

func (s *memorySub) matches(e Event) bool {
	if len(s.rules) == 0 {
		return true
	}
	for _, r := range s.rules {
		if r.Matches(e) {
			return true
		}
	}
	return false
}

// Broadcast sends a named event to the other subscribers of this channel.
// The sender does not hear its own broadcasts.
func (s *memorySub) Broadcast(_ context.Context, event string, payload any) error {
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
	s.t.deliver(s.channel, e, s.id)
	return nil
}

// Close removes the subscription; extra calls are no-ops
func (s *memorySub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	live := s.t.subs[s.channel][:0]
	for _, sub := range s.t.subs[s.channel] {
		if sub != s {
			live = append(live, sub)
		}
	}
	if len(live) == 0 {
		delete(s.t.subs, s.channel)
	} else {
		s.t.subs[s.channel] = live
	}
	return nil
}

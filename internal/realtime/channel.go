// Package realtime wraps the backend platform's per-channel pub/sub
// primitive with an explicit create/subscribe/unsubscribe lifecycle.
// One logical channel exists per (purpose, scope) key, e.g.
// notifications_{userId} or chat_popup_{a}_{b}.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies the kind of change-feed event
type EventType string

const (
	EventInsert       EventType = "insert"
	EventUpdate       EventType = "update"
	EventDelete       EventType = "delete"
	EventBroadcast    EventType = "broadcast"
	EventPresenceSync EventType = "presence_sync"
)

// Rule selects which events a subscription receives.
// Filter uses the platform's "column=eq.value" form and applies to the
// event payload; Name applies to broadcast events only.
type Rule struct {
	Types  []EventType `json:"types"`
	Table  string      `json:"table,omitempty"`
	Filter string      `json:"filter,omitempty"`
	Name   string      `json:"name,omitempty"`
}

// Matches reports whether the rule admits the event
func (r Rule) Matches(e Event) bool {
	typeOK := false
	for _, t := range r.Types {
		if t == e.Type {
			typeOK = true
			break
		}
	}
	if !typeOK {
		return false
	}
	if r.Table != "" && r.Table != e.Table {
		return false
	}
	if e.Type == EventBroadcast && r.Name != "" && r.Name != e.Name {
		return false
	}
	if r.Filter != "" && !matchFilter(r.Filter, e.Payload) {
		return false
	}
	return true
}

// Event is one change-feed delivery. Payload stays raw until the decode
// boundary narrows it into a typed entity.
type Event struct {
	Type      EventType       `json:"type"`
	Table     string          `json:"table,omitempty"`
	Name      string          `json:"name,omitempty"` // broadcast event name
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handle is a live transport-level subscription
type Handle interface {
	// Broadcast sends a named event to the other subscribers of this channel
	Broadcast(ctx context.Context, event string, payload any) error
	// Close tears the subscription down; safe to call more than once
	Close() error
}

// Transport is the platform's channel primitive. Implementations deliver
// events for one channel in FIFO order; no ordering holds across channels.
type Transport interface {
	Subscribe(ctx context.Context, channel string, rules []Rule, fn func(Event)) (Handle, error)
	Broadcast(ctx context.Context, channel string, event string, payload any) error
}

// Channel is a manager-owned subscription for one scope key
type Channel struct {
	key    string
	handle Handle
	mgr    *Manager

	mu     sync.Mutex
	closed bool
}

// Key returns the scope key this channel was opened with
func (c *Channel) Key() string {
	return c.key
}

// Broadcast sends a named event through the already-open handle.
// Callers must reuse the channel rather than opening one per event.
func (c *Channel) Broadcast(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errChannelClosed
	}
	h := c.handle
	c.mu.Unlock()
	return h.Broadcast(ctx, event, payload)
}

// Unsubscribe tears the channel down. Idempotent: extra calls and calls on
// an already-superseded channel are no-ops.
func (c *Channel) Unsubscribe() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	h := c.handle
	c.mu.Unlock()

	c.mgr.release(c, h)
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// broadcastEvent wraps a payload into a broadcast Event
func broadcastEvent(name string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      EventBroadcast,
		Name:      name,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

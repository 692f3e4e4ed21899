// Package bus is the in-process command bus wiring otherwise-unrelated
// components together. A roster row or a notification deep-link publishes
// StartChat; the chat binding subscribes and opens the popup. This replaces
// implicit global-broadcast signaling with an explicit, injectable
// dependency.
package bus

import (
	"sync"

	"github.com/uplinq/uplinq/internal/logger"
	"go.uber.org/zap"
)

// StartChat asks the chat binding to open a popup with a peer
type StartChat struct {
	PeerID     string
	PeerName   string
	PeerAvatar string
}

// Bus fans commands out to subscribers synchronously, in subscription
// order. Subscriber errors are logged, never propagated to the publisher.
type Bus struct {
	mu        sync.RWMutex
	startChat []func(StartChat) error
}

// New creates an empty bus
func New() *Bus {
	return &Bus{}
}

// SubscribeStartChat registers a handler for StartChat commands
func (b *Bus) SubscribeStartChat(fn func(StartChat) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startChat = append(b.startChat, fn)
}

// PublishStartChat delivers the command to every subscriber
func (b *Bus) PublishStartChat(cmd StartChat) {
	b.mu.RLock()
	subs := make([]func(StartChat) error, len(b.startChat))
	copy(subs, b.startChat)
	b.mu.RUnlock()

	for _, fn := range subs {
		if err := fn(cmd); err != nil {
			logger.Warn("start-chat handler failed",
				logger.WithPeerID(cmd.PeerID), zap.Error(err))
		}
	}
}

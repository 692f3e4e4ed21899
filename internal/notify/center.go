// Package notify maintains the viewer's live notification feed: an initial
// window of recent rows merged with insert/update/delete events from the
// change feed, plus deep-link and avatar resolution for rendering.
package notify

import (
	"context"
	"sort"
	"sync"

	"github.com/uplinq/uplinq/internal/errors"
	"github.com/uplinq/uplinq/internal/logger"
	"github.com/uplinq/uplinq/internal/metrics"
	"github.com/uplinq/uplinq/internal/models"
	"github.com/uplinq/uplinq/internal/realtime"
	"go.uber.org/zap"
)

// Store is the row access the notification center needs
type Store interface {
	// RecentNotifications returns the newest rows for the user, newest first
	RecentNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	// MarkNotificationRead flips one notification to read
	MarkNotificationRead(ctx context.Context, id string) error
	// MarkAllNotificationsRead flips every unread row for the user
	MarkAllNotificationsRead(ctx context.Context, userID string) error
}

// Alerter plays the one-shot audible/toast alert for a fresh notification.
// It is an injected service object, constructed once at application start;
// a nil Alerter disables alerts.
type Alerter interface {
	Alert(n models.Notification)
}

// Center is the per-viewer notification feed
type Center struct {
	userID   string
	limit    int
	store    Store
	resolver *Resolver
	channels *realtime.Manager
	alerter  Alerter

	mu        sync.Mutex
	items     []models.Notification
	panelOpen bool
	channel   *realtime.Channel

	// OnUpdate, when set, fires after every feed change
	OnUpdate func()

	metrics *metrics.Metrics
}

// NewCenter creates a notification center for the viewer
func NewCenter(userID string, limit int, store Store, resolver *Resolver, channels *realtime.Manager, alerter Alerter) *Center {
	if limit <= 0 {
		limit = 20
	}
	return &Center{
		userID:   userID,
		limit:    limit,
		store:    store,
		resolver: resolver,
		channels: channels,
		alerter:  alerter,
		metrics:  metrics.Get(),
	}
}

// Start fetches the initial window and opens the per-user feed channel
func (c *Center) Start(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		// a failed initial fetch is transient; the feed still opens and
		// a later Refresh can fill the window
		logger.Warn("initial notification fetch failed", logger.WithUserID(c.userID), zap.Error(err))
	}

	key := "notifications_" + c.userID
	// Delete payloads carry only the old row's keys, so the user_id filter
	// would drop them; the channel key is already scoped to this user, so
	// deletes subscribe unfiltered.
	rules := []realtime.Rule{
		{
			Types:  []realtime.EventType{realtime.EventInsert, realtime.EventUpdate},
			Table:  "notifications",
			Filter: "user_id=eq." + c.userID,
		},
		{
			Types: []realtime.EventType{realtime.EventDelete},
			Table: "notifications",
		},
	}
	ch, err := c.channels.Open(ctx, key, rules, c.apply)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()
	logger.Info("notification center started", logger.WithUserID(c.userID))
	return nil
}

// Stop tears down the feed channel
func (c *Center) Stop() {
	c.mu.Lock()
	ch := c.channel
	c.channel = nil
	c.mu.Unlock()
	if ch != nil {
		ch.Unsubscribe()
	}
	logger.Info("notification center stopped", logger.WithUserID(c.userID))
}

// Refresh re-fetches the recent window and merges by id: known rows are
// updated in place, new rows inserted, and rows older than the window that
// were already known are kept rather than dropped.
func (c *Center) Refresh(ctx context.Context) error {
	fresh, err := c.store.RecentNotifications(ctx, c.userID, c.limit)
	if err != nil {
		return errors.Transient("notification fetch failed", err)
	}

	c.mu.Lock()
	byID := make(map[string]int, len(c.items))
	for i := range c.items {
		byID[c.items[i].ID] = i
	}
	for _, n := range fresh {
		if i, ok := byID[n.ID]; ok {
			c.items[i] = n
		} else {
			c.items = append(c.items, n)
		}
	}
	sort.SliceStable(c.items, func(i, j int) bool {
		return c.items[i].CreatedAt.After(c.items[j].CreatedAt)
	})
	c.mu.Unlock()

	c.notifyUpdate()
	return nil
}

// apply consumes one feed event. Events are applied in arrival order so a
// rapid update-then-delete never leaves stale state behind.
func (c *Center) apply(e realtime.Event) {
	switch e.Type {
	case realtime.EventInsert:
		n, err := realtime.DecodeNotification(e)
		if err != nil {
			logger.Warn("dropping notification event", zap.Error(err))
			return
		}
		c.applyInsert(*n)
	case realtime.EventUpdate:
		n, err := realtime.DecodeNotification(e)
		if err != nil {
			logger.Warn("dropping notification event", zap.Error(err))
			return
		}
		c.applyUpdate(*n)
	case realtime.EventDelete:
		id, err := realtime.DeletedID(e)
		if err != nil {
			logger.Warn("dropping notification delete", zap.Error(err))
			return
		}
		c.applyDelete(id)
	}
}

func (c *Center) applyInsert(n models.Notification) {
	c.mu.Lock()
	for i := range c.items {
		if c.items[i].ID == n.ID {
			// double delivery: the row is already present
			c.mu.Unlock()
			c.metrics.EventsDroppedTotal.WithLabelValues("duplicate").Inc()
			return
		}
	}
	c.items = append([]models.Notification{n}, c.items...)
	if len(c.items) > c.limit {
		c.items = c.items[:c.limit]
	}
	alert := !c.panelOpen
	c.mu.Unlock()

	c.metrics.NotificationsTotal.WithLabelValues("insert").Inc()
	// suppress the alert while the user is already looking at the list
	if alert && c.alerter != nil {
		c.alerter.Alert(n)
	}
	c.notifyUpdate()
}

func (c *Center) applyUpdate(n models.Notification) {
	c.mu.Lock()
	for i := range c.items {
		if c.items[i].ID == n.ID {
			c.items[i] = n
			break
		}
	}
	c.mu.Unlock()
	c.metrics.NotificationsTotal.WithLabelValues("update").Inc()
	c.notifyUpdate()
}

func (c *Center) applyDelete(id string) {
	c.mu.Lock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.metrics.NotificationsTotal.WithLabelValues("delete").Inc()
	c.notifyUpdate()
}

// SetPanelOpen records whether the notification panel is visible; alerts
// are suppressed while it is
func (c *Center) SetPanelOpen(open bool) {
	c.mu.Lock()
	c.panelOpen = open
	c.mu.Unlock()
}

// Items returns a snapshot of the feed, newest first
func (c *Center) Items() []models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Notification, len(c.items))
	copy(out, c.items)
	return out
}

// UnreadCount returns how many feed items are unread
func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.items {
		if !c.items[i].Read {
			n++
		}
	}
	return n
}

// MarkRead flips one notification optimistically and writes through. The
// optimistic state is not rolled back on failure: the live feed's update
// event is the authoritative confirmation and will correct a write that
// truly failed server-side.
func (c *Center) MarkRead(ctx context.Context, id string) error {
	c.mu.Lock()
	found := false
	for i := range c.items {
		if c.items[i].ID == id {
			if c.items[i].Read {
				c.mu.Unlock()
				return nil
			}
			c.items[i].Read = true
			found = true
			break
		}
	}
	c.mu.Unlock()

	if !found {
		return errors.NotFound("notification")
	}
	c.notifyUpdate()

	if err := c.store.MarkNotificationRead(ctx, id); err != nil {
		return errors.Transient("mark-read write failed", err)
	}
	return nil
}

// MarkAllRead flips every unread item optimistically and writes through
// once. Calling it again with nothing unread is a no-op.
func (c *Center) MarkAllRead(ctx context.Context) error {
	c.mu.Lock()
	any := false
	for i := range c.items {
		if !c.items[i].Read {
			c.items[i].Read = true
			any = true
		}
	}
	c.mu.Unlock()

	if !any {
		return nil
	}
	c.notifyUpdate()

	if err := c.store.MarkAllNotificationsRead(ctx, c.userID); err != nil {
		return errors.Transient("mark-all-read write failed", err)
	}
	return nil
}

func (c *Center) notifyUpdate() {
	if c.OnUpdate != nil {
		c.OnUpdate()
	}
}

// ResolveTarget resolves the deep-link path for a notification
func (c *Center) ResolveTarget(ctx context.Context, n models.Notification) string {
	return c.resolver.Target(ctx, n)
}

// ResolveAvatar resolves the avatar URL for a notification, caching the
// result per notification id
func (c *Center) ResolveAvatar(ctx context.Context, n models.Notification) (string, bool) {
	return c.resolver.Avatar(ctx, n)
}

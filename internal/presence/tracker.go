// Package presence tracks who is online. The current user stamps a
// last-active heartbeat on a fixed interval; other users are classified
// online by a pull-based roster poll, never by a live subscription. A live
// per-row subscription across the whole user table does not scale with user
// count, so polling while the who's-online panel is open is the intended
// trade-off.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/uplinq/uplinq/internal/logger"
	"github.com/uplinq/uplinq/internal/metrics"
	"github.com/uplinq/uplinq/internal/models"
	"go.uber.org/zap"
)

// Store is the row access the tracker needs
type Store interface {
	// TouchLastActive stamps the user's last-active timestamp
	TouchLastActive(ctx context.Context, userID string, at time.Time) error
	// ListActiveSince returns profiles with a heartbeat at or after since,
	// excluding excludeID
	ListActiveSince(ctx context.Context, since time.Time, excludeID string) ([]models.Profile, error)
}

// Config holds the tracker's intervals
type Config struct {
	HeartbeatInterval  time.Duration // default 60s
	RosterPollInterval time.Duration // default 30s
	ActivityWindow     time.Duration // default 5m
}

// DefaultConfig returns the reference intervals
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:  60 * time.Second,
		RosterPollInterval: 30 * time.Second,
		ActivityWindow:     5 * time.Minute,
	}
}

// Tracker runs the heartbeat and roster loops for one user session
type Tracker struct {
	store  Store
	selfID string
	cfg    Config

	mu       sync.RWMutex
	roster   []models.Profile
	watchers int // open who's-online panels; 0 = don't poll

	// OnRoster, when set, receives every poll result. A failed poll
	// delivers an empty roster and the error; the loop keeps running.
	OnRoster func([]models.Profile, error)

	now     func() time.Time
	metrics *metrics.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker creates a tracker for the given user
func NewTracker(store Store, selfID string, cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.RosterPollInterval <= 0 {
		cfg.RosterPollInterval = def.RosterPollInterval
	}
	if cfg.ActivityWindow <= 0 {
		cfg.ActivityWindow = def.ActivityWindow
	}
	return &Tracker{
		store:   store,
		selfID:  selfID,
		cfg:     cfg,
		now:     time.Now,
		metrics: metrics.Get(),
	}
}

// SetClock overrides the tracker clock; tests advance time with it
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Start launches the heartbeat and roster loops. The heartbeat runs
// unconditionally while the session exists; the roster loop only does work
// while at least one panel is open.
func (t *Tracker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		t.runHeartbeat(runCtx)
	}()
	go func() {
		defer t.wg.Done()
		t.runRosterPoll(runCtx)
	}()

	logger.Info("presence tracker started", logger.WithUserID(t.selfID))
}

// Stop halts both loops
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	logger.Info("presence tracker stopped", logger.WithUserID(t.selfID))
}

// OpenRoster marks a who's-online panel open and forces an immediate poll
// so the panel never shows a stale roster while waiting for the next tick
func (t *Tracker) OpenRoster(ctx context.Context) {
	t.mu.Lock()
	t.watchers++
	t.mu.Unlock()
	t.poll(ctx)
}

// CloseRoster marks one panel closed; polling pauses at zero watchers
func (t *Tracker) CloseRoster() {
	t.mu.Lock()
	if t.watchers > 0 {
		t.watchers--
	}
	t.mu.Unlock()
}

// Snapshot returns the most recent roster
func (t *Tracker) Snapshot() []models.Profile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Profile, len(t.roster))
	copy(out, t.roster)
	return out
}

// IsOnline reports whether userID appeared in the most recent poll
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.roster {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// runHeartbeat stamps last_active_at on every tick. Failures are logged
// and skipped; the next tick retries naturally, so there is no aggressive
// retry and the write never blocks anything.
func (t *Tracker) runHeartbeat(ctx context.Context) {
	// stamp immediately so the session counts as online from the start
	t.beat(ctx)

	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.beat(ctx)
		}
	}
}

func (t *Tracker) beat(ctx context.Context) {
	if err := t.store.TouchLastActive(ctx, t.selfID, t.now()); err != nil {
		t.metrics.HeartbeatsTotal.WithLabelValues("error").Inc()
		logger.Warn("heartbeat write failed", logger.WithUserID(t.selfID), zap.Error(err))
		return
	}
	t.metrics.HeartbeatsTotal.WithLabelValues("ok").Inc()
}

func (t *Tracker) runRosterPoll(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.RosterPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.RLock()
			open := t.watchers > 0
			t.mu.RUnlock()
			if open {
				t.poll(ctx)
			}
		}
	}
}

// poll fetches everyone whose heartbeat falls inside the activity window
func (t *Tracker) poll(ctx context.Context) {
	since := t.now().Add(-t.cfg.ActivityWindow)
	online, err := t.store.ListActiveSince(ctx, since, t.selfID)
	if err != nil {
		t.metrics.RosterPollsTotal.WithLabelValues("error").Inc()
		logger.Warn("roster poll failed", zap.Error(err))
		t.mu.Lock()
		t.roster = nil
		t.mu.Unlock()
		if t.OnRoster != nil {
			t.OnRoster(nil, err)
		}
		return
	}

	t.metrics.RosterPollsTotal.WithLabelValues("ok").Inc()
	t.metrics.OnlineUsersLastPoll.WithLabelValues().Set(float64(len(online)))

	t.mu.Lock()
	t.roster = online
	t.mu.Unlock()
	if t.OnRoster != nil {
		t.OnRoster(online, nil)
	}
}

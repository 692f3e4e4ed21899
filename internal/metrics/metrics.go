package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the realtime core
type Metrics struct {
	// Cache metrics
	CacheHitsTotal      prometheus.CounterVec
	CacheMissesTotal    prometheus.CounterVec
	CacheEvictionsTotal prometheus.CounterVec

	// Channel metrics
	ChannelsOpenedTotal prometheus.CounterVec
	ChannelsClosedTotal prometheus.CounterVec
	ChannelsActive      prometheus.GaugeVec
	EventsReceivedTotal prometheus.CounterVec
	EventsDroppedTotal  prometheus.CounterVec // malformed or duplicate

	// Presence metrics
	HeartbeatsTotal     prometheus.CounterVec
	RosterPollsTotal    prometheus.CounterVec
	OnlineUsersLastPoll prometheus.GaugeVec

	// Chat metrics
	MessagesSentTotal  prometheus.CounterVec
	TypingSignalsTotal prometheus.CounterVec
	ReadReceiptsTotal  prometheus.CounterVec

	// Notification metrics
	NotificationsTotal prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Initialize creates and registers all Prometheus metrics
func Initialize() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			CacheHitsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_hits_total",
					Help: "Total number of cache hits",
				},
				[]string{"tier"},
			),
			CacheMissesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_misses_total",
					Help: "Total number of cache misses (absent, expired, or mismatched)",
				},
				[]string{"tier", "reason"},
			),
			CacheEvictionsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_evictions_total",
					Help: "Total number of cache entries evicted",
				},
				[]string{"tier", "reason"},
			),
			ChannelsOpenedTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "realtime_channels_opened_total",
					Help: "Total number of channels opened",
				},
				[]string{"purpose"},
			),
			ChannelsClosedTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "realtime_channels_closed_total",
					Help: "Total number of channels torn down",
				},
				[]string{"purpose"},
			),
			ChannelsActive: *promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "realtime_channels_active",
					Help: "Currently active channels",
				},
				[]string{"purpose"},
			),
			EventsReceivedTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "realtime_events_received_total",
					Help: "Total change-feed events delivered to callbacks",
				},
				[]string{"type"},
			),
			EventsDroppedTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "realtime_events_dropped_total",
					Help: "Events dropped at the decode boundary or as duplicates",
				},
				[]string{"reason"},
			),
			HeartbeatsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "presence_heartbeats_total",
					Help: "Last-active heartbeat writes",
				},
				[]string{"status"},
			),
			RosterPollsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "presence_roster_polls_total",
					Help: "Who's-online roster polls",
				},
				[]string{"status"},
			),
			OnlineUsersLastPoll: *promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "presence_online_users",
					Help: "Online users seen by the most recent roster poll",
				},
				[]string{},
			),
			MessagesSentTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_messages_sent_total",
					Help: "Chat messages sent",
				},
				[]string{"status"},
			),
			TypingSignalsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_typing_signals_total",
					Help: "Typing broadcasts actually sent (post-debounce)",
				},
				[]string{},
			),
			ReadReceiptsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_read_receipts_total",
					Help: "Batched mark-read calls issued",
				},
				[]string{"status"},
			),
			NotificationsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "notifications_total",
					Help: "Notification feed events applied",
				},
				[]string{"op"},
			),
		}
	})
	return instance
}

// Get returns the metrics instance, initializing on first use
func Get() *Metrics {
	if instance == nil {
		return Initialize()
	}
	return instance
}

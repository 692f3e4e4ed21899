package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uplinq/uplinq/internal/logger"
	"github.com/uplinq/uplinq/internal/metrics"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize("error", ""); err != nil {
		panic(err)
	}
	m.Run()
}

func insertRule(table string) []Rule {
	return []Rule{{Types: []EventType{EventInsert}, Table: table}}
}

func TestManagerSingleChannelPerKey(t *testing.T) {
	transport := NewMemoryTransport()
	mgr := NewManager(transport)
	ctx := context.Background()

	_, err := mgr.Open(ctx, "notifications_u1", insertRule("notifications"), func(Event) {})
	require.NoError(t, err)
	assert.Equal(t, 1, transport.SubscriberCount("notifications_u1"))

	// Opening the same key again replaces the subscription instead of
	// stacking a second one
	_, err = mgr.Open(ctx, "notifications_u1", insertRule("notifications"), func(Event) {})
	require.NoError(t, err)
	assert.Equal(t, 1, transport.SubscriberCount("notifications_u1"))
	assert.Equal(t, 1, mgr.StaleTeardowns())
}

func TestManagerSwapAcrossPeerChanges(t *testing.T) {
	transport := NewMemoryTransport()
	mgr := NewManager(transport)
	ctx := context.Background()

	// Simulate a chat window switching peers three times
	keys := []string{"chat_popup_1_2", "chat_popup_1_3", "chat_popup_1_4"}
	prev := ""
	for _, key := range keys {
		_, err := mgr.Swap(ctx, prev, key, insertRule("messages"), func(Event) {})
		require.NoError(t, err)
		prev = key
	}

	// Only the final channel survives
	assert.Equal(t, []string{"chat_popup_1_4"}, mgr.ActiveKeys())
	for _, key := range keys[:2] {
		assert.Zero(t, transport.SubscriberCount(key), "stale channel %s still subscribed", key)
	}
	assert.Equal(t, 1, transport.SubscriberCount("chat_popup_1_4"))
	assert.Zero(t, mgr.StaleTeardowns(), "swaps should close cleanly, not rely on stale teardown")
}

func TestUnsubscribeIdempotent(t *testing.T) {
	transport := NewMemoryTransport()
	mgr := NewManager(transport)

	ch, err := mgr.Open(context.Background(), "presence_u1", nil, func(Event) {})
	require.NoError(t, err)

	ch.Unsubscribe()
	ch.Unsubscribe()
	ch.Unsubscribe()

	assert.False(t, mgr.Active("presence_u1"))
	assert.Zero(t, transport.SubscriberCount("presence_u1"))
}

func TestUnsubscribeOnSupersededChannelIsNoop(t *testing.T) {
	transport := NewMemoryTransport()
	mgr := NewManager(transport)
	ctx := context.Background()

	old, err := mgr.Open(ctx, "notifications_u1", nil, func(Event) {})
	require.NoError(t, err)
	_, err = mgr.Open(ctx, "notifications_u1", nil, func(Event) {})
	require.NoError(t, err)

	// The superseded handle was already torn down; a late Unsubscribe from
	// its old owner must not kill the replacement
	old.Unsubscribe()
	assert.True(t, mgr.Active("notifications_u1"))
	assert.Equal(t, 1, transport.SubscriberCount("notifications_u1"))
}

func TestBroadcastOnClosedChannelFails(t *testing.T) {
	mgr := NewManager(NewMemoryTransport())

	ch, err := mgr.Open(context.Background(), "typing_indicators", nil, func(Event) {})
	require.NoError(t, err)
	ch.Unsubscribe()

	err = ch.Broadcast(context.Background(), "typing", map[string]string{"sender_id": "u1"})
	assert.Error(t, err)
}

func TestManagerStopClosesEverything(t *testing.T) {
	transport := NewMemoryTransport()
	mgr := NewManager(transport)
	ctx := context.Background()

	for _, key := range []string{"notifications_u1", "chat_popup_1_2", "typing_indicators"} {
		_, err := mgr.Open(ctx, key, nil, func(Event) {})
		require.NoError(t, err)
	}

	mgr.Stop()
	assert.Empty(t, mgr.ActiveKeys())
}

func TestRuleFilterRouting(t *testing.T) {
	transport := NewMemoryTransport()
	mgr := NewManager(transport)

	var got []string
	rules := []Rule{{
		Types:  []EventType{EventInsert},
		Table:  "notifications",
		Filter: "user_id=eq.u1",
	}}
	_, err := mgr.Open(context.Background(), "notifications_u1", rules, func(e Event) {
		var row struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(e.Payload, &row))
		got = append(got, row.ID)
	})
	require.NoError(t, err)

	transport.Deliver("notifications_u1", Event{
		Type:    EventInsert,
		Table:   "notifications",
		Payload: json.RawMessage(`{"id":"n1","user_id":"u1"}`),
	})
	// Wrong user: filtered out
	transport.Deliver("notifications_u1", Event{
		Type:    EventInsert,
		Table:   "notifications",
		Payload: json.RawMessage(`{"id":"n2","user_id":"u2"}`),
	})
	// Wrong type: filtered out
	transport.Deliver("notifications_u1", Event{
		Type:    EventUpdate,
		Table:   "notifications",
		Payload: json.RawMessage(`{"id":"n3","user_id":"u1"}`),
	})

	assert.Equal(t, []string{"n1"}, got)
}

func TestBroadcastSkipsSender(t *testing.T) {
	transport := NewMemoryTransport()
	mgr := NewManager(transport)
	ctx := context.Background()

	var senderGot, peerGot int
	sender, err := mgr.Open(ctx, "typing_indicators", nil, func(Event) { senderGot++ })
	require.NoError(t, err)

	// Second subscription on the same key must come from a second manager;
	// one manager enforces one channel per key
	peerMgr := NewManager(transport)
	_, err = peerMgr.Open(ctx, "typing_indicators", nil, func(Event) { peerGot++ })
	require.NoError(t, err)

	require.NoError(t, sender.Broadcast(ctx, "typing", TypingPayload{SenderID: "u1", RecipientID: "u2"}))

	assert.Zero(t, senderGot, "sender must not hear its own broadcast")
	assert.Equal(t, 1, peerGot)
}

func TestDeliveredEventsCounted(t *testing.T) {
	transport := NewMemoryTransport()
	mgr := NewManager(transport)
	ctx := context.Background()

	m := metrics.Get()
	m.EventsReceivedTotal.Reset()

	_, err := mgr.Open(ctx, "notifications_u1", insertRule("notifications"), func(Event) {})
	require.NoError(t, err)

	transport.Deliver("notifications_u1", Event{
		Type:    EventInsert,
		Table:   "notifications",
		Payload: json.RawMessage(`{"id":"n1","user_id":"u1"}`),
	})
	transport.Deliver("notifications_u1", Event{
		Type:    EventInsert,
		Table:   "notifications",
		Payload: json.RawMessage(`{"id":"n2","user_id":"u1"}`),
	})
	// filtered out by the rule type, never handed to the callback
	transport.Deliver("notifications_u1", Event{
		Type:    EventUpdate,
		Table:   "notifications",
		Payload: json.RawMessage(`{"id":"n1","user_id":"u1"}`),
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsReceivedTotal.WithLabelValues("insert")))
	assert.Zero(t, testutil.ToFloat64(m.EventsReceivedTotal.WithLabelValues("update")))
}

func TestPurposeLabelExcludesScopeIDs(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"notifications_b5b1c3a0-8f2e-4c1d-9e0a-aa00bb11cc22", "notifications"},
		// uuid starting with hex letters must not leak into the label
		{"notifications_abc1d3a0-8f2e-4c1d-9e0a-aa00bb11cc22", "notifications"},
		{"chat_popup_abc_def", "chat_popup"},
		{"typing_indicators", "typing_indicators"},
		{"presence_room_7", "presence"},
		{"f00dfeed", "other"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, purposeOf(tc.key), "key %s", tc.key)
	}
}

package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uplinq/uplinq/internal/logger"
	"github.com/uplinq/uplinq/internal/models"
	"github.com/uplinq/uplinq/internal/platform"
	"github.com/uplinq/uplinq/internal/realtime"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize("error", ""); err != nil {
		panic(err)
	}
	m.Run()
}

const (
	viewerID = "00000000-0000-0000-0000-000000000001"
	peerID   = "00000000-0000-0000-0000-000000000002"
	otherID  = "00000000-0000-0000-0000-000000000003"
)

type fixture struct {
	store     *platform.FakeStore
	transport *realtime.MemoryTransport
	channels  *realtime.Manager
	mgr       *Manager
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := platform.NewFakeStore()
	store.AddProfile(&models.Profile{ID: viewerID, Username: "viewer", DisplayName: "Viewer"})
	store.AddProfile(&models.Profile{ID: peerID, Username: "peer", DisplayName: "Peer"})
	store.AddProfile(&models.Profile{ID: otherID, Username: "other", DisplayName: "Other"})

	transport := realtime.NewMemoryTransport()
	channels := realtime.NewManager(transport)
	mgr := NewManager(viewerID, store, channels, nil, cfg)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(mgr.Stop)
	return &fixture{store: store, transport: transport, channels: channels, mgr: mgr}
}

func waitReady(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == StateReady
	}, time.Second, 5*time.Millisecond, "session never reached ready")
}

func TestOpenLoadsHistoryOldestFirst(t *testing.T) {
	f := newFixture(t, Config{})
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	read := base.Add(time.Minute)
	f.store.Messages = []models.Message{
		{ID: "m2", SenderID: viewerID, RecipientID: peerID, Body: "second", CreatedAt: base.Add(time.Second), ReadAt: &read},
		{ID: "m1", SenderID: peerID, RecipientID: viewerID, Body: "first", CreatedAt: base, ReadAt: &read},
		// a different thread must not bleed in
		{ID: "mx", SenderID: otherID, RecipientID: viewerID, Body: "noise", CreatedAt: base, ReadAt: &read},
	}

	s, err := f.mgr.Open(context.Background(), peerID)
	require.NoError(t, err)
	assert.Equal(t, StateLoading, s.State())
	waitReady(t, s)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestOpenIsIdempotentPerPeer(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	a, err := f.mgr.Open(ctx, peerID)
	require.NoError(t, err)
	b, err := f.mgr.Open(ctx, peerID)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, f.transport.SubscriberCount(models.PairKey(viewerID, peerID)))
}

func TestOpenSelfChatRejected(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.mgr.Open(context.Background(), viewerID)
	assert.Error(t, err)
}

func TestSendAppendsCanonicalRowOnce(t *testing.T) {
	f := newFixture(t, Config{})
	s, err := f.mgr.Open(context.Background(), peerID)
	require.NoError(t, err)
	waitReady(t, s)

	require.NoError(t, s.Send(context.Background(), "hello"))
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.NotEmpty(t, msgs[0].ID, "canonical row carries the server id")

	// The platform echoes the insert back on the pair feed; the id is the
	// same, so the echo must not duplicate the message
	payload, _ := json.Marshal(msgs[0])
	f.transport.Deliver(models.PairKey(viewerID, peerID), realtime.Event{
		Type:    realtime.EventInsert,
		Table:   "messages",
		Payload: payload,
	})

	assert.Len(t, s.Messages(), 1)
}

func TestSendFailureHandsBodyBack(t *testing.T) {
	f := newFixture(t, Config{})
	s, err := f.mgr.Open(context.Background(), peerID)
	require.NoError(t, err)
	waitReady(t, s)

	var restored string
	s.OnSendFailed = func(body string) { restored = body }
	f.store.FailInsert = assert.AnError

	err = s.Send(context.Background(), "draft text")
	require.Error(t, err)
	assert.Equal(t, "draft text", restored)
	assert.Empty(t, s.Messages())
}

func TestIncomingMessageMarkedReadInOneBatch(t *testing.T) {
	f := newFixture(t, Config{})
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.store.Messages = []models.Message{
		{ID: "m1", SenderID: peerID, RecipientID: viewerID, Body: "a", CreatedAt: base},
		{ID: "m2", SenderID: peerID, RecipientID: viewerID, Body: "b", CreatedAt: base.Add(time.Second)},
		{ID: "m3", SenderID: peerID, RecipientID: viewerID, Body: "c", CreatedAt: base.Add(2 * time.Second)},
	}

	s, err := f.mgr.Open(context.Background(), peerID)
	require.NoError(t, err)
	waitReady(t, s)

	// One batched call covering all three unread rows
	require.Eventually(t, func() bool {
		f.store.Lock()
		defer f.store.Unlock()
		return f.store.MarkMessagesCalls == 1
	}, time.Second, 5*time.Millisecond)
	f.store.Lock()
	require.Len(t, f.store.MarkMessagesIDs[0], 3)
	f.store.Unlock()

	// Local flip is optimistic
	for _, m := range s.Messages() {
		assert.NotNil(t, m.ReadAt, "message %s not flipped locally", m.ID)
	}
}

func TestMarkReadFailureIsNotRolledBack(t *testing.T) {
	f := newFixture(t, Config{})
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.store.Messages = []models.Message{
		{ID: "m1", SenderID: peerID, RecipientID: viewerID, Body: "a", CreatedAt: base},
	}
	f.store.FailMarkMessages = assert.AnError

	s, err := f.mgr.Open(context.Background(), peerID)
	require.NoError(t, err)
	waitReady(t, s)

	require.Eventually(t, func() bool {
		f.store.Lock()
		defer f.store.Unlock()
		return f.store.MarkMessagesCalls >= 1
	}, time.Second, 5*time.Millisecond)

	// The local flip stays; only the server row remains unread
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.NotNil(t, msgs[0].ReadAt)
}

func TestTypingDebounceCollapsesBursts(t *testing.T) {
	f := newFixture(t, Config{})
	clock := struct {
		mu  sync.Mutex
		now time.Time
	}{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	f.mgr.SetClock(func() time.Time {
		clock.mu.Lock()
		defer clock.mu.Unlock()
		return clock.now
	})

	// A second member listens on the shared typing channel
	received := 0
	peerChannels := realtime.NewManager(f.transport)
	_, err := peerChannels.Open(context.Background(), "typing_indicators", nil, func(realtime.Event) {
		received++
	})
	require.NoError(t, err)

	// Five keystrokes inside one second produce one broadcast
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, f.mgr.NotifyTyping(ctx, peerID))
		clock.mu.Lock()
		clock.now = clock.now.Add(200 * time.Millisecond)
		clock.mu.Unlock()
	}
	assert.Equal(t, 1, received)

	// Past the debounce window the next keystroke goes out
	clock.mu.Lock()
	clock.now = clock.now.Add(3 * time.Second)
	clock.mu.Unlock()
	require.NoError(t, f.mgr.NotifyTyping(ctx, peerID))
	assert.Equal(t, 2, received)
}

func TestTypingDebouncePerPeer(t *testing.T) {
	f := newFixture(t, Config{})

	received := 0
	peerChannels := realtime.NewManager(f.transport)
	_, err := peerChannels.Open(context.Background(), "typing_indicators", nil, func(realtime.Event) {
		received++
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, f.mgr.NotifyTyping(ctx, peerID))
	// Different peer: its own debounce window, so this one sends too
	require.NoError(t, f.mgr.NotifyTyping(ctx, otherID))
	assert.Equal(t, 2, received)
}

func TestInboundTypingFlagsSessionAndExpires(t *testing.T) {
	f := newFixture(t, Config{TypingExpiry: 40 * time.Millisecond})
	s, err := f.mgr.Open(context.Background(), peerID)
	require.NoError(t, err)
	waitReady(t, s)

	// The peer broadcasts a typing signal addressed to the viewer
	peerChannels := realtime.NewManager(f.transport)
	peerMgr := NewManager(peerID, f.store, peerChannels, nil, Config{})
	require.NoError(t, peerMgr.Start(context.Background()))
	defer peerMgr.Stop()
	require.NoError(t, peerMgr.NotifyTyping(context.Background(), viewerID))

	assert.True(t, s.IsPeerTyping())

	// The flag clears on its own without a follow-up signal
	assert.Eventually(t, func() bool {
		return !s.IsPeerTyping()
	}, time.Second, 5*time.Millisecond)
}

func TestPeerMessageClearsTypingFlag(t *testing.T) {
	f := newFixture(t, Config{TypingExpiry: 10 * time.Second})
	s, err := f.mgr.Open(context.Background(), peerID)
	require.NoError(t, err)
	waitReady(t, s)

	peerChannels := realtime.NewManager(f.transport)
	peerMgr := NewManager(peerID, f.store, peerChannels, nil, Config{})
	require.NoError(t, peerMgr.Start(context.Background()))
	defer peerMgr.Stop()
	require.NoError(t, peerMgr.NotifyTyping(context.Background(), viewerID))
	require.True(t, s.IsPeerTyping())

	payload, _ := json.Marshal(models.Message{
		ID: "m1", SenderID: peerID, RecipientID: viewerID, Body: "sent it",
		CreatedAt: time.Now(),
	})
	f.transport.Deliver(models.PairKey(viewerID, peerID), realtime.Event{
		Type:    realtime.EventInsert,
		Table:   "messages",
		Payload: payload,
	})

	assert.False(t, s.IsPeerTyping(), "a delivered message implies typing stopped")
}

func TestCloseUnsubscribesPairFeed(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.mgr.Open(context.Background(), peerID)
	require.NoError(t, err)
	key := models.PairKey(viewerID, peerID)
	require.Equal(t, 1, f.transport.SubscriberCount(key))

	f.mgr.Close(peerID)
	assert.Zero(t, f.transport.SubscriberCount(key))
	assert.Nil(t, f.mgr.Session(peerID))
}

func TestLateHistoryAfterCloseIsDropped(t *testing.T) {
	f := newFixture(t, Config{})
	s, err := f.mgr.Open(context.Background(), peerID)
	require.NoError(t, err)

	// Close races the in-flight history load; whichever way the race falls,
	// a closed session must end up empty and stay closed
	f.mgr.Close(peerID)
	assert.Never(t, func() bool {
		return s.State() == StateReady
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestNotifyTypingBeforeStartErrorsEveryTime(t *testing.T) {
	store := platform.NewFakeStore()
	channels := realtime.NewManager(realtime.NewMemoryTransport())
	mgr := NewManager(viewerID, store, channels, nil, Config{})

	require.Error(t, mgr.NotifyTyping(context.Background(), peerID))
	// the failed call must not arm the debounce window and turn the
	// follow-ups into silent no-ops
	require.Error(t, mgr.NotifyTyping(context.Background(), peerID))
}

func TestConcurrentOpenSharesOneSession(t *testing.T) {
	f := newFixture(t, Config{})

	const callers = 8
	sessions := make([]*Session, callers)
	errs := make([]error, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			sessions[i], errs[i] = f.mgr.Open(context.Background(), peerID)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, sessions[0], sessions[i], "caller %d built a second session", i)
	}
	assert.Equal(t, 1, f.transport.SubscriberCount(models.PairKey(viewerID, peerID)))
	assert.Zero(t, f.channels.StaleTeardowns())
}

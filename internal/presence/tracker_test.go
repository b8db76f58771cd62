// ABOUTME: Tests for the presence tracker: ping selection, sweeps, pongs, and roster caching
// ABOUTME: Uses a fake sender, a testify mock roster, and a settable clock

package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lightningrodlabs/moss-sub000/internal/events"
	"github.com/lightningrodlabs/moss-sub000/internal/identity"
	"github.com/lightningrodlabs/moss-sub000/internal/signal"
)

type sentSignal struct {
	to      []identity.AgentID
	payload signal.Payload
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentSignal
	err  error
}

func (f *fakeSender) SendSignal(_ context.Context, to []identity.AgentID, _ string, p signal.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentSignal{to: append([]identity.AgentID(nil), to...), payload: p})
	return f.err
}

func (f *fakeSender) calls() []sentSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentSignal(nil), f.sent...)
}

type mockRoster struct {
	mock.Mock
}

func (m *mockRoster) ListGroupMembers(ctx context.Context) ([]identity.AgentID, error) {
	args := m.Called(ctx)
	members, _ := args.Get(0).([]identity.AgentID)
	return members, args.Error(1)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func agent(b ...byte) identity.AgentID {
	return identity.FromBytes(b)
}

func newTestTracker(t *testing.T, self identity.AgentID, roster Roster) (*Tracker, *fakeSender, *clock) {
	t.Helper()
	c := &clock{now: time.UnixMilli(1_700_000_000_000)}
	sender := &fakeSender{}
	tr := NewTracker(Config{
		Self:   self,
		Sender: sender,
		Roster: roster,
		Clock:  c.Now,
	})
	return tr, sender, c
}

func ping(from identity.AgentID, status string) signal.Envelope {
	return signal.Envelope{From: from, Payload: signal.Ping(1, status, nil)}
}

func pong(from identity.AgentID, status string) signal.Envelope {
	return signal.Envelope{From: from, Payload: signal.Pong(1, status, nil)}
}

func TestNeedsPinging_Symmetry(t *testing.T) {
	var ids []identity.AgentID
	for a := 0; a < 16; a++ {
		for b := 0; b < 16; b++ {
			ids = append(ids, agent(byte(a*13), byte(b*7), 0x84))
		}
	}
	ids = append(ids, agent(), agent(0xff, 0xff, 0xff, 0xff))

	for _, a := range ids {
		for _, b := range ids {
			ab := NeedsPinging(a, b)
			ba := NeedsPinging(b, a)
			if a.ByteSum() == b.ByteSum() {
				assert.True(t, ab && ba, "equal sums: both sides ping (%v, %v)", a.Bytes(), b.Bytes())
				continue
			}
			assert.True(t, ab != ba, "exactly one side pings (%v, %v)", a.Bytes(), b.Bytes())
		}
	}
}

func TestNeedsPinging_ParityRule(t *testing.T) {
	tests := []struct {
		name     string
		self     identity.AgentID
		peer     identity.AgentID
		expected bool
	}{
		{"even diff, self larger", agent(4), agent(2), true},
		{"even diff, self smaller", agent(2), agent(4), false},
		{"odd diff, self smaller", agent(2), agent(5), true},
		{"odd diff, self larger", agent(5), agent(2), false},
		{"equal sums", agent(1, 2), agent(3), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NeedsPinging(tt.self, tt.peer))
		})
	}
}

func TestTracker_HandlePingRepliesWithPong(t *testing.T) {
	self, peer := agent(1), agent(2)
	tr, sender, c := newTestTracker(t, self, nil)

	tr.HandlePing(t.Context(), ping(peer, "inactive"))

	ps, ok := tr.Status(peer)
	require.True(t, ok)
	assert.Equal(t, StatusInactive, ps.Status)
	assert.Equal(t, c.Now(), ps.LastSeen)

	calls := sender.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []identity.AgentID{peer}, calls[0].to)
	assert.Equal(t, signal.TypePong, calls[0].payload.Type)
	assert.Equal(t, string(StatusOnline), calls[0].payload.Status)
}

func TestTracker_PongCarriesInactiveWhenIdle(t *testing.T) {
	self, peer := agent(1), agent(2)
	tr, sender, c := newTestTracker(t, self, nil)

	c.Advance(DefaultIdleThreshold + time.Millisecond)
	tr.HandlePing(t.Context(), ping(peer, "online"))

	calls := sender.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, string(StatusInactive), calls[0].payload.Status)
}

func TestTracker_HandlePongDoesNotReply(t *testing.T) {
	self, peer := agent(1), agent(2)
	tr, sender, _ := newTestTracker(t, self, nil)

	tr.HandlePong(t.Context(), pong(peer, "online"))

	ps, ok := tr.Status(peer)
	require.True(t, ok)
	assert.Equal(t, StatusOnline, ps.Status)
	assert.Empty(t, sender.calls())
}

func TestTracker_PingSendFailureIsSwallowed(t *testing.T) {
	self, peer := agent(1), agent(2)
	tr, sender, _ := newTestTracker(t, self, nil)
	sender.err = errors.New("transport down")

	assert.NotPanics(t, func() {
		tr.HandlePing(t.Context(), ping(peer, "online"))
	})
	_, ok := tr.Status(peer)
	assert.True(t, ok)
}

func TestTracker_SweepMarksStalePeersOffline(t *testing.T) {
	self, peer := agent(1), agent(2)
	roster := &mockRoster{}
	roster.On("ListGroupMembers", mock.Anything).Return([]identity.AgentID{}, nil)
	tr, _, c := newTestTracker(t, self, roster)

	tr.HandlePong(t.Context(), pong(peer, "online"))
	c.Advance(DefaultOfflineThreshold + time.Millisecond)
	tr.Tick(t.Context())

	ps, _ := tr.Status(peer)
	assert.Equal(t, StatusOffline, ps.Status)
}

func TestTracker_SweepKeepsFreshPeers(t *testing.T) {
	self, peer := agent(1), agent(2)
	roster := &mockRoster{}
	roster.On("ListGroupMembers", mock.Anything).Return([]identity.AgentID{}, nil)
	tr, _, c := newTestTracker(t, self, roster)

	tr.HandlePong(t.Context(), pong(peer, "inactive"))
	c.Advance(DefaultOfflineThreshold)
	tr.Tick(t.Context())

	ps, _ := tr.Status(peer)
	assert.Equal(t, StatusInactive, ps.Status)
}

func TestTracker_OfflineIsStickyUntilContact(t *testing.T) {
	self, peer := agent(1), agent(2)
	roster := &mockRoster{}
	roster.On("ListGroupMembers", mock.Anything).Return([]identity.AgentID{}, nil)
	tr, _, c := newTestTracker(t, self, roster)

	tr.HandlePong(t.Context(), pong(peer, "online"))
	c.Advance(DefaultOfflineThreshold + time.Second)
	tr.Tick(t.Context())

	ps, _ := tr.Status(peer)
	require.Equal(t, StatusOffline, ps.Status)

	tr.HandlePong(t.Context(), pong(peer, "online"))
	ps, _ = tr.Status(peer)
	assert.Equal(t, StatusOnline, ps.Status)
}

func TestTracker_TickPingsSelectedPeersInOneBatch(t *testing.T) {
	self := agent(10)
	// 8 and 6: even diff, self larger. 13: odd diff, self smaller. 9 pings us.
	pingMe, pingMe2, pingMe3, notMe := agent(8), agent(6), agent(13), agent(9)
	roster := &mockRoster{}
	roster.On("ListGroupMembers", mock.Anything).
		Return([]identity.AgentID{self, pingMe, notMe, pingMe2, pingMe3}, nil)
	tr, sender, _ := newTestTracker(t, self, roster)

	tr.Tick(t.Context())

	calls := sender.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, signal.TypePing, calls[0].payload.Type)
	assert.ElementsMatch(t, []identity.AgentID{pingMe, pingMe2, pingMe3}, calls[0].to)
	assert.Equal(t, string(StatusOnline), calls[0].payload.Status)
}

func TestTracker_TickWithNoTargetsSendsNothing(t *testing.T) {
	self := agent(10)
	roster := &mockRoster{}
	roster.On("ListGroupMembers", mock.Anything).Return([]identity.AgentID{self, agent(9)}, nil)
	tr, sender, _ := newTestTracker(t, self, roster)

	tr.Tick(t.Context())

	assert.Empty(t, sender.calls())
}

func TestTracker_RosterRefetchedEveryTenTicks(t *testing.T) {
	self := agent(10)
	roster := &mockRoster{}
	roster.On("ListGroupMembers", mock.Anything).Return([]identity.AgentID{agent(8)}, nil)
	tr, _, _ := newTestTracker(t, self, roster)

	for i := 0; i < DefaultRefetchEvery; i++ {
		tr.Tick(t.Context())
	}
	roster.AssertNumberOfCalls(t, "ListGroupMembers", 1)

	tr.Tick(t.Context())
	roster.AssertNumberOfCalls(t, "ListGroupMembers", 2)
	assert.Equal(t, []identity.AgentID{agent(8)}, tr.Members())
}

func TestTracker_RosterErrorKeepsCache(t *testing.T) {
	self := agent(10)
	roster := &mockRoster{}
	roster.On("ListGroupMembers", mock.Anything).Return([]identity.AgentID{agent(8)}, nil).Once()
	roster.On("ListGroupMembers", mock.Anything).Return(nil, errors.New("relay unavailable"))
	c := &clock{now: time.UnixMilli(1_700_000_000_000)}
	sender := &fakeSender{}
	tr := NewTracker(Config{Self: self, Sender: sender, Roster: roster, Clock: c.Now, RefetchEvery: 1})

	tr.Tick(t.Context())
	tr.Tick(t.Context())

	assert.Equal(t, []identity.AgentID{agent(8)}, tr.Members())
	assert.Len(t, sender.calls(), 2, "cached roster is still pinged")
}

func TestTracker_LocalStatusGoesInactive(t *testing.T) {
	self := agent(1)
	tr, _, c := newTestTracker(t, self, nil)

	assert.Equal(t, StatusOnline, tr.MyStatus())

	c.Advance(DefaultIdleThreshold + time.Millisecond)
	assert.Equal(t, StatusInactive, tr.MyStatus())

	tr.RecordActivity()
	assert.Equal(t, StatusOnline, tr.MyStatus())
}

func TestTracker_TracksTimeZoneOffset(t *testing.T) {
	self, peer := agent(1), agent(2)
	tr, _, _ := newTestTracker(t, self, nil)

	offset := 120
	tr.HandlePong(t.Context(), signal.Envelope{From: peer, Payload: signal.Pong(1, "online", &offset)})
	tr.HandlePong(t.Context(), pong(peer, "online"))

	ps, _ := tr.Status(peer)
	require.NotNil(t, ps.TzUTCOffset)
	assert.Equal(t, 120, *ps.TzUTCOffset)
}

func TestTracker_IgnoresSelf(t *testing.T) {
	self := agent(1)
	tr, sender, _ := newTestTracker(t, self, nil)

	tr.HandlePing(t.Context(), ping(self, "online"))

	assert.Empty(t, tr.Statuses())
	assert.Empty(t, sender.calls())
}

func TestTracker_PublishesStatusChanges(t *testing.T) {
	self, peer := agent(1), agent(2)
	bus := events.NewBroadcaster(nil)
	defer bus.Close()
	ch, _ := bus.Subscribe(t.Context(), events.TopicPresence)

	roster := &mockRoster{}
	roster.On("ListGroupMembers", mock.Anything).Return([]identity.AgentID{}, nil)
	c := &clock{now: time.UnixMilli(1_700_000_000_000)}
	tr := NewTracker(Config{Self: self, Sender: &fakeSender{}, Roster: roster, Clock: c.Now, Events: bus})

	tr.HandlePong(t.Context(), pong(peer, "online"))
	c.Advance(time.Minute)
	tr.Tick(t.Context())

	var got []events.Event
	for len(got) < 3 {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatalf("expected 3 events, got %d", len(got))
		}
	}

	assert.Equal(t, events.KindPeerStatus, got[0].Kind)
	assert.Equal(t, string(StatusOnline), got[0].Status)
	assert.Equal(t, events.KindLocalStatus, got[1].Kind)
	assert.Equal(t, string(StatusInactive), got[1].Status)
	assert.Equal(t, events.KindPeerStatus, got[2].Kind)
	assert.Equal(t, string(StatusOffline), got[2].Status)
}

func TestTracker_RunStopsOnCancel(t *testing.T) {
	roster := &mockRoster{}
	roster.On("ListGroupMembers", mock.Anything).Return([]identity.AgentID{agent(2)}, nil)
	sender := &fakeSender{}
	tr := NewTracker(Config{Self: agent(1), Sender: sender, Roster: roster, TickInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(sender.calls()) >= 2
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

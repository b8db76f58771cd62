// ABOUTME: Presence tracker that derives online/inactive/offline status from Ping/Pong gossip
// ABOUTME: Pings a deterministic half of the roster each tick and replies to pings with pongs

package presence

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/lightningrodlabs/moss-sub000/internal/events"
	"github.com/lightningrodlabs/moss-sub000/internal/identity"
	"github.com/lightningrodlabs/moss-sub000/internal/metrics"
	"github.com/lightningrodlabs/moss-sub000/internal/signal"
)

const (
	DefaultTickInterval     = 8 * time.Second
	DefaultIdleThreshold    = 40 * time.Second
	DefaultOfflineThreshold = 20 * time.Second
	DefaultRefetchEvery     = 10
)

// Status is a peer's derived presence.
type Status string

const (
	StatusOnline   Status = "online"
	StatusInactive Status = "inactive"
	StatusOffline  Status = "offline"
)

// PeerStatus is the tracker's view of one remote agent.
type PeerStatus struct {
	LastSeen    time.Time
	Status      Status
	TzUTCOffset *int // minutes east of UTC as last reported, nil if never
}

// Roster returns the current group membership.
type Roster interface {
	ListGroupMembers(ctx context.Context) ([]identity.AgentID, error)
}

// Config holds the collaborators and thresholds for a Tracker. Zero
// durations and counts fall back to the Default constants.
type Config struct {
	Self   identity.AgentID
	Sender signal.Sender
	Roster Roster
	Logger *slog.Logger
	Clock  func() time.Time
	Events *events.Broadcaster

	TickInterval     time.Duration
	IdleThreshold    time.Duration
	OfflineThreshold time.Duration
	RefetchEvery     int

	TzUTCOffset *int
}

// Tracker owns the presence map and the cached roster. All methods are safe
// for concurrent use; outbound sends happen without holding the lock.
type Tracker struct {
	self   identity.AgentID
	sender signal.Sender
	roster Roster
	logger *slog.Logger
	now    func() time.Time
	events *events.Broadcaster

	tickInterval     time.Duration
	idleThreshold    time.Duration
	offlineThreshold time.Duration
	refetchEvery     int
	tzUTCOffset      *int

	mu               sync.Mutex
	peers            map[identity.AgentID]PeerStatus
	myLatestActivity time.Time
	myStatus         Status
	allAgents        []identity.AgentID
	ticks            int
}

// NewTracker creates a Tracker. The local agent starts out active as of now.
func NewTracker(cfg Config) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = DefaultIdleThreshold
	}
	if cfg.OfflineThreshold <= 0 {
		cfg.OfflineThreshold = DefaultOfflineThreshold
	}
	if cfg.RefetchEvery <= 0 {
		cfg.RefetchEvery = DefaultRefetchEvery
	}

	return &Tracker{
		self:             cfg.Self,
		sender:           cfg.Sender,
		roster:           cfg.Roster,
		logger:           cfg.Logger.With("component", "presence"),
		now:              cfg.Clock,
		events:           cfg.Events,
		tickInterval:     cfg.TickInterval,
		idleThreshold:    cfg.IdleThreshold,
		offlineThreshold: cfg.OfflineThreshold,
		refetchEvery:     cfg.RefetchEvery,
		tzUTCOffset:      cfg.TzUTCOffset,
		peers:            make(map[identity.AgentID]PeerStatus),
		myLatestActivity: cfg.Clock(),
		myStatus:         StatusOnline,
	}
}

// NeedsPinging reports whether self is the side responsible for pinging peer.
// For any pair with different byte sums exactly one side returns true; equal
// sums make both sides ping.
func NeedsPinging(self, peer identity.AgentID) bool {
	selfSum := self.ByteSum()
	peerSum := peer.ByteSum()
	diff := selfSum - peerSum

	if diff%2 == 0 {
		if diff == 0 {
			return true
		}
		return selfSum > peerSum
	}
	return selfSum < peerSum
}

// RecordActivity marks the local user as active now.
func (t *Tracker) RecordActivity() {
	t.SetLatestActivity(t.now())
}

// SetLatestActivity sets the local user's last activity time.
func (t *Tracker) SetLatestActivity(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if at.After(t.myLatestActivity) {
		t.myLatestActivity = at
	}
}

// MyStatus derives the local status from the last recorded activity.
func (t *Tracker) MyStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deriveMyStatusLocked(t.now())
}

func (t *Tracker) deriveMyStatusLocked(now time.Time) Status {
	if now.Sub(t.myLatestActivity) > t.idleThreshold {
		return StatusInactive
	}
	return StatusOnline
}

// HandlePing records the sender and replies with a Pong carrying our status.
func (t *Tracker) HandlePing(ctx context.Context, env signal.Envelope) {
	if env.From == t.self {
		return
	}
	now := t.now()

	t.mu.Lock()
	t.recordLocked(env, now)
	status := t.deriveMyStatusLocked(now)
	t.mu.Unlock()

	pong := signal.Pong(signal.NowMillis(now), string(status), t.tzUTCOffset)
	err := t.sender.SendSignal(ctx, []identity.AgentID{env.From}, "", pong)
	metrics.RecordSend(string(signal.TypePong), err)
	if err != nil {
		t.logger.Warn("failed to send pong", "agent_id", env.From.Short(), "error", err)
	}
}

// HandlePong records the sender. No reply is sent.
func (t *Tracker) HandlePong(_ context.Context, env signal.Envelope) {
	if env.From == t.self {
		return
	}
	now := t.now()

	t.mu.Lock()
	t.recordLocked(env, now)
	t.mu.Unlock()
}

// recordLocked must be called with mu held.
func (t *Tracker) recordLocked(env signal.Envelope, now time.Time) {
	status := Status(env.Payload.Status)
	switch status {
	case StatusOnline, StatusInactive:
	default:
		// Peers that send no status, or one we don't know, are at least reachable.
		status = StatusOnline
	}

	prev, existed := t.peers[env.From]
	next := PeerStatus{LastSeen: now, Status: status, TzUTCOffset: env.Payload.TzUTCOffset}
	if next.TzUTCOffset == nil {
		next.TzUTCOffset = prev.TzUTCOffset
	}
	t.peers[env.From] = next
	t.updateGaugesLocked()

	if !existed || prev.Status != status {
		t.logger.Debug("peer status changed",
			"agent_id", env.From.Short(),
			"from", prev.Status,
			"to", status)
		t.events.Publish(events.Event{
			Topic:  events.TopicPresence,
			Kind:   events.KindPeerStatus,
			Agent:  env.From,
			Status: string(status),
			At:     now,
		})
	}
}

// Tick derives the local status, sweeps stale peers to offline, and pings
// the peers this agent is responsible for.
func (t *Tracker) Tick(ctx context.Context) {
	now := t.now()

	t.mu.Lock()
	status := t.deriveMyStatusLocked(now)
	if status != t.myStatus {
		t.myStatus = status
		t.logger.Info("local status changed", "status", status)
		t.events.Publish(events.Event{
			Topic:  events.TopicPresence,
			Kind:   events.KindLocalStatus,
			Agent:  t.self,
			Status: string(status),
			At:     now,
		})
	}
	t.sweepLocked(now)
	t.mu.Unlock()

	t.pingAgents(ctx, now, status)
}

// sweepLocked must be called with mu held.
func (t *Tracker) sweepLocked(now time.Time) {
	for id, ps := range t.peers {
		if ps.Status == StatusOffline || now.Sub(ps.LastSeen) <= t.offlineThreshold {
			continue
		}
		ps.Status = StatusOffline
		t.peers[id] = ps
		t.logger.Debug("peer went offline", "agent_id", id.Short(), "last_seen", ps.LastSeen)
		t.events.Publish(events.Event{
			Topic:  events.TopicPresence,
			Kind:   events.KindPeerStatus,
			Agent:  id,
			Status: string(StatusOffline),
			At:     now,
		})
	}
	t.updateGaugesLocked()
}

func (t *Tracker) pingAgents(ctx context.Context, now time.Time, status Status) {
	roster := t.currentRoster(ctx)

	targets := make([]identity.AgentID, 0, len(roster))
	for _, id := range roster {
		if id == t.self || !NeedsPinging(t.self, id) {
			continue
		}
		targets = append(targets, id)
	}
	if len(targets) == 0 {
		return
	}

	ping := signal.Ping(signal.NowMillis(now), string(status), t.tzUTCOffset)
	err := t.sender.SendSignal(ctx, targets, "", ping)
	metrics.RecordSend(string(signal.TypePing), err)
	if err != nil {
		t.logger.Warn("failed to send ping", "targets", len(targets), "error", err)
	}
}

// currentRoster returns the cached roster, refetching it on the first tick
// and every refetchEvery ticks after that.
func (t *Tracker) currentRoster(ctx context.Context) []identity.AgentID {
	t.mu.Lock()
	refetch := t.allAgents == nil || t.ticks%t.refetchEvery == 0
	t.ticks++
	cached := t.allAgents
	t.mu.Unlock()

	if !refetch || t.roster == nil {
		return cached
	}

	members, err := t.roster.ListGroupMembers(ctx)
	if err != nil {
		t.logger.Warn("failed to refresh roster, using cached", "error", err)
		return cached
	}
	if members == nil {
		members = []identity.AgentID{}
	}

	t.mu.Lock()
	t.allAgents = slices.Clone(members)
	t.mu.Unlock()

	t.logger.Debug("roster refreshed", "members", len(members))
	return members
}

// Run ticks immediately and then every tick interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	t.logger.Info("presence tracker started", "tick_interval", t.tickInterval)
	t.Tick(ctx)

	ticker := time.NewTicker(t.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("presence tracker stopped")
			return ctx.Err()
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Status returns the tracked status of id.
func (t *Tracker) Status(id identity.AgentID) (PeerStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ps, ok := t.peers[id]
	return ps, ok
}

// Statuses returns a snapshot of every tracked peer.
func (t *Tracker) Statuses() map[identity.AgentID]PeerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[identity.AgentID]PeerStatus, len(t.peers))
	for id, ps := range t.peers {
		out[id] = ps
	}
	return out
}

// Members returns the cached roster.
func (t *Tracker) Members() []identity.AgentID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.allAgents)
}

// updateGaugesLocked must be called with mu held.
func (t *Tracker) updateGaugesLocked() {
	counts := map[Status]int{StatusOnline: 0, StatusInactive: 0, StatusOffline: 0}
	for _, ps := range t.peers {
		counts[ps.Status]++
	}
	for status, n := range counts {
		metrics.Peers.WithLabelValues(string(status)).Set(float64(n))
	}
}

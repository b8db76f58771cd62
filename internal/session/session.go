// ABOUTME: Wires one peer: transport, presence tracker, messenger and the inbound dispatcher
// ABOUTME: Run drives the tick loop and the receive loop until the context ends

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightningrodlabs/moss-sub000/internal/events"
	"github.com/lightningrodlabs/moss-sub000/internal/identity"
	"github.com/lightningrodlabs/moss-sub000/internal/messenger"
	"github.com/lightningrodlabs/moss-sub000/internal/presence"
	"github.com/lightningrodlabs/moss-sub000/internal/signal"
	"github.com/lightningrodlabs/moss-sub000/internal/stream"
)

// Transport is what a session needs from its connection to the group.
// *relayclient.Client implements it.
type Transport interface {
	signal.Sender
	presence.Roster
	Self() identity.AgentID
	DisplayName(id identity.AgentID) (string, bool)
	Receive(ctx context.Context, handle func(signal.Envelope)) error
}

// UI is the local surface that shows notifications.
type UI interface {
	// Focused reports whether the user is looking at the conversation.
	Focused() bool
	Notify(n messenger.Notification)
}

// Config configures New.
type Config struct {
	Transport Transport
	UI        UI // nil disables notifications
	Nickname  string
	Logger    *slog.Logger
	Clock     func() time.Time
	Events    *events.Broadcaster

	TickInterval     time.Duration
	IdleThreshold    time.Duration
	OfflineThreshold time.Duration
	RefetchEvery     int
	TzUTCOffset      *int

	MaxOutstandingPerPeer int
	NotificationDedupeTTL time.Duration
}

// Session is one running peer.
type Session struct {
	transport  Transport
	tracker    *presence.Tracker
	messenger  *messenger.Messenger
	dispatcher *signal.Dispatcher
	events     *events.Broadcaster
	ownsEvents bool
	logger     *slog.Logger
}

// New builds the components around cfg.Transport. Nothing runs until Run.
func New(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	self := cfg.Transport.Self()
	logger := cfg.Logger.With("agent_id", self.Short())

	s := &Session{
		transport: cfg.Transport,
		events:    cfg.Events,
		logger:    logger,
	}
	if s.events == nil {
		s.events = events.NewBroadcaster(logger)
		s.ownsEvents = true
	}

	s.tracker = presence.NewTracker(presence.Config{
		Self:             self,
		Sender:           cfg.Transport,
		Roster:           cfg.Transport,
		Logger:           logger,
		Clock:            cfg.Clock,
		Events:           s.events,
		TickInterval:     cfg.TickInterval,
		IdleThreshold:    cfg.IdleThreshold,
		OfflineThreshold: cfg.OfflineThreshold,
		RefetchEvery:     cfg.RefetchEvery,
		TzUTCOffset:      cfg.TzUTCOffset,
	})

	var host messenger.Host
	if cfg.UI != nil {
		host = &focusHost{ui: cfg.UI, tracker: s.tracker, names: cfg.Transport}
	}

	s.messenger = messenger.New(messenger.Config{
		Self:                  self,
		Nickname:              cfg.Nickname,
		Sender:                cfg.Transport,
		Host:                  host,
		Logger:                logger,
		Clock:                 cfg.Clock,
		Events:                s.events,
		MaxOutstandingPerPeer: cfg.MaxOutstandingPerPeer,
		NotificationDedupeTTL: cfg.NotificationDedupeTTL,
	})

	s.dispatcher = signal.NewDispatcher(s.tracker, s.messenger, logger)
	return s, nil
}

// Self is the local agent id.
func (s *Session) Self() identity.AgentID {
	return s.transport.Self()
}

// Tracker exposes the presence tracker.
func (s *Session) Tracker() *presence.Tracker {
	return s.tracker
}

// Messenger exposes the stream messenger.
func (s *Session) Messenger() *messenger.Messenger {
	return s.messenger
}

// Events exposes the state-change broadcaster.
func (s *Session) Events() *events.Broadcaster {
	return s.events
}

// Run ticks presence and dispatches inbound signals until ctx is canceled or
// the transport's receive loop ends. It returns nil on cancellation.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.transport.Receive(ctx, func(env signal.Envelope) {
			s.dispatcher.Dispatch(ctx, env)
		})
	}()
	go func() {
		errCh <- s.tracker.Run(ctx)
	}()

	err := <-errCh
	cancel()
	<-errCh

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RecordActivity marks the local user as active.
func (s *Session) RecordActivity() {
	s.tracker.RecordActivity()
}

// Send records activity, then sends text on streamID to recipients.
func (s *Session) Send(ctx context.Context, streamID, text string, recipients []identity.AgentID) (signal.Payload, error) {
	s.tracker.RecordActivity()
	msg := s.messenger.NewMsg(text)
	if err := s.messenger.SendMessage(ctx, streamID, msg, recipients); err != nil {
		return signal.Payload{}, fmt.Errorf("sending message: %w", err)
	}
	return msg, nil
}

// Broadcast sends text on the _all stream to every known member.
func (s *Session) Broadcast(ctx context.Context, text string) (signal.Payload, error) {
	members := s.tracker.Members()
	if len(members) == 0 {
		fetched, err := s.transport.ListGroupMembers(ctx)
		if err != nil {
			s.logger.Warn("fetching roster for broadcast", "error", err)
		}
		members = fetched
	}
	return s.Send(ctx, stream.AllStreamID, text, members)
}

// Close releases messenger resources and the broadcaster if the session made it.
func (s *Session) Close() {
	s.messenger.Close()
	if s.ownsEvents {
		s.events.Close()
	}
}

// focusHost adapts the UI to messenger.Host. The window only counts as
// focused while the local user is online.
type focusHost struct {
	ui      UI
	tracker *presence.Tracker
	names   interface {
		DisplayName(id identity.AgentID) (string, bool)
	}
}

func (h *focusHost) WindowFocused() bool {
	return h.tracker.MyStatus() == presence.StatusOnline && h.ui.Focused()
}

func (h *focusHost) Notify(n messenger.Notification) {
	h.ui.Notify(n)
}

func (h *focusHost) DisplayName(id identity.AgentID) (string, bool) {
	return h.names.DisplayName(id)
}

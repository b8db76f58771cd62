// ABOUTME: Stream messenger delivering Msg payloads with acks and resend-on-contact
// ABOUTME: Owns streams, per-peer expectation lists, and the notification side effect

package messenger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/lightningrodlabs/moss-sub000/internal/dedupe"
	"github.com/lightningrodlabs/moss-sub000/internal/events"
	"github.com/lightningrodlabs/moss-sub000/internal/identity"
	"github.com/lightningrodlabs/moss-sub000/internal/metrics"
	"github.com/lightningrodlabs/moss-sub000/internal/signal"
	"github.com/lightningrodlabs/moss-sub000/internal/stream"
)

// ErrNotMsg is returned by SendMessage for payloads other than Msg.
var ErrNotMsg = errors.New("payload is not a Msg")

// DefaultNotificationDedupeTTL bounds how long a notified message is remembered.
const DefaultNotificationDedupeTTL = 10 * time.Minute

const notificationDedupeSize = 4096

// Urgency classifies a notification.
type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
)

// Notification is what the host is asked to display for an unseen message.
type Notification struct {
	Title    string
	Body     string
	Urgency  Urgency
	StreamID string
	From     identity.AgentID
	Created  int64
}

// Host is the local desktop surface the messenger notifies through.
type Host interface {
	WindowFocused() bool
	Notify(n Notification)
	DisplayName(id identity.AgentID) (string, bool)
}

// Config holds collaborators and limits for a Messenger.
type Config struct {
	Self     identity.AgentID
	Nickname string
	Sender   signal.Sender
	Host     Host // nil disables notifications
	Logger   *slog.Logger
	Clock    func() time.Time
	Events   *events.Broadcaster

	// MaxOutstandingPerPeer caps each expectation list; 0 means unbounded.
	MaxOutstandingPerPeer int
	NotificationDedupeTTL time.Duration
}

type noteKey struct {
	from    identity.AgentID
	created int64
}

// resend is a message to re-issue to one peer.
type resend struct {
	streamID string
	payload  signal.Payload
}

// Messenger is safe for concurrent use. A single mutex guards all state and
// is never held across a send or a host call.
type Messenger struct {
	self           identity.AgentID
	mention        string
	sender         signal.Sender
	host           Host
	logger         *slog.Logger
	now            func() time.Time
	events         *events.Broadcaster
	maxOutstanding int
	notified       *dedupe.Cache[noteKey]

	mu           sync.Mutex
	streams      map[string]*stream.Stream
	expectations map[identity.AgentID][]int64
	outstanding  int
	lastActivity map[string]time.Time
	lastSeen     map[identity.AgentID]time.Time
	lastCreated  int64
}

// New creates a Messenger with the _all stream in place.
func New(cfg Config) *Messenger {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NotificationDedupeTTL <= 0 {
		cfg.NotificationDedupeTTL = DefaultNotificationDedupeTTL
	}

	var mention string
	if nick := strings.TrimSpace(cfg.Nickname); nick != "" {
		mention = "@" + strings.ToLower(nick)
	}

	m := &Messenger{
		self:           cfg.Self,
		mention:        mention,
		sender:         cfg.Sender,
		host:           cfg.Host,
		logger:         cfg.Logger.With("component", "messenger"),
		now:            cfg.Clock,
		events:         cfg.Events,
		maxOutstanding: cfg.MaxOutstandingPerPeer,
		notified: dedupe.New[noteKey](cfg.NotificationDedupeTTL, notificationDedupeSize,
			dedupe.WithClock[noteKey](cfg.Clock)),
		streams:      map[string]*stream.Stream{stream.AllStreamID: stream.New(stream.AllStreamID)},
		expectations: make(map[identity.AgentID][]int64),
		lastActivity: make(map[string]time.Time),
		lastSeen:     make(map[identity.AgentID]time.Time),
	}
	return m
}

// Close releases background resources.
func (m *Messenger) Close() {
	m.notified.Close()
}

// NewMsg builds a Msg with a created value that is unique and increasing for
// this messenger, even when called twice in the same millisecond.
func (m *Messenger) NewMsg(text string) signal.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()

	created := signal.NowMillis(m.now())
	if created <= m.lastCreated {
		created = m.lastCreated + 1
	}
	m.lastCreated = created
	return signal.Msg(created, text)
}

// SendMessage echoes msg into streamID locally, records an expectation for
// every recipient, then sends one Msg to all of them. A failed send is logged
// and left to resend-on-contact; only invalid input returns an error.
func (m *Messenger) SendMessage(ctx context.Context, streamID string, msg signal.Payload, recipients []identity.AgentID) error {
	if msg.Type != signal.TypeMsg {
		return fmt.Errorf("%w: got %q", ErrNotMsg, msg.Type)
	}
	if streamID == "" {
		streamID = stream.AllStreamID
	}
	now := m.now()

	targets := make([]identity.AgentID, 0, len(recipients))
	for _, id := range recipients {
		if id == m.self || id.IsZero() || slices.Contains(targets, id) {
			continue
		}
		targets = append(targets, id)
	}

	m.mu.Lock()
	st, created := m.streamLocked(streamID)
	added := st.Add(stream.Message{Payload: msg, From: m.self, Received: now})
	m.lastActivity[streamID] = now
	if msg.Created > m.lastCreated {
		m.lastCreated = msg.Created
	}
	for _, id := range targets {
		m.expectLocked(id, msg.Created)
	}
	m.mu.Unlock()

	if created {
		m.publish(events.KindStreamCreated, streamID, "", 0, now)
	}
	if added {
		m.publish(events.KindMessageAdded, streamID, m.self, msg.Created, now)
	}

	if len(targets) == 0 {
		return nil
	}

	err := m.sender.SendSignal(ctx, targets, streamID, msg)
	metrics.RecordSend(string(signal.TypeMsg), err)
	if err != nil {
		m.logger.Warn("failed to send message, will resend on contact",
			"stream_id", streamID,
			"created", msg.Created,
			"recipients", len(targets),
			"error", err)
		return nil
	}
	m.logger.Debug("message sent", "stream_id", streamID, "created", msg.Created, "recipients", len(targets))
	return nil
}

// expectLocked must be called with mu held.
func (m *Messenger) expectLocked(id identity.AgentID, created int64) {
	list := m.expectations[id]
	if m.maxOutstanding > 0 && len(list) >= m.maxOutstanding {
		dropped := list[0]
		list = list[1:]
		m.outstanding--
		m.logger.Warn("expectation list full, dropping oldest",
			"agent_id", id.Short(),
			"dropped_created", dropped,
			"limit", m.maxOutstanding)
	}
	m.expectations[id] = append(list, created)
	m.outstanding++
	metrics.OutstandingMessages.Set(float64(m.outstanding))
}

// HandleSignal processes one inbound envelope of any variant. Msg is stored
// and acked, Ack clears the matching expectation, and in every case the
// sender's outstanding messages are resent to it.
func (m *Messenger) HandleSignal(ctx context.Context, env signal.Envelope) {
	from := env.From
	if from.IsZero() {
		m.logger.Warn("dropping signal without sender", "type", env.Payload.Type)
		return
	}
	metrics.SignalsReceived.WithLabelValues(string(env.Payload.Type)).Inc()

	received := env.Received
	if received.IsZero() {
		received = m.now()
	}
	streamID := env.StreamID
	if streamID == "" {
		streamID = stream.AllStreamID
	}
	p := env.Payload

	var (
		streamCreated bool
		msgAdded      bool
		ackRecorded   bool
		sendAck       bool
	)

	m.mu.Lock()
	m.lastSeen[from] = received

	switch p.Type {
	case signal.TypeMsg:
		var st *stream.Stream
		st, streamCreated = m.streamLocked(streamID)
		msgAdded = st.Add(stream.Message{Payload: p, From: from, Received: received})
		if msgAdded {
			m.lastActivity[streamID] = received
		}
		sendAck = from != m.self
	case signal.TypeAck:
		matched := m.clearExpectationLocked(from, p.Created)
		metrics.AcksReceived.WithLabelValues(fmt.Sprintf("%t", matched)).Inc()
		var st *stream.Stream
		st, streamCreated = m.streamLocked(streamID)
		ackRecorded = st.RecordAck(p.Created, from)
		m.lastActivity[streamID] = received
	}

	resends := m.collectResendsLocked(from)
	m.mu.Unlock()

	if streamCreated {
		m.publish(events.KindStreamCreated, streamID, from, 0, received)
	}
	if msgAdded {
		m.publish(events.KindMessageAdded, streamID, from, p.Created, received)
		if from != m.self {
			m.maybeNotify(streamID, from, p)
		}
	}
	if ackRecorded {
		m.publish(events.KindAckRecorded, streamID, from, p.Created, received)
	}

	if sendAck {
		err := m.sender.SendSignal(ctx, []identity.AgentID{from}, streamID, signal.Ack(p.Created))
		metrics.RecordSend(string(signal.TypeAck), err)
		if err != nil {
			m.logger.Warn("failed to send ack", "agent_id", from.Short(), "created", p.Created, "error", err)
		}
	}

	for _, r := range resends {
		err := m.sender.SendSignal(ctx, []identity.AgentID{from}, r.streamID, r.payload)
		metrics.RecordSend(string(signal.TypeMsg), err)
		if err != nil {
			m.logger.Warn("failed to resend message",
				"agent_id", from.Short(),
				"stream_id", r.streamID,
				"created", r.payload.Created,
				"error", err)
			continue
		}
		metrics.Resends.Inc()
		m.logger.Debug("resent message", "agent_id", from.Short(), "stream_id", r.streamID, "created", r.payload.Created)
	}
}

// clearExpectationLocked must be called with mu held.
func (m *Messenger) clearExpectationLocked(from identity.AgentID, created int64) bool {
	list, ok := m.expectations[from]
	if !ok {
		return false
	}
	idx := slices.Index(list, created)
	if idx < 0 {
		return false
	}
	list = slices.Delete(list, idx, idx+1)
	if len(list) == 0 {
		delete(m.expectations, from)
	} else {
		m.expectations[from] = list
	}
	m.outstanding--
	metrics.OutstandingMessages.Set(float64(m.outstanding))
	return true
}

// collectResendsLocked looks up every message still owed by from. Stream ids
// are searched in sorted order and the first match wins. Messages no longer
// in any stream are skipped but stay outstanding.
func (m *Messenger) collectResendsLocked(from identity.AgentID) []resend {
	list := m.expectations[from]
	if len(list) == 0 {
		return nil
	}

	ids := m.streamIDsLocked()
	out := make([]resend, 0, len(list))
	for _, created := range list {
		for _, id := range ids {
			if msg, ok := m.streams[id].Find(created); ok {
				out = append(out, resend{streamID: id, payload: msg.Payload})
				break
			}
		}
	}
	return out
}

func (m *Messenger) maybeNotify(streamID string, from identity.AgentID, p signal.Payload) {
	if m.host == nil || m.host.WindowFocused() {
		return
	}
	if m.notified.CheckAndMark(noteKey{from: from, created: p.Created}) {
		return
	}

	name, ok := m.host.DisplayName(from)
	if !ok || name == "" {
		name = from.Short()
	}

	urgency := UrgencyMedium
	if m.mention != "" && strings.Contains(strings.ToLower(p.Text), m.mention) {
		urgency = UrgencyHigh
	}

	m.host.Notify(Notification{
		Title:    "message from " + name,
		Body:     p.Text,
		Urgency:  urgency,
		StreamID: streamID,
		From:     from,
		Created:  p.Created,
	})
}

// streamLocked returns the stream for id, creating it if needed. It must be
// called with mu held.
func (m *Messenger) streamLocked(id string) (*stream.Stream, bool) {
	if st, ok := m.streams[id]; ok {
		return st, false
	}
	st := stream.New(id)
	m.streams[id] = st
	return st, true
}

func (m *Messenger) streamIDsLocked() []string {
	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *Messenger) publish(kind events.Kind, streamID string, agent identity.AgentID, created int64, at time.Time) {
	m.events.Publish(events.Event{
		Topic:    events.TopicStream,
		Kind:     kind,
		Agent:    agent,
		StreamID: streamID,
		Created:  created,
		At:       at,
	})
}

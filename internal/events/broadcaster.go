// ABOUTME: In-memory fan-out of state-change events from presence and messaging
// ABOUTME: Lets UIs observe the core without polling; slow subscribers drop events

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lightningrodlabs/moss-sub000/internal/identity"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Topic groups related events.
type Topic string

const (
	TopicPresence Topic = "presence"
	TopicStream   Topic = "stream"
)

// Kind says what changed.
type Kind string

const (
	KindPeerStatus    Kind = "peer_status"
	KindLocalStatus   Kind = "local_status"
	KindMessageAdded  Kind = "message_added"
	KindAckRecorded   Kind = "ack_recorded"
	KindStreamCreated Kind = "stream_created"
	KindStreamZapped  Kind = "stream_zapped"
)

// Event describes a single state change. Fields not relevant to Kind are zero.
type Event struct {
	Topic    Topic
	Kind     Kind
	Agent    identity.AgentID
	StreamID string
	Created  int64
	Status   string
	At       time.Time
}

// Broadcaster provides topic-keyed pub/sub. A nil *Broadcaster is valid and
// discards everything, so components can publish unconditionally.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[Topic]map[string]chan Event // topic -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[Topic]map[string]chan Event),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers for events on topic. The subscription is removed and
// its channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, topic Topic) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan Event)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish delivers ev to every subscriber of ev.Topic without blocking.
func (b *Broadcaster) Publish(ev Event) {
	if b == nil {
		return
	}

	// Sends are non-blocking, so holding the read lock keeps Close from
	// closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[ev.Topic] {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"topic", ev.Topic,
				"kind", ev.Kind,
				"sub_id", subID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(topic Topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}

	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, topic)
	}
}

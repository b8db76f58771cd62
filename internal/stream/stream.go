// ABOUTME: In-memory message stream ordered by sender-assigned created timestamp
// ABOUTME: Deduplicates by created and keeps a per-message index of which agents acked it

package stream

import (
	"slices"
	"sort"
	"time"

	"github.com/lightningrodlabs/moss-sub000/internal/identity"
	"github.com/lightningrodlabs/moss-sub000/internal/signal"
)

// AllStreamID is the stream every group member shares. It always exists.
const AllStreamID = "_all"

// Message is a stored Msg along with who sent it and when it arrived.
type Message struct {
	Payload  signal.Payload
	From     identity.AgentID
	Received time.Time
}

// Stream is one conversation log. It is not safe for concurrent use; the
// owner serialises access.
type Stream struct {
	id       string
	messages []Message // sorted by Payload.Created
	index    map[int64]struct{}
	acks     map[int64]map[identity.AgentID]struct{}
}

// New creates an empty stream.
func New(id string) *Stream {
	return &Stream{
		id:    id,
		index: make(map[int64]struct{}),
		acks:  make(map[int64]map[identity.AgentID]struct{}),
	}
}

// ID returns the stream id.
func (s *Stream) ID() string { return s.id }

// Add inserts m in created order. It returns false if m is not a Msg or a
// message with the same created value is already stored.
func (s *Stream) Add(m Message) bool {
	if m.Payload.Type != signal.TypeMsg {
		return false
	}
	created := m.Payload.Created
	if _, dup := s.index[created]; dup {
		return false
	}
	s.index[created] = struct{}{}

	i := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].Payload.Created > created
	})
	s.messages = slices.Insert(s.messages, i, m)
	return true
}

// Has reports whether a message with created is stored.
func (s *Stream) Has(created int64) bool {
	_, ok := s.index[created]
	return ok
}

// Find returns the message with the given created value.
func (s *Stream) Find(created int64) (Message, bool) {
	if !s.Has(created) {
		return Message{}, false
	}
	i := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].Payload.Created >= created
	})
	return s.messages[i], true
}

// RecordAck notes that from acknowledged created. It returns false if from
// had already acked it. Acks for messages not in the stream are kept too.
func (s *Stream) RecordAck(created int64, from identity.AgentID) bool {
	set, ok := s.acks[created]
	if !ok {
		set = make(map[identity.AgentID]struct{})
		s.acks[created] = set
	}
	if _, seen := set[from]; seen {
		return false
	}
	set[from] = struct{}{}
	return true
}

// Acks returns the agents that acked created, sorted.
func (s *Stream) Acks(created int64) []identity.AgentID {
	set := s.acks[created]
	out := make([]identity.AgentID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Messages returns a copy of the log in created order.
func (s *Stream) Messages() []Message {
	return slices.Clone(s.messages)
}

// Len returns the number of stored messages.
func (s *Stream) Len() int { return len(s.messages) }

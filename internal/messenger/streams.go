// ABOUTME: Stream lifecycle and read-only queries on messenger state
// ABOUTME: All results are copies so callers never share memory with the messenger

package messenger

import (
	"slices"
	"time"

	"github.com/lightningrodlabs/moss-sub000/internal/events"
	"github.com/lightningrodlabs/moss-sub000/internal/identity"
	"github.com/lightningrodlabs/moss-sub000/internal/stream"
)

// NewStream creates an empty stream, replacing any existing one with that id.
func (m *Messenger) NewStream(id string) {
	m.mu.Lock()
	m.streams[id] = stream.New(id)
	m.mu.Unlock()

	m.publish(events.KindStreamCreated, id, "", 0, m.now())
}

// ZapStream discards a stream. Zapping _all leaves it empty instead.
// Outstanding expectations are kept; their messages just can't be resent.
func (m *Messenger) ZapStream(id string) {
	m.mu.Lock()
	if id == stream.AllStreamID {
		m.streams[id] = stream.New(id)
	} else {
		delete(m.streams, id)
	}
	delete(m.lastActivity, id)
	m.mu.Unlock()

	m.publish(events.KindStreamZapped, id, "", 0, m.now())
}

// Streams returns the ids of every stream, sorted.
func (m *Messenger) Streams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamIDsLocked()
}

// Messages returns the log of a stream in created order.
func (m *Messenger) Messages(streamID string) ([]stream.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.streams[streamID]
	if !ok {
		return nil, false
	}
	return st.Messages(), true
}

// FindMessage looks up one message by created within a stream.
func (m *Messenger) FindMessage(streamID string, created int64) (stream.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.streams[streamID]
	if !ok {
		return stream.Message{}, false
	}
	return st.Find(created)
}

// Acks returns who acknowledged created in streamID.
func (m *Messenger) Acks(streamID string, created int64) []identity.AgentID {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.streams[streamID]
	if !ok {
		return nil
	}
	return st.Acks(created)
}

// Expectations returns the created ids id still owes an ack for, oldest first.
func (m *Messenger) Expectations(id identity.AgentID) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.expectations[id])
}

// Outstanding returns the total number of unacknowledged deliveries.
func (m *Messenger) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outstanding
}

// LastSeen returns when any signal last arrived from id.
func (m *Messenger) LastSeen(id identity.AgentID) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastSeen[id]
	return t, ok
}

// LastActivity returns when streamID last gained a message or ack.
func (m *Messenger) LastActivity(streamID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastActivity[streamID]
	return t, ok
}

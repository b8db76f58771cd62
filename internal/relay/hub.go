// ABOUTME: Tracks connected peers and routes signal frames between them
// ABOUTME: Routing is best effort: offline recipients and full queues drop the frame

package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/lightningrodlabs/moss-sub000/internal/identity"
	"github.com/lightningrodlabs/moss-sub000/internal/metrics"
	"github.com/lightningrodlabs/moss-sub000/internal/relayrpc"
)

// ErrAgentAlreadyConnected indicates a stream is already bound to the agent id.
var ErrAgentAlreadyConnected = errors.New("agent already connected")

// ErrAgentNotConnected indicates the agent has no live stream.
var ErrAgentNotConnected = errors.New("agent not connected")

// RouteResult counts per-recipient outcomes of one Route call.
type RouteResult struct {
	Delivered int
	Offline   int
	QueueFull int
}

// Hub coordinates all connected peers.
type Hub struct {
	conns  map[identity.AgentID]*Connection
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[identity.AgentID]*Connection),
		logger: logger,
	}
}

// Register adds a connection. Returns ErrAgentAlreadyConnected if the agent
// already has a live stream.
func (h *Hub) Register(c *Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.conns[c.AgentID]; exists {
		return ErrAgentAlreadyConnected
	}

	h.conns[c.AgentID] = c
	metrics.RelayConnections.Set(float64(len(h.conns)))
	h.logger.Info("=== PEER CONNECTED ===",
		"agent_id", c.AgentID.Short(),
		"nickname", c.Nickname,
		"instance_id", c.InstanceID,
		"total_peers", len(h.conns),
	)
	return nil
}

// Unregister removes c if it is still the registered stream for its agent.
func (h *Hub) Unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, exists := h.conns[c.AgentID]
	if !exists || current.InstanceID != c.InstanceID {
		return
	}
	delete(h.conns, c.AgentID)
	metrics.RelayConnections.Set(float64(len(h.conns)))
	h.logger.Info("=== PEER DISCONNECTED ===",
		"agent_id", c.AgentID.Short(),
		"nickname", c.Nickname,
		"total_peers", len(h.conns),
	)
}

// Get returns the live connection for id.
func (h *Hub) Get(id identity.AgentID) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

// IsConnected reports whether id has a live stream.
func (h *Hub) IsConnected(id identity.AgentID) bool {
	_, ok := h.Get(id)
	return ok
}

// Connected lists connected agent ids in text order.
func (h *Hub) Connected() []identity.AgentID {
	h.mu.RLock()
	ids := make([]identity.AgentID, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Count returns the number of connected peers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Route delivers frame from the sender to every listed recipient. The sender
// and repeated recipients are skipped.
func (h *Hub) Route(from identity.AgentID, frame relayrpc.OutboundFrame) (RouteResult, error) {
	msg, err := relayrpc.EncodeFrame(relayrpc.InboundFrame{
		Kind:     relayrpc.FrameSignal,
		From:     from,
		StreamID: frame.StreamID,
		Payload:  frame.Payload,
	})
	if err != nil {
		return RouteResult{}, fmt.Errorf("routing from %s: %w", from.Short(), err)
	}

	var res RouteResult
	seen := make(map[identity.AgentID]struct{}, len(frame.To))
	for _, to := range frame.To {
		if to == from {
			continue
		}
		if _, dup := seen[to]; dup {
			continue
		}
		seen[to] = struct{}{}

		conn, ok := h.Get(to)
		switch {
		case !ok:
			res.Offline++
			metrics.RelayFrames.WithLabelValues("offline").Inc()
		case !conn.Enqueue(msg):
			res.QueueFull++
			metrics.RelayFrames.WithLabelValues("queue_full").Inc()
			h.logger.Debug("outbound queue full, dropping frame", "from", from.Short(), "to", to.Short())
		default:
			res.Delivered++
			metrics.RelayFrames.WithLabelValues("delivered").Inc()
		}
	}
	return res, nil
}

// ABOUTME: One peer's Connect stream at the relay with a bounded outbound queue
// ABOUTME: A single writer goroutine owns stream.Send; producers never block

package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/lightningrodlabs/moss-sub000/internal/identity"
	"github.com/lightningrodlabs/moss-sub000/internal/relayrpc"
)

// Connection represents a connected peer.
type Connection struct {
	AgentID     identity.AgentID
	Nickname    string
	InstanceID  string
	ConnectedAt time.Time

	out       chan *wrapperspb.BytesValue
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewConnection creates a Connection whose queue holds buffer frames.
func NewConnection(agentID identity.AgentID, nickname string, buffer int, logger *slog.Logger) *Connection {
	if buffer <= 0 {
		buffer = 1
	}
	return &Connection{
		AgentID:     agentID,
		Nickname:    nickname,
		InstanceID:  uuid.New().String(),
		ConnectedAt: time.Now(),
		out:         make(chan *wrapperspb.BytesValue, buffer),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Enqueue queues a frame for the writer. It reports false when the queue is
// full or the connection is closed; the frame is dropped in both cases.
func (c *Connection) Enqueue(msg *wrapperspb.BytesValue) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

// WriteLoop sends queued frames until the connection is closed, ctx ends, or
// a send fails.
func (c *Connection) WriteLoop(ctx context.Context, stream relayrpc.ConnectServer) error {
	for {
		select {
		case <-c.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.out:
			if err := stream.Send(msg); err != nil {
				c.logger.Debug("send to peer failed", "error", err)
				return err
			}
		}
	}
}

// Close stops the writer. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once Close has been called.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

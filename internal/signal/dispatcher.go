// ABOUTME: Single inbound dispatch point that routes signals to their owning component
// ABOUTME: Ping/Pong go to presence, every signal also reaches the messenger as peer contact

package signal

import (
	"context"
	"log/slog"
)

// PresenceHandler consumes presence gossip.
type PresenceHandler interface {
	HandlePing(ctx context.Context, env Envelope)
	HandlePong(ctx context.Context, env Envelope)
}

// MessageHandler consumes Msg/Ack and treats every other signal as contact
// from the sender.
type MessageHandler interface {
	HandleSignal(ctx context.Context, env Envelope)
}

// Dispatcher routes inbound envelopes by payload type.
type Dispatcher struct {
	presence PresenceHandler
	messages MessageHandler
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. Either handler may be nil.
func NewDispatcher(presence PresenceHandler, messages MessageHandler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		presence: presence,
		messages: messages,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch handles one inbound envelope to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) {
	if err := env.Payload.Validate(); err != nil {
		d.logger.Warn("dropping inbound signal", "from", env.From.String(), "error", err)
		return
	}

	switch env.Payload.Type {
	case TypePing:
		if d.presence != nil {
			d.presence.HandlePing(ctx, env)
		}
	case TypePong:
		if d.presence != nil {
			d.presence.HandlePong(ctx, env)
		}
	}

	// The messenger sees every variant so that any contact can trigger resends.
	if d.messages != nil {
		d.messages.HandleSignal(ctx, env)
	}
}

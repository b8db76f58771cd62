// ABOUTME: Wire payloads exchanged between peers over the best-effort signal channel
// ABOUTME: Defines Ping/Pong/Msg/Ack, the Envelope the transport delivers, and the Sender contract

package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lightningrodlabs/moss-sub000/internal/identity"
)

// ErrUnknownType is returned when a payload carries an unrecognised type tag.
var ErrUnknownType = errors.New("unknown signal type")

// Type tags a payload variant on the wire.
type Type string

const (
	TypePing Type = "Ping"
	TypePong Type = "Pong"
	TypeMsg  Type = "Msg"
	TypeAck  Type = "Ack"
)

// Payload is the tagged union sent inside a signal. Only the fields relevant
// to Type are populated.
type Payload struct {
	Type    Type   `json:"type"`
	Created int64  `json:"created"`
	Text    string `json:"text,omitempty"`

	// Status and TzUTCOffset are only carried by presence Ping/Pong.
	Status      string `json:"status,omitempty"`
	TzUTCOffset *int   `json:"tz_utc_offset,omitempty"`
}

// Ping builds a presence heartbeat.
func Ping(created int64, status string, tzUTCOffset *int) Payload {
	return Payload{Type: TypePing, Created: created, Status: status, TzUTCOffset: tzUTCOffset}
}

// Pong builds the reply to a Ping.
func Pong(created int64, status string, tzUTCOffset *int) Payload {
	return Payload{Type: TypePong, Created: created, Status: status, TzUTCOffset: tzUTCOffset}
}

// Msg builds a chat message.
func Msg(created int64, text string) Payload {
	return Payload{Type: TypeMsg, Created: created, Text: text}
}

// Ack acknowledges the Msg with the same created value.
func Ack(created int64) Payload {
	return Payload{Type: TypeAck, Created: created}
}

// Validate checks the type tag.
func (p Payload) Validate() error {
	switch p.Type {
	case TypePing, TypePong, TypeMsg, TypeAck:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, p.Type)
	}
}

// Encode serialises a payload for the transport.
func Encode(p Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return data, nil
}

// Decode parses a payload received from the transport.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decoding payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Envelope is an inbound signal as handed over by the transport. From is
// supplied by the transport, never by the payload.
type Envelope struct {
	From     identity.AgentID
	StreamID string
	Payload  Payload
	Received time.Time
}

// Sender is the one-way, fire-and-forget primitive offered by the transport.
// A nil error does not mean the signal was delivered.
type Sender interface {
	SendSignal(ctx context.Context, to []identity.AgentID, streamID string, p Payload) error
}

// NowMillis converts t to the millisecond timestamps used in payloads.
func NowMillis(t time.Time) int64 {
	return t.UnixMilli()
}

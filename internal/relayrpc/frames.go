// ABOUTME: JSON frames carried on the Connect stream and the roster encoding
// ABOUTME: The relay fills in From on inbound frames; peers never set it

package relayrpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/lightningrodlabs/moss-sub000/internal/identity"
)

// ErrBadFrame is returned for frames that fail to decode or validate.
var ErrBadFrame = errors.New("bad frame")

// FrameKind tags a relay-to-peer frame.
type FrameKind string

const (
	// FrameWelcome is the first frame on every stream.
	FrameWelcome FrameKind = "welcome"
	// FrameSignal carries a signal from another peer.
	FrameSignal FrameKind = "signal"
)

// OutboundFrame is sent by a peer: deliver Payload to every agent in To.
type OutboundFrame struct {
	To       []identity.AgentID `json:"to"`
	StreamID string             `json:"stream_id,omitempty"`
	Payload  json.RawMessage    `json:"payload"`
}

// InboundFrame is sent by the relay to a peer.
type InboundFrame struct {
	Kind FrameKind `json:"kind"`

	// Signal frames
	From     identity.AgentID `json:"from,omitempty"`
	StreamID string           `json:"stream_id,omitempty"`
	Payload  json.RawMessage  `json:"payload,omitempty"`

	// Welcome frames
	AgentID  identity.AgentID `json:"agent_id,omitempty"`
	ServerID string           `json:"server_id,omitempty"`
}

// EncodeFrame wraps a frame for the wire.
func EncodeFrame(v any) (*wrapperspb.BytesValue, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return wrapperspb.Bytes(data), nil
}

// DecodeOutbound parses and validates a peer frame.
func DecodeOutbound(msg *wrapperspb.BytesValue) (OutboundFrame, error) {
	var f OutboundFrame
	if err := json.Unmarshal(msg.GetValue(), &f); err != nil {
		return OutboundFrame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if len(f.To) == 0 {
		return OutboundFrame{}, fmt.Errorf("%w: no recipients", ErrBadFrame)
	}
	if len(f.Payload) == 0 {
		return OutboundFrame{}, fmt.Errorf("%w: empty payload", ErrBadFrame)
	}
	return f, nil
}

// DecodeInbound parses a relay frame.
func DecodeInbound(msg *wrapperspb.BytesValue) (InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(msg.GetValue(), &f); err != nil {
		return InboundFrame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	switch f.Kind {
	case FrameWelcome, FrameSignal:
		return f, nil
	default:
		return InboundFrame{}, fmt.Errorf("%w: unknown kind %q", ErrBadFrame, f.Kind)
	}
}

// Member is one roster entry.
type Member struct {
	AgentID  identity.AgentID `json:"agent_id"`
	Nickname string           `json:"nickname,omitempty"`
}

// MembersToList encodes a roster as a ListValue of structs.
func MembersToList(members []Member) (*structpb.ListValue, error) {
	values := make([]*structpb.Value, 0, len(members))
	for _, m := range members {
		s, err := structpb.NewStruct(map[string]any{
			"agent_id": m.AgentID.String(),
			"nickname": m.Nickname,
		})
		if err != nil {
			return nil, fmt.Errorf("encoding member: %w", err)
		}
		values = append(values, structpb.NewStructValue(s))
	}
	return &structpb.ListValue{Values: values}, nil
}

// MembersFromList decodes a roster produced by MembersToList.
func MembersFromList(list *structpb.ListValue) ([]Member, error) {
	members := make([]Member, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("member %d: not a struct", i)
		}
		id, err := identity.Parse(fields["agent_id"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		members = append(members, Member{
			AgentID:  id,
			Nickname: fields["nickname"].GetStringValue(),
		})
	}
	return members, nil
}

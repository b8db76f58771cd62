// ABOUTME: Tests for relay frame decoding and roster encoding
// ABOUTME: Checks the JSON shape on the wire and rejection of malformed frames

package relayrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/lightningrodlabs/moss-sub000/internal/identity"
)

var (
	alice = identity.FromBytes([]byte{0xa1, 0x1c, 0xe0})
	bob   = identity.FromBytes([]byte{0xb0, 0x0b})
)

func TestInboundFrame_WireShape(t *testing.T) {
	msg, err := EncodeFrame(InboundFrame{
		Kind:     FrameSignal,
		From:     alice,
		StreamID: "_all",
		Payload:  json.RawMessage(`{"type":"Ack","created":5}`),
	})
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"kind":"signal","from":"`+alice.String()+`","stream_id":"_all","payload":{"type":"Ack","created":5}}`,
		string(msg.GetValue()))
}

func TestDecodeOutbound(t *testing.T) {
	msg, err := EncodeFrame(OutboundFrame{To: []identity.AgentID{alice, bob}, Payload: json.RawMessage(`{"type":"Ping","created":1}`)})
	require.NoError(t, err)

	f, err := DecodeOutbound(msg)
	require.NoError(t, err)
	assert.Equal(t, []identity.AgentID{alice, bob}, f.To)
	assert.JSONEq(t, `{"type":"Ping","created":1}`, string(f.Payload))
}

func TestDecodeOutbound_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `nope`},
		{"no recipients", `{"to":[],"payload":{}}`},
		{"no payload", `{"to":["` + alice.String() + `"]}`},
		{"bad agent id", `{"to":["zzz"],"payload":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeOutbound(wrapperspb.Bytes([]byte(tt.raw)))
			assert.ErrorIs(t, err, ErrBadFrame)
		})
	}
}

func TestDecodeInbound_UnknownKind(t *testing.T) {
	_, err := DecodeInbound(wrapperspb.Bytes([]byte(`{"kind":"gossip"}`)))
	assert.ErrorIs(t, err, ErrBadFrame)

	f, err := DecodeInbound(wrapperspb.Bytes([]byte(`{"kind":"welcome","agent_id":"` + bob.String() + `","server_id":"s1"}`)))
	require.NoError(t, err)
	assert.Equal(t, bob, f.AgentID)
	assert.Equal(t, "s1", f.ServerID)
}

func TestMembersRoundTrip(t *testing.T) {
	in := []Member{{AgentID: alice, Nickname: "alice"}, {AgentID: bob}}

	list, err := MembersToList(in)
	require.NoError(t, err)
	out, err := MembersFromList(list)
	require.NoError(t, err)

	assert.Equal(t, in, out)
}

func TestMembersFromList_Rejects(t *testing.T) {
	_, err := MembersFromList(&structpb.ListValue{Values: []*structpb.Value{structpb.NewStringValue("x")}})
	assert.Error(t, err)

	s, _ := structpb.NewStruct(map[string]any{"agent_id": "bad"})
	_, err = MembersFromList(&structpb.ListValue{Values: []*structpb.Value{structpb.NewStructValue(s)}})
	assert.Error(t, err)
}

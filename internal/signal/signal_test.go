// ABOUTME: Tests for payload encoding and inbound dispatch routing
// ABOUTME: Verifies wire shapes and that every signal reaches the messenger

package signal

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightningrodlabs/moss-sub000/internal/identity"
)

func TestEncode_WireShapes(t *testing.T) {
	offset := -120
	cases := []struct {
		name    string
		payload Payload
		want    string
	}{
		{"msg", Msg(1000, "hello"), `{"type":"Msg","created":1000,"text":"hello"}`},
		{"ack", Ack(1000), `{"type":"Ack","created":1000}`},
		{"ping", Ping(5, "online", nil), `{"type":"Ping","created":5,"status":"online"}`},
		{"pong with tz", Pong(6, "inactive", &offset), `{"type":"Pong","created":6,"status":"inactive","tz_utc_offset":-120}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Encode(tc.payload)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(data))

			back, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tc.payload, back)
		})
	}
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"Nope","created":1}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Encode(Payload{Type: "Nope"})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.Error(t, err)
	var syntaxErr *json.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}

type recordingPresence struct {
	pings, pongs []Envelope
}

func (r *recordingPresence) HandlePing(_ context.Context, env Envelope) { r.pings = append(r.pings, env) }
func (r *recordingPresence) HandlePong(_ context.Context, env Envelope) { r.pongs = append(r.pongs, env) }

type recordingMessages struct {
	seen []Envelope
}

func (r *recordingMessages) HandleSignal(_ context.Context, env Envelope) {
	r.seen = append(r.seen, env)
}

func TestDispatcher_Routes(t *testing.T) {
	p := &recordingPresence{}
	m := &recordingMessages{}
	d := NewDispatcher(p, m, nil)
	from := identity.FromBytes([]byte{9, 9, 9})
	ctx := context.Background()

	d.Dispatch(ctx, Envelope{From: from, Payload: Ping(1, "online", nil)})
	d.Dispatch(ctx, Envelope{From: from, Payload: Pong(2, "online", nil)})
	d.Dispatch(ctx, Envelope{From: from, StreamID: "_all", Payload: Msg(3, "hi")})
	d.Dispatch(ctx, Envelope{From: from, StreamID: "_all", Payload: Ack(3)})

	assert.Len(t, p.pings, 1)
	assert.Len(t, p.pongs, 1)
	require.Len(t, m.seen, 4, "messenger must see every variant as contact")
	assert.Equal(t, TypePing, m.seen[0].Payload.Type)
	assert.Equal(t, TypeAck, m.seen[3].Payload.Type)
}

func TestDispatcher_DropsInvalid(t *testing.T) {
	p := &recordingPresence{}
	m := &recordingMessages{}
	d := NewDispatcher(p, m, nil)

	d.Dispatch(context.Background(), Envelope{Payload: Payload{Type: "Bogus"}})

	assert.Empty(t, p.pings)
	assert.Empty(t, m.seen)
}

func TestDispatcher_NilHandlers(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), Envelope{Payload: Ping(1, "online", nil)})
	})
}

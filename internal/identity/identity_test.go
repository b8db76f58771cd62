// ABOUTME: Tests for AgentID encoding, parsing, and byte sums
// ABOUTME: Covers text round trips, JSON map keys, and invalid input

package identity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RoundTrip(t *testing.T) {
	id := FromBytes([]byte{0x84, 0x20, 0x24, 1, 2, 3, 250})

	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Equal(t, "u", id.String()[:1])
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "u", "xAAAA", "u!!!"} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidAgentID, "input %q", in)
	}
}

func TestByteSum(t *testing.T) {
	assert.Equal(t, 0, AgentID("").ByteSum())
	assert.Equal(t, 6, FromBytes([]byte{1, 2, 3}).ByteSum())
	assert.Equal(t, 510, FromBytes([]byte{255, 255}).ByteSum())
}

func TestShort(t *testing.T) {
	id := FromBytes([]byte("a fairly long agent key"))
	assert.Len(t, id.Short(), 8)
	assert.Equal(t, id.String()[len(id.String())-8:], id.Short())
}

func TestJSON_MapKeys(t *testing.T) {
	a := FromBytes([]byte{1, 2, 3})
	b := FromBytes([]byte{4, 5, 6})
	in := map[AgentID]int{a: 1, b: 2}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out map[AgentID]int
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestGenerate(t *testing.T) {
	id, priv, err := Generate()
	require.NoError(t, err)
	assert.Len(t, id.Bytes(), 32)
	assert.NotNil(t, priv)
}

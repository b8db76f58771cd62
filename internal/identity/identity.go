// ABOUTME: Opaque peer identity used as a map key across presence and messaging
// ABOUTME: Holds raw key bytes and encodes them as "u"-prefixed unpadded base64url text

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAgentID is returned when a textual agent id cannot be decoded.
var ErrInvalidAgentID = errors.New("invalid agent id")

// textPrefix marks the multibase-style encoding used on the wire and in config files.
const textPrefix = "u"

// AgentID is the raw byte identity of a peer. It is a string so that it can be
// used directly as a map key; equality is byte-wise.
type AgentID string

// FromBytes wraps raw key bytes as an AgentID.
func FromBytes(b []byte) AgentID {
	return AgentID(b)
}

// Parse decodes the textual form produced by String.
func Parse(s string) (AgentID, error) {
	if !strings.HasPrefix(s, textPrefix) || len(s) == len(textPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAgentID, s)
	}
	raw, err := base64.RawURLEncoding.DecodeString(s[len(textPrefix):])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAgentID, err)
	}
	return AgentID(raw), nil
}

// MustParse is Parse for constants and tests. It panics on error.
func MustParse(s string) AgentID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Generate creates a fresh ed25519 keypair and returns its public key as an AgentID.
func Generate() (AgentID, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, fmt.Errorf("generating key: %w", err)
	}
	return AgentID(pub), priv, nil
}

// Bytes returns a copy of the raw identity bytes.
func (id AgentID) Bytes() []byte {
	return []byte(id)
}

// IsZero reports whether the id is empty.
func (id AgentID) IsZero() bool {
	return id == ""
}

// String returns the textual form of the id.
func (id AgentID) String() string {
	if id == "" {
		return ""
	}
	return textPrefix + base64.RawURLEncoding.EncodeToString([]byte(id))
}

// Short returns the last eight characters of the textual form, for display.
func (id AgentID) Short() string {
	s := id.String()
	if len(s) > 8 {
		return s[len(s)-8:]
	}
	return s
}

// ByteSum is the sum of the raw identity bytes. It is not a hash and is only
// used to break symmetry between pairs of peers.
func (id AgentID) ByteSum() int {
	sum := 0
	for i := 0; i < len(id); i++ {
		sum += int(id[i])
	}
	return sum
}

// MarshalText implements encoding.TextMarshaler.
func (id AgentID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *AgentID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = ""
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Strings converts ids to their textual form.
func Strings(ids []AgentID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

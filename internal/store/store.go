// ABOUTME: Store interface and data types for relay group membership
// ABOUTME: Members are recorded on first connect so offline peers stay in the roster

package store

import (
	"context"
	"errors"
	"time"

	"github.com/lightningrodlabs/moss-sub000/internal/identity"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Member is one agent that has joined the group through the relay.
type Member struct {
	AgentID       identity.AgentID
	Nickname      string
	FirstSeen     time.Time
	LastConnected time.Time
}

// Store defines the membership persistence the relay needs.
type Store interface {
	// UpsertMember records a connection. FirstSeen is kept from the first
	// call; Nickname is only overwritten when the new one is non-empty.
	UpsertMember(ctx context.Context, m *Member) error

	GetMember(ctx context.Context, id identity.AgentID) (*Member, error)

	// ListMembers returns every member ordered by first appearance.
	ListMembers(ctx context.Context) ([]*Member, error)

	Close() error
}

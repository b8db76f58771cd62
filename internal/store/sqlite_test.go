// ABOUTME: Tests for the SQLite membership store
// ABOUTME: Covers creation, upsert semantics, ordering, and not-found handling

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightningrodlabs/moss-sub000/internal/identity"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var (
	alice = identity.FromBytes([]byte("alice"))
	bob   = identity.FromBytes([]byte("bob"))
)

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "relay.db")

	s, err := NewSQLiteStore(dbPath, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	s, err := NewSQLiteStore(MemoryPath, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.UpsertMember(context.Background(), &Member{AgentID: alice}))
	members, err := s.ListMembers(context.Background())
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestUpsertMember_KeepsFirstSeenAndNickname(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.UpsertMember(ctx, &Member{AgentID: alice, Nickname: "alice", FirstSeen: first, LastConnected: first}))

	later := first.Add(time.Hour)
	require.NoError(t, s.UpsertMember(ctx, &Member{AgentID: alice, FirstSeen: later, LastConnected: later}))

	got, err := s.GetMember(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Nickname, "empty nickname does not overwrite")
	assert.True(t, got.FirstSeen.Equal(first))
	assert.True(t, got.LastConnected.Equal(later))

	require.NoError(t, s.UpsertMember(ctx, &Member{AgentID: alice, Nickname: "Alice B", LastConnected: later}))
	got, err = s.GetMember(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "Alice B", got.Nickname)
}

func TestListMembers_OrderedByFirstSeen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertMember(ctx, &Member{AgentID: bob, FirstSeen: base.Add(time.Minute)}))
	require.NoError(t, s.UpsertMember(ctx, &Member{AgentID: alice, FirstSeen: base}))

	members, err := s.ListMembers(ctx)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, alice, members[0].AgentID)
	assert.Equal(t, bob, members[1].AgentID)
}

func TestListMembers_Empty(t *testing.T) {
	s := newTestStore(t)

	members, err := s.ListMembers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestGetMember_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetMember(context.Background(), alice)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertMember_RejectsEmptyID(t *testing.T) {
	s := newTestStore(t)

	err := s.UpsertMember(context.Background(), &Member{})
	assert.ErrorIs(t, err, identity.ErrInvalidAgentID)
}

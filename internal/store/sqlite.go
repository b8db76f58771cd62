// ABOUTME: SQLite implementation of the membership Store using modernc.org/sqlite
// ABOUTME: Creates its schema on open; agent ids are stored in their text form

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lightningrodlabs/moss-sub000/internal/identity"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// timeFormat is fixed width so that text columns sort chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path != MemoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == MemoryPath {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS members (
			agent_id       TEXT PRIMARY KEY,
			nickname       TEXT NOT NULL DEFAULT '',
			first_seen     TEXT NOT NULL,
			last_connected TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_members_first_seen ON members(first_seen);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertMember inserts m or refreshes its last_connected and nickname.
func (s *SQLiteStore) UpsertMember(ctx context.Context, m *Member) error {
	if m.AgentID.IsZero() {
		return fmt.Errorf("upserting member: %w", identity.ErrInvalidAgentID)
	}

	now := time.Now().UTC()
	if m.FirstSeen.IsZero() {
		m.FirstSeen = now
	}
	if m.LastConnected.IsZero() {
		m.LastConnected = now
	}

	query := `
		INSERT INTO members (agent_id, nickname, first_seen, last_connected)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			nickname = CASE WHEN excluded.nickname != '' THEN excluded.nickname ELSE members.nickname END,
			last_connected = excluded.last_connected
	`
	_, err := s.db.ExecContext(ctx, query,
		m.AgentID.String(),
		m.Nickname,
		m.FirstSeen.UTC().Format(timeFormat),
		m.LastConnected.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upserting member: %w", err)
	}
	return nil
}

// GetMember returns one member or ErrNotFound.
func (s *SQLiteStore) GetMember(ctx context.Context, id identity.AgentID) (*Member, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, nickname, first_seen, last_connected
		FROM members WHERE agent_id = ?
	`, id.String())

	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting member: %w", err)
	}
	return m, nil
}

// ListMembers returns all members ordered by first appearance.
func (s *SQLiteStore) ListMembers(ctx context.Context) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, nickname, first_seen, last_connected
		FROM members ORDER BY first_seen ASC, agent_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating members: %w", err)
	}
	return members, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(sc scanner) (*Member, error) {
	var (
		agentStr, nickname          string
		firstSeenStr, lastConnected string
	)
	if err := sc.Scan(&agentStr, &nickname, &firstSeenStr, &lastConnected); err != nil {
		return nil, err
	}

	id, err := identity.Parse(agentStr)
	if err != nil {
		return nil, err
	}
	m := &Member{AgentID: id, Nickname: nickname}
	if m.FirstSeen, err = time.Parse(timeFormat, firstSeenStr); err != nil {
		return nil, fmt.Errorf("parsing first_seen: %w", err)
	}
	if m.LastConnected, err = time.Parse(timeFormat, lastConnected); err != nil {
		return nil, fmt.Errorf("parsing last_connected: %w", err)
	}
	return m, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Package store persists the relay's group membership in SQLite.
//
// Only the roster lives here. Signals are never stored: the relay forwards
// them to connected peers and forgets them.
package store

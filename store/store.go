// Package store persists the connection snapshot so a session can be resumed
// across restarts. One snapshot struct, one read, one write.
package store

import (
	"errors"

	"whatsapp-connector/types"
)

// ErrNoSnapshot means there is no valid session to restore.
var ErrNoSnapshot = errors.New("store: no snapshot")

// Store owns the persisted snapshot. Nothing else writes it.
type Store interface {
	// Load returns the persisted snapshot or ErrNoSnapshot.
	Load() (*types.Snapshot, error)
	// Save replaces the persisted snapshot atomically.
	Save(*types.Snapshot) error
	// Clear removes any persisted snapshot.
	Clear() error
}

package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"whatsapp-connector/types"
)

// FileStore keeps the snapshot in a single JSON file.
type FileStore struct {
	Path string
}

// NewFileStore creates a file-backed snapshot store.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Save persists the snapshot. The write goes through a temp file and rename
// so a crash never leaves a half-written snapshot.
func (s *FileStore) Save(snap *types.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

// Load retrieves the snapshot from the file.
func (s *FileStore) Load() (*types.Snapshot, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt snapshot is the same as no snapshot.
		return nil, ErrNoSnapshot
	}
	if snap.Status == "" {
		return nil, ErrNoSnapshot
	}
	return &snap, nil
}

// Clear removes the snapshot file.
func (s *FileStore) Clear() error {
	err := os.Remove(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

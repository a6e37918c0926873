package store

import (
	"database/sql"
	"errors"
	"time"

	"whatsapp-connector/types"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS connection_snapshots (
	user_id       TEXT PRIMARY KEY,
	instance_id   TEXT NOT NULL,
	status        TEXT NOT NULL,
	qr_image      TEXT NOT NULL DEFAULT '',
	pairing_code  TEXT NOT NULL DEFAULT '',
	qr_expires_at INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL
);`

// SQLiteStore keeps one snapshot row per user in a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	userID string
}

// OpenSQLite opens (and migrates) the snapshot database for a user.
func OpenSQLite(path, userID string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, userID: userID}, nil
}

// Save replaces the user's snapshot row.
func (s *SQLiteStore) Save(snap *types.Snapshot) error {
	var expires int64
	if !snap.QRExpiresAt.IsZero() {
		expires = snap.QRExpiresAt.UnixMilli()
	}
	_, err := s.db.Exec(`
		INSERT INTO connection_snapshots
			(user_id, instance_id, status, qr_image, pairing_code, qr_expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			instance_id   = excluded.instance_id,
			status        = excluded.status,
			qr_image      = excluded.qr_image,
			pairing_code  = excluded.pairing_code,
			qr_expires_at = excluded.qr_expires_at,
			updated_at    = excluded.updated_at
	`, s.userID, snap.InstanceID, string(snap.Status), snap.QRImage, snap.PairingCode,
		expires, time.Now().UnixMilli())
	return err
}

// Load retrieves the user's snapshot row.
func (s *SQLiteStore) Load() (*types.Snapshot, error) {
	var (
		snap    types.Snapshot
		status  string
		expires int64
	)
	err := s.db.QueryRow(`
		SELECT instance_id, status, qr_image, pairing_code, qr_expires_at
		FROM connection_snapshots WHERE user_id = ?
	`, s.userID).Scan(&snap.InstanceID, &status, &snap.QRImage, &snap.PairingCode, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}
	snap.UserID = s.userID
	snap.Status = types.Status(status)
	if expires > 0 {
		snap.QRExpiresAt = time.UnixMilli(expires)
	}
	if snap.Status == "" {
		return nil, ErrNoSnapshot
	}
	return &snap, nil
}

// Clear removes the user's snapshot row.
func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec(`DELETE FROM connection_snapshots WHERE user_id = ?`, s.userID)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

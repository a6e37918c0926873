package types

import "time"

// Status is the local connection status of the gateway instance.
type Status string

const (
	// StatusUnknown is the state before the first restore pass has run.
	StatusUnknown Status = "unknown"
	// StatusDisconnected means no instance is active for the user.
	StatusDisconnected Status = "disconnected"
	// StatusInitiating means a create-instance call is in flight.
	StatusInitiating Status = "initiating"
	// StatusQRReady means a QR image or pairing code is available for scanning.
	StatusQRReady Status = "qr_ready"
	// StatusAwaitingScan means the gateway is waiting for the device to scan.
	StatusAwaitingScan Status = "awaiting_scan"
	// StatusPendingScan means the user dismissed the modal while a scan was
	// still expected; the attempt is nominally alive.
	StatusPendingScan Status = "pending_scan"
	// StatusConnected means the gateway reports an open session.
	StatusConnected Status = "connected"
	// StatusError is a terminal failure of the current attempt.
	StatusError Status = "error"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no pairing attempt is in progress in this state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusConnected, StatusDisconnected, StatusError:
		return true
	default:
		return false
	}
}

// IsPairing reports whether a QR image or pairing code may be held in this
// state.
func (s Status) IsPairing() bool {
	switch s {
	case StatusQRReady, StatusAwaitingScan, StatusPendingScan:
		return true
	default:
		return false
	}
}

// InProgress reports whether a connection attempt is underway, meaning a
// client-side timeout should trigger remote cleanup.
func (s Status) InProgress() bool {
	return s == StatusInitiating || s.IsPairing()
}

// Snapshot is the persisted view of a connection session. It is always a
// subset of the in-memory state and is written as one unit.
type Snapshot struct {
	UserID      string    `json:"user_id"`
	InstanceID  string    `json:"instance_id"`
	Status      Status    `json:"status"`
	QRImage     string    `json:"qr_image,omitempty"`
	PairingCode string    `json:"pairing_code,omitempty"`
	QRExpiresAt time.Time `json:"qr_expires_at,omitempty"`
}

// HasQR reports whether the snapshot carries a pairing payload.
func (s *Snapshot) HasQR() bool {
	return s.QRImage != "" || s.PairingCode != ""
}

// StateUpdate is the full UI-visible state, published on every transition.
type StateUpdate struct {
	InstanceID   string    `json:"instance_id"`
	Status       Status    `json:"status"`
	QRImage      string    `json:"qr_image,omitempty"`
	PairingCode  string    `json:"pairing_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ModalVisible bool      `json:"modal_visible"`
	Busy         bool      `json:"busy"`
	At           time.Time `json:"at"`
}

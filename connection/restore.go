package connection

import (
	"errors"
	"time"

	"whatsapp-connector/store"
	"whatsapp-connector/types"
)

// Start installs the user identity and restores any persisted session. Call
// it once per user-identity change; an empty user id means logged out.
//
// A persisted connected session resumes health polling; a still-valid QR
// session resumes polling with its expiry re-armed at the remaining delta;
// anything expired, mismatched or absent resets to a clean disconnected
// state and purges the snapshot.
func (o *Orchestrator) Start(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	o.stopLoopsLocked()
	o.cancelTimersLocked()
	o.userID = userID
	o.invalidateAttemptLocked()

	if userID == "" {
		o.resetLocked()
		o.commitLocked()
		return
	}

	expected := InstanceIDFor(userID)
	snap, err := o.loadSnapshot()
	if snap == nil || snap.InstanceID != expected {
		if err != nil {
			o.log.Warn().Err(err).Msg("could not read persisted session")
		}
		o.resetLocked()
		o.commitLocked()
		return
	}

	switch {
	case snap.Status == types.StatusConnected:
		o.instanceID = expected
		o.status = types.StatusConnected
		o.qrImage = ""
		o.pairingCode = ""
		o.errorMessage = ""
		o.modalVisible = false
		o.qrExpiresAt = time.Time{}
		o.log.Info().Str("instance", expected).Msg("resuming connected session")
		o.commitLocked()
		o.startHealthLoopLocked(expected)

	case restorable(snap):
		remaining := time.Until(snap.QRExpiresAt)
		o.instanceID = expected
		o.status = snap.Status
		o.qrImage = snap.QRImage
		o.pairingCode = snap.PairingCode
		o.errorMessage = ""
		o.modalVisible = true
		o.qrExpiresAt = snap.QRExpiresAt
		o.armQRTimerLocked(remaining, expected)
		o.log.Info().Str("instance", expected).Dur("remaining", remaining).
			Msg("resuming pairing session")
		o.commitLocked()
		o.startQRLoopLocked(expected)

	default:
		o.resetLocked()
		o.commitLocked()
	}
}

func (o *Orchestrator) loadSnapshot() (*types.Snapshot, error) {
	if o.store == nil {
		return nil, nil
	}
	snap, err := o.store.Load()
	if err != nil {
		if errors.Is(err, store.ErrNoSnapshot) {
			return nil, nil
		}
		return nil, err
	}
	return snap, nil
}

// restorable reports whether a persisted pairing attempt is still worth
// resuming: a QR-phase (or errored-out) status whose expiry lies ahead.
func restorable(snap *types.Snapshot) bool {
	if !snap.Status.IsPairing() && snap.Status != types.StatusError {
		return false
	}
	return !snap.QRExpiresAt.IsZero() && snap.QRExpiresAt.After(time.Now())
}

// Package connection drives a messaging-gateway instance through its whole
// lifecycle: creation, QR pairing, connection confirmation, background health
// polling, timeout recovery and teardown. All failures are absorbed here and
// expressed through state; public methods never return errors to UI callers.
package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"whatsapp-connector/events"
	"whatsapp-connector/gateway"
	"whatsapp-connector/store"
	"whatsapp-connector/types"
	"whatsapp-connector/utils"

	"github.com/rs/zerolog"
)

// Gateway is the slice of the instance-management API the orchestrator needs.
// *gateway.Client satisfies it; tests plug in fakes.
type Gateway interface {
	CreateInstance(ctx context.Context, instanceID string) (*gateway.CreateResponse, error)
	QRStatus(ctx context.Context, instanceID string) (*gateway.QRStatusResponse, error)
	Status(ctx context.Context, instanceID string) (*gateway.StatusResponse, error)
	DeleteInstance(ctx context.Context, instanceID string) error
}

// Orchestrator owns the connection state for one user session. Construct one
// per user with New, call Start to restore any persisted session, and Close
// on teardown. It is safe for concurrent use.
type Orchestrator struct {
	cfg   Config
	gw    Gateway
	store store.Store
	bus   *events.Dispatcher
	log   zerolog.Logger

	mu           sync.Mutex
	userID       string
	instanceID   string
	status       types.Status
	qrImage      string
	pairingCode  string
	errorMessage string
	modalVisible bool
	busy         bool
	qrExpiresAt  time.Time

	// connecting guards against a status check racing a user-initiated
	// connect.
	connecting bool
	// attempt is bumped by every transition that supersedes an in-flight
	// connect, so its response can be recognized as stale. The instance id
	// alone cannot: it is deterministic per user, so disconnect-then-connect
	// reproduces it.
	attempt uint64

	connectTimer *time.Timer
	qrTimer      *time.Timer

	qrLoop     *loopHandle
	healthLoop *loopHandle

	cleanupMu sync.Mutex
	cleaning  map[string]bool

	closed bool
}

// New builds an orchestrator. The dispatcher may be nil if no one consumes
// state updates.
func New(cfg Config, gw Gateway, st store.Store, bus *events.Dispatcher, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		gw:       gw,
		store:    st,
		bus:      bus,
		log:      log.With().Str("component", "connection").Logger(),
		status:   types.StatusUnknown,
		cleaning: make(map[string]bool),
	}
}

// State returns the current UI-visible state.
func (o *Orchestrator) State() types.StateUpdate {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

// Connect starts a pairing attempt for the current user. Progress and failure
// both surface through state updates; the call itself never fails.
func (o *Orchestrator) Connect(ctx context.Context) {
	o.mu.Lock()
	if o.closed || o.connecting {
		o.mu.Unlock()
		return
	}
	if o.userID == "" {
		o.failLocked("no user session; sign in before connecting")
		o.mu.Unlock()
		return
	}

	utils.RecordConnectAttempt()
	id := InstanceIDFor(o.userID)
	o.attempt++
	gen := o.attempt
	o.connecting = true
	o.instanceID = id
	o.status = types.StatusInitiating
	o.busy = true
	o.modalVisible = true
	o.qrImage = ""
	o.pairingCode = ""
	o.errorMessage = ""
	o.qrExpiresAt = time.Time{}
	o.stopLoopsLocked()
	o.cancelTimersLocked()
	o.armConnectTimerLocked(o.cfg.ConnectWindow(), id)
	o.commitLocked()
	o.mu.Unlock()

	resp, err := o.gw.CreateInstance(ctx, id)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attempt != gen {
		// Superseded while the request was in flight. Whoever took over
		// owns the reentrancy flags now; touching them here would disarm
		// the guard protecting the new attempt.
		return
	}
	o.connecting = false
	o.busy = false

	if err != nil {
		utils.RecordGatewayError(classifyError(err))
		o.cancelTimersLocked()
		o.failLocked(messageOr(gatewayMessage(err), "could not reach the connection service"))
		return
	}

	switch {
	case resp.Instance != nil && gateway.IsConnectedState(resp.Instance.Status):
		// Session was already open on the gateway.
		o.becomeConnectedLocked()

	case resp.QRCode != nil && (resp.QRCode.Base64 != "" || resp.QRCode.Code != ""):
		o.adoptQRLocked(resp.QRCode.Base64, resp.QRCode.Code)
		o.commitLocked()
		o.startQRLoopLocked(id)

	case resp.Success:
		// Pending without an immediate code; polling will deliver it.
		o.status = types.StatusAwaitingScan
		o.commitLocked()
		o.startQRLoopLocked(id)

	default:
		o.cancelTimersLocked()
		o.failLocked(messageOr(resp.Message, "the connection service rejected the request"))
	}
}

// Disconnect tears the session down. Idempotent: with no active instance it
// only normalizes local state. An existing remote instance is deleted
// best-effort, awaited so the busy flag reflects it.
func (o *Orchestrator) Disconnect(ctx context.Context) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	id := o.instanceID
	o.invalidateAttemptLocked()
	o.stopLoopsLocked()
	o.cancelTimersLocked()
	o.resetLocked()
	o.busy = id != ""
	o.commitLocked()
	o.mu.Unlock()

	if id == "" {
		return
	}
	o.performCleanup(id, "disconnect")

	o.mu.Lock()
	o.busy = false
	o.publishLocked()
	o.mu.Unlock()
}

// CheckStatus queries the gateway once and reconciles local state. It is a
// no-op while a connect attempt is in flight.
func (o *Orchestrator) CheckStatus(ctx context.Context, showLoading bool) {
	o.mu.Lock()
	if o.closed || o.connecting {
		o.mu.Unlock()
		return
	}
	if o.userID == "" {
		o.stopLoopsLocked()
		o.cancelTimersLocked()
		o.resetLocked()
		o.commitLocked()
		o.mu.Unlock()
		return
	}
	id := o.instanceID
	if id == "" {
		id = InstanceIDFor(o.userID)
	}
	if showLoading {
		o.busy = true
		o.publishLocked()
	}
	o.mu.Unlock()

	resp, err := o.gw.Status(ctx, id)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.busy = false
	if o.closed || o.connecting {
		o.publishLocked()
		return
	}

	if err != nil {
		switch {
		case gateway.IsGone(err):
			// Instance vanished or is no longer ours.
			utils.RecordGatewayError("gone")
			o.stopLoopsLocked()
			o.cancelTimersLocked()
			o.resetLocked()
			o.commitLocked()
		case gateway.IsTransient(err):
			// Momentary blip: keep the current status, just surface it.
			utils.RecordGatewayError("transient")
			o.errorMessage = "connection service temporarily unavailable"
			o.publishLocked()
		default:
			utils.RecordGatewayError("other")
			o.stopLoopsLocked()
			o.cancelTimersLocked()
			o.failLocked(messageOr(gatewayMessage(err), "status check failed"))
		}
		return
	}

	state := resp.State()
	switch {
	case gateway.IsConnectedState(state):
		o.instanceID = id
		o.becomeConnectedLocked()
	case gateway.IsPendingState(state):
		o.instanceID = id
		o.status = types.StatusAwaitingScan
		if o.qrImage != "" || o.pairingCode != "" {
			o.modalVisible = true
		}
		o.errorMessage = ""
		o.commitLocked()
	case gateway.IsClosedState(state):
		o.stopLoopsLocked()
		o.cancelTimersLocked()
		o.resetLocked()
		o.commitLocked()
	default:
		o.log.Debug().Str("state", state).Msg("unrecognized gateway state, keeping local status")
		o.publishLocked()
	}
}

// CloseModal hides the connection modal. Dismissing while a scan is awaited
// marks the attempt pending instead of abandoning it.
func (o *Orchestrator) CloseModal() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if o.status == types.StatusAwaitingScan {
		o.status = types.StatusPendingScan
	}
	o.modalVisible = false
	o.commitLocked()
}

// SetError lets external callers surface an error and force the modal open.
func (o *Orchestrator) SetError(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.invalidateAttemptLocked()
	o.stopLoopsLocked()
	o.cancelTimersLocked()
	o.failLocked(message)
}

// Close cancels every timer and loop and persists the final snapshot. The
// remote instance is left alone; only Disconnect deletes it.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.invalidateAttemptLocked()
	o.stopLoopsLocked()
	o.cancelTimersLocked()
	o.persistLocked()
}

// --- internal state helpers (all require o.mu held) ---

func (o *Orchestrator) stateLocked() types.StateUpdate {
	return types.StateUpdate{
		InstanceID:   o.instanceID,
		Status:       o.status,
		QRImage:      o.qrImage,
		PairingCode:  o.pairingCode,
		ErrorMessage: o.errorMessage,
		ModalVisible: o.modalVisible,
		Busy:         o.busy,
		At:           time.Now(),
	}
}

// commitLocked persists the snapshot and publishes the new state.
func (o *Orchestrator) commitLocked() {
	o.persistLocked()
	o.publishLocked()
}

func (o *Orchestrator) persistLocked() {
	if o.store == nil {
		return
	}
	if o.instanceID == "" {
		if err := o.store.Clear(); err != nil {
			o.log.Warn().Err(err).Msg("failed to clear snapshot")
		}
		return
	}
	snap := &types.Snapshot{
		UserID:      o.userID,
		InstanceID:  o.instanceID,
		Status:      o.status,
		QRImage:     o.qrImage,
		PairingCode: o.pairingCode,
		QRExpiresAt: o.qrExpiresAt,
	}
	if err := o.store.Save(snap); err != nil {
		o.log.Warn().Err(err).Msg("failed to persist snapshot")
	}
}

func (o *Orchestrator) publishLocked() {
	if o.bus != nil {
		o.bus.Publish(o.stateLocked())
	}
}

// failLocked moves to the terminal error state with the modal open.
func (o *Orchestrator) failLocked(message string) {
	o.status = types.StatusError
	o.errorMessage = message
	o.modalVisible = true
	o.qrImage = ""
	o.pairingCode = ""
	o.qrExpiresAt = time.Time{}
	o.log.Warn().Str("error", message).Msg("connection attempt failed")
	o.commitLocked()
}

// invalidateAttemptLocked marks any in-flight connect response stale and
// releases the reentrancy flags that response would otherwise clear on
// return.
func (o *Orchestrator) invalidateAttemptLocked() {
	o.attempt++
	o.connecting = false
	o.busy = false
}

// resetLocked returns to a clean disconnected state. Loops and timers are the
// caller's responsibility.
func (o *Orchestrator) resetLocked() {
	o.status = types.StatusDisconnected
	o.instanceID = ""
	o.qrImage = ""
	o.pairingCode = ""
	o.errorMessage = ""
	o.modalVisible = false
	o.qrExpiresAt = time.Time{}
}

// becomeConnectedLocked finalizes a successful attempt and hands off to the
// background health loop.
func (o *Orchestrator) becomeConnectedLocked() {
	o.cancelTimersLocked()
	o.status = types.StatusConnected
	o.qrImage = ""
	o.pairingCode = ""
	o.errorMessage = ""
	o.modalVisible = false
	o.qrExpiresAt = time.Time{}
	utils.RecordConnected()
	o.log.Info().Str("instance", o.instanceID).Msg("connected")
	o.commitLocked()
	o.startHealthLoopLocked(o.instanceID)
}

// adoptQRLocked installs a fresh pairing payload and re-arms its expiry.
// Callers commit.
func (o *Orchestrator) adoptQRLocked(qrImage, pairingCode string) {
	o.status = types.StatusQRReady
	o.qrImage = qrImage
	o.pairingCode = pairingCode
	o.errorMessage = ""
	o.qrExpiresAt = time.Now().Add(o.cfg.QRValidity)
	o.armQRTimerLocked(o.cfg.QRValidity, o.instanceID)
	utils.RecordQRRefresh()
}

// --- timeout guards ---

func (o *Orchestrator) armConnectTimerLocked(d time.Duration, instanceID string) {
	if o.connectTimer != nil {
		o.connectTimer.Stop()
	}
	o.connectTimer = time.AfterFunc(d, func() {
		o.onTimeout(instanceID, "connection attempt took too long")
	})
}

func (o *Orchestrator) armQRTimerLocked(d time.Duration, instanceID string) {
	if o.qrTimer != nil {
		o.qrTimer.Stop()
	}
	o.qrTimer = time.AfterFunc(d, func() {
		o.onTimeout(instanceID, "QR code expired before it was scanned")
	})
}

func (o *Orchestrator) cancelTimersLocked() {
	if o.connectTimer != nil {
		o.connectTimer.Stop()
		o.connectTimer = nil
	}
	if o.qrTimer != nil {
		o.qrTimer.Stop()
		o.qrTimer = nil
	}
}

// onTimeout is the shared failure transition of both timeout guards.
func (o *Orchestrator) onTimeout(instanceID, message string) {
	o.mu.Lock()
	if o.closed || o.instanceID != instanceID || o.status.IsTerminal() {
		o.mu.Unlock()
		return
	}
	inProgress := o.status.InProgress()
	utils.RecordClientTimeout()
	o.invalidateAttemptLocked()
	o.stopLoopsLocked()
	o.cancelTimersLocked()
	o.failLocked(message)
	o.mu.Unlock()

	if inProgress {
		go o.performCleanup(instanceID, "timeout")
	}
}

// --- small helpers ---

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

func gatewayMessage(err error) string {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

func classifyError(err error) string {
	switch {
	case gateway.IsGone(err):
		return "gone"
	case gateway.IsTransient(err):
		return "transient"
	default:
		return "other"
	}
}

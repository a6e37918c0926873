package connection

import (
	"context"
	"time"

	"whatsapp-connector/gateway"
	"whatsapp-connector/types"
	"whatsapp-connector/utils"
)

// loopHandle identifies one polling loop instance. Ticks compare the handle
// against the orchestrator's current one, so a response arriving after the
// loop was replaced is never applied.
type loopHandle struct {
	stop       chan struct{}
	instanceID string
}

// stopLoopsLocked cancels whichever polling loop is active. At most one of
// the two loops runs at a time; every start goes through here first.
func (o *Orchestrator) stopLoopsLocked() {
	if o.qrLoop != nil {
		close(o.qrLoop.stop)
		o.qrLoop = nil
	}
	if o.healthLoop != nil {
		close(o.healthLoop.stop)
		o.healthLoop = nil
	}
}

func (o *Orchestrator) startQRLoopLocked(instanceID string) {
	o.stopLoopsLocked()
	h := &loopHandle{stop: make(chan struct{}), instanceID: instanceID}
	o.qrLoop = h
	go o.runQRLoop(h)
}

func (o *Orchestrator) startHealthLoopLocked(instanceID string) {
	o.stopLoopsLocked()
	h := &loopHandle{stop: make(chan struct{}), instanceID: instanceID}
	o.healthLoop = h
	go o.runHealthLoop(h)
}

// detachQRLoopLocked lets a tick retire its own loop.
func (o *Orchestrator) detachQRLoopLocked(h *loopHandle) {
	if o.qrLoop == h {
		close(h.stop)
		o.qrLoop = nil
	}
}

func (o *Orchestrator) detachHealthLoopLocked(h *loopHandle) {
	if o.healthLoop == h {
		close(h.stop)
		o.healthLoop = nil
	}
}

func (o *Orchestrator) runQRLoop(h *loopHandle) {
	ticker := time.NewTicker(o.cfg.QRPollInterval)
	defer ticker.Stop()

	maxTicks := o.cfg.MaxQRPolls()
	for tick := 1; ; tick++ {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if done := o.qrTick(h, tick, maxTicks); done {
				return
			}
		}
	}
}

// qrTick runs one iteration of the QR acquisition loop. Returns true when the
// loop must stop.
func (o *Orchestrator) qrTick(h *loopHandle, tick, maxTicks int) bool {
	o.mu.Lock()
	if o.closed || o.qrLoop != h {
		o.mu.Unlock()
		return true
	}
	if o.status == types.StatusConnected {
		o.detachQRLoopLocked(h)
		o.mu.Unlock()
		return true
	}
	if tick > maxTicks {
		utils.RecordClientTimeout()
		o.detachQRLoopLocked(h)
		o.cancelTimersLocked()
		o.failLocked("timed out waiting for the code to be scanned")
		o.mu.Unlock()
		go o.performCleanup(h.instanceID, "qr poll cap exceeded")
		return true
	}
	o.mu.Unlock()

	resp, err := o.gw.QRStatus(context.Background(), h.instanceID)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.qrLoop != h {
		return true
	}

	if err != nil {
		if gateway.IsGone(err) {
			utils.RecordGatewayError("gone")
			o.detachQRLoopLocked(h)
			o.cancelTimersLocked()
			o.failLocked("the connection session no longer exists")
			return true
		}
		if gateway.IsTransient(err) {
			// Gateway hiccup; the next tick retries.
			utils.RecordGatewayError("transient")
			o.errorMessage = "connection service temporarily unavailable"
			o.publishLocked()
			return false
		}
		// Network-level failure: stop polling rather than hammer a dead
		// network. The total-connection timer still bounds the attempt.
		utils.RecordGatewayError("other")
		o.log.Warn().Err(err).Msg("qr poll failed, stopping loop")
		o.detachQRLoopLocked(h)
		return true
	}

	switch {
	case gateway.IsConnectedState(resp.Status):
		o.detachQRLoopLocked(h)
		o.becomeConnectedLocked()
		return true

	case resp.HasQR():
		if resp.QRCodeBase64 != o.qrImage || resp.PairingCode != o.pairingCode {
			o.adoptQRLocked(resp.QRCodeBase64, resp.PairingCode)
		} else {
			o.status = types.StatusQRReady
			o.errorMessage = ""
		}
		o.commitLocked()
		return false

	case gateway.IsClosedState(resp.Status):
		// Gateway ended the attempt on its side.
		o.detachQRLoopLocked(h)
		o.cancelTimersLocked()
		if resp.Status == "error" || resp.Status == "failed" {
			o.failLocked(messageOr(resp.Message, "the connection attempt failed"))
		} else {
			o.resetLocked()
			o.commitLocked()
		}
		go o.performCleanup(h.instanceID, "gateway reported terminal state")
		return true

	default:
		// Intermediate state without a payload yet; keep polling.
		o.status = types.StatusAwaitingScan
		o.errorMessage = ""
		o.commitLocked()
		return false
	}
}

func (o *Orchestrator) runHealthLoop(h *loopHandle) {
	ticker := time.NewTicker(o.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if done := o.healthTick(h); done {
				return
			}
		}
	}
}

// healthTick re-verifies a connection believed alive. Returns true when the
// loop must stop.
func (o *Orchestrator) healthTick(h *loopHandle) bool {
	o.mu.Lock()
	if o.closed || o.healthLoop != h {
		o.mu.Unlock()
		return true
	}
	if o.userID == "" || o.status != types.StatusConnected || o.instanceID != h.instanceID {
		o.detachHealthLoopLocked(h)
		o.mu.Unlock()
		return true
	}
	o.mu.Unlock()

	utils.RecordHealthCheck()
	resp, err := o.gw.Status(context.Background(), h.instanceID)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.healthLoop != h {
		return true
	}

	if err != nil {
		if gateway.IsGone(err) {
			utils.RecordGatewayError("gone")
			o.detachHealthLoopLocked(h)
			o.resetLocked()
			o.commitLocked()
			return true
		}
		if gateway.IsTransient(err) {
			// Silent: the user is connected, a blip shouldn't alarm them.
			utils.RecordGatewayError("transient")
			return false
		}
		utils.RecordGatewayError("other")
		o.log.Warn().Err(err).Msg("health check failed, stopping loop")
		o.detachHealthLoopLocked(h)
		return true
	}

	if gateway.IsConnectedState(resp.State()) {
		if o.status != types.StatusConnected {
			// Reconcile a drifted local status.
			o.status = types.StatusConnected
			o.commitLocked()
		}
		return false
	}

	// The remote session dropped; demote and require a manual reconnect.
	o.log.Info().Str("instance", h.instanceID).Str("state", resp.State()).
		Msg("remote session dropped, demoting to disconnected")
	o.detachHealthLoopLocked(h)
	o.resetLocked()
	o.commitLocked()
	return true
}

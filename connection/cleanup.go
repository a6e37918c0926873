package connection

import (
	"context"

	"whatsapp-connector/gateway"
	"whatsapp-connector/utils"

	"github.com/cenkalti/backoff/v4"
)

// performCleanup deletes a remote instance, best-effort. Concurrent cleanups
// for the same instance collapse into one; different instances never block
// each other. Failures are logged, never surfaced: by the time cleanup runs,
// local state has already moved on.
func (o *Orchestrator) performCleanup(instanceID, reason string) {
	if instanceID == "" {
		return
	}

	o.cleanupMu.Lock()
	if o.cleaning[instanceID] {
		o.cleanupMu.Unlock()
		return
	}
	o.cleaning[instanceID] = true
	o.cleanupMu.Unlock()

	defer func() {
		o.cleanupMu.Lock()
		delete(o.cleaning, instanceID)
		o.cleanupMu.Unlock()
	}()

	utils.RecordCleanupCall()
	o.log.Debug().Str("instance", instanceID).Str("reason", reason).Msg("deleting remote instance")

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CleanupTimeout)
	defer cancel()

	err := utils.WithRetryContext(ctx, func() error {
		err := o.gw.DeleteInstance(ctx, instanceID)
		switch {
		case err == nil:
			return nil
		case gateway.IsGone(err):
			// Already deleted on the gateway side.
			return nil
		case gateway.IsTransient(err):
			return err
		default:
			return backoff.Permanent(err)
		}
	}, o.cfg.CleanupRetry)
	if err != nil {
		o.log.Warn().Err(err).Str("instance", instanceID).Str("reason", reason).
			Msg("remote instance cleanup failed")
	}
}

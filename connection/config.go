package connection

import (
	"regexp"
	"strings"
	"time"

	"whatsapp-connector/utils"
)

// Config holds the timing windows of the connection state machine. Tests
// shrink these to milliseconds.
type Config struct {
	// QRValidity is how long a pairing payload stays scannable.
	QRValidity time.Duration
	// ConnectMargin is added to QRValidity to bound a whole connect attempt.
	ConnectMargin time.Duration
	// QRPollInterval is the tick of the QR acquisition loop.
	QRPollInterval time.Duration
	// HealthInterval is the tick of the background health loop.
	HealthInterval time.Duration
	// CleanupTimeout bounds one best-effort remote delete, retries included.
	CleanupTimeout time.Duration
	// CleanupRetry tunes the delete retry backoff.
	CleanupRetry *utils.RetryConfig
}

// DefaultConfig returns the production timing windows.
func DefaultConfig() Config {
	return Config{
		QRValidity:     60 * time.Second,
		ConnectMargin:  5 * time.Second,
		QRPollInterval: 30 * time.Second,
		HealthInterval: 120 * time.Second,
		CleanupTimeout: 15 * time.Second,
		CleanupRetry: &utils.RetryConfig{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     3 * time.Second,
			MaxElapsedTime:  10 * time.Second,
		},
	}
}

// ConnectWindow is the total time a connect attempt may take before the
// total-connection timer fires.
func (c Config) ConnectWindow() time.Duration {
	return c.QRValidity + c.ConnectMargin
}

// MaxQRPolls caps QR loop iterations: the validity window in ticks plus a
// safety margin.
func (c Config) MaxQRPolls() int {
	if c.QRPollInterval <= 0 {
		return 1
	}
	return int(c.QRValidity/c.QRPollInterval) + 2
}

var instanceIDSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// InstanceIDFor derives the stable, namespaced instance id for a user. The id
// is never user-chosen; the same user always maps to the same instance.
func InstanceIDFor(userID string) string {
	id := instanceIDSanitizer.ReplaceAllString(strings.ToLower(userID), "-")
	return "wa-" + strings.Trim(id, "-")
}

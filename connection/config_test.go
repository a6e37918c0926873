package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectWindow(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 65*time.Second, cfg.ConnectWindow())
}

func TestMaxQRPolls(t *testing.T) {
	cfg := DefaultConfig()
	// 60s validity at 30s per poll, plus the safety margin.
	assert.Equal(t, 4, cfg.MaxQRPolls())

	cfg.QRPollInterval = 0
	assert.Equal(t, 1, cfg.MaxQRPolls())
}

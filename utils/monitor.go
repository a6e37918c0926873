package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection lifecycle counters, exported at /metrics by the dashboard.
var (
	connectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connection_connect_attempts_total",
		Help: "Total number of connect() invocations",
	})
	connectionsEstablished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connection_established_total",
		Help: "Total number of transitions into the connected state",
	})
	qrRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connection_qr_refreshes_total",
		Help: "Total number of new QR/pairing payloads received",
	})
	clientTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connection_client_timeouts_total",
		Help: "Client-side timeouts (QR expiry or total connect window)",
	})
	cleanupCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connection_cleanup_calls_total",
		Help: "Remote instance delete calls issued",
	})
	healthChecks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connection_health_checks_total",
		Help: "Background health loop ticks that queried the gateway",
	})
	gatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_gateway_errors_total",
		Help: "Gateway call failures by class",
	}, []string{"class"})
)

func RecordConnectAttempt() { connectAttempts.Inc() }
func RecordConnected()      { connectionsEstablished.Inc() }
func RecordQRRefresh()      { qrRefreshes.Inc() }
func RecordClientTimeout()  { clientTimeouts.Inc() }
func RecordCleanupCall()    { cleanupCalls.Inc() }
func RecordHealthCheck()    { healthChecks.Inc() }

// RecordGatewayError classifies a failed gateway call: "gone" (404/403),
// "transient" (5xx/timeout), or "other".
func RecordGatewayError(class string) {
	gatewayErrors.WithLabelValues(class).Inc()
}

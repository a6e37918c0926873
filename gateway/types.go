package gateway

import "strings"

// InstanceInfo is the nested instance object some gateway responses carry.
type InstanceInfo struct {
	InstanceID string `json:"instanceId,omitempty"`
	Status     string `json:"status,omitempty"`
	State      string `json:"state,omitempty"`
}

// QRCode is the pairing payload returned by the create endpoint.
type QRCode struct {
	Base64 string `json:"base64,omitempty"`
	Code   string `json:"code,omitempty"`
}

// CreateResponse is the body of POST /instance/create.
type CreateResponse struct {
	Success  bool          `json:"success"`
	Instance *InstanceInfo `json:"instance,omitempty"`
	QRCode   *QRCode       `json:"qrcode,omitempty"`
	Status   string        `json:"status,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// QRStatusResponse is the body of GET /instance/connect/{id}.
type QRStatusResponse struct {
	Success      bool   `json:"success"`
	Status       string `json:"status,omitempty"`
	QRCodeBase64 string `json:"qrCodeBase64,omitempty"`
	PairingCode  string `json:"pairingCode,omitempty"`
	Message      string `json:"message,omitempty"`
}

// StatusResponse is the body of GET /instance/connectionState/{id}.
type StatusResponse struct {
	Instance         *InstanceInfo `json:"instance,omitempty"`
	Status           string        `json:"status,omitempty"`
	LastStatusReason string        `json:"lastStatusReason,omitempty"`
	Message          string        `json:"message,omitempty"`
}

// State returns the most specific gateway-side state in the response.
func (r *StatusResponse) State() string {
	if r.Instance != nil && r.Instance.State != "" {
		return r.Instance.State
	}
	return r.Status
}

// HasQR reports whether the poll response carries a pairing payload.
func (r *QRStatusResponse) HasQR() bool {
	return r.QRCodeBase64 != "" || r.PairingCode != ""
}

// IsConnectedState reports whether a gateway-side state string means the
// session is open. The gateway is inconsistent about spelling across
// endpoints and versions.
func IsConnectedState(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "connected", "conectado", "online":
		return true
	default:
		return false
	}
}

// IsPendingState reports whether a gateway-side state string means a pairing
// attempt is still in progress.
func IsPendingState(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "connecting", "pairing", "qr", "qrcode", "awaiting_scan", "pending":
		return true
	default:
		return false
	}
}

// IsClosedState reports whether a gateway-side state string is terminal for
// the attempt (session closed or errored on the gateway side).
func IsClosedState(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "close", "closed", "disconnected", "logout", "error", "failed":
		return true
	default:
		return false
	}
}

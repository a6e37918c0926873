package connection

import (
	"testing"
	"time"

	"whatsapp-connector/gateway"
	"whatsapp-connector/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartWithoutSnapshotIsClean(t *testing.T) {
	gw := &fakeGateway{}
	st := &memStore{}
	o := New(testConfig(), gw, st, nil, zerolog.Nop())
	defer o.Close()

	o.Start("user-1")

	state := o.State()
	assert.Equal(t, types.StatusDisconnected, state.Status)
	assert.Empty(t, state.InstanceID)
	assert.False(t, state.ModalVisible)
}

func TestStartWithEmptyUserResets(t *testing.T) {
	gw := &fakeGateway{}
	st := &memStore{snap: &types.Snapshot{
		UserID:     "user-1",
		InstanceID: "wa-user-1",
		Status:     types.StatusConnected,
	}}
	o := New(testConfig(), gw, st, nil, zerolog.Nop())
	defer o.Close()

	o.Start("")

	state := o.State()
	assert.Equal(t, types.StatusDisconnected, state.Status)
	assert.Empty(t, state.InstanceID)
}

func TestStartResumesConnectedSession(t *testing.T) {
	gw := &fakeGateway{
		statusFn: func(id string) (*gateway.StatusResponse, error) {
			return &gateway.StatusResponse{Instance: &gateway.InstanceInfo{State: "open"}}, nil
		},
	}
	st := &memStore{snap: &types.Snapshot{
		UserID:     "user-1",
		InstanceID: "wa-user-1",
		Status:     types.StatusConnected,
	}}
	o := New(testConfig(), gw, st, nil, zerolog.Nop())
	defer o.Close()

	o.Start("user-1")

	state := o.State()
	assert.Equal(t, types.StatusConnected, state.Status)
	assert.Equal(t, "wa-user-1", state.InstanceID)
	assert.False(t, state.ModalVisible)

	// Health polling resumed without a fresh connect.
	require.Eventually(t, func() bool {
		_, _, status, _ := gw.counts()
		return status > 0
	}, eventuallyTimeout, eventuallyTick)
	create, _, _, _ := gw.counts()
	assert.Zero(t, create)
}

func TestStartResumesPendingQRSession(t *testing.T) {
	gw := &fakeGateway{
		qrFn: func(id string) (*gateway.QRStatusResponse, error) {
			return &gateway.QRStatusResponse{Success: true, Status: "connecting", QRCodeBase64: "persisted"}, nil
		},
	}
	expiry := time.Now().Add(300 * time.Millisecond)
	st := &memStore{snap: &types.Snapshot{
		UserID:      "user-1",
		InstanceID:  "wa-user-1",
		Status:      types.StatusQRReady,
		QRImage:     "persisted",
		QRExpiresAt: expiry,
	}}
	cfg := testConfig()
	cfg.QRValidity = time.Minute // only the persisted expiry should bound this
	o := New(cfg, gw, st, nil, zerolog.Nop())
	defer o.Close()

	o.Start("user-1")

	state := o.State()
	assert.Equal(t, types.StatusQRReady, state.Status)
	assert.Equal(t, "persisted", state.QRImage)
	assert.True(t, state.ModalVisible, "modal reopens for an in-flight pairing")

	// Polling resumed.
	require.Eventually(t, func() bool {
		_, qr, _, _ := gw.counts()
		return qr > 0
	}, eventuallyTimeout, eventuallyTick)

	// The expiry timer fires at the remaining delta of the persisted expiry,
	// not a full fresh validity window.
	require.Eventually(t, func() bool {
		return o.State().Status == types.StatusError
	}, eventuallyTimeout, eventuallyTick)
	assert.True(t, time.Now().After(expiry))
}

func TestStartPurgesExpiredQRSession(t *testing.T) {
	gw := &fakeGateway{}
	st := &memStore{snap: &types.Snapshot{
		UserID:      "user-1",
		InstanceID:  "wa-user-1",
		Status:      types.StatusAwaitingScan,
		QRImage:     "stale",
		QRExpiresAt: time.Now().Add(-time.Minute),
	}}
	o := New(testConfig(), gw, st, nil, zerolog.Nop())
	defer o.Close()

	o.Start("user-1")

	state := o.State()
	assert.Equal(t, types.StatusDisconnected, state.Status)
	assert.Empty(t, state.QRImage)
	assert.Nil(t, st.get(), "expired snapshot must be purged")
}

func TestStartIgnoresForeignSnapshot(t *testing.T) {
	gw := &fakeGateway{}
	st := &memStore{snap: &types.Snapshot{
		UserID:     "someone-else",
		InstanceID: "wa-someone-else",
		Status:     types.StatusConnected,
	}}
	o := New(testConfig(), gw, st, nil, zerolog.Nop())
	defer o.Close()

	o.Start("user-1")

	state := o.State()
	assert.Equal(t, types.StatusDisconnected, state.Status)
	assert.Empty(t, state.InstanceID)
	_, _, status, _ := gw.counts()
	assert.Zero(t, status, "a foreign snapshot must not start any loop")
}

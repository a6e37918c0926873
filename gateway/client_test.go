package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateInstance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/instance/create", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "wa-user-1", body["instanceName"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"instance": {"instanceId": "abc", "status": "connecting"},
			"qrcode": {"base64": "data:image/png;base64,AAA", "code": "WXYZ-0000"}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zerolog.Nop())
	resp, err := c.CreateInstance(context.Background(), "wa-user-1")
	require.NoError(t, err)

	assert.True(t, resp.Success)
	require.NotNil(t, resp.Instance)
	assert.Equal(t, "connecting", resp.Instance.Status)
	require.NotNil(t, resp.QRCode)
	assert.Equal(t, "data:image/png;base64,AAA", resp.QRCode.Base64)
	assert.Equal(t, "WXYZ-0000", resp.QRCode.Code)
}

func TestQRStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/instance/connect/wa-user-1", r.URL.Path)
		w.Write([]byte(`{"success": true, "status": "connecting", "pairingCode": "ABCD-1234"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zerolog.Nop())
	resp, err := c.QRStatus(context.Background(), "wa-user-1")
	require.NoError(t, err)

	assert.True(t, resp.HasQR())
	assert.Equal(t, "ABCD-1234", resp.PairingCode)
	assert.Empty(t, resp.QRCodeBase64)
}

func TestStatusPrefersInstanceState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instance/connectionState/wa-user-1", r.URL.Path)
		w.Write([]byte(`{"status": "stale", "instance": {"state": "open"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zerolog.Nop())
	resp, err := c.Status(context.Background(), "wa-user-1")
	require.NoError(t, err)
	assert.Equal(t, "open", resp.State())
}

func TestStatusCacheShortCircuits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"status": "open"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zerolog.Nop(), WithStatusCache(4))

	for i := 0; i < 3; i++ {
		resp, err := c.Status(context.Background(), "wa-user-1")
		require.NoError(t, err)
		assert.Equal(t, "open", resp.State())
	}
	assert.Equal(t, int32(1), hits.Load())

	// Deleting the instance invalidates its cached status.
	require.NoError(t, c.DeleteInstance(context.Background(), "wa-user-1"))
	_, err := c.Status(context.Background(), "wa-user-1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load(), "delete plus refetch hit the server")
}

func TestDeleteInstance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/instance/delete/wa-user-1", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zerolog.Nop())
	assert.NoError(t, c.DeleteInstance(context.Background(), "wa-user-1"))
}

func TestCloseReleasesStatusCache(t *testing.T) {
	c := NewClient("http://gateway.invalid", "", zerolog.Nop(), WithStatusCache(4))
	c.Close()
	c.Close() // idempotent

	// Without a cache there is nothing to release.
	NewClient("http://gateway.invalid", "", zerolog.Nop()).Close()
}

func TestErrorResponseCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "instance does not exist"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zerolog.Nop())
	_, err := c.Status(context.Background(), "wa-gone")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "instance does not exist", apiErr.Message)
	assert.True(t, IsGone(err))
	assert.False(t, IsTransient(err))
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"message": "upstream timeout"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zerolog.Nop())
	_, err := c.QRStatus(context.Background(), "wa-user-1")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsGone(err))
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestStateClassifiers(t *testing.T) {
	assert.True(t, IsConnectedState("open"))
	assert.True(t, IsConnectedState(" Connected "))
	assert.False(t, IsConnectedState("connecting"))

	assert.True(t, IsPendingState("connecting"))
	assert.True(t, IsPendingState("QRCODE"))
	assert.False(t, IsPendingState("close"))

	assert.True(t, IsClosedState("close"))
	assert.True(t, IsClosedState("logout"))
	assert.False(t, IsClosedState("open"))
}

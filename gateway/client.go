// Package gateway is a client for the external messaging-instance service.
// The service owns the actual WhatsApp sessions; this module only drives its
// create / qr / status / delete endpoints.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"whatsapp-connector/cache"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 15 * time.Second
	statusCacheTTL   = 2 * time.Second
	defaultRateLimit = 5
	defaultBurst     = 5
)

// Client talks HTTP+JSON to the gateway.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	limiter     *rate.Limiter
	statusCache *cache.Cache
	log         zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRateLimit bounds outgoing requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithStatusCache serves repeated status queries for the same instance from a
// short-lived cache, shielding the gateway from bursts of UI-triggered checks.
func WithStatusCache(capacity int) Option {
	return func(c *Client) { c.statusCache = cache.New(capacity) }
}

// NewClient builds a gateway client for the given base URL and API key.
func NewClient(baseURL, apiKey string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		log:        log.With().Str("component", "gateway").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases client-held resources. With a status cache configured this
// stops its sweep goroutine; otherwise it is a no-op.
func (c *Client) Close() {
	if c.statusCache != nil {
		c.statusCache.Stop()
	}
}

// CreateInstance registers an instance on the gateway. The gateway may reply
// with an already-open session, a pairing payload, or a pending state.
func (c *Client) CreateInstance(ctx context.Context, instanceID string) (*CreateResponse, error) {
	body := map[string]string{"instanceName": instanceID}
	var out CreateResponse
	if err := c.do(ctx, http.MethodPost, "/instance/create", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QRStatus fetches the current pairing payload and transitional status.
func (c *Client) QRStatus(ctx context.Context, instanceID string) (*QRStatusResponse, error) {
	var out QRStatusResponse
	if err := c.do(ctx, http.MethodGet, "/instance/connect/"+instanceID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status queries the gateway-side connection state of an instance.
func (c *Client) Status(ctx context.Context, instanceID string) (*StatusResponse, error) {
	if c.statusCache != nil {
		if v, ok := c.statusCache.Get(instanceID); ok {
			return v.(*StatusResponse), nil
		}
	}
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/instance/connectionState/"+instanceID, nil, &out); err != nil {
		return nil, err
	}
	if c.statusCache != nil {
		c.statusCache.Set(instanceID, &out, statusCacheTTL)
	}
	return &out, nil
}

// DeleteInstance removes an instance from the gateway. Callers treat failures
// as best-effort.
func (c *Client) DeleteInstance(ctx context.Context, instanceID string) error {
	if c.statusCache != nil {
		c.statusCache.Remove(instanceID)
	}
	return c.do(ctx, http.MethodDelete, "/instance/delete/"+instanceID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("gateway request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: extractMessage(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	return nil
}

// extractMessage pulls a human-readable message out of an error body. The
// gateway is not consistent about the field name.
func extractMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

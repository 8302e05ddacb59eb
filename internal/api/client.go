// Package api provides the generic authorized HTTP gateway for the broker's
// trading endpoints. Order, book, and recovery components all go through a
// Client; only the historical synchronizer talks to its own host.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dartbot/internal/domain"
	"dartbot/internal/metrics"
)

const requestTimeout = 20 * time.Second

// AuthProvider supplies the authorization headers for every request. The
// session manager is the production implementation; tests substitute a stub.
type AuthProvider interface {
	AuthHeaders() (map[string]string, error)
}

// Client is the gateway to the broker's trading REST API. Auth headers are
// fetched from the provider immediately before each request, never cached,
// so a logout or re-login is observed on the next call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       AuthProvider
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// NewClient creates a gateway client rooted at baseURL. The metrics bundle
// may be nil.
func NewClient(baseURL string, auth AuthProvider, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		auth:       auth,
		metrics:    m,
		log:        logger.With("component", "gateway"),
	}
}

// Get issues an authorized GET and returns the raw response body. Absolute
// URLs are passed through untouched; relative paths are joined to the base.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	u := c.resolve(path)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &domain.TransportError{Op: "GET " + path, Err: err}
	}
	return c.do(req, "GET "+path)
}

// Post issues an authorized POST with a JSON body and returns the raw
// response body.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &domain.TransportError{Op: "POST " + path, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(path), bytes.NewReader(payload))
	if err != nil {
		return nil, &domain.TransportError{Op: "POST " + path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "POST "+path)
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) do(req *http.Request, op string) (json.RawMessage, error) {
	headers, err := c.auth.AuthHeaders()
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.GatewaySeconds.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("gateway request failed", "op", op, "status", resp.StatusCode)
		return nil, &domain.TransportError{Op: op, StatusCode: resp.StatusCode, Body: domain.Snippet(body)}
	}
	return body, nil
}

// Package apiclient implements the external API client: a circuit-broken,
// rate-limited HTTP wrapper around the third-party download service's
// torrent/queued-item endpoints.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"seedwatch/internal/metrics"
	"seedwatch/internal/model"
)

// Timeout is the fixed per-request timeout; the core never overrides it.
const Timeout = 30 * time.Second

// knownAuthCodes are the error codes the external API uses to signal an
// auth failure out-of-band from the HTTP status (on a 403).
var knownAuthCodes = map[string]bool{"AUTH_ERROR": true, "NO_AUTH": true, "BAD_TOKEN": true}

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIVersion string

	// RateLimit caps outbound requests/sec process-wide, across every
	// user's UserClient; Burst allows short bursts above that rate.
	RateLimit rate.Limit
	Burst     int
}

// Client is the process-wide external API client. It is safe for
// concurrent use by many UserClients.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	baseURL string
	version string

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker
}

// New returns a Client configured per cfg, defaulting RateLimit/Burst when
// unset.
func New(cfg Config) *Client {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	return &Client{
		http:     &http.Client{Timeout: Timeout},
		limiter:  rate.NewLimiter(cfg.RateLimit, cfg.Burst),
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		version:  cfg.APIVersion,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// ForUser returns a UserClient bound to one tenant's credentials, backed by
// a circuit breaker keyed per auth_id so one user's outage never trips the
// breaker for another.
func (c *Client) ForUser(authID, apiKey string) *UserClient {
	return &UserClient{client: c, authID: authID, apiKey: apiKey, breaker: c.breakerFor(authID)}
}

func (c *Client) breakerFor(authID string) *gobreaker.CircuitBreaker {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	if b, ok := c.breakers[authID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "apiclient-" + authID,
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("apiclient circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			metrics.APICircuitBreakerState.WithLabelValues(authID).Set(float64(breakerStateValue(to)))
			if to == gobreaker.StateOpen {
				metrics.APICircuitBreakerTrips.WithLabelValues(authID).Inc()
			}
		},
	})
	c.breakers[authID] = b
	return b
}

// breakerStateValue maps gobreaker's state to the metrics package's
// circuit-breaker state constants.
func breakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitBreakerOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitBreakerHalfOpen
	default:
		return metrics.CircuitBreakerClosed
	}
}

// UserClient is the per-tenant handle the poller and dispatcher use.
type UserClient struct {
	client  *Client
	authID  string
	apiKey  string
	breaker *gobreaker.CircuitBreaker
}

type itemsResponse struct {
	Success bool         `json:"success"`
	Data    []model.Item `json:"data"`
}

type apiErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

// GetItems fetches the user's full torrent inventory. On a transient
// failure it returns an empty slice and a nil error, matching the "list
// calls degrade to empty" recovery in the error handling design; an auth
// failure is returned as an *AuthError for the caller to act on.
func (u *UserClient) GetItems(ctx context.Context, bypassCache bool) ([]model.Item, error) {
	path := fmt.Sprintf("/api/torrents/mylist?bypass_cache=%t", bypassCache)
	items, err := u.getItemList(ctx, path)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		var transientErr *TransientError
		if errors.As(err, &transientErr) {
			return nil, nil
		}
		return nil, err
	}
	return items, nil
}

// GetQueuedItems fetches items sitting in the queued-items endpoint.
// Degrades the same way GetItems does.
func (u *UserClient) GetQueuedItems(ctx context.Context) ([]model.Item, error) {
	items, err := u.getItemList(ctx, "/api/queued/getqueued?type=torrent")
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		var transientErr *TransientError
		if errors.As(err, &transientErr) {
			return nil, nil
		}
		return nil, err
	}
	for i := range items {
		items[i].Queued = true
	}
	return items, nil
}

func (u *UserClient) getItemList(ctx context.Context, path string) ([]model.Item, error) {
	body, err := u.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var resp itemsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode item list: %w", err)
	}
	return resp.Data, nil
}

// ControlItem issues a torrent control operation (stop_seeding, force_start,
// delete, ...).
func (u *UserClient) ControlItem(ctx context.Context, itemID, operation string) error {
	payload, err := json.Marshal(map[string]string{"torrent_id": itemID, "operation": operation})
	if err != nil {
		return fmt.Errorf("encode control payload: %w", err)
	}
	_, err = u.do(ctx, http.MethodPost, "/api/torrents/controltorrent", payload)
	return err
}

// StopSeeding satisfies dispatch.APIClient.
func (u *UserClient) StopSeeding(ctx context.Context, itemID string) error {
	return u.ControlItem(ctx, itemID, "stop_seeding")
}

// ForceStart satisfies dispatch.APIClient.
func (u *UserClient) ForceStart(ctx context.Context, itemID string) error {
	return u.ControlItem(ctx, itemID, "force_start")
}

// DeleteItem satisfies dispatch.APIClient.
func (u *UserClient) DeleteItem(ctx context.Context, itemID string) error {
	return u.ControlItem(ctx, itemID, "delete")
}

// do executes one request behind the rate limiter and this user's circuit
// breaker, classifying the outcome per the error handling design.
func (u *UserClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if u.client.limiter.Tokens() < 1 {
		metrics.APIRateLimitWaits.Inc()
	}
	if err := u.client.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	result, err := u.breaker.Execute(func() (interface{}, error) {
		return u.doOnce(ctx, method, path, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &TransientError{Err: err}
		}
		return nil, err
	}
	return result.([]byte), nil
}

func (u *UserClient) doOnce(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	endpoint := endpointLabel(path)
	start := time.Now()
	defer func() {
		metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	reqURL, err := url.Parse(u.client.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("build request url: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+u.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if u.client.version != "" {
		req.Header.Set("X-Api-Version", u.client.version)
	}

	resp, err := u.client.http.Do(req)
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	metrics.APIRequestsTotal.WithLabelValues(endpoint, statusClass(resp.StatusCode)).Inc()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &AuthError{StatusCode: resp.StatusCode, Code: parseErrorCode(respBody), Err: fmt.Errorf("unauthorized")}

	case resp.StatusCode == http.StatusForbidden:
		code := parseErrorCode(respBody)
		if knownAuthCodes[code] {
			return nil, &AuthError{StatusCode: resp.StatusCode, Code: code, Err: fmt.Errorf("forbidden")}
		}
		return nil, fmt.Errorf("forbidden (status %d): %s", resp.StatusCode, string(respBody))

	case resp.StatusCode >= 500:
		return nil, &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("server error: %s", string(respBody))}

	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("client error (status %d): %s", resp.StatusCode, string(respBody))

	default:
		return respBody, nil
	}
}

// endpointLabel collapses a request path to a low-cardinality metrics label.
func endpointLabel(path string) string {
	switch {
	case strings.Contains(path, "mylist"):
		return "mylist"
	case strings.Contains(path, "getqueued"):
		return "getqueued"
	case strings.Contains(path, "controltorrent"):
		return "controltorrent"
	case strings.Contains(path, "controlqueued"):
		return "controlqueued"
	default:
		return "other"
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

func parseErrorCode(body []byte) string {
	var e apiErrorBody
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	if e.Error != "" {
		return strings.ToUpper(e.Error)
	}
	return strings.ToUpper(e.Detail)
}

// classifyTransportError maps a net/http transport-level failure to
// TransientError per the documented network error set.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Err: err}
	}
	msg := err.Error()
	for _, marker := range []string{"connection refused", "connection reset", "no such host", "i/o timeout", "dial tcp"} {
		if strings.Contains(msg, marker) {
			return &TransientError{Err: err}
		}
	}
	return err
}

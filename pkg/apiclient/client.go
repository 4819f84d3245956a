// Package apiclient is the HTTP transport for the inventory forecasting API.
//
// Every request passes through two interceptors:
//
//   - outbound: attaches "Authorization: Bearer <token>" when the session has
//     a token and "X-Company-ID: <id>" when a tenant is active;
//   - inbound: a 401 or 403 from any endpoint logs the session out and fires
//     the unauthenticated hook before the caller sees the error.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/inventoryctl/pkg/session"
)

const (
	// HeaderCompanyID carries the active tenant.
	HeaderCompanyID = "X-Company-ID"

	// HeaderRequestID correlates a request with client logs.
	HeaderRequestID = "X-Request-ID"

	// DefaultTimeout bounds a single request round trip.
	DefaultTimeout = 60 * time.Second

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 << 10
)

// UnauthenticatedFunc is invoked after a 401/403 has cleared the session.
// It is the "redirect to the entry point" hook.
type UnauthenticatedFunc func(ctx context.Context, statusCode int)

// Client calls the API on behalf of the session held in a session.Store.
//
// Client is safe for concurrent use.
type Client struct {
	baseURL           string
	store             *session.Store
	http              *http.Client
	limiter           *rate.Limiter
	logger            *zap.Logger
	userAgent         string
	onUnauthenticated UnauthenticatedFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit caps outbound requests per second across all callers sharing
// the client (for example many job pollers). rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = strings.TrimSpace(ua)
	}
}

// WithUnauthenticatedHandler registers the hook run after a 401/403.
func WithUnauthenticatedHandler(fn UnauthenticatedFunc) Option {
	return func(c *Client) {
		c.onUnauthenticated = fn
	}
}

// New creates a client for baseURL (e.g. http://localhost:8000). The store
// supplies credentials and tenant for every request and is logged out on
// 401/403.
func New(baseURL string, store *session.Store, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("api base url must be http(s): %q", baseURL)
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}

	c := &Client{
		baseURL: base,
		store:   store,
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the API root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Session returns the store the client authenticates with.
func (c *Client) Session() *session.Store {
	return c.store
}

type request struct {
	op          string
	method      string
	path        string
	body        io.Reader
	contentType string
}

func jsonRequest(op, method, path string, payload any) (request, error) {
	r := request{op: op, method: method, path: path}
	if payload == nil {
		return r, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return r, fmt.Errorf("%s: encode request: %w", op, err)
	}
	r.body = bytes.NewReader(b)
	r.contentType = "application/json"
	return r, nil
}

// do sends r and decodes a 2xx JSON body into out (when non-nil).
func (c *Client) do(ctx context.Context, r request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &APIError{Op: r.op, Detail: "request cancelled", Err: fmt.Errorf("%w: %w", ErrTransport, err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, r.body)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", r.op, err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	requestID := uuid.NewString()
	req.Header.Set(HeaderRequestID, requestID)
	c.applySession(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("API request failed",
			zap.String("op", r.op),
			zap.String("request_id", requestID),
			zap.Error(err))
		return &APIError{
			Op:     r.op,
			Detail: "could not reach the API",
			Err:    fmt.Errorf("%w: %w", ErrTransport, err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("API request",
		zap.String("op", r.op),
		zap.String("method", r.method),
		zap.String("path", r.path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return c.handleUnauthenticated(ctx, r.op, resp)
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		detail := parseDetail(body)
		if detail == "" {
			detail = genericDetail
		}
		return &APIError{
			Op:         r.op,
			StatusCode: resp.StatusCode,
			Detail:     detail,
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &APIError{
			Op:         r.op,
			StatusCode: resp.StatusCode,
			Detail:     "the API returned an unexpected response",
			Err:        fmt.Errorf("%w: %w", ErrDecode, err),
		}
	}
	return nil
}

// applySession is the outbound interceptor.
func (c *Client) applySession(req *http.Request) {
	if token := c.store.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id, ok := c.store.ActiveCompanyID(); ok {
		req.Header.Set(HeaderCompanyID, strconv.FormatInt(id, 10))
	}
}

// handleUnauthenticated is the inbound interceptor for 401/403: it always
// clears the session, regardless of which operation triggered it.
func (c *Client) handleUnauthenticated(ctx context.Context, op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := parseDetail(body)
	if detail == "" {
		detail = "authentication required"
	}

	c.logger.Info("Credential rejected; logging out",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode))

	// The logout must land even when the caller's context is already done.
	cleanup := context.WithoutCancel(ctx)
	c.store.Logout(cleanup)
	if c.onUnauthenticated != nil {
		c.onUnauthenticated(cleanup, resp.StatusCode)
	}

	return &APIError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Detail:     detail,
		Err:        ErrUnauthenticated,
	}
}

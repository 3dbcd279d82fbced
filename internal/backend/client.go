// Package backend speaks the sync API: JSON over HTTP with bearer
// auth, transparent token refresh, and client-side rate limiting. The
// server only ever receives ciphertext; nothing here encrypts or
// decrypts.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/yurug/maplume-sub000/internal/contracts"
)

var (
	ErrUnavailable    = errors.New("backend unavailable")
	ErrSessionExpired = errors.New("session expired")
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
)

// APIError carries a non-401 4xx response through the error chain.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api status %d", e.Status)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

const defaultProbeTimeout = 5 * time.Second

// Tokens is the bearer pair installed after login.
type Tokens struct {
	Access  string
	Refresh string
}

type Client struct {
	baseURL      string
	http         *http.Client
	limiter      *rate.Limiter
	logger       *slog.Logger
	probeTimeout time.Duration

	mu     sync.Mutex
	tokens Tokens

	refresh singleflight.Group

	// onSessionExpired runs once per failed refresh so the owning
	// service can drop its session state.
	onSessionExpired func()
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout caps each request round trip, probe excluded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit paces outbound requests. Zero or negative values leave
// the client unlimited.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithProbeTimeout(d time.Duration) Option {
	return func(c *Client) { c.probeTimeout = d }
}

func WithSessionExpiredHook(fn func()) Option {
	return func(c *Client) { c.onSessionExpired = fn }
}

// SetSessionExpiredHook replaces the expiry callback, for owners
// constructed after the client. Set it before traffic starts.
func (c *Client) SetSessionExpiredHook(fn func()) {
	c.mu.Lock()
	c.onSessionExpired = fn
	c.mu.Unlock()
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:         &http.Client{Timeout: 30 * time.Second},
		logger:       slog.Default(),
		probeTimeout: defaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTokens installs a session. Safe to call from the auth flow while
// requests are in flight.
func (c *Client) SetTokens(t Tokens) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = t
}

func (c *Client) ClearTokens() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = Tokens{}
}

func (c *Client) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens.Access != ""
}

func (c *Client) currentTokens() Tokens {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// doJSON runs one JSON request. Authenticated calls that bounce with
// 401 trigger a shared refresh and are replayed exactly once.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, authed bool) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return err
		}
	}

	status, raw, err := c.roundTrip(ctx, method, path, body, authed)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized && authed {
		if err := c.refreshAccessToken(ctx); err != nil {
			return err
		}
		status, raw, err = c.roundTrip(ctx, method, path, body, authed)
		if err != nil {
			return err
		}
	}
	if err := checkStatus(status, raw); err != nil {
		return err
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return contracts.WrapCategorizedError(contracts.ErrorCategoryAPI,
				fmt.Errorf("decode %s %s: %w", method, path, err))
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, authed bool) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if access := c.currentTokens().Access; access != "" {
			req.Header.Set("Authorization", "Bearer "+access)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, contracts.WrapCategorizedError(contracts.ErrorCategoryNetwork,
			fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, nil, contracts.WrapCategorizedError(contracts.ErrorCategoryNetwork,
			fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	return resp.StatusCode, raw, nil
}

func checkStatus(status int, raw []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return contracts.WrapCategorizedError(contracts.ErrorCategoryAPI, ErrNotFound)
	case status == http.StatusUnauthorized:
		return contracts.WrapCategorizedError(contracts.ErrorCategoryAPI, ErrUnauthorized)
	case status >= 500:
		return contracts.WrapCategorizedError(contracts.ErrorCategoryNetwork,
			fmt.Errorf("%w: status %d", ErrUnavailable, status))
	default:
		return contracts.WrapCategorizedError(contracts.ErrorCategoryAPI,
			&APIError{Status: status, Message: apiMessage(raw)})
	}
}

func apiMessage(raw []byte) string {
	var decoded struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ""
	}
	if decoded.Error != "" {
		return decoded.Error
	}
	return decoded.Message
}

// refreshAccessToken exchanges the refresh token for a new access
// token. Concurrent 401s collapse into one upstream call; every
// waiter observes the same outcome.
func (c *Client) refreshAccessToken(ctx context.Context) error {
	_, err, _ := c.refresh.Do("refresh", func() (any, error) {
		refresh := c.currentTokens().Refresh
		if refresh == "" {
			return nil, c.expireSession(nil)
		}

		body, err := json.Marshal(refreshRequest{RefreshToken: refresh})
		if err != nil {
			return nil, err
		}
		status, raw, err := c.roundTrip(ctx, http.MethodPost, "/api/auth/refresh", body, false)
		if err != nil {
			// Transport trouble is not a verdict on the session.
			return nil, err
		}
		if status == http.StatusUnauthorized || (status >= 400 && status < 500) {
			return nil, c.expireSession(nil)
		}
		if err := checkStatus(status, raw); err != nil {
			return nil, err
		}
		var resp refreshResponse
		if err := json.Unmarshal(raw, &resp); err != nil || resp.AccessToken == "" {
			return nil, c.expireSession(err)
		}

		c.mu.Lock()
		c.tokens.Access = resp.AccessToken
		c.mu.Unlock()
		c.logger.Debug("access token refreshed")
		return nil, nil
	})
	return err
}

func (c *Client) expireSession(cause error) error {
	c.ClearTokens()
	c.mu.Lock()
	hook := c.onSessionExpired
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	if cause != nil {
		c.logger.Warn("session expired", "error", cause)
	} else {
		c.logger.Warn("session expired")
	}
	return contracts.WrapCategorizedError(contracts.ErrorCategoryAPI, ErrSessionExpired)
}

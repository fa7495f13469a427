// Package client is a reference HTTP client for both sides of the handshake: the requester
// that shows a code and polls for its token, and the approver that allows the code.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	headerLoginCode   = "x-login-code"
	headerFingerprint = "x-fingerprint"
	userAgent         = "codelink-client/1.0"
	maxErrorBody      = 4 << 10
)

// Errors matched with errors.Is against the error returned by any call.
var (
	// ErrInvalidInput is a 422: the code or fingerprint is missing or malformed.
	ErrInvalidInput = errors.New("invalid login code or fingerprint")
	// ErrNotFound is a 404: pending or unbound on redeem, unknown or expired on approve.
	ErrNotFound = errors.New("not found")
	// ErrConflict is a 409: the code was already approved.
	ErrConflict = errors.New("already approved")
	// ErrUnauthorized is a 401 from the protected endpoint.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnavailable is a 503 or 429: retry later.
	ErrUnavailable = errors.New("service unavailable")
)

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

// Unwrap maps the status to one of the package errors.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnprocessableEntity:
		return ErrInvalidInput
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return ErrUnavailable
	}
	return nil
}

// IssuedCode is the requester's half of the handshake.
type IssuedCode struct {
	LoginCode   string    `json:"loginCode"`
	Fingerprint string    `json:"fingerprint"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Data is the protected endpoint's response.
type Data struct {
	Data        string `json:"data"`
	Fingerprint string `json:"fingerprint"`
}

// AuditEntry is one row of a record's audit trail.
type AuditEntry struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Source    string          `json:"source"`
	RecordID  string          `json:"recordId"`
	Reason    string          `json:"reason,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Client talks to a codelink server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client for server (host:port or URL). A nil httpClient gets a 60s timeout,
// enough for a full long poll.
func New(server string, httpClient *http.Client) *Client {
	base := strings.TrimRight(server, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: base, http: httpClient}
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Issue asks for a new login code and fingerprint.
func (c *Client) Issue(ctx context.Context) (*IssuedCode, error) {
	var out IssuedCode
	if err := c.do(ctx, http.MethodGet, "/loginCode", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve allows loginCode from a trusted device.
func (c *Client) Approve(ctx context.Context, loginCode string) error {
	path := "/allowLoginCode?login-code=" + url.QueryEscape(loginCode)
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// Redeem asks once for the token. wait > 0 makes the server hold the request up to that long.
// ErrNotFound means not approved yet (or a wrong pair).
func (c *Client) Redeem(ctx context.Context, loginCode, fingerprint string, wait time.Duration) (string, error) {
	path := "/authenticationCode"
	if wait > 0 {
		path += "?wait=" + url.QueryEscape(wait.String())
	}
	var out struct {
		AuthenticationToken string `json:"authenticationToken"`
	}
	headers := http.Header{}
	headers.Set(headerLoginCode, loginCode)
	headers.Set(headerFingerprint, fingerprint)
	if err := c.do(ctx, http.MethodGet, path, headers, &out); err != nil {
		return "", err
	}
	return out.AuthenticationToken, nil
}

// Data calls the protected endpoint with token and fingerprint.
func (c *Client) Data(ctx context.Context, fingerprint, token string) (*Data, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	headers.Set(headerFingerprint, fingerprint)
	var out Data
	if err := c.do(ctx, http.MethodGet, "/data", headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Audit lists the newest audit entries of recordID using the operator token. limit 0 uses the
// server's cap.
func (c *Client) Audit(ctx context.Context, operatorToken, recordID string, limit int) ([]AuditEntry, error) {
	path := "/audit/" + url.PathEscape(recordID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+operatorToken)
	var out struct {
		Entries []AuditEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, path, headers, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// PollOptions bounds WaitForToken.
type PollOptions struct {
	// Interval is the pause between redeem attempts after a 404. Default 1s.
	Interval time.Duration
	// Wait is the server-side long-poll per attempt. Zero polls without holding.
	Wait time.Duration
	// MaxBackoff caps the pause after a 503, which doubles from Interval. Default 30s.
	MaxBackoff time.Duration
	// Timeout bounds the whole wait. Zero relies on ctx alone.
	Timeout time.Duration
}

// WaitForToken polls Redeem until it returns a token, ctx ends, or a non-retryable error occurs.
// A 404 keeps polling at Interval; a 503 or 429 backs off exponentially up to MaxBackoff,
// honoring Retry-After when larger.
func (c *Client) WaitForToken(ctx context.Context, loginCode, fingerprint string, opts PollOptions) (string, error) {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	backoff := opts.Interval
	for {
		token, err := c.Redeem(ctx, loginCode, fingerprint, opts.Wait)
		if err == nil {
			return token, nil
		}
		var pause time.Duration
		switch {
		case errors.Is(err, ErrNotFound):
			pause = opts.Interval
			backoff = opts.Interval
		case errors.Is(err, ErrUnavailable):
			pause = backoff
			var se *StatusError
			if errors.As(err, &se) && se.RetryAfter > pause {
				pause = se.RetryAfter
			}
			backoff = min(2*backoff, opts.MaxBackoff)
		default:
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", err
		}

		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, headers http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err == nil {
		se.Message = body.Error
	}
	if s := resp.Header.Get("Retry-After"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			se.RetryAfter = time.Duration(n) * time.Second
		}
	}
	return se
}

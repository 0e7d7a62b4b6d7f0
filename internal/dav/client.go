// Package dav is a thin WebDAV/CalDAV/CardDAV client: one verb per call,
// retry with backoff, and 207 multistatus parsing. The transport is an
// injected capability so nothing in here (or in the packages built on it)
// ever touches a real socket during tests.
package dav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/arkadianet/davgate/internal/metrics"
)

// Doer executes a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	// Username and Password enable HTTP Basic auth against the upstream.
	Username string
	Password string

	// TokenSource, when set, takes precedence over basic auth and stamps
	// OAuth2 bearer tokens onto every request.
	TokenSource oauth2.TokenSource

	// MaxRetries is the number of additional attempts after the first
	// request. Negative disables retries; zero means the default.
	MaxRetries int

	// Backoff is the base delay before the first retry; attempt n waits
	// Backoff << (n-1).
	Backoff time.Duration

	// Doer issues the requests. Defaults to an *http.Client with a
	// 30-second timeout.
	Doer Doer
}

const (
	defaultMaxRetries = 3
	defaultBackoff    = time.Second
	defaultTimeout    = 30 * time.Second
)

// Client issues DAV requests against a single base URL (one calendar, one
// address book, or one file root).
type Client struct {
	base string
	opts Options
}

// NewClient returns a client bound to baseURL.
func NewClient(baseURL string, opts Options) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("dav: base URL is required")
	}
	if opts.Doer == nil {
		opts.Doer = &http.Client{Timeout: defaultTimeout}
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	return &Client{base: baseURL, opts: opts}, nil
}

// JoinURL appends path to base with exactly one slash between them.
func JoinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// URL resolves path against the client's base URL.
func (c *Client) URL(path string) string { return JoinURL(c.base, path) }

// Response carries the status, headers, and fully-read body of an
// upstream reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Expect returns a *StatusError unless the status is one of codes. With no
// codes it accepts 200, 201, 204, and 207.
func (r *Response) Expect(codes ...int) error {
	if len(codes) == 0 {
		codes = []int{http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusMultiStatus}
	}
	for _, code := range codes {
		if r.StatusCode == code {
			return nil
		}
	}
	return &StatusError{Code: r.StatusCode, Body: string(r.Body)}
}

// retryStatus mirrors the retry-forcing status list the gateway has always
// used for flaky upstreams.
func retryStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do sends one request, retrying connection errors and retryable statuses
// with exponential backoff. Once the retry budget is spent a still-retryable
// status comes back as an error wrapping the last *StatusError rather than
// as a Response. The reply body is fully read before returning so callers
// never manage the connection.
func (c *Client) Do(ctx context.Context, method, path string, header http.Header, body []byte) (*Response, error) {
	url := c.URL(path)
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.opts.Backoff<<(attempt-1)); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("dav: build %s %s: %w", method, url, err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if err := c.authorize(req); err != nil {
			return nil, err
		}

		resp, err := c.opts.Doer.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if retryStatus(resp.StatusCode) {
			lastErr = &StatusError{Code: resp.StatusCode, Body: string(data)}
			continue
		}

		metrics.ObserveUpstream(method, resp.StatusCode, start)
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
	}

	metrics.ObserveUpstream(method, 0, start)
	return nil, fmt.Errorf("dav: %s %s failed after %d attempts: %w", method, url, c.opts.MaxRetries+1, lastErr)
}

func (c *Client) authorize(req *http.Request) error {
	if c.opts.TokenSource != nil {
		tok, err := c.opts.TokenSource.Token()
		if err != nil {
			return fmt.Errorf("dav: fetch upstream token: %w", err)
		}
		tok.SetAuthHeader(req)
		return nil
	}
	if c.opts.Username != "" || c.opts.Password != "" {
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Propfind issues a PROPFIND at the given depth ("0" or "1") and parses
// the multistatus reply.
func (c *Client) Propfind(ctx context.Context, path, depth string, body []byte) (*Multistatus, error) {
	hdr := http.Header{
		"Depth":        {depth},
		"Content-Type": {"application/xml; charset=utf-8"},
	}
	resp, err := c.Do(ctx, "PROPFIND", path, hdr, body)
	if err != nil {
		return nil, err
	}
	if err := resp.Expect(http.StatusMultiStatus, http.StatusOK); err != nil {
		return nil, err
	}
	return ParseMultistatus(resp.Body)
}

// Report issues a Depth:1 REPORT (calendar-query, addressbook-query) and
// parses the multistatus reply.
func (c *Client) Report(ctx context.Context, path string, body []byte) (*Multistatus, error) {
	hdr := http.Header{
		"Depth":        {"1"},
		"Content-Type": {"application/xml; charset=utf-8"},
	}
	resp, err := c.Do(ctx, "REPORT", path, hdr, body)
	if err != nil {
		return nil, err
	}
	if err := resp.Expect(http.StatusMultiStatus, http.StatusOK); err != nil {
		return nil, err
	}
	return ParseMultistatus(resp.Body)
}

// Search issues an RFC 5323 SEARCH against the base URL and parses the
// multistatus reply. Servers without DASL support answer 405 or 501, which
// surfaces as a *StatusError.
func (c *Client) Search(ctx context.Context, body []byte) (*Multistatus, error) {
	hdr := http.Header{"Content-Type": {"text/xml"}}
	resp, err := c.Do(ctx, "SEARCH", "", hdr, body)
	if err != nil {
		return nil, err
	}
	if err := resp.Expect(http.StatusMultiStatus, http.StatusOK); err != nil {
		return nil, err
	}
	return ParseMultistatus(resp.Body)
}

// Get fetches a resource. Status checking is left to the caller since GET
// of a missing record is routine.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, nil)
}

// Put writes a resource.
func (c *Client) Put(ctx context.Context, path, contentType string, body []byte) error {
	hdr := http.Header{"Content-Type": {contentType}}
	resp, err := c.Do(ctx, http.MethodPut, path, hdr, body)
	if err != nil {
		return err
	}
	return resp.Expect(http.StatusOK, http.StatusCreated, http.StatusNoContent)
}

// Delete removes a resource.
func (c *Client) Delete(ctx context.Context, path string) error {
	resp, err := c.Do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}
	return resp.Expect(http.StatusOK, http.StatusCreated, http.StatusNoContent)
}

// Mkcol creates a collection.
func (c *Client) Mkcol(ctx context.Context, path string) error {
	resp, err := c.Do(ctx, "MKCOL", path, nil, nil)
	if err != nil {
		return err
	}
	return resp.Expect(http.StatusCreated)
}

// Copy duplicates src to dst. For collections the upstream default depth
// (infinity) applies, so directories copy recursively.
func (c *Client) Copy(ctx context.Context, src, dst string) error {
	return c.copyMove(ctx, "COPY", src, dst)
}

// Move relocates src to dst.
func (c *Client) Move(ctx context.Context, src, dst string) error {
	return c.copyMove(ctx, "MOVE", src, dst)
}

func (c *Client) copyMove(ctx context.Context, method, src, dst string) error {
	hdr := http.Header{"Destination": {c.URL(dst)}}
	resp, err := c.Do(ctx, method, src, hdr, nil)
	if err != nil {
		return err
	}
	return resp.Expect(http.StatusCreated, http.StatusNoContent)
}

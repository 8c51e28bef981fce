// Package transport performs HTTP requests against the search engine under a
// bounded retry policy.
//
// Faults are split into three families:
//   - connection faults (refused, reset, unreachable) are retried with a
//     fixed wait, up to Policy.MaxAttempts
//   - timeouts are fatal immediately
//   - non-2xx responses are fatal "operational" failures carrying the URL and
//     status code, never retried
//
// Every fatal failure is an *Error.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single request, body included.
const DefaultTimeout = 60 * time.Second

const maxErrorDetail = 256

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client performs requests under Policy.
type Client struct {
	HTTP    *http.Client
	Policy  Policy
	Sleeper Sleeper
	Logger  *slog.Logger
}

// NewClient returns a client whose transport skips TLS certificate
// verification; search clusters commonly run with self-signed certificates.
func NewClient(timeout time.Duration, policy Policy, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed clusters
	return &Client{
		HTTP:   &http.Client{Timeout: timeout, Transport: tr},
		Policy: policy,
		Logger: logger,
	}
}

// WithPolicy returns a shallow copy of c using p.
func (c *Client) WithPolicy(p Policy) *Client {
	cp := *c
	cp.Policy = p
	return &cp
}

// Perform sends method url with body and returns the read response. A
// non-nil error is always an *Error.
func (c *Client) Perform(ctx context.Context, method, url string, body []byte) (*Response, error) {
	logger := c.logger()
	target := method + " " + url

	out := Do(ctx, c.Policy, c.Sleeper, logger, target, func(ctx context.Context) (*Response, error) {
		return c.roundTrip(ctx, method, url, body)
	})
	if out.Err != nil {
		return nil, &Error{
			Kind:     out.Kind,
			Method:   method,
			URL:      url,
			Attempts: out.Attempts,
			Err:      out.Err,
		}
	}

	resp := out.Value
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Error("request failed", "target", target, "status", resp.StatusCode)
		return nil, &Error{
			Kind:       KindStatus,
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Detail:     detail(resp.Body),
			Attempts:   out.Attempts,
		}
	}
	return resp, nil
}

// Get is Perform with GET. The search engine accepts request bodies on GET.
func (c *Client) Get(ctx context.Context, url string, body []byte) (*Response, error) {
	return c.Perform(ctx, http.MethodGet, url, body)
}

func (c *Client) roundTrip(ctx context.Context, method, url string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func detail(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorDetail {
		s = s[:maxErrorDetail] + "..."
	}
	return s
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Kind classifies a failed request.
type Kind int

const (
	// KindOther covers failures that are neither timeouts nor connection
	// faults (malformed URL, cancelled context, TLS errors...). Never retried.
	KindOther Kind = iota

	// KindTimeout is a request that exceeded its deadline. Not assumed to be
	// transient: an oversized query times out on every attempt.
	KindTimeout

	// KindUnreachable is a refused, reset or unroutable connection.
	KindUnreachable

	// KindStatus is a response with a non-2xx status code.
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindUnreachable:
		return "unreachable"
	case KindStatus:
		return "status"
	default:
		return "other"
	}
}

// Error is the fatal failure surfaced by Client.Perform. Callers treat it as
// aborting the whole export, not just the current page.
type Error struct {
	Kind       Kind
	Method     string
	URL        string
	StatusCode int    // KindStatus only
	Detail     string // leading bytes of the response body, KindStatus only
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		if e.Detail != "" {
			return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Detail)
		}
		return fmt.Sprintf("%s %s returned %d", e.Method, e.URL, e.StatusCode)
	case KindUnreachable:
		return fmt.Sprintf("%s %s: cannot connect after %d attempts: %v", e.Method, e.URL, e.Attempts, e.Err)
	case KindTimeout:
		return fmt.Sprintf("%s %s: request timed out: %v", e.Method, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a transport timeout.
// Uses errors.As to handle wrapped errors.
func IsTimeout(err error) bool {
	return kindOf(err) == KindTimeout
}

// IsUnreachable reports whether err is a connection failure that outlasted
// the retry policy.
func IsUnreachable(err error) bool {
	return kindOf(err) == KindUnreachable
}

// StatusCode returns the HTTP status carried by an operational failure, or 0.
func StatusCode(err error) int {
	var te *Error
	if errors.As(err, &te) && te.Kind == KindStatus {
		return te.StatusCode
	}
	return 0
}

func kindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindOther
}

// Classify maps a raw request error onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}
	if errors.Is(err, context.Canceled) {
		return KindOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return KindUnreachable
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindUnreachable
	}
	return KindOther
}

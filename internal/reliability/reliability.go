// Package reliability classifies transient failures and computes backoff.
package reliability

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// IsRetryableHTTPStatus reports whether an upstream HTTP status is worth
// retrying. Server-side errors are transient; client errors never heal on
// their own, so 4xx (auth, malformed payload) fails immediately.
func IsRetryableHTTPStatus(code int) bool {
	return code >= 500 && code <= 599
}

// IsRetryableNetworkError reports whether err looks like a transient
// transport failure (timeout, refused or reset connection, DNS hiccup).
// Context cancellation is deliberate and never retried.
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// ExponentialBackoff computes the delay taken after the given attempt:
// 2^attempt * base, capped. With a one-second base, attempt 1 waits 2s,
// attempt 2 waits 4s.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if cap > 0 && d >= cap {
			return cap
		}
	}
	return d
}

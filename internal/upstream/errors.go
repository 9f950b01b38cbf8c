package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrExhausted wraps the last transient error once the retry budget
	// is spent.
	ErrExhausted = errors.New("upstream: retries exhausted")
	// ErrUnrecognizedShape means the provider answered 2xx but no known
	// response shape yielded reply text. Never retried: the transport
	// already succeeded.
	ErrUnrecognizedShape = errors.New("upstream: unrecognized response shape")
)

// StatusError is a non-2xx upstream response. Body is truncated diagnostic
// detail for logs; it must never reach end users verbatim.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

// Package storage provides keyed-blob persistence for conversation history.
// Backends are best-effort: callers are expected to treat failures as
// recoverable and never let a persistence error abort a request.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no blob exists under the requested key.
	ErrNotFound = errors.New("storage: key not found")
	// ErrCapacity is returned when a blob exceeds the backend's quota.
	// Callers degrade (shrink the payload) and retry rather than fail.
	ErrCapacity = errors.New("storage: capacity exceeded")
)

// Backend stores one blob per key.
type Backend interface {
	Save(ctx context.Context, key string, blob []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Close() error
}

package storage

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Backend used when SQLite cannot be opened and in
// tests. Contents do not survive a restart.
type Memory struct {
	mu    sync.Mutex
	blobs map[string][]byte
	quota int64
}

// NewMemory creates an empty in-memory backend. quota caps the size in bytes
// of any single stored blob; 0 disables the cap.
func NewMemory(quota int64) *Memory {
	return &Memory{blobs: make(map[string][]byte), quota: quota}
}

func (m *Memory) Save(_ context.Context, key string, blob []byte) error {
	if m.quota > 0 && int64(len(blob)) > m.quota {
		return fmt.Errorf("%w: %d bytes over %d quota", ErrCapacity, len(blob), m.quota)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(blob))
	copy(stored, blob)
	m.blobs[key] = stored
	return nil
}

func (m *Memory) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (m *Memory) Close() error { return nil }

// Package conversation holds the chat transcript: the Turn unit and the
// bounded, persisted History log that supplies trailing context windows.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/kkkrraamm/api-aldlma-ai/internal/logger"
	"github.com/kkkrraamm/api-aldlma-ai/internal/observability"
	"github.com/kkkrraamm/api-aldlma-ai/internal/storage"
)

// StorageKey is the fixed key the transcript blob is stored under.
const StorageKey = "dalma_chat"

// persistedTurn is the on-disk projection of a Turn. Images are stripped
// before persisting to contain storage size; they only matter in-flight.
type persistedTurn struct {
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"time"`
	Error     bool   `json:"error,omitempty"`
}

// History is an append-only log of turns. Mutation happens only through the
// orchestrator, but the lock keeps snapshots safe regardless of caller.
type History struct {
	mu      sync.Mutex
	turns   []Turn
	backend storage.Backend
	metrics *observability.Metrics
}

// NewHistory creates an empty history persisted through backend.
func NewHistory(backend storage.Backend, metrics *observability.Metrics) *History {
	return &History{backend: backend, metrics: metrics}
}

// Append adds a turn to the end of the log. Turn validity is the caller's
// responsibility (see NewTurn).
func (h *History) Append(t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, t)
}

// Seed replaces an empty log with turns in a single step and reports whether
// the seed was applied. A log that already has turns is left untouched, so
// concurrent seed attempts resolve to exactly one winner.
func (h *History) Seed(turns []Turn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.turns) > 0 || len(turns) == 0 {
		return false
	}
	h.turns = append([]Turn(nil), turns...)
	return true
}

// Len reports the number of turns in the log.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Trailing returns a snapshot of the last n turns in order, or the whole log
// when it is shorter than n.
func (h *History) Trailing(n int) []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n > len(h.turns) {
		n = len(h.turns)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Turn, n)
	copy(out, h.turns[len(h.turns)-n:])
	return out
}

// Persist writes the transcript (images stripped) to storage. Persistence is
// best-effort and never fails the caller: on a capacity error the oldest half
// of the log is discarded and the write retried exactly once; any remaining
// error is logged and swallowed.
func (h *History) Persist(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := h.save(ctx)
	if err == nil {
		return
	}
	if errors.Is(err, storage.ErrCapacity) {
		logger.L.Warn("history storage full; discarding oldest half and retrying", "turns", len(h.turns), "error", err)
		h.metrics.IncPersistDegrade()
		h.turns = h.turns[len(h.turns)/2:]
		err = h.save(ctx)
	}
	if err != nil {
		logger.L.Error("history persist failed; continuing without durable transcript", "error", err)
	}
}

func (h *History) save(ctx context.Context) error {
	stored := make([]persistedTurn, len(h.turns))
	for i, t := range h.turns {
		stored[i] = persistedTurn{Role: t.Role, Text: t.Text, Timestamp: t.Timestamp, Error: t.Error}
	}
	blob, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return h.backend.Save(ctx, StorageKey, blob)
}

// Load replaces the log with the persisted transcript. Absent or malformed
// storage yields an empty history, never an error.
func (h *History) Load(ctx context.Context) {
	blob, err := h.backend.Load(ctx, StorageKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.L.Warn("history load failed; starting empty", "error", err)
		}
		return
	}
	var stored []persistedTurn
	if err := json.Unmarshal(blob, &stored); err != nil {
		logger.L.Warn("history blob malformed; starting empty", "error", err)
		return
	}

	turns := make([]Turn, 0, len(stored))
	for _, p := range stored {
		if p.Text == "" {
			// Images never survive a save/reload cycle, so a persisted
			// images-only turn has nothing left to show.
			continue
		}
		turns = append(turns, Turn{
			ID:        uuid.NewString(),
			Role:      p.Role,
			Text:      p.Text,
			Timestamp: p.Timestamp,
			Error:     p.Error,
		})
	}

	h.mu.Lock()
	h.turns = turns
	h.mu.Unlock()
}

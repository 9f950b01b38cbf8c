package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kkkrraamm/api-aldlma-ai/internal/storage"
)

// flakyBackend fails Save with the configured errors in order, then
// succeeds; it records every call for assertions.
type flakyBackend struct {
	saveErrs  []error
	saveCalls int
	lastBlob  []byte
}

func (f *flakyBackend) Save(_ context.Context, _ string, blob []byte) error {
	f.saveCalls++
	if len(f.saveErrs) > 0 {
		err := f.saveErrs[0]
		f.saveErrs = f.saveErrs[1:]
		if err != nil {
			return err
		}
	}
	f.lastBlob = append([]byte(nil), blob...)
	return nil
}

func (f *flakyBackend) Load(_ context.Context, _ string) ([]byte, error) {
	if f.lastBlob == nil {
		return nil, storage.ErrNotFound
	}
	return f.lastBlob, nil
}

func (f *flakyBackend) Close() error { return nil }

func mustTurn(t *testing.T, role Role, text string, images []Image) Turn {
	t.Helper()
	turn, err := NewTurn(role, text, images)
	require.NoError(t, err)
	return turn
}

func TestNewTurn_Invariant(t *testing.T) {
	_, err := NewTurn(RoleUser, "", nil)
	require.ErrorIs(t, err, ErrEmptyTurn)

	turn := mustTurn(t, RoleUser, "", []Image{{MIME: "image/png", Data: []byte{1}}})
	require.Empty(t, turn.Text)
	require.Len(t, turn.Images, 1)
	require.NotEmpty(t, turn.ID)
	require.Positive(t, turn.Timestamp)
}

func TestTrailing_Bounds(t *testing.T) {
	h := NewHistory(storage.NewMemory(0), nil)
	for i := 0; i < 5; i++ {
		h.Append(mustTurn(t, RoleUser, fmt.Sprintf("m%d", i), nil))
	}

	last3 := h.Trailing(3)
	require.Len(t, last3, 3)
	require.Equal(t, "m2", last3[0].Text)
	require.Equal(t, "m4", last3[2].Text)

	all := h.Trailing(10)
	require.Len(t, all, 5)
	require.Equal(t, "m0", all[0].Text)

	require.Nil(t, h.Trailing(0))
}

func TestSeed_OnlyIntoEmptyLog(t *testing.T) {
	h := NewHistory(storage.NewMemory(0), nil)
	require.False(t, h.Seed(nil))

	seed := []Turn{mustTurn(t, RoleUser, "a", nil), mustTurn(t, RoleAssistant, "b", nil)}
	require.True(t, h.Seed(seed))
	require.Equal(t, 2, h.Len())

	require.False(t, h.Seed([]Turn{mustTurn(t, RoleUser, "late", nil)}))
	require.Equal(t, 2, h.Len())
	require.Equal(t, "a", h.Trailing(2)[0].Text)
}

func TestTrailing_SnapshotIsolated(t *testing.T) {
	h := NewHistory(storage.NewMemory(0), nil)
	h.Append(mustTurn(t, RoleUser, "a", nil))

	snap := h.Trailing(1)
	snap[0].Text = "mutated"
	require.Equal(t, "a", h.Trailing(1)[0].Text)
}

func TestPersist_StripsImages(t *testing.T) {
	backend := storage.NewMemory(0)
	h := NewHistory(backend, nil)
	h.Append(mustTurn(t, RoleUser, "look", []Image{{MIME: "image/png", Data: []byte{1, 2, 3}}}))
	h.Append(mustTurn(t, RoleAssistant, "a cat", nil))
	h.Persist(context.Background())

	blob, err := backend.Load(context.Background(), StorageKey)
	require.NoError(t, err)
	var stored []map[string]any
	require.NoError(t, json.Unmarshal(blob, &stored))
	require.Len(t, stored, 2)
	require.Equal(t, "look", stored[0]["text"])
	require.NotContains(t, stored[0], "images")

	// Reload into a fresh history: text, role and timestamp survive.
	h2 := NewHistory(backend, nil)
	h2.Load(context.Background())
	turns := h2.Trailing(10)
	require.Len(t, turns, 2)
	require.Equal(t, RoleUser, turns[0].Role)
	require.Equal(t, "look", turns[0].Text)
	require.Empty(t, turns[0].Images)
	require.Equal(t, RoleAssistant, turns[1].Role)
}

func TestPersist_CapacityDegrade(t *testing.T) {
	backend := &flakyBackend{saveErrs: []error{storage.ErrCapacity}}
	h := NewHistory(backend, nil)
	for i := 0; i < 100; i++ {
		h.Append(mustTurn(t, RoleUser, fmt.Sprintf("m%d", i), nil))
	}

	h.Persist(context.Background())

	// Exactly one retry after discarding the oldest half.
	require.Equal(t, 2, backend.saveCalls)
	require.Equal(t, 50, h.Len())
	require.Equal(t, "m50", h.Trailing(50)[0].Text)

	var stored []map[string]any
	require.NoError(t, json.Unmarshal(backend.lastBlob, &stored))
	require.Len(t, stored, 50)
}

func TestPersist_RetryAlsoFails(t *testing.T) {
	backend := &flakyBackend{saveErrs: []error{storage.ErrCapacity, storage.ErrCapacity}}
	h := NewHistory(backend, nil)
	for i := 0; i < 10; i++ {
		h.Append(mustTurn(t, RoleUser, fmt.Sprintf("m%d", i), nil))
	}

	// Swallowed: persistence is best-effort and must not panic or grow
	// the retry count past one.
	h.Persist(context.Background())
	require.Equal(t, 2, backend.saveCalls)
	require.Equal(t, 5, h.Len())
}

func TestLoad_AbsentOrMalformed(t *testing.T) {
	h := NewHistory(storage.NewMemory(0), nil)
	h.Load(context.Background())
	require.Zero(t, h.Len())

	backend := storage.NewMemory(0)
	require.NoError(t, backend.Save(context.Background(), StorageKey, []byte("{not json")))
	h2 := NewHistory(backend, nil)
	h2.Load(context.Background())
	require.Zero(t, h2.Len())
}

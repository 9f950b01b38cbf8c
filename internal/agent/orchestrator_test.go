package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kkkrraamm/api-aldlma-ai/internal/config"
	"github.com/kkkrraamm/api-aldlma-ai/internal/conversation"
	"github.com/kkkrraamm/api-aldlma-ai/internal/prompt"
	"github.com/kkkrraamm/api-aldlma-ai/internal/storage"
	"github.com/kkkrraamm/api-aldlma-ai/internal/upstream"
)

type senderFunc func(ctx context.Context, req prompt.Request) (string, error)

func (f senderFunc) Send(ctx context.Context, req prompt.Request) (string, error) {
	return f(ctx, req)
}

type fixture struct {
	orch    *Orchestrator
	history *conversation.History
	backend *storage.Memory
}

func newFixture(t *testing.T, sender Sender, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := &config.Config{
		LLM:     config.LLMConfig{APIKey: "sk-test", EnableFallback: false},
		History: config.HistoryConfig{Window: 10},
	}
	if mutate != nil {
		mutate(cfg)
	}
	backend := storage.NewMemory(0)
	history := conversation.NewHistory(backend, nil)
	orch := New(history, sender, prompt.NewBuilder(""), cfg, nil)
	return &fixture{orch: orch, history: history, backend: backend}
}

func persistedTurns(t *testing.T, backend *storage.Memory) []map[string]any {
	t.Helper()
	blob, err := backend.Load(context.Background(), conversation.StorageKey)
	require.NoError(t, err)
	var stored []map[string]any
	require.NoError(t, json.Unmarshal(blob, &stored))
	return stored
}

func TestSend_Success(t *testing.T) {
	var captured prompt.Request
	fx := newFixture(t, senderFunc(func(_ context.Context, req prompt.Request) (string, error) {
		captured = req
		return "hi there", nil
	}), nil)

	res, err := fx.orch.Send(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.Equal(t, "hi there", res.Reply)
	require.False(t, res.Fallback)

	// Empty history: the request carries exactly one current message.
	require.Len(t, captured.Messages, 1)
	require.Equal(t, "hello", captured.Messages[0].Text)
	require.Empty(t, captured.Messages[0].Images)

	turns := fx.history.Trailing(10)
	require.Len(t, turns, 2)
	require.Equal(t, conversation.RoleUser, turns[0].Role)
	require.Equal(t, "hello", turns[0].Text)
	require.Equal(t, conversation.RoleAssistant, turns[1].Role)
	require.Equal(t, "hi there", turns[1].Text)
	require.False(t, turns[1].Error)

	stored := persistedTurns(t, fx.backend)
	require.Len(t, stored, 2)
	require.NotContains(t, stored[0], "images")
}

func TestSend_EmptyInputRejected(t *testing.T) {
	called := false
	fx := newFixture(t, senderFunc(func(context.Context, prompt.Request) (string, error) {
		called = true
		return "", nil
	}), nil)

	_, err := fx.orch.Send(context.Background(), "", nil)
	require.ErrorIs(t, err, ErrEmptyInput)
	require.False(t, called, "no network call on validation failure")
	require.Zero(t, fx.history.Len())
}

func TestSend_FailureAppendsApologyTurn(t *testing.T) {
	upstreamErr := &upstream.StatusError{Code: 500, Body: "internal detail"}
	fx := newFixture(t, senderFunc(func(context.Context, prompt.Request) (string, error) {
		return "", upstreamErr
	}), nil)

	_, err := fx.orch.Send(context.Background(), "x", nil)
	require.Error(t, err)

	turns := fx.history.Trailing(10)
	require.Len(t, turns, 2)
	require.Equal(t, "x", turns[0].Text)
	require.Equal(t, conversation.RoleAssistant, turns[1].Role)
	require.Equal(t, ApologyText, turns[1].Text, "raw error detail never enters the transcript")
	require.True(t, turns[1].Error)

	// The failed cycle is persisted so it stays visible after reload.
	stored := persistedTurns(t, fx.backend)
	require.Len(t, stored, 2)
	require.Equal(t, ApologyText, stored[1]["text"])
}

func TestSend_FallbackOnUpstreamFailure(t *testing.T) {
	fx := newFixture(t, senderFunc(func(context.Context, prompt.Request) (string, error) {
		return "", &upstream.StatusError{Code: 503}
	}), func(cfg *config.Config) {
		cfg.LLM.EnableFallback = true
	})

	res, err := fx.orch.Send(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.True(t, res.Fallback)
	require.NotEmpty(t, res.Reply)

	turns := fx.history.Trailing(10)
	require.Len(t, turns, 2)
	require.Equal(t, res.Reply, turns[1].Text)
}

func TestSend_FallbackWithoutCredentialsSkipsUpstream(t *testing.T) {
	called := false
	fx := newFixture(t, senderFunc(func(context.Context, prompt.Request) (string, error) {
		called = true
		return "", nil
	}), func(cfg *config.Config) {
		cfg.LLM.APIKey = ""
		cfg.LLM.EnableFallback = true
	})

	res, err := fx.orch.Send(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.True(t, res.Fallback)
	require.False(t, called)
}

func TestSend_RejectsConcurrentSend(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fx := newFixture(t, senderFunc(func(context.Context, prompt.Request) (string, error) {
		close(started)
		<-release
		return "slow reply", nil
	}), nil)

	done := make(chan error, 1)
	go func() {
		_, err := fx.orch.Send(context.Background(), "first", nil)
		done <- err
	}()

	<-started
	_, err := fx.orch.Send(context.Background(), "second", nil)
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	// Only the first send's turns made it into the transcript.
	require.Equal(t, 2, fx.history.Len())
}

func TestSend_TrailingWindowExcludesCurrentMessage(t *testing.T) {
	var captured prompt.Request
	fx := newFixture(t, senderFunc(func(_ context.Context, req prompt.Request) (string, error) {
		captured = req
		return "ok", nil
	}), nil)

	seed, err := conversation.NewTurn(conversation.RoleUser, "earlier", nil)
	require.NoError(t, err)
	fx.history.Append(seed)

	_, err = fx.orch.Send(context.Background(), "now", nil)
	require.NoError(t, err)

	require.Len(t, captured.Messages, 2)
	require.Equal(t, "earlier", captured.Messages[0].Text)
	require.Equal(t, "now", captured.Messages[1].Text)
}

func TestSend_TimestampsNonDecreasing(t *testing.T) {
	fx := newFixture(t, senderFunc(func(context.Context, prompt.Request) (string, error) {
		time.Sleep(time.Millisecond)
		return "ok", nil
	}), nil)

	_, err := fx.orch.Send(context.Background(), "a", nil)
	require.NoError(t, err)
	turns := fx.history.Trailing(10)
	require.GreaterOrEqual(t, turns[1].Timestamp, turns[0].Timestamp)
}

func TestImportHistory(t *testing.T) {
	fx := newFixture(t, senderFunc(func(context.Context, prompt.Request) (string, error) {
		return "ok", nil
	}), nil)

	fx.orch.ImportHistory([]HistoryEntry{
		{Role: "user", Text: "q"},
		{Role: "bot", Text: "a"},
		{Role: "assistant", Text: ""},
	})
	turns := fx.history.Trailing(10)
	require.Len(t, turns, 2, "entries without text are skipped")
	require.Equal(t, conversation.RoleAssistant, turns[1].Role, "legacy bot role maps to assistant")

	// A non-empty transcript is authoritative; later imports are ignored.
	fx.orch.ImportHistory([]HistoryEntry{{Role: "user", Text: "other"}})
	require.Equal(t, 2, fx.history.Len())
}

func TestImportHistory_ConcurrentImportsSeedOnce(t *testing.T) {
	fx := newFixture(t, senderFunc(func(context.Context, prompt.Request) (string, error) {
		return "ok", nil
	}), nil)

	first := []HistoryEntry{
		{Role: "user", Text: "q1"},
		{Role: "bot", Text: "a1"},
		{Role: "user", Text: "q2"},
	}
	second := []HistoryEntry{
		{Role: "user", Text: "x1"},
		{Role: "bot", Text: "y1"},
		{Role: "user", Text: "x2"},
		{Role: "bot", Text: "y2"},
		{Role: "user", Text: "x3"},
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		fx.orch.ImportHistory(first)
	}()
	go func() {
		defer wg.Done()
		fx.orch.ImportHistory(second)
	}()
	wg.Wait()

	// One import wins wholesale; the batches never interleave.
	n := fx.history.Len()
	require.True(t, n == len(first) || n == len(second), "transcript holds %d turns, want one intact batch", n)
}

func TestSend_ErrorKindsDistinguished(t *testing.T) {
	exhausted := errors.New("wrapped")
	fx := newFixture(t, senderFunc(func(context.Context, prompt.Request) (string, error) {
		return "", exhausted
	}), nil)

	_, err := fx.orch.Send(context.Background(), "x", nil)
	require.ErrorIs(t, err, exhausted, "upstream error is propagated to the boundary")
	require.NotErrorIs(t, err, ErrEmptyInput)
	require.NotErrorIs(t, err, ErrBusy)
}

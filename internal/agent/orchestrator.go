// Package agent drives one message-send cycle end to end: validation,
// history bookkeeping, the upstream call, and reconciliation of the
// transcript after success or failure.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/kkkrraamm/api-aldlma-ai/internal/config"
	"github.com/kkkrraamm/api-aldlma-ai/internal/conversation"
	"github.com/kkkrraamm/api-aldlma-ai/internal/logger"
	"github.com/kkkrraamm/api-aldlma-ai/internal/observability"
	"github.com/kkkrraamm/api-aldlma-ai/internal/prompt"
)

// Send-cycle FSM states.
type SendState stateless.State

var (
	StateIdle       SendState = "Idle"
	StateValidating SendState = "Validating"
	StateSending    SendState = "Sending"
	StateSucceeded  SendState = "Succeeded"
	StateFailed     SendState = "Failed"
)

// Send-cycle FSM triggers.
type SendTrigger stateless.Trigger

var (
	TriggerSubmit        SendTrigger = "Submit"
	TriggerValidated     SendTrigger = "Validated"
	TriggerRejected      SendTrigger = "Rejected"
	TriggerSendSucceeded SendTrigger = "SendSucceeded"
	TriggerSendFailed    SendTrigger = "SendFailed"
	TriggerReset         SendTrigger = "Reset"
)

var (
	// ErrEmptyInput rejects a submit with no text and no images. No
	// network call is attempted.
	ErrEmptyInput = errors.New("agent: empty input")
	// ErrBusy rejects a submit while another send is in flight.
	ErrBusy = errors.New("agent: send already in flight")
)

// ApologyText is the fixed user-facing failure reply. Raw error detail is
// logged for operators and never shown to the user.
const ApologyText = "عذراً، حدث خطأ في الاتصال. يرجى المحاولة مرة أخرى."

// Sender performs the upstream call; *upstream.Client in production.
type Sender interface {
	Send(ctx context.Context, req prompt.Request) (string, error)
}

// Result is the outcome of one successful send cycle.
type Result struct {
	Reply string
	// Fallback marks a canned reply served in place of an upstream
	// completion (missing credentials or terminal upstream failure with
	// fallback enabled).
	Fallback bool
}

// HistoryEntry is an inbound client-supplied transcript line.
type HistoryEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Orchestrator owns the history store, the upstream sender and the single
// in-flight send lock. One instance is constructed at process start; there
// is no ambient global state.
type Orchestrator struct {
	history  *conversation.History
	sender   Sender
	builder  *prompt.Builder
	window   int
	fallback bool
	haveKey  bool
	metrics  *observability.Metrics
	inFlight atomic.Bool
}

// New wires an orchestrator from its collaborators.
func New(history *conversation.History, sender Sender, builder *prompt.Builder, cfg *config.Config, metrics *observability.Metrics) *Orchestrator {
	window := cfg.History.Window
	if window <= 0 {
		window = 10
	}
	return &Orchestrator{
		history:  history,
		sender:   sender,
		builder:  builder,
		window:   window,
		fallback: cfg.LLM.EnableFallback,
		haveKey:  cfg.LLM.APIKey != "",
		metrics:  metrics,
	}
}

// ImportHistory seeds the transcript from a client-supplied history when the
// server-side transcript is still empty; the whole batch lands atomically so
// concurrent imports cannot interleave. Turns without text are skipped; the
// legacy "bot" role maps to assistant.
func (o *Orchestrator) ImportHistory(entries []HistoryEntry) {
	turns := make([]conversation.Turn, 0, len(entries))
	for _, e := range entries {
		if e.Text == "" {
			continue
		}
		role := conversation.RoleUser
		if e.Role == "assistant" || e.Role == "bot" {
			role = conversation.RoleAssistant
		}
		turn, err := conversation.NewTurn(role, e.Text, nil)
		if err != nil {
			continue
		}
		turns = append(turns, turn)
	}
	o.history.Seed(turns)
}

// Send runs one full send cycle. Exactly one cycle may be in flight; a
// concurrent submit fails fast with ErrBusy.
func (o *Orchestrator) Send(ctx context.Context, text string, images []conversation.Image) (Result, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.metrics.IncChatRequest("busy")
		return Result{}, ErrBusy
	}
	defer o.inFlight.Store(false)

	start := time.Now()
	res, err := o.runCycle(ctx, text, images)
	o.metrics.ObserveSendDuration(time.Since(start))

	switch {
	case err == nil && res.Fallback:
		o.metrics.IncChatRequest("fallback")
	case err == nil:
		o.metrics.IncChatRequest("success")
	case errors.Is(err, ErrEmptyInput):
		o.metrics.IncChatRequest("validation_error")
	default:
		o.metrics.IncChatRequest("upstream_error")
	}
	return res, err
}

// runCycle drives the Idle → Validating → Sending → (Succeeded | Failed) →
// Idle state machine for a single submit.
func (o *Orchestrator) runCycle(ctx context.Context, text string, images []conversation.Image) (Result, error) {
	type cycleContext struct {
		request  prompt.Request
		reply    string
		fallback bool
		err      error
	}
	cc := &cycleContext{}

	fsm := stateless.NewStateMachine(StateIdle)

	fsm.Configure(StateIdle).
		Permit(TriggerSubmit, StateValidating)

	fsm.Configure(StateValidating).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if text == "" && len(images) == 0 {
				cc.err = ErrEmptyInput
				return fsm.FireCtx(ctx, TriggerRejected)
			}

			// Snapshot before appending so the current message is not
			// duplicated into the transport history.
			snapshot := o.history.Trailing(o.window)
			req, err := o.builder.Build(text, images, snapshot)
			if err != nil {
				cc.err = err
				return fsm.FireCtx(ctx, TriggerRejected)
			}
			cc.request = req

			userTurn, err := conversation.NewTurn(conversation.RoleUser, text, images)
			if err != nil {
				cc.err = err
				return fsm.FireCtx(ctx, TriggerRejected)
			}
			o.history.Append(userTurn)
			o.history.Persist(ctx)
			return fsm.FireCtx(ctx, TriggerValidated)
		}).
		Permit(TriggerRejected, StateIdle).
		Permit(TriggerValidated, StateSending)

	fsm.Configure(StateSending).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if o.fallback && !o.haveKey {
				logger.L.Warn("no upstream credentials configured; serving fallback reply")
				cc.reply = fallbackReply(text, len(images))
				cc.fallback = true
				return fsm.FireCtx(ctx, TriggerSendSucceeded)
			}

			reply, err := o.sender.Send(ctx, cc.request)
			if err == nil {
				cc.reply = reply
				return fsm.FireCtx(ctx, TriggerSendSucceeded)
			}
			logger.L.Error("send cycle failed upstream", "error", err)
			if o.fallback {
				cc.reply = fallbackReply(text, len(images))
				cc.fallback = true
				return fsm.FireCtx(ctx, TriggerSendSucceeded)
			}
			cc.err = err
			return fsm.FireCtx(ctx, TriggerSendFailed)
		}).
		Permit(TriggerSendSucceeded, StateSucceeded).
		Permit(TriggerSendFailed, StateFailed)

	fsm.Configure(StateSucceeded).
		OnEntry(func(ctx context.Context, _ ...any) error {
			turn, err := conversation.NewTurn(conversation.RoleAssistant, cc.reply, nil)
			if err != nil {
				cc.err = err
				return nil
			}
			o.history.Append(turn)
			o.history.Persist(ctx)
			return nil
		}).
		Permit(TriggerReset, StateIdle)

	fsm.Configure(StateFailed).
		OnEntry(func(ctx context.Context, _ ...any) error {
			// The failure stays visible in the transcript as a fixed
			// apology; the raw error was already logged.
			turn, err := conversation.NewTurn(conversation.RoleAssistant, ApologyText, nil)
			if err != nil {
				return nil
			}
			turn.Error = true
			o.history.Append(turn)
			o.history.Persist(ctx)
			return nil
		}).
		Permit(TriggerReset, StateIdle)

	if err := fsm.FireCtx(ctx, TriggerSubmit); err != nil {
		return Result{}, fmt.Errorf("send cycle state machine: %w", err)
	}

	state, err := fsm.State(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("send cycle state machine: %w", err)
	}
	if state == StateSucceeded || state == StateFailed {
		if err := fsm.FireCtx(ctx, TriggerReset); err != nil {
			logger.L.Warn("send cycle reset failed", "error", err)
		}
	}

	if cc.err != nil {
		return Result{}, cc.err
	}
	return Result{Reply: cc.reply, Fallback: cc.fallback}, nil
}

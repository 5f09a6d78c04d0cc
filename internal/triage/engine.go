package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ent0n29/safemind/internal/conversation"
	"github.com/ent0n29/safemind/internal/logging"
	"github.com/ent0n29/safemind/internal/observability"
	"github.com/ent0n29/safemind/internal/protocol"
	"github.com/ent0n29/safemind/internal/reasoning"
	"github.com/ent0n29/safemind/internal/reliability"
)

const DefaultTimeout = 30 * time.Second

var (
	ErrEmptyInput        = errors.New("message is empty")
	ErrBusy              = errors.New("a triage request is already in flight")
	ErrTriageUnavailable = errors.New("triage is unavailable")
	ErrClosed            = errors.New("triage engine closed")
)

type Options struct {
	Timeout           time.Duration
	SystemInstruction string
	Logger            *zap.Logger
	Metrics           *observability.Metrics
}

// Result is one completed exchange.
type Result struct {
	UserTurn      conversation.Turn
	AssistantTurn conversation.Turn
	Violations    []protocol.Violation
	Provider      string
	Latency       time.Duration
}

// Engine turns user messages into assistant turns with a triage action. It
// allows one outstanding request at a time and never retries on its own.
type Engine struct {
	adapter     reasoning.Adapter
	conv        *conversation.Context
	timeout     time.Duration
	instruction string
	logger      *zap.Logger
	metrics     *observability.Metrics

	flight *semaphore.Weighted

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	inFlight   bool
	closed     bool
}

func NewEngine(adapter reasoning.Adapter, conv *conversation.Context, opts Options) *Engine {
	if conv == nil {
		conv = conversation.NewContext(conversation.DefaultWindow)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SystemInstruction == "" {
		opts.SystemInstruction = reasoning.SystemInstruction
	}
	return &Engine{
		adapter:     adapter,
		conv:        conv,
		timeout:     opts.Timeout,
		instruction: opts.SystemInstruction,
		logger:      logging.OrNop(opts.Logger).With(zap.String("conversation_id", conv.ID())),
		metrics:     opts.Metrics,
		flight:      semaphore.NewWeighted(1),
	}
}

func (e *Engine) Conversation() *conversation.Context { return e.conv }

// Busy reports whether a request is outstanding.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// SubmitUserTurn appends the user turn, asks the reasoning service for a reply
// and appends the decoded assistant turn. On ErrBusy nothing is appended; on
// ErrTriageUnavailable or ErrClosed only the user turn remains.
func (e *Engine) SubmitUserTurn(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrEmptyInput
	}
	if !e.flight.TryAcquire(1) {
		e.metrics.ObserveTriage("busy", "", 0)
		return Result{}, ErrBusy
	}
	defer e.flight.Release(1)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Result{}, ErrClosed
	}
	gen := e.generation
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	e.cancel = cancel
	e.inFlight = true
	userTurn := e.conv.AppendUser(text)
	e.mu.Unlock()
	defer cancel()

	history := e.conv.WindowBefore(userTurn.Seq)
	started := time.Now()
	resp, err := e.adapter.Respond(callCtx, reasoning.Request{
		ConversationID:    e.conv.ID(),
		SystemInstruction: e.instruction,
		History:           history,
		InputText:         text,
	})
	latency := time.Since(started)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight = false
	e.cancel = nil
	if e.closed || gen != e.generation {
		e.logger.Debug("discarding stale triage response", zap.Int("turn_seq", userTurn.Seq))
		e.metrics.ObserveTriage("discarded", "", 0)
		return Result{}, ErrClosed
	}
	if err != nil {
		e.logger.Warn("triage request failed",
			zap.Int("turn_seq", userTurn.Seq),
			zap.String("provider", e.adapter.Name()),
			zap.Duration("latency", latency),
			zap.Bool("retryable", reliability.IsRetryableError(err)),
			zap.Error(err),
		)
		e.metrics.ObserveTriage("error", "", latency)
		e.metrics.ObserveProviderError(e.adapter.Name(), errorCode(err))
		return Result{UserTurn: userTurn}, fmt.Errorf("%w: %w", ErrTriageUnavailable, err)
	}

	decoded := protocol.DecodeReply(resp.Text)
	for _, v := range decoded.Violations {
		e.logger.Warn("reply broke marker grammar",
			zap.Int("turn_seq", userTurn.Seq),
			zap.String("kind", string(v.Kind)),
			zap.String("detail", v.Detail),
			zap.String("marker_version", protocol.MarkerVersion),
		)
		e.metrics.ObserveViolation(string(v.Kind))
	}

	assistant := e.conv.AppendAssistant(strings.TrimSpace(decoded.Text), decoded.Action, userTurn.Text)
	e.metrics.ObserveTriage("ok", string(decoded.Action), latency)
	e.logger.Info("triage completed",
		zap.Int("turn_seq", assistant.Seq),
		zap.String("action", string(decoded.Action)),
		zap.String("provider", resp.Provider),
		zap.Duration("latency", latency),
	)
	return Result{
		UserTurn:      userTurn,
		AssistantTurn: assistant,
		Violations:    decoded.Violations,
		Provider:      resp.Provider,
		Latency:       latency,
	}, nil
}

// CancelInFlight aborts the outstanding request, if any. Its response is
// discarded and the caller receives ErrClosed.
func (e *Engine) CancelInFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil {
		return false
	}
	e.generation++
	e.cancel()
	return true
}

// Close cancels any outstanding request and rejects new ones.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.generation++
	if e.cancel != nil {
		e.cancel()
	}
}

func errorCode(err error) string {
	var se *reasoning.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, reasoning.ErrEmptyReply):
		return "empty_reply"
	case errors.As(err, &se):
		return fmt.Sprintf("http_%d", se.Code)
	default:
		return "error"
	}
}

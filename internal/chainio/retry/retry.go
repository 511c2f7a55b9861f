// Package retry wraps every outbound call to the external ledger network
// with bounded retries, exponential backoff and a circuit-breaker style
// fallback mode.
//
// State machine: normal -> degraded(n) after consecutive network-unavailable
// failures -> fallback once the threshold is reached. In fallback, calls
// short-circuit without touching the network; submissions are queued with
// their already-signed payload. Any success in any state resets the counter
// and exits fallback.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	dErrors "karbon/pkg/domain-errors"
	"karbon/pkg/platform/sentinel"
)

// OperationKind separates calls that mutate chain state from plain reads.
type OperationKind string

const (
	// KindSubmission submits a signed transaction.
	KindSubmission OperationKind = "submission"
	// KindQuery reads chain state.
	KindQuery OperationKind = "query"
)

// Operation is one outbound chain call.
type Operation struct {
	Name     string
	Kind     OperationKind
	CreditID string
	// SignedPayload carries the signed bytes for submissions so fallback mode
	// can queue them without re-signing.
	SignedPayload []byte
	// Do performs the call and returns a result identifier (tx hash for
	// submissions).
	Do func(ctx context.Context) (string, error)
}

// State is the handler's circuit state.
type State string

const (
	StateNormal   State = "normal"
	StateDegraded State = "degraded"
	StateFallback State = "fallback"
)

// Config tunes the handler.
type Config struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	FallbackThreshold int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.FallbackThreshold <= 0 {
		c.FallbackThreshold = 3
	}
	return c
}

// Handler executes chain operations with retry and fallback discipline.
type Handler struct {
	cfg    Config
	queue  *Queue
	logger *slog.Logger

	mu          sync.Mutex
	consecutive int // consecutive network-unavailable failures
	fallback    bool

	rng *rand.Rand
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New constructs a Handler with its own manual-review queue.
func New(cfg Config, opts ...Option) *Handler {
	h := &Handler{
		cfg:    cfg.withDefaults(),
		queue:  NewQueue(),
		logger: slog.Default(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Queue exposes the manual-review queue for the admin surface.
func (h *Handler) Queue() *Queue { return h.queue }

// State returns the current circuit state and the degraded counter.
func (h *Handler) State() (State, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.fallback:
		return StateFallback, h.consecutive
	case h.consecutive > 0:
		return StateDegraded, h.consecutive
	default:
		return StateNormal, 0
	}
}

// Execute runs op with up to MaxAttempts attempts. Non-retryable errors
// propagate immediately. Exhausting all attempts queues the operation for
// manual review and returns a terminal error wrapping sentinel.ErrExhausted.
func (h *Handler) Execute(ctx context.Context, op Operation) (string, error) {
	if h.inFallback() {
		return "", h.shortCircuit(op)
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		result, err := op.Do(ctx)
		if err == nil {
			h.recordSuccess()
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			h.logger.Warn("chain operation failed permanently",
				"operation", op.Name, "credit_id", op.CreditID, "attempt", attempt, "error", err)
			return "", err
		}

		tripped := h.recordFailure(err)
		h.logger.Warn("chain operation failed, will retry",
			"operation", op.Name, "credit_id", op.CreditID, "attempt", attempt,
			"max_attempts", h.cfg.MaxAttempts, "error", err)

		if tripped {
			// The circuit opened under us; stop burning attempts.
			break
		}
		if attempt < h.cfg.MaxAttempts {
			if err := h.wait(ctx, attempt); err != nil {
				return "", err
			}
		}
	}

	entry := h.queue.enqueue(op, attempts, lastErr)
	h.logger.Error("chain operation exhausted retries, queued for manual review",
		"operation", op.Name, "credit_id", op.CreditID, "queue_id", entry.ID,
		"attempts", attempts, "error", lastErr)
	return "", dErrors.Wrap(
		fmt.Errorf("%w: %s after %d attempts: %v", sentinel.ErrExhausted, op.Name, attempts, lastErr),
		dErrors.CodeAnchorFailed,
		"chain operation exhausted retries",
	)
}

// RetryQueued re-runs a queued operation once. Success resolves the entry and
// resets the circuit; failure updates the entry in place.
func (h *Handler) RetryQueued(ctx context.Context, queueID string) (string, error) {
	h.queue.mu.RLock()
	target := h.queue.ops[queueID]
	h.queue.mu.RUnlock()
	if target == nil {
		return "", sentinel.ErrNotFound
	}
	if target.Status == QueueStatusResolved {
		return "", sentinel.ErrInvalidState
	}
	if target.run == nil {
		return "", dErrors.New(dErrors.CodeConflict, "queued operation is not replayable in this process")
	}

	result, err := target.run(ctx)
	if err != nil {
		h.queue.recordAttempt(queueID, err)
		if IsNetworkUnavailable(err) {
			h.recordFailure(err)
		}
		return "", dErrors.Wrap(err, dErrors.CodeAnchorFailed, "manual retry failed")
	}
	h.queue.markResolved(queueID)
	h.recordSuccess()
	return result, nil
}

func (h *Handler) inFallback() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fallback
}

func (h *Handler) shortCircuit(op Operation) error {
	if op.Kind == KindSubmission {
		entry := h.queue.enqueue(op, 0, fmt.Errorf("fallback mode: network presumed unavailable"))
		h.logger.Warn("fallback mode: submission queued without network contact",
			"operation", op.Name, "credit_id", op.CreditID, "queue_id", entry.ID)
	}
	return dErrors.Wrap(
		fmt.Errorf("%w: handler in fallback mode, skipping %s", sentinel.ErrUnavailable, op.Name),
		dErrors.CodeAnchorFailed,
		"chain handler in fallback mode",
	)
}

// recordFailure bumps the degraded counter for network-unavailable errors
// and reports whether the handler just entered fallback.
func (h *Handler) recordFailure(err error) bool {
	if !IsNetworkUnavailable(err) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutive++
	if !h.fallback && h.consecutive >= h.cfg.FallbackThreshold {
		h.fallback = true
		h.logger.Error("entering fallback mode after consecutive network failures",
			"failures", h.consecutive, "threshold", h.cfg.FallbackThreshold)
		return true
	}
	return h.fallback
}

func (h *Handler) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fallback {
		h.logger.Info("exiting fallback mode after successful chain call")
	}
	h.fallback = false
	h.consecutive = 0
}

// wait sleeps for the backoff delay of the given attempt, honoring ctx
// cancellation so shutdown does not hang on a pending retry.
func (h *Handler) wait(ctx context.Context, attempt int) error {
	delay := h.cfg.BaseDelay << (attempt - 1)
	if delay > h.cfg.MaxDelay {
		delay = h.cfg.MaxDelay
	}
	// Full jitter in [delay/2, delay) keeps concurrent retries from herding.
	h.mu.Lock()
	jittered := delay/2 + time.Duration(h.rng.Int63n(int64(delay/2)+1))
	h.mu.Unlock()

	timer := time.NewTimer(jittered)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

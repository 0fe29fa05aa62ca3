// Package resilience guards outbound calls with retries and per-endpoint
// circuit breakers.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrorClassification tells the executor how to treat a failed attempt.
type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// Call describes one guarded request.
type Call struct {
	Operation string
	// MaxAttempts overrides the retry policy. Use 1 for non-idempotent requests.
	MaxAttempts int
	Classify    ErrorClassifier
}

func (c Call) resolve(policy RetryPolicy) Call {
	c.Operation = strings.TrimSpace(c.Operation)
	if c.Operation == "" {
		c.Operation = "unknown"
	}
	if c.Classify == nil {
		c.Classify = recordOnly
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = policy.Attempts
	}
	return c
}

// Attempt is one try of a guarded call. attempt starts at 1.
type Attempt func(ctx context.Context, attempt int) error

type Executor struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		breakers: map[string]*gobreaker.CircuitBreaker[struct{}]{},
	}
}

var errNilAttempt = errors.New("resilience: nil attempt")

// Do runs fn through the operation's breaker. Retryable failures are tried
// again after the policy delay; the whole sequence counts once for the breaker.
func (e *Executor) Do(ctx context.Context, call Call, fn Attempt) error {
	if fn == nil {
		return errNilAttempt
	}
	call = call.resolve(e.cfg.Retry)
	if e.cfg.Breaker.Disabled {
		return e.attempts(ctx, call, fn)
	}

	_, err := e.breaker(call.Operation, call.Classify).Execute(func() (struct{}, error) {
		return struct{}{}, e.attempts(ctx, call, fn)
	})
	return err
}

// State reports the breaker state of an operation, or "closed" if it has not run yet.
func (e *Executor) State(operation string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok := e.breakers[operation]; ok {
		return cb.State().String()
	}
	return gobreaker.StateClosed.String()
}

func (e *Executor) attempts(ctx context.Context, call Call, fn Attempt) error {
	var err error
	for attempt := 1; attempt <= call.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if attempt == call.MaxAttempts || !call.Classify(err).Retryable {
			break
		}

		wait := e.cfg.Retry.Delay(attempt)
		e.logger.Warn("retry_attempt",
			"operation", call.Operation,
			"attempt", attempt,
			"max_attempts", call.MaxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
		if !sleep(ctx, wait) {
			break
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Executor) breaker(operation string, classify ErrorClassifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok := e.breakers[operation]; ok {
		return cb
	}

	policy := e.cfg.Breaker
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        operation,
		MaxRequests: policy.Probes,
		Timeout:     policy.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= policy.MinRequests &&
				float64(counts.TotalFailures) >= policy.FailureRatio*float64(counts.Requests)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).RecordFailure
		},
		OnStateChange: e.stateChanged,
	})
	e.breakers[operation] = cb
	return cb
}

func (e *Executor) stateChanged(operation string, from, to gobreaker.State) {
	e.logger.Warn("circuit_breaker_state_change", "operation", operation, "from", from.String(), "to", to.String())
	if e.cfg.OnStateChange != nil {
		e.cfg.OnStateChange(operation, from.String(), to.String())
	}
}

// IsCircuitOpen reports whether err was returned by a breaker refusing the call.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func recordOnly(error) ErrorClassification {
	return ErrorClassification{RecordFailure: true}
}

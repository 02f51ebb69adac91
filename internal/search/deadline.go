package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	ErrProviderPanic = errors.New("provider panicked")
	ErrCallTimeout   = errors.New("deadline exceeded")
	// ErrCallerGone means the caller's own context ended before the call did.
	ErrCallerGone = errors.New("caller went away")
)

// CallKind labels a deadline-bounded call in logs and errors.
type CallKind string

const (
	CallProvider CallKind = "provider"
	CallProbe    CallKind = "probe"
)

// DeadlineResult carries the outcome of a deadline-bounded call. Value is the
// fallback whenever Err is set.
type DeadlineResult[T any] struct {
	Value    T
	Err      error
	TimedOut bool
	// Abandoned is set when the parent context ended first. The callee is not
	// to blame and TimedOut stays false.
	Abandoned bool
	Elapsed   time.Duration
}

// RunWithDeadline runs fn under a context derived from ctx with the given timeout.
// It returns as soon as fn finishes, the deadline passes or ctx ends.
// On deadline the derived context is cancelled so in-flight requests abort.
// Failures, timeouts and panics all resolve to fallback.
func RunWithDeadline[T any](ctx context.Context, kind CallKind, name string, timeout time.Duration, fallback T, fn func(context.Context) (T, error)) DeadlineResult[T] {
	startedAt := time.Now()

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan DeadlineResult[T], 1)
	go func() {
		result := DeadlineResult[T]{Value: fallback}
		defer func() {
			if recovered := recover(); recovered != nil {
				result = DeadlineResult[T]{Value: fallback, Err: fmt.Errorf("%w: %v", ErrProviderPanic, recovered)}
			}
			done <- result
		}()
		value, err := fn(runCtx)
		if err != nil {
			result.Err = err
			return
		}
		result.Value = value
	}()

	var result DeadlineResult[T]
	select {
	case result = <-done:
	case <-runCtx.Done():
		result = DeadlineResult[T]{Value: fallback, Err: runCtx.Err()}
	}
	result.Elapsed = time.Since(startedAt)
	if result.Err == nil {
		return result
	}
	result.Value = fallback

	switch {
	case ctx.Err() != nil:
		result.Abandoned = true
		result.Err = fmt.Errorf("%w: %w", ErrCallerGone, ctx.Err())
		slog.Debug(string(kind)+" call abandoned by caller",
			slog.String(string(kind), name),
			slog.Int64("elapsedMs", result.Elapsed.Milliseconds()),
		)
	case errors.Is(result.Err, context.DeadlineExceeded):
		result.TimedOut = true
		result.Err = fmt.Errorf("%w: %s %s after %s", ErrCallTimeout, kind, name, timeout)
		slog.Warn(string(kind)+" deadline exceeded",
			slog.String(string(kind), name),
			slog.Int64("elapsedMs", result.Elapsed.Milliseconds()),
		)
	default:
		slog.Warn(string(kind)+" call failed",
			slog.String(string(kind), name),
			slog.String("error", result.Err.Error()),
		)
	}
	return result
}

// Package graceful is the hook entrypoint runtime. Hooks run inside the
// coding agent's critical path, so a failing hook must never block the
// agent: every panic and error is converted into a logged, non-blocking
// exit.
package graceful

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/aimemory/aimemory/internal/telemetry"
)

// Hook process exit codes. ExitBlocking is part of the hook protocol but
// reserved: this runtime never emits it, failures always degrade to
// ExitNonBlocking.
const (
	ExitOK          = 0
	ExitNonBlocking = 1
	ExitBlocking    = 2
)

// Run executes fn for the named hook and returns its exit code. Panics
// are recovered and reported the same way as errors. Duration is always
// recorded, and a metrics flush is kicked off before returning so
// short-lived hook processes still export.
func Run(hook string, fn func(ctx context.Context) error) (code int) {
	start := time.Now()
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("hook panicked",
				"hook", hook,
				"error", fmt.Sprint(r),
				"error_type", fmt.Sprintf("%T", r),
				"stack", string(debug.Stack()))
			telemetry.RecordFailure(ctx, "hook", "panic")
			code = ExitNonBlocking
		}
		telemetry.RecordHookDuration(ctx, hook, float64(time.Since(start).Milliseconds()))
		telemetry.FlushAsync()
	}()

	if err := fn(ctx); err != nil {
		slog.Error("hook failed",
			"hook", hook,
			"error", err,
			"error_type", fmt.Sprintf("%T", err))
		telemetry.RecordFailure(ctx, "hook", "error")
		return ExitNonBlocking
	}
	return ExitOK
}

// RunWithTimeout is Run with a deadline on the hook's context. Hooks
// that overrun log it and exit non-blocking; work already durably queued
// survives for the drainer.
func RunWithTimeout(hook string, timeout time.Duration, fn func(ctx context.Context) error) int {
	return Run(hook, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("hook deadline %s exceeded: %w", timeout, err)
			}
			return err
		}
		return nil
	})
}

// Package exec runs compiled job handlers under resource bounds: a
// wall-clock timeout, a capped output capture, and an advisory
// memory-delta measurement. A job's failure is ordinary data here, not an
// exceptional control-flow event: every execution produces a Result with
// a tagged outcome.
package exec

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/attuneai/chime/errors"
)

// Outcome tags how an execution ended
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
)

// Handler is a compiled job body ready to run. Implementations must honor
// context cancellation; the executor awaits the handler after cancelling
// it, so a handler that ignores its context delays the timeout result.
type Handler interface {
	Run(ctx context.Context, out *Capture) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, out *Capture) error

// Run implements Handler
func (f HandlerFunc) Run(ctx context.Context, out *Capture) error {
	return f(ctx, out)
}

// Limits bound a single execution
type Limits struct {
	Timeout        time.Duration
	MemoryMB       int
	MaxOutputLines int
}

// Result describes one completed execution. Duration is measured even on
// failure and timeout; partial output survives a timeout.
type Result struct {
	Outcome         Outcome
	StartedAt       time.Time
	CompletedAt     time.Time
	DurationMs      int64
	Error           string
	Output          []string
	OutputTruncated bool
	MemoryDeltaMB   *float64
}

// Executor runs handlers under limits
type Executor struct {
	log *zap.SugaredLogger
}

// New creates an executor
func New(log *zap.SugaredLogger) *Executor {
	return &Executor{log: log}
}

// Execute runs the handler on its own goroutine under the configured
// timeout. On timeout the handler's context is cancelled and the goroutine
// awaited before the timeout result is returned, so no background work
// outlives the call. A panicking handler yields a failed result.
func (e *Executor) Execute(ctx context.Context, h Handler, limits Limits) Result {
	start := time.Now()
	capture := NewCapture(limits.MaxOutputLines)

	runCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	memBefore, memOK := processRSS()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Newf("job body panicked: %v", r)
			}
		}()
		done <- h.Run(runCtx, capture)
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-runCtx.Done():
		// Cancelled or timed out: await the handler so nothing leaks.
		runErr = <-done
	}

	completed := time.Now()
	res := Result{
		StartedAt:       start,
		CompletedAt:     completed,
		DurationMs:      completed.Sub(start).Milliseconds(),
		Output:          capture.Lines(),
		OutputTruncated: capture.Truncated(),
	}

	if memOK {
		if memAfter, ok := processRSS(); ok {
			delta := float64(int64(memAfter)-int64(memBefore)) / (1 << 20)
			res.MemoryDeltaMB = &delta
			if limits.MemoryMB > 0 && delta > float64(limits.MemoryMB) {
				// Advisory only: the ceiling is not enforced as a failure
				e.log.Warnw("Job exceeded memory ceiling",
					"memory_delta_mb", delta,
					"memory_limit_mb", limits.MemoryMB)
			}
		}
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.Outcome = OutcomeTimeout
		res.Error = errors.Wrapf(errors.ErrTimeout,
			"execution exceeded %s timeout", limits.Timeout).Error()
	case runErr != nil:
		res.Outcome = OutcomeFailed
		res.Error = runErr.Error()
	default:
		res.Outcome = OutcomeSuccess
	}

	return res
}

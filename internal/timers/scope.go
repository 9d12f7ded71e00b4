// Package timers provides composable cancellation scopes and jittered
// backoff, one reusable piece of plumbing instead of scattering
// context.WithTimeout/context.WithCancel pairs at each call site (the
// pattern the teacher repeats ad hoc in worker.go/orchestrator.go).
package timers

import (
	"context"
	"math/rand"
	"time"
)

// Scope wraps a context.Context with an explicit cancel function so a
// caller can distinguish its three cancellation sources — explicit Cancel,
// a cancelled parent, or deadline expiry — while composing naturally with
// anything that already accepts a context.Context.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScope derives a child scope from parent with an optional deadline (zero
// duration means no deadline beyond the parent's own).
func NewScope(parent context.Context, timeout time.Duration) *Scope {
	if parent == nil {
		parent = context.Background()
	}
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	return &Scope{ctx: ctx, cancel: cancel}
}

// Context returns the scope's context, suitable for passing to any
// cancellation-aware operation.
func (s *Scope) Context() context.Context { return s.ctx }

// Cancel explicitly cancels the scope. Safe to call multiple times.
func (s *Scope) Cancel() { s.cancel() }

// Done reports whether the scope has been cancelled or its deadline expired.
func (s *Scope) Done() <-chan struct{} { return s.ctx.Done() }

// Err returns the reason the scope ended, or nil if it hasn't.
func (s *Scope) Err() error { return s.ctx.Err() }

// Child derives a nested scope: cancelling the parent cancels the child, but
// cancelling the child never affects the parent.
func (s *Scope) Child(timeout time.Duration) *Scope {
	return NewScope(s.ctx, timeout)
}

// Backoff computes a jittered exponential delay for attempt (0-indexed),
// capped at max. Used by the LLM driver's retry loop and the lease
// renewer's retry-on-transient-error loop.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base << attempt // exponential
	if d <= 0 || d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2 + 1))
	return d/2 + jitter
}

// Sleep blocks for d or until ctx is cancelled, whichever comes first.
// Returns ctx.Err() if cancelled during the wait.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

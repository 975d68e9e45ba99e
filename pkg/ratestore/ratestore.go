// Package ratestore provides the shared counter store behind rate limiting
// and login-lockout tracking. Counters use fixed-window-by-reset semantics:
// a counter accumulates for the duration of its window and is reset
// wholesale once the window start ages past the window size. This is a
// deliberate simplicity/memory trade-off, not a true sliding log.
//
// Two drivers are provided: an in-process memory store for single-instance
// deployments and a Redis store for multi-instance deployments. Both are
// safe for concurrent use.
package ratestore

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the counter backend is unreachable. Callers
// decide whether to fail open or closed.
var ErrUnavailable = errors.New("ratestore: backend unavailable")

// Counters is the injected store interface. Increment bumps the counter for
// key within the current fixed window and returns the new count; the first
// increment of a window starts it. Get reads the current count without
// mutating it (zero for missing or lapsed windows). Reset clears the counter
// unconditionally.
type Counters interface {
	Increment(ctx context.Context, key string, window time.Duration) (int, error)
	Get(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

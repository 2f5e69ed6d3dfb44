// Package poller turns eventually visible chain state into a blocking checkpoint by
// evaluating a predicate at a fixed interval until it holds or a deadline passes.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultInterval is the pause between two predicate evaluations.
	DefaultInterval = 100 * time.Millisecond
	// DefaultBlockInterval is the expected block time of the ledger.
	DefaultBlockInterval = 3 * time.Second
	// DefaultBlocks is how many block intervals a state change is given to show up.
	DefaultBlocks = 8
)

// ErrTimeout is matched by every *TimeoutError.
var ErrTimeout = errors.New("condition not met before timeout")

// TimeoutError reports a predicate that never held within its budget.
type TimeoutError struct {
	Timeout time.Duration
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("condition not met within %s (waited %s)", e.Timeout, e.Elapsed.Round(time.Millisecond))
}

// Is makes errors.Is(err, ErrTimeout) true.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Predicate reports whether the awaited condition holds. The context carries the
// wait deadline.
type Predicate func(ctx context.Context) (bool, error)

// BlockTimeout is a wait budget of n block intervals.
func BlockTimeout(blockInterval time.Duration, n int) time.Duration {
	return blockInterval * time.Duration(n)
}

// WaitUntil polls predicate every DefaultInterval until it returns true or timeout
// elapses.
func WaitUntil(ctx context.Context, predicate Predicate, timeout time.Duration) error {
	return WaitUntilInterval(ctx, predicate, timeout, DefaultInterval)
}

// WaitUntilInterval is WaitUntil with a custom polling interval.
//
// The timeout is reported within one interval of the deadline; no evaluation is
// started once the deadline has passed. A predicate error ends the wait.
func WaitUntilInterval(ctx context.Context, predicate Predicate, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	start := time.Now()
	deadline := start.Add(timeout)
	pctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		ok, err := predicate(pctx)
		if ok && err == nil {
			return nil
		}
		now := time.Now()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if pctx.Err() == context.DeadlineExceeded {
				return &TimeoutError{Timeout: timeout, Elapsed: now.Sub(start)}
			}
			return errors.Wrap(err, "poll predicate")
		}
		if !now.Before(deadline) {
			return &TimeoutError{Timeout: timeout, Elapsed: now.Sub(start)}
		}

		wait := interval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if now = time.Now(); !now.Before(deadline) {
			return &TimeoutError{Timeout: timeout, Elapsed: now.Sub(start)}
		}
	}
}

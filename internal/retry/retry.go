// Package retry provides the bounded polling primitive used for every wait in
// the lifecycle: waiting for a browser to answer, and waiting for it to stop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned when every attempt of a policy failed.
var ErrExhausted = errors.New("attempts exhausted")

// Policy bounds a poll: at most Attempts calls, Interval apart.
type Policy struct {
	Attempts int
	Interval time.Duration
}

// String describes the policy, e.g. "30 attempts every 500ms".
func (p Policy) String() string {
	return fmt.Sprintf("%d attempts every %s", p.Attempts, p.Interval)
}

// Budget is the longest a poll under this policy can sleep in total.
func (p Policy) Budget() time.Duration {
	if p.Attempts <= 1 {
		return 0
	}
	return time.Duration(p.Attempts-1) * p.Interval
}

// Poll calls cond until it reports true or the policy runs out.
// It returns nil on the first success, ErrExhausted after the last failed
// attempt, or the context error if ctx is done while sleeping.
func Poll(ctx context.Context, p Policy, cond func(ctx context.Context) bool) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for i := 0; i < attempts; i++ {
		if cond(ctx) {
			return nil
		}
		if i == attempts-1 {
			break
		}

		if timer == nil {
			timer = time.NewTimer(p.Interval)
		} else {
			timer.Reset(p.Interval)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %s", ErrExhausted, p)
}

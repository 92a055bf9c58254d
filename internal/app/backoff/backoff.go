// Package backoff implements the bounded retry policy used for transient
// storage contention.
package backoff

import (
	"context"
	"time"
)

// Policy bounds retries: Attempts total tries, exponential delay starting at
// Base (Base, 2*Base, 4*Base, ...).
type Policy struct {
	Attempts int
	Base     time.Duration
}

// Default mirrors the conventional 3-attempt budget.
var Default = Policy{Attempts: 3, Base: 100 * time.Millisecond}

// Do runs fn up to the attempt budget, sleeping between tries. Only errors
// for which retryable returns true are retried; the last error is returned
// once the budget is exhausted or the context ends.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func() error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.Base

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

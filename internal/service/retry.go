package service

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a failed unit of work is re-run.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// run executes fn until it succeeds, returns a domain verdict, or attempts run out.
func (p RetryPolicy) run(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || isDomainError(err) || ctx.Err() != nil {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * p.Backoff):
		}
	}

	return err
}

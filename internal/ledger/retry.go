package ledger

import (
	"context"
	"log"
	"math/rand"
	"time"
)

// RetryPolicy masks transient backend contention (serialization failures,
// deadlocks, lock timeouts) from callers. Domain errors are never retried;
// only failures the store classifies as retryable are. After the attempt
// budget is spent the last error surfaces as INTERNAL.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond}
}

// backoff returns base * 2^attempt plus up to one extra base of jitter.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay << uint(attempt)
	return delay + time.Duration(rand.Int63n(int64(p.BaseDelay)+1))
}

// Do runs fn up to MaxAttempts times. retryable decides which failures are
// worth another attempt; everything else propagates immediately.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if IsDomain(err) || !retryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		wait := p.backoff(attempt)
		log.Printf("[LEDGER] Transient backend failure (attempt %d/%d), retrying in %v: %v", attempt+1, attempts, wait, err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Internal(ctx.Err())
		}
	}

	log.Printf("[LEDGER] Retry budget exhausted after %d attempts: %v", attempts, err)
	return Internal(err)
}

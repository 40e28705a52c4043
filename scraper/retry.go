package scraper

import "time"

// retryPolicy decides how long to wait before the next attempt.
// Blocked responses and transport failures back off linearly from separate bases.
type retryPolicy struct {
	maxAttempts int
	blocked     time.Duration
	transport   time.Duration
	max         time.Duration
}

func newRetryPolicy(opts FetcherOptions) retryPolicy {
	attempts := opts.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	return retryPolicy{
		maxAttempts: attempts,
		blocked:     opts.RetryBackoff,
		transport:   opts.TransportBackoff,
		max:         opts.RetryBackoffMax,
	}
}

func (p retryPolicy) backoff(err *FetchError, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := p.transport
	if err != nil && err.Blocked() {
		base = p.blocked
	}
	delay := base * time.Duration(attempt)
	if p.max > 0 && delay > p.max {
		delay = p.max
	}
	return delay
}

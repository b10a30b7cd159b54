package lifecycle

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryPolicy bounds attempts and computes jittered per-attempt delays.
// Retries are queue-driven: the policy only decides, the queue redelivers.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryPolicy builds a policy with sane defaults.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		maxAttempts: 3,
		baseDelay:   5 * time.Second,
		maxDelay:    2 * time.Minute,
	}
}

// NewRetryPolicyWith builds a policy from explicit knobs, falling back to
// the defaults for non-positive values.
func NewRetryPolicyWith(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	p := NewRetryPolicy()
	if maxAttempts > 0 {
		p.maxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		p.baseDelay = baseDelay
	}
	if maxDelay > 0 {
		p.maxDelay = maxDelay
	}
	return p
}

// Exhausted reports whether attempt already used up the retry budget.
func (p *RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.maxAttempts
}

// Delay returns the explicit wait before the next attempt.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

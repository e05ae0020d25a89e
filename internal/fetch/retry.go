package fetch

import (
	"math/rand"
	"net/http"
	"time"
)

// RetryPolicy controls how status-level upstream failures are retried.
// The zero value retries nothing; Delay still returns sane durations.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Retryable reports whether a response status is worth another attempt.
// 404 is deliberately absent: a missing representation is a final answer.
func (p RetryPolicy) Retryable(status int) bool {
	return retryStatuses[status]
}

// Delay returns the backoff for attempt n (0-indexed) with jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}
	d := base << uint(attempt)
	if d <= 0 || d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d + jitter
}

package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type retryPolicy struct {
	attempts int
	base     time.Duration
	ceiling  time.Duration
	sleep    func(time.Duration)
}

// Retries are opt-in; callers such as the pipeline already retry whole steps.
func defaultRetryPolicy() retryPolicy {
	return retryPolicy{attempts: 1, base: time.Second, ceiling: 10 * time.Second}
}

func (p retryPolicy) maxAttempts() int {
	if p.attempts < 1 {
		return 1
	}
	return p.attempts
}

// delay reports how long to wait before the next try, or false when err is final.
func (p retryPolicy) delay(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	var empty *emptyReplyError
	if errors.As(err, &empty) {
		return p.backoff(attempt), true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if !apiErr.temporary() {
			return 0, false
		}
		if apiErr.RetryAfter > 0 {
			if p.ceiling > 0 && apiErr.RetryAfter > p.ceiling {
				return p.ceiling, true
			}
			return apiErr.RetryAfter, true
		}
		return p.backoff(attempt), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return p.backoff(attempt), true
	}
	return 0, false
}

// backoff doubles base for each prior attempt, capped at ceiling.
func (p retryPolicy) backoff(attempt int) time.Duration {
	if p.base <= 0 {
		return 0
	}
	d := p.base
	for i := 1; i < attempt && d < p.ceiling; i++ {
		d *= 2
	}
	if p.ceiling > 0 && d > p.ceiling {
		d = p.ceiling
	}
	return d
}

func (p retryPolicy) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if p.sleep != nil {
		p.sleep(d)
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryAfter parses a Retry-After header given as seconds or an HTTP date.
func retryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, secs >= 0
	}
	when, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	d := time.Until(when)
	return d, d >= 0
}

package services

import (
	"context"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/ports"
	"errors"
	"math/rand/v2"
	"net"
	"time"
)

// Decision is the outcome of RetryPolicy.Decide.
type Decision int

const (
	DecisionRetry Decision = iota
	DecisionFallback
	DecisionFatal
)

func (d Decision) String() string {
	switch d {
	case DecisionRetry:
		return "retry"
	case DecisionFallback:
		return "fallback"
	default:
		return "fatal"
	}
}

// Outcome is the result of driving a provider call through the policy.
type Outcome struct {
	Response ports.RouteResponse
	Attempts int
	LastErr  error
	Decision Decision
}

// Succeeded reports whether the provider eventually answered.
func (o Outcome) Succeeded() bool { return o.LastErr == nil }

// RetryPolicy bounds provider attempts and spaces them with jittered
// exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the +/- fraction applied to each backoff, in [0, 1].
	Jitter float64

	random func() float64
}

// NewRetryPolicy allows maxRetries retries after the first attempt.
func NewRetryPolicy(maxRetries int, base, maxDelay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxRetries + 1,
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		Jitter:      0.2,
	}
}

// Decide classifies the error of attempt (1-based).
//
// Cancellation of the run is fatal. Permanent provider errors go straight to
// fallback. Transient errors, request timeouts and network errors are retried
// until MaxAttempts is reached. Anything unrecognized falls back.
func (p RetryPolicy) Decide(attempt int, err error) Decision {
	if err == nil {
		return DecisionFallback
	}
	if errors.Is(err, context.Canceled) {
		return DecisionFatal
	}
	if errors.Is(err, domain.ErrProviderPermanent) {
		return DecisionFallback
	}

	var netErr net.Error
	retriable := errors.Is(err, domain.ErrProviderTransient) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &netErr)
	if !retriable {
		return DecisionFallback
	}

	if attempt >= p.MaxAttempts {
		return DecisionFallback
	}
	return DecisionRetry
}

// Backoff returns the wait before attempt+1.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.maxBackoff(attempt)
	if p.Jitter <= 0 || d <= 0 {
		return d
	}

	r := rand.Float64
	if p.random != nil {
		r = p.random
	}
	scale := 1 - p.Jitter + 2*p.Jitter*r()
	return time.Duration(float64(d) * scale)
}

func (p RetryPolicy) maxBackoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Ceiling is the longest a single resolution can take: every attempt timing
// out plus every backoff at its jittered maximum.
func (p RetryPolicy) Ceiling(requestTimeout time.Duration) time.Duration {
	total := time.Duration(p.MaxAttempts) * requestTimeout
	for a := 1; a < p.MaxAttempts; a++ {
		total += time.Duration(float64(p.maxBackoff(a)) * (1 + p.Jitter))
	}
	return total
}

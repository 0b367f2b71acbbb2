package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time for the limiter and backoff waits.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// RateLimiter is the process-wide token bucket every provider call draws from.
type RateLimiter struct {
	lim   *rate.Limiter
	clock Clock
}

func NewRateLimiter(perSecond float64, burst int, clock Clock) *RateLimiter {
	if clock == nil {
		clock = SystemClock
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(perSecond), burst), clock: clock}
}

// ErrPermitDeadline reports that the next permit would arrive after the
// caller's deadline.
var ErrPermitDeadline = errors.New("rate limiter: permit would arrive after deadline")

// Interval is the steady-state spacing between permits.
func (l *RateLimiter) Interval() time.Duration {
	limit := l.lim.Limit()
	if limit <= 0 || limit == rate.Inf {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(limit))
}

// Acquire blocks until a permit is available or ctx ends. A wait that would
// overrun ctx's deadline fails immediately and returns the token.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	deadline, _ := ctx.Deadline()
	return l.AcquireBy(ctx, deadline)
}

// AcquireBy is Acquire with an explicit deadline measured on the limiter's
// clock. A zero deadline means no bound beyond ctx.
func (l *RateLimiter) AcquireBy(ctx context.Context, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := l.clock.Now()
	if !deadline.IsZero() && !now.Before(deadline) {
		return fmt.Errorf("%w: deadline passed: %w", ErrPermitDeadline, context.DeadlineExceeded)
	}

	r := l.lim.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("rate limiter: burst %d cannot satisfy request", l.lim.Burst())
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	if !deadline.IsZero() && now.Add(delay).After(deadline) {
		r.CancelAt(now)
		return fmt.Errorf("%w: wait %s: %w", ErrPermitDeadline, delay, context.DeadlineExceeded)
	}

	select {
	case <-ctx.Done():
		r.CancelAt(l.clock.Now())
		return ctx.Err()
	case <-l.clock.After(delay):
		return nil
	}
}

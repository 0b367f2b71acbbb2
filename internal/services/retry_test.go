package services

import (
	"context"
	"driver-cost-service/internal/domain"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestRetryPolicy_Decide(t *testing.T) {
	p := NewRetryPolicy(2, 10*time.Millisecond, time.Second)

	transient := &domain.ProviderError{Status: 503, Transient: true}
	permanent := &domain.ProviderError{Status: 403}

	tests := []struct {
		name    string
		attempt int
		err     error
		want    Decision
	}{
		{"transient first attempt", 1, transient, DecisionRetry},
		{"transient second attempt", 2, transient, DecisionRetry},
		{"transient exhausted", 3, transient, DecisionFallback},
		{"wrapped transient", 1, fmt.Errorf("call: %w", transient), DecisionRetry},
		{"permanent", 1, permanent, DecisionFallback},
		{"request timeout", 1, context.DeadlineExceeded, DecisionRetry},
		{"network error", 1, &net.OpError{Op: "dial", Err: timeoutErr{}}, DecisionRetry},
		{"cancelled run", 1, context.Canceled, DecisionFatal},
		{"unknown", 1, errors.New("weird"), DecisionFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Decide(tt.attempt, tt.err))
		})
	}
}

func TestRetryPolicy_ZeroRetries(t *testing.T) {
	p := NewRetryPolicy(0, time.Millisecond, time.Second)
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, DecisionFallback, p.Decide(1, &domain.ProviderError{Transient: true}))
}

func TestRetryPolicy_BackoffDoublesUpToMax(t *testing.T) {
	p := NewRetryPolicy(5, 100*time.Millisecond, time.Second)
	p.Jitter = 0

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, p.Backoff(i+1), "attempt %d", i+1)
	}
}

func TestRetryPolicy_BackoffJitterBounds(t *testing.T) {
	p := NewRetryPolicy(3, 100*time.Millisecond, time.Second)

	p.random = func() float64 { return 0 }
	assert.InDelta(t, float64(80*time.Millisecond), float64(p.Backoff(1)), float64(time.Microsecond))

	p.random = func() float64 { return 1 }
	assert.InDelta(t, float64(240*time.Millisecond), float64(p.Backoff(2)), float64(time.Microsecond))
}

func TestRetryPolicy_Ceiling(t *testing.T) {
	p := NewRetryPolicy(2, 100*time.Millisecond, time.Second)

	// 3 attempts of 1s plus backoffs of 100ms and 200ms at +20%.
	assert.InDelta(t, float64(3360*time.Millisecond), float64(p.Ceiling(time.Second)), float64(time.Millisecond))
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "retry", DecisionRetry.String())
	assert.Equal(t, "fallback", DecisionFallback.String())
	assert.Equal(t, "fatal", DecisionFatal.String())
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCoordinateInvalid = errors.New("coordinate invalid")
	ErrProviderTransient = errors.New("provider transient error")
	ErrProviderPermanent = errors.New("provider permanent error")
	ErrCacheLeaseExpired = errors.New("cache lease expired")
	ErrIncompleteRoute   = errors.New("incomplete route")
	ErrInvalidConfig     = errors.New("invalid config")
)

// ProviderError describes a failed upstream routing call.
// It unwraps to ErrProviderTransient or ErrProviderPermanent so callers can
// classify it with errors.Is.
type ProviderError struct {
	Status    int
	Body      string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("provider status %d: %s: %v", e.Status, e.Body, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("provider status %d: %s", e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("provider: %v", e.Err)
	default:
		return "provider error"
	}
}

func (e *ProviderError) Unwrap() []error {
	class := ErrProviderPermanent
	if e.Transient {
		class = ErrProviderTransient
	}
	if e.Err == nil {
		return []error{class}
	}
	return []error{class, e.Err}
}

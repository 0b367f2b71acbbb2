package ports

import (
	"context"
	"driver-cost-service/internal/domain"
	"time"
)

// Lease is the outcome of TryBeginResolution.
//
// When Granted is true the caller owns the resolution of the key until
// ExpiresAt and must call ReleaseLease with Token. Otherwise another
// resolver holds it; Done, when non-nil, is closed once that lease ends.
type Lease struct {
	Granted   bool
	Token     string
	ExpiresAt time.Time
	Done      <-chan struct{}
}

// Persistent fingerprint -> distance mapping with single-flight leases.
// Implementations must be safe for concurrent use.
type DistanceCache interface {
	Get(ctx context.Context, key string) (domain.DistanceResult, bool, error)
	Put(ctx context.Context, key string, result domain.DistanceResult) error
	TryBeginResolution(ctx context.Context, key string, ttl time.Duration) (Lease, error)
	ReleaseLease(ctx context.Context, key string, token string) error
}

package cache

import (
	"context"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/ports"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memLease struct {
	token     string
	expiresAt time.Time
	done      chan struct{}
}

// MemoryDistanceCache is an in-process DistanceCache. Results live as long as
// the value; it backs tests and single-run batches.
type MemoryDistanceCache struct {
	mu      sync.Mutex
	entries map[string]domain.DistanceResult
	leases  map[string]*memLease
	now     func() time.Time
}

func NewMemoryDistanceCache() *MemoryDistanceCache {
	return &MemoryDistanceCache{
		entries: make(map[string]domain.DistanceResult),
		leases:  make(map[string]*memLease),
		now:     time.Now,
	}
}

// WithClock overrides the time source used for lease expiry.
func (c *MemoryDistanceCache) WithClock(now func() time.Time) *MemoryDistanceCache {
	c.now = now
	return c
}

func (c *MemoryDistanceCache) Get(ctx context.Context, key string) (domain.DistanceResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.entries[key]
	return r, ok, nil
}

func (c *MemoryDistanceCache) Put(ctx context.Context, key string, result domain.DistanceResult) error {
	if key == "" {
		return errors.New("memory distance cache: empty key")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result.Source = result.Provenance()
	result.OriginalSource = ""
	c.entries[key] = result
	return nil
}

// TryBeginResolution grants the lease unless an unexpired one is held. An
// expired lease is taken over and its waiters are woken.
func (c *MemoryDistanceCache) TryBeginResolution(ctx context.Context, key string, ttl time.Duration) (ports.Lease, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if l, ok := c.leases[key]; ok {
		if now.Before(l.expiresAt) {
			return ports.Lease{ExpiresAt: l.expiresAt, Done: l.done}, nil
		}
		close(l.done)
	}

	l := &memLease{
		token:     uuid.NewString(),
		expiresAt: now.Add(ttl),
		done:      make(chan struct{}),
	}
	c.leases[key] = l

	return ports.Lease{Granted: true, Token: l.token, ExpiresAt: l.expiresAt}, nil
}

// ReleaseLease ends the lease if token still owns it.
func (c *MemoryDistanceCache) ReleaseLease(ctx context.Context, key string, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.leases[key]
	if !ok || l.token != token {
		return nil
	}
	close(l.done)
	delete(c.leases, key)
	return nil
}

// Len returns the number of cached results.
func (c *MemoryDistanceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

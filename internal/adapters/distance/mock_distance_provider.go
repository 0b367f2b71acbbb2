package distance

import (
	"context"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/ports"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type MockPair struct {
	From, To domain.Coordinates
	Meters   float64
	Seconds  float64
}

// MockRouteProvider answers from a fixed pair table and counts calls.
// FailFor makes every call for a pair return the given error.
type MockRouteProvider struct {
	m       map[string]ports.RouteResponse
	Delay   time.Duration
	Default *ports.RouteResponse

	calls   atomic.Int64
	mu      sync.Mutex
	perPair map[string]int
	fail    map[string]error
}

func NewMockRouteProvider(pairs []MockPair) *MockRouteProvider {
	m := make(map[string]ports.RouteResponse, len(pairs))
	for _, p := range pairs {
		secs := p.Seconds
		m[pairKey(p.From, p.To)] = ports.RouteResponse{DistanceMeters: p.Meters, DurationSeconds: &secs}
	}
	return &MockRouteProvider{m: m, perPair: map[string]int{}, fail: map[string]error{}}
}

// FailFor registers err for every call from -> to.
func (p *MockRouteProvider) FailFor(from, to domain.Coordinates, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail[pairKey(from, to)] = err
}

// Calls returns the total number of Route invocations.
func (p *MockRouteProvider) Calls() int { return int(p.calls.Load()) }

// CallsFor returns the number of invocations for from -> to.
func (p *MockRouteProvider) CallsFor(from, to domain.Coordinates) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perPair[pairKey(from, to)]
}

func (p *MockRouteProvider) Route(ctx context.Context, req ports.RouteRequest) (ports.RouteResponse, error) {
	p.calls.Add(1)
	k := pairKey(req.Origin, req.Destination)

	p.mu.Lock()
	p.perPair[k]++
	failErr := p.fail[k]
	p.mu.Unlock()

	if p.Delay > 0 {
		select {
		case <-ctx.Done():
			return ports.RouteResponse{}, ctx.Err()
		case <-time.After(p.Delay):
		}
	}

	if failErr != nil {
		return ports.RouteResponse{}, failErr
	}

	r, ok := p.m[k]
	if !ok {
		if p.Default != nil {
			return *p.Default, nil
		}
		return ports.RouteResponse{}, &domain.ProviderError{Status: 404, Body: fmt.Sprintf("missing pair %s", k)}
	}

	return r, nil
}

func pairKey(from, to domain.Coordinates) string {
	return fmt.Sprintf("%.6f,%.6f|%.6f,%.6f", from.Lon, from.Lat, to.Lon, to.Lat)
}

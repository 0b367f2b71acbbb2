package ports

import (
	"context"
	"driver-cost-service/internal/domain"
)

// Route request between two points. IDs are optional and only used by
// providers that echo them for auditing.
type RouteRequest struct {
	Origin        domain.Coordinates
	Destination   domain.Coordinates
	OriginID      string
	DestinationID string
}

// Road distance and optional travel duration returned by a provider.
type RouteResponse struct {
	DistanceMeters  float64
	DurationSeconds *float64
}

// Contract for the upstream routing service.
type RouteProvider interface {
	// Return the road distance from origin to destination. Failures should be
	// classifiable with domain.ErrProviderTransient / domain.ErrProviderPermanent.
	Route(ctx context.Context, req RouteRequest) (RouteResponse, error)
}

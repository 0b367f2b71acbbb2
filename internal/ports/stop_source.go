package ports

import (
	"context"
	"driver-cost-service/internal/domain"
)

// Port: a boundary for retrieving cleaned Stop records from ingestion.
type StopSource interface {
	// Retrieve all stops for the batch, in arrival order.
	ListStops(ctx context.Context) ([]domain.Stop, error)
}

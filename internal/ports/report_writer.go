package ports

import (
	"context"
	"driver-cost-service/internal/domain"
)

// Port: a sink for the run's output tables.
type ReportWriter interface {
	WriteReport(ctx context.Context, report *domain.Report) error
}

package services

import (
	"cmp"
	"context"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/platform/obs"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PipelineConfig bounds the driver's concurrency.
type PipelineConfig struct {
	Workers            int
	SegmentConcurrency int
}

// Resolver is the subset of SegmentResolver the pipeline depends on.
type Resolver interface {
	Resolve(ctx context.Context, origin, dest domain.Stop) (Resolution, error)
}

// PipelineDriver fans driver-days out to a bounded worker pool and fans the
// priced results back into a single Report.
type PipelineDriver struct {
	builder    *SequenceBuilder
	resolver   Resolver
	aggregator CostAggregator
	cfg        PipelineConfig
	log        *zap.Logger
}

func NewPipelineDriver(
	builder *SequenceBuilder,
	resolver Resolver,
	aggregator CostAggregator,
	cfg PipelineConfig,
	log *zap.Logger,
) *PipelineDriver {
	cfg.Workers = max(cfg.Workers, 1)
	cfg.SegmentConcurrency = max(cfg.SegmentConcurrency, 1)
	if log == nil {
		log = zap.NewNop()
	}
	return &PipelineDriver{builder: builder, resolver: resolver, aggregator: aggregator, cfg: cfg, log: log}
}

type dayResult struct {
	cost        domain.DriverDayCost
	segments    []domain.Segment
	diagnostics []domain.Diagnostic
}

// Run prices every driver-day present in stops. Per-stop and per-segment
// failures are recorded as diagnostics; the returned error is non-nil only
// when ctx is cancelled, in which case the report is incomplete and nil.
func (p *PipelineDriver) Run(ctx context.Context, stops []domain.Stop, snapshot domain.ConfigSnapshot) (_ *domain.Report, err error) {
	defer obs.Time(ctx, p.log, "pipeline.Run")(&err)

	days, groups, invalid := groupStops(stops)
	p.log.Info("pipeline starting",
		zap.String("run_id", snapshot.RunID),
		zap.Int("stops", len(stops)),
		zap.Int("driver_days", len(days)),
		zap.Int("invalid_stops", len(invalid)),
	)

	results := make([]dayResult, len(days))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, day := range days {
		g.Go(func() error {
			res, err := p.processDay(gctx, day, groups[day])
			if err != nil {
				return fmt.Errorf("pipeline: driver-day %s: %w", day, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &domain.Report{
		RunID:       snapshot.RunID,
		Config:      snapshot,
		Diagnostics: invalid,
	}
	for _, r := range results {
		report.Daily = append(report.Daily, r.cost)
		report.Segments = append(report.Segments, r.segments...)
		report.Diagnostics = append(report.Diagnostics, r.diagnostics...)
	}
	report.Branches = SummarizeBranches(report.Daily)

	p.log.Info("pipeline finished",
		zap.String("run_id", snapshot.RunID),
		zap.Int("segments", len(report.Segments)),
		zap.Int("diagnostics", len(report.Diagnostics)),
	)

	return report, nil
}

// processDay resolves every segment of one driver-day before aggregating it;
// a day is never partially aggregated.
func (p *PipelineDriver) processDay(ctx context.Context, day domain.DriverDay, stops []domain.Stop) (dayResult, error) {
	seq := p.builder.Build(day, stops)

	requests := make([]SegmentRequest, 0, seq.SegmentCount())
	for req := range seq.Requests() {
		requests = append(requests, req)
	}

	segments := make([]domain.Segment, len(requests))
	var (
		mu    sync.Mutex
		diags = slices.Clone(seq.Diagnostics)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.SegmentConcurrency)
	for i, req := range requests {
		g.Go(func() error {
			res, err := p.resolver.Resolve(gctx, req.Origin, req.Dest)
			if err != nil {
				return err
			}
			segments[i] = p.aggregator.Price(req, res)
			if len(res.Diagnostics) > 0 {
				mu.Lock()
				diags = append(diags, res.Diagnostics...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return dayResult{}, err
	}

	// Concurrent resolution appends in completion order; restore a stable one.
	slices.SortStableFunc(diags, func(a, b domain.Diagnostic) int {
		return cmp.Or(cmp.Compare(a.Kind, b.Kind), cmp.Compare(a.Fingerprint, b.Fingerprint))
	})

	return dayResult{
		cost:        p.aggregator.Aggregate(seq, segments),
		segments:    segments,
		diagnostics: diags,
	}, nil
}

// groupStops validates coordinates and buckets stops per driver-day in
// arrival order. Days are returned sorted by driver then date; a day whose
// stops were all invalid is still returned so it is reported.
func groupStops(stops []domain.Stop) ([]domain.DriverDay, map[domain.DriverDay][]domain.Stop, []domain.Diagnostic) {
	groups := make(map[domain.DriverDay][]domain.Stop)
	var invalid []domain.Diagnostic

	for i, s := range stops {
		day := domain.DriverDay{DriverID: s.DriverID, Date: s.Day()}
		if _, ok := groups[day]; !ok {
			groups[day] = nil
		}

		if !s.Location.Valid() {
			invalid = append(invalid, domain.Diagnostic{
				Kind:     domain.DiagCoordinateInvalid,
				DriverID: day.DriverID,
				Date:     day.Date,
				Detail:   fmt.Sprintf("record %d excluded: lat=%v lng=%v", i, s.Location.Lat, s.Location.Lon),
				Err:      domain.ErrCoordinateInvalid.Error(),
			})
			continue
		}
		groups[day] = append(groups[day], s)
	}

	days := make([]domain.DriverDay, 0, len(groups))
	for d := range groups {
		days = append(days, d)
	}
	slices.SortFunc(days, func(a, b domain.DriverDay) int {
		return cmp.Or(cmp.Compare(a.DriverID, b.DriverID), cmp.Compare(a.Date, b.Date))
	})

	return days, groups, invalid
}

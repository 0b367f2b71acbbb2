package services

import (
	"context"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/platform/obs"
	"driver-cost-service/internal/ports"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

const releaseTimeout = 5 * time.Second

// errLeaseBudget marks a holder that ran out of lease time before it could
// issue a provider attempt. Nothing was spent, so nothing is cached.
var errLeaseBudget = errors.New("lease would expire before the next provider attempt")

// ResolverConfig carries the resolver's share of the run configuration.
type ResolverConfig struct {
	RunID          string
	RequestTimeout time.Duration
	// LeaseTTL bounds how long an in-progress mark survives its holder.
	// Zero derives it from the retry ceiling plus one permit interval per
	// attempt.
	LeaseTTL time.Duration
	// PollInterval is used to wait on caches whose leases expose no Done channel.
	PollInterval time.Duration
	Scope        domain.FingerprintScope
	RetryNextRun bool
}

// Resolution is the resolved distance of one segment plus its audit trail.
type Resolution struct {
	Key         domain.FingerprintKey
	CacheKey    string
	Result      domain.DistanceResult
	Attempts    int
	LastErr     error
	Diagnostics []domain.Diagnostic
}

// SegmentResolver maps an (origin, dest) pair to exactly one DistanceResult,
// calling the provider at most once per cache key for the cache's lifetime.
//
// The resolver is safe for concurrent use.
type SegmentResolver struct {
	provider ports.RouteProvider
	cache    ports.DistanceCache
	limiter  *RateLimiter
	policy   RetryPolicy
	fallback *FallbackEstimator
	clock    Clock
	cfg      ResolverConfig
	log      *zap.Logger
}

func NewSegmentResolver(
	provider ports.RouteProvider,
	cache ports.DistanceCache,
	limiter *RateLimiter,
	policy RetryPolicy,
	fallback *FallbackEstimator,
	clock Clock,
	cfg ResolverConfig,
	log *zap.Logger,
) *SegmentResolver {
	if clock == nil {
		clock = SystemClock
	}
	if cfg.Scope == "" {
		cfg.Scope = domain.ScopeSegment
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = policy.Ceiling(cfg.RequestTimeout) + time.Second
		if limiter != nil {
			cfg.LeaseTTL += time.Duration(max(policy.MaxAttempts, 1)) * limiter.Interval()
		}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &SegmentResolver{
		provider: provider,
		cache:    cache,
		limiter:  limiter,
		policy:   policy,
		fallback: fallback,
		clock:    clock,
		cfg:      cfg,
		log:      log,
	}
}

// Resolve returns the distance for origin -> dest. Provider and cache
// failures degrade the result to a fallback and are reported in
// Resolution.Diagnostics; only cancellation of ctx returns an error.
func (r *SegmentResolver) Resolve(ctx context.Context, origin, dest domain.Stop) (_ Resolution, err error) {
	defer obs.Time(ctx, r.log, "resolver.Resolve")(&err)

	key := domain.NewFingerprintKey(origin, dest)
	res := Resolution{Key: key, CacheKey: key.CacheKey(r.cfg.Scope)}

	// Waiters give up once the holder could have exhausted every retry.
	waitUntil := r.clock.Now().Add(r.cfg.LeaseTTL)

	for {
		if hit, ok := r.lookup(ctx, &res); ok {
			res.Result = hit
			return res, nil
		}

		// Measured before the grant so the holder never outlives the stored lease.
		leaseDeadline := r.clock.Now().Add(r.cfg.LeaseTTL)
		lease, err := r.cache.TryBeginResolution(ctx, res.CacheKey, r.cfg.LeaseTTL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Resolution{}, ctxErr
			}
			// Without a lease single-flight cannot be guaranteed, so spend no quota.
			r.degrade(&res, domain.DiagCacheError, "lease unavailable, using fallback", err)
			res.Result = r.fallback.Estimate(origin.Location, dest.Location, r.cfg.RunID, r.clock.Now())
			return res, nil
		}

		if lease.Granted {
			return r.resolveHeld(ctx, res, lease, leaseDeadline, origin, dest)
		}

		if err := r.await(ctx, lease, waitUntil); err != nil {
			if !errors.Is(err, domain.ErrCacheLeaseExpired) {
				return Resolution{}, err
			}
			if hit, ok := r.lookup(ctx, &res); ok {
				res.Result = hit
				return res, nil
			}
			r.degrade(&res, domain.DiagLeaseExpired, "gave up waiting on in-progress resolution", err)
			res.Result = r.fallback.Estimate(origin.Location, dest.Location, r.cfg.RunID, r.clock.Now())
			return res, nil
		}
		// The holder finished or released; re-check the cache and, if it left
		// nothing behind, compete for the lease again.
	}
}

// lookup consults the cache, applying the fallback re-resolution policy.
func (r *SegmentResolver) lookup(ctx context.Context, res *Resolution) (domain.DistanceResult, bool) {
	cached, ok, err := r.cache.Get(ctx, res.CacheKey)
	if err != nil {
		if ctx.Err() == nil {
			r.degrade(res, domain.DiagCacheError, "cache read failed", err)
		}
		return domain.DistanceResult{}, false
	}
	if !ok {
		return domain.DistanceResult{}, false
	}

	if r.cfg.RetryNextRun && cached.Provenance() == domain.SourceFallback && cached.RunID != r.cfg.RunID {
		r.log.Debug("stale fallback, re-resolving",
			zap.String("key", res.CacheKey), zap.String("cached_run", cached.RunID))
		return domain.DistanceResult{}, false
	}

	return cached.AsCached(), true
}

// await blocks until the foreign lease ends, the wait budget runs out
// (ErrCacheLeaseExpired) or ctx is cancelled.
func (r *SegmentResolver) await(ctx context.Context, lease ports.Lease, waitUntil time.Time) error {
	now := r.clock.Now()
	if !now.Before(waitUntil) {
		return fmt.Errorf("await lease: %w", domain.ErrCacheLeaseExpired)
	}

	wait := waitUntil.Sub(now)
	done := lease.Done
	if done == nil {
		// Poll: wake at the earlier of the lease expiry and the poll interval.
		wait = min(wait, r.cfg.PollInterval)
		if !lease.ExpiresAt.IsZero() {
			if untilExpiry := lease.ExpiresAt.Sub(now); untilExpiry > 0 {
				wait = min(wait, untilExpiry)
			}
		}
	}

	timer := r.clock.After(wait)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	case <-timer:
		if done != nil {
			return fmt.Errorf("await lease: %w", domain.ErrCacheLeaseExpired)
		}
		return nil
	}
}

// resolveHeld runs the provider call while holding the lease. The lease is
// always released, on a context detached from cancellation so a cancelled run
// does not leave a stuck in-progress mark behind.
func (r *SegmentResolver) resolveHeld(
	ctx context.Context,
	res Resolution,
	lease ports.Lease,
	leaseDeadline time.Time,
	origin, dest domain.Stop,
) (Resolution, error) {
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := r.cache.ReleaseLease(rctx, res.CacheKey, lease.Token); err != nil {
			r.log.Warn("lease release failed", zap.String("key", res.CacheKey), zap.Error(err))
		}
	}()

	// Another resolver may have finished between our miss and the grant.
	if hit, ok := r.lookup(ctx, &res); ok {
		res.Result = hit
		return res, nil
	}

	out := r.call(ctx, origin, dest, leaseDeadline)
	res.Attempts = out.Attempts
	res.LastErr = out.LastErr

	if out.Decision == DecisionFatal {
		return Resolution{}, fmt.Errorf("resolve %s: %w", res.Key, out.LastErr)
	}

	now := r.clock.Now()
	if out.Succeeded() {
		res.Result = domain.DistanceResult{
			DistanceMeters:  out.Response.DistanceMeters,
			DurationSeconds: out.Response.DurationSeconds,
			Source:          domain.SourceProvider,
			RunID:           r.cfg.RunID,
			ResolvedAt:      now,
		}
	} else {
		res.Result = r.fallback.Estimate(origin.Location, dest.Location, r.cfg.RunID, now)
		if errors.Is(out.LastErr, errLeaseBudget) && out.Attempts == 0 {
			// The key was never tried; leave it for a holder with permit budget.
			r.degrade(&res, domain.DiagProviderFallback, "no rate-limit permit within lease", out.LastErr)
			return res, nil
		}
		r.degrade(&res, domain.DiagProviderFallback,
			fmt.Sprintf("provider failed after %d attempt(s)", out.Attempts), out.LastErr)
	}

	if err := r.cache.Put(ctx, res.CacheKey, res.Result); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Resolution{}, ctxErr
		}
		r.degrade(&res, domain.DiagCacheError, "cache write failed", err)
	}

	return res, nil
}

// call drives the provider through the rate limiter and retry policy. Every
// attempt must start early enough to finish before leaseDeadline; otherwise
// another resolver could take the lease over and call the provider too.
func (r *SegmentResolver) call(ctx context.Context, origin, dest domain.Stop, leaseDeadline time.Time) Outcome {
	req := ports.RouteRequest{
		Origin:        origin.Location,
		Destination:   dest.Location,
		OriginID:      domain.StoreIdentity(origin),
		DestinationID: domain.StoreIdentity(dest),
	}

	startBy := leaseDeadline.Add(-r.cfg.RequestTimeout)

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := r.limiter.AcquireBy(ctx, startBy); err != nil {
			if ctx.Err() != nil {
				return Outcome{Attempts: attempt - 1, LastErr: ctx.Err(), Decision: DecisionFatal}
			}
			if errors.Is(err, ErrPermitDeadline) {
				if lastErr != nil {
					return Outcome{Attempts: attempt - 1, LastErr: lastErr, Decision: DecisionFallback}
				}
				err = fmt.Errorf("%w: %w", errLeaseBudget, err)
			}
			return Outcome{Attempts: attempt - 1, LastErr: err, Decision: DecisionFallback}
		}
		if r.clock.Now().After(startBy) {
			return Outcome{Attempts: attempt - 1, LastErr: budgetErr(lastErr), Decision: DecisionFallback}
		}

		actx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
		resp, err := r.provider.Route(actx, req)
		cancel()

		if err == nil {
			err = validateResponse(resp)
		}
		if err == nil {
			return Outcome{Response: resp, Attempts: attempt}
		}

		if ctx.Err() != nil {
			return Outcome{Attempts: attempt, LastErr: ctx.Err(), Decision: DecisionFatal}
		}

		decision := r.policy.Decide(attempt, err)
		r.log.Debug("provider attempt failed",
			zap.Int("attempt", attempt),
			zap.Stringer("decision", decision),
			zap.Error(err),
		)
		if decision != DecisionRetry {
			return Outcome{Attempts: attempt, LastErr: err, Decision: decision}
		}
		lastErr = err

		backoff := r.policy.Backoff(attempt)
		if !r.clock.Now().Add(backoff).Before(startBy) {
			return Outcome{Attempts: attempt, LastErr: err, Decision: DecisionFallback}
		}

		select {
		case <-ctx.Done():
			return Outcome{Attempts: attempt, LastErr: ctx.Err(), Decision: DecisionFatal}
		case <-r.clock.After(backoff):
		}
	}
}

// budgetErr keeps the provider's last error when there was one.
func budgetErr(lastErr error) error {
	if lastErr != nil {
		return lastErr
	}
	return errLeaseBudget
}

func (r *SegmentResolver) degrade(res *Resolution, kind domain.DiagnosticKind, detail string, err error) {
	d := domain.Diagnostic{
		Kind:        kind,
		DriverID:    res.Key.DriverID,
		Date:        res.Key.Date,
		Fingerprint: res.Key.String(),
		Detail:      detail,
	}
	if err != nil {
		d.Err = err.Error()
	}
	res.Diagnostics = append(res.Diagnostics, d)

	r.log.Warn("segment degraded",
		zap.String("kind", string(kind)),
		zap.String("key", res.CacheKey),
		zap.String("detail", detail),
		zap.Error(err),
	)
}

func validateResponse(resp ports.RouteResponse) error {
	if math.IsNaN(resp.DistanceMeters) || math.IsInf(resp.DistanceMeters, 0) || resp.DistanceMeters < 0 {
		return &domain.ProviderError{Err: fmt.Errorf("malformed distance %v", resp.DistanceMeters)}
	}
	if d := resp.DurationSeconds; d != nil && (math.IsNaN(*d) || *d < 0) {
		return &domain.ProviderError{Err: fmt.Errorf("malformed duration %v", *d)}
	}
	return nil
}

package geocode

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/territory-sync/internal/domain"
)

// RateLimited wraps a Geocoder with a token bucket. One instance must be
// shared by every worker so the provider quota is enforced globally.
type RateLimited struct {
	inner   domain.Geocoder
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond requests with the given burst.
func NewRateLimited(inner domain.Geocoder, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) Geocode(ctx context.Context, address string) (domain.GeocodingResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("rate limiter: %w", err)
	}
	return r.inner.Geocode(ctx, address)
}

// Job is one record waiting for coordinates.
type Job struct {
	Ref     domain.EntityRef
	Address string
}

// Handler receives each finished job. It runs on a worker goroutine.
// Returning an error cancels the remaining jobs.
type Handler func(ctx context.Context, job Job, res Result) error

// Pool geocodes independent records concurrently with a bounded number of
// workers. Variants of a single record are still tried sequentially.
type Pool struct {
	orch    *Orchestrator
	gen     VariantGenerator
	workers int
}

// NewPool creates a Pool. workers below 1 is treated as 1.
func NewPool(orch *Orchestrator, gen VariantGenerator, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{orch: orch, gen: gen, workers: workers}
}

// Run geocodes every job and hands the result to handle. It stops early if
// ctx is cancelled or handle fails.
func (p *Pool) Run(ctx context.Context, jobs []Job, handle Handler) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, job := range jobs {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := p.orch.Geocode(gCtx, job.Address, p.gen)
			return handle(gCtx, job, res)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

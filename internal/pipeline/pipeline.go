// Package pipeline runs the territory sync: a geocode pass that fills in
// missing coordinates, followed by a consistency scan that repairs labels.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/territory-sync/internal/consistency"
	"github.com/couchcryptid/territory-sync/internal/domain"
	"github.com/couchcryptid/territory-sync/internal/geocode"
	"github.com/couchcryptid/territory-sync/internal/observability"
)

// publishTimeout bounds the outcome and summary publish after a run, which
// still happens when the run itself was cancelled.
const publishTimeout = 10 * time.Second

// ErrIncomplete is returned by a one-shot Run whose report has failures.
var ErrIncomplete = errors.New("run finished with failures")

// GeocodeStore reads records without coordinates and writes geocode results.
type GeocodeStore interface {
	ListUngeocoded(ctx context.Context, kind domain.EntityKind, afterID int64, limit int) ([]domain.LocationRecord, error)
	UpdateGeocode(ctx context.Context, ref domain.EntityRef, u domain.GeocodeUpdate) error
}

// Publisher ships repair outcomes and run summaries downstream.
type Publisher interface {
	PublishOutcomes(ctx context.Context, runID string, outcomes []consistency.Outcome) error
	PublishSummary(ctx context.Context, s consistency.Summary) error
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of a Pipeline. Geocodes and Publisher may be
// nil, which disables the geocode pass and publishing respectively.
type Deps struct {
	Store     GeocodeStore
	Pinger    Pinger
	Geocodes  *geocode.Pool
	Validator *consistency.Validator
	Repairer  *consistency.Repairer
	Publisher Publisher
}

// Options tune a Pipeline.
type Options struct {
	PageSize int
	Interval time.Duration // 0 runs once
	Repair   bool          // false only reports findings
	Output   io.Writer     // text report destination; nil logs only
	Store    consistency.StoreOptions
}

// Pipeline orchestrates geocode and consistency runs.
type Pipeline struct {
	deps    Deps
	opts    Options
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	last    atomic.Pointer[consistency.Summary]
}

// New creates a Pipeline.
func New(deps Deps, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if opts.PageSize < 1 {
		opts.PageSize = consistency.DefaultPageSize
	}
	if deps.Geocodes != nil {
		metrics.GeocodeEnabled.Set(1)
	} else {
		metrics.GeocodeEnabled.Set(0)
	}
	return &Pipeline{
		deps:    deps,
		opts:    opts,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil when the location store answers a ping.
func (p *Pipeline) CheckReadiness(ctx context.Context) error {
	if p.deps.Pinger == nil {
		return nil
	}
	if err := p.deps.Pinger.Ping(ctx); err != nil {
		return fmt.Errorf("location store: %w", err)
	}
	return nil
}

// LastReport returns the summary of the most recent finished run.
func (p *Pipeline) LastReport() (consistency.Summary, bool) {
	s := p.last.Load()
	if s == nil {
		return consistency.Summary{}, false
	}
	return *s, true
}

// Run executes one run, or one run per interval until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		"page_size", p.opts.PageSize,
		"interval", p.opts.Interval,
		"repair", p.opts.Repair,
		"geocode", p.deps.Geocodes != nil,
	)

	for {
		report := p.RunOnce(ctx)

		if p.opts.Interval <= 0 {
			if !report.Clean() {
				return fmt.Errorf("run %s: %w", report.RunID, ErrIncomplete)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-p.clock.After(p.opts.Interval):
		}
	}
}

// RunOnce performs a full geocode and consistency pass and returns its
// report. Cancellation ends the run early; the partial report is still
// published and records where each scan can resume.
func (p *Pipeline) RunOnce(ctx context.Context) *consistency.Report {
	start := p.clock.Now()
	report := consistency.NewReport(start.UTC())
	logger := p.logger.With("run_id", report.RunID)

	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	logger.Info("run started")

	if p.deps.Geocodes != nil {
		if err := p.geocodePass(ctx, report, logger); err != nil {
			report.AddError(fmt.Errorf("geocode pass: %w", err))
		}
	}

	outcomes := p.consistencyPass(ctx, report)

	report.Finish(p.clock.Now().UTC())
	p.metrics.RunDuration.Observe(p.clock.Since(start).Seconds())

	p.publish(ctx, report, outcomes, logger)

	summary := report.Summary()
	p.last.Store(&summary)

	if p.opts.Output != nil {
		if err := report.WriteText(p.opts.Output); err != nil {
			logger.Warn("write report failed", "error", err)
		}
	}
	logger.Info("run finished",
		"duration", report.FinishedAt.Sub(report.StartedAt),
		"findings", summary.Findings,
		"outcomes", summary.Outcomes,
		"manual_review", len(summary.Manual),
		"failures", len(summary.Failures),
	)
	return report
}

// geocodePass pages through every record without coordinates and persists
// each geocode result. A failed store read ends the pass for that kind only.
func (p *Pipeline) geocodePass(ctx context.Context, report *consistency.Report, logger *slog.Logger) error {
	for _, kind := range domain.EntityKinds {
		var afterID int64
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			var recs []domain.LocationRecord
			err := p.storeCall(ctx, "list ungeocoded", func(ctx context.Context) error {
				var err error
				recs, err = p.deps.Store.ListUngeocoded(ctx, kind, afterID, p.opts.PageSize)
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				report.AddError(fmt.Errorf("list ungeocoded %s after id %d: %w", kind, afterID, err))
				break
			}
			if len(recs) == 0 {
				break
			}

			jobs := make([]geocode.Job, 0, len(recs))
			for _, rec := range recs {
				jobs = append(jobs, geocode.Job{Ref: rec.Ref, Address: rec.Address})
			}
			if err := p.deps.Geocodes.Run(ctx, jobs, p.saveGeocode(report, logger)); err != nil {
				return err
			}

			afterID = recs[len(recs)-1].Ref.ID
			if len(recs) < p.opts.PageSize {
				break
			}
		}
	}
	return nil
}

func (p *Pipeline) saveGeocode(report *consistency.Report, logger *slog.Logger) geocode.Handler {
	return func(ctx context.Context, job geocode.Job, res geocode.Result) error {
		// A result cut short by cancellation says nothing about the address.
		if err := ctx.Err(); err != nil {
			return err
		}
		err := p.storeCall(ctx, "update geocode", func(ctx context.Context) error {
			return p.deps.Store.UpdateGeocode(ctx, job.Ref, res.Update())
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report.AddError(fmt.Errorf("save geocode %s: %w", job.Ref, err))
			return nil
		}
		report.AddGeocode(string(res.Status))
		logger.Debug("geocoded",
			"entity", job.Ref.String(),
			"status", res.Status,
			"attempts", len(res.Attempts),
		)
		return nil
	}
}

func (p *Pipeline) storeCall(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return consistency.StoreRetry(ctx, p.opts.Store, p.clock, p.logger, p.metrics, op, fn)
}

// consistencyPass scans every kind and repairs what it finds. Cancellation
// is honored between records; a repair already started runs to completion.
func (p *Pipeline) consistencyPass(ctx context.Context, report *consistency.Report) []consistency.Outcome {
	var outcomes []consistency.Outcome
	for _, kind := range domain.EntityKinds {
		var handled consistency.Cursor
		for f, err := range p.deps.Validator.Scan(ctx, kind, p.opts.PageSize, 0) {
			if err != nil {
				report.AddError(err)
				continue
			}
			if ctx.Err() != nil {
				report.AddError(&consistency.ScanError{Kind: kind, Resume: handled, Err: ctx.Err()})
				break
			}
			if !p.opts.Repair {
				report.AddFinding(f)
			} else {
				o := p.deps.Repairer.Repair(ctx, f)
				report.AddOutcome(o)
				outcomes = append(outcomes, o)
			}
			handled = consistency.Cursor(f.Ref.ID)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return outcomes
}

func (p *Pipeline) publish(ctx context.Context, report *consistency.Report, outcomes []consistency.Outcome, logger *slog.Logger) {
	if p.deps.Publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.deps.Publisher.PublishOutcomes(pubCtx, report.RunID, outcomes); err != nil {
		logger.Error("publish outcomes failed", "error", err, "count", len(outcomes))
		report.AddError(fmt.Errorf("publish outcomes: %w", err))
	}
	if err := p.deps.Publisher.PublishSummary(pubCtx, report.Summary()); err != nil {
		logger.Error("publish summary failed", "error", err)
		report.AddError(fmt.Errorf("publish summary: %w", err))
	}
}

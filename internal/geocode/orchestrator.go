// Package geocode turns raw club and meet addresses into coordinates by
// walking a ladder of address variants against an external geocoder.
package geocode

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/territory-sync/internal/backoff"
	"github.com/couchcryptid/territory-sync/internal/domain"
	"github.com/couchcryptid/territory-sync/internal/observability"
)

// Status is the terminal state of a geocode run for one address.
type Status string

const (
	// StatusSuccess: a variant produced a usable coordinate.
	StatusSuccess Status = "success"
	// StatusUnresolved: every variant came back as a semantic no-match.
	StatusUnresolved Status = "unresolved"
	// StatusFailed: at least one variant ended in a provider or exhausted
	// transient error, or the run was cancelled.
	StatusFailed Status = "failed"
)

const outcomeSuccess = "success"

// Attempt is one call to the geocoder.
type Attempt struct {
	Variant string
	Retry   int    // 0 for the first call of a variant
	Outcome string // "success" or a domain.FailureKind string
	Error   string
}

// Result is the outcome of Geocode. FailureCount is the number of variants
// that failed: the variants tried before success, or all of them.
type Result struct {
	Coordinate       *domain.Coordinate
	FormattedAddress string
	Attempts         []Attempt
	FailureCount     int
	Status           Status
}

// ErrorSummary describes the last failed attempt, or "" on success.
func (r Result) ErrorSummary() string {
	if r.Status == StatusSuccess {
		return ""
	}
	for i := len(r.Attempts) - 1; i >= 0; i-- {
		a := r.Attempts[i]
		if a.Outcome != outcomeSuccess {
			return fmt.Sprintf("%d variant(s) failed; last %q: %s", r.FailureCount, a.Variant, a.Error)
		}
	}
	return "no address variants to try"
}

// Update converts the result into the fields persisted on the record.
func (r Result) Update() domain.GeocodeUpdate {
	u := domain.GeocodeUpdate{
		Coordinate: r.Coordinate,
		Error:      r.ErrorSummary(),
		Failures:   r.FailureCount,
	}
	switch r.Status {
	case StatusSuccess:
		u.Status = domain.GeocodeSuccess
	case StatusUnresolved:
		u.Status = domain.GeocodeUnresolved
	default:
		u.Status = domain.GeocodeFailure
	}
	return u
}

// Orchestrator runs the variant ladder for a single address.
type Orchestrator struct {
	geocoder domain.Geocoder
	policy   backoff.Policy
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewOrchestrator creates an Orchestrator. policy bounds the retries of a
// single variant on transient provider errors.
func NewOrchestrator(geocoder domain.Geocoder, policy backoff.Policy, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		geocoder: geocoder,
		policy:   policy,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

type state int

const (
	stateNextVariant state = iota
	stateCall
	stateBackoff
	stateSuccess
	stateUnresolved
	stateFailed
)

// run holds the mutable state of one Geocode call.
type run struct {
	variants []string
	current  int
	retry    int
	failures int
	hard     bool // a variant failed for a reason other than no-match
	lastErr  error
	result   domain.GeocodingResult
	attempts []Attempt
}

// Geocode tries each variant of rawAddress in order until one yields a
// usable coordinate.
//
// NoMatch and ProviderError advance to the next variant immediately.
// RateLimited and Timeout retry the same variant with exponential backoff up
// to the policy's retry limit, then count the variant as failed.
func (o *Orchestrator) Geocode(ctx context.Context, rawAddress string, gen VariantGenerator) Result {
	r := &run{variants: gen.Variants(rawAddress), current: -1}

	st := stateNextVariant
	for {
		switch st {
		case stateNextVariant:
			r.current++
			r.retry = 0
			switch {
			case r.current < len(r.variants):
				st = stateCall
			case r.hard:
				st = stateFailed
			default:
				st = stateUnresolved
			}

		case stateCall:
			// A variant never sent is not a failed variant.
			if err := ctx.Err(); err != nil {
				r.lastErr = err
				st = stateFailed
				continue
			}
			st = o.call(ctx, r)

		case stateBackoff:
			r.retry++
			if !backoff.Sleep(ctx, o.clock, o.policy.Delay(r.retry)) {
				r.lastErr = ctx.Err()
				r.failures++
				st = stateFailed
				continue
			}
			st = stateCall

		case stateSuccess:
			coord := r.result.Coordinate
			return o.finish(rawAddress, r, Result{
				Coordinate:       &coord,
				FormattedAddress: r.result.FormattedAddress,
				Attempts:         r.attempts,
				FailureCount:     r.failures,
				Status:           StatusSuccess,
			})

		case stateUnresolved:
			return o.finish(rawAddress, r, Result{
				Attempts:     r.attempts,
				FailureCount: r.failures,
				Status:       StatusUnresolved,
			})

		case stateFailed:
			return o.finish(rawAddress, r, Result{
				Attempts:     r.attempts,
				FailureCount: r.failures,
				Status:       StatusFailed,
			})
		}
	}
}

// call performs one geocoder request and picks the next state.
func (o *Orchestrator) call(ctx context.Context, r *run) state {
	variant := r.variants[r.current]

	res, err := o.geocoder.Geocode(ctx, variant)
	if err == nil && !usable(res.Coordinate) {
		err = domain.NoMatch(variant)
	}
	if err == nil {
		r.result = res
		r.record(variant, outcomeSuccess, nil)
		o.metrics.GeocodeAttempts.WithLabelValues(outcomeSuccess).Inc()
		return stateSuccess
	}

	kind := domain.FailureKindOf(err)
	r.lastErr = err
	r.record(variant, kind.String(), err)
	o.metrics.GeocodeAttempts.WithLabelValues(kind.String()).Inc()

	switch kind {
	case domain.FailureRateLimited, domain.FailureTimeout:
		if r.retry < o.policy.MaxRetries && ctx.Err() == nil {
			o.logger.Debug("transient geocode failure, retrying",
				"variant", variant,
				"retry", r.retry+1,
				"error", err,
			)
			return stateBackoff
		}
		r.hard = true
	case domain.FailureNoMatch:
	default:
		r.hard = true
	}
	r.failures++
	return stateNextVariant
}

func (r *run) record(variant, outcome string, err error) {
	a := Attempt{Variant: variant, Retry: r.retry, Outcome: outcome}
	if err != nil {
		a.Error = err.Error()
	}
	r.attempts = append(r.attempts, a)
}

func (o *Orchestrator) finish(rawAddress string, r *run, res Result) Result {
	o.metrics.GeocodeResults.WithLabelValues(string(res.Status)).Inc()
	if res.Status != StatusSuccess {
		o.logger.Info("address not geocoded",
			"address", rawAddress,
			"status", res.Status,
			"variants", len(r.variants),
			"attempts", len(res.Attempts),
			"error", r.lastErr,
		)
	}
	return res
}

// usable rejects out-of-range coordinates and the (0,0) placeholder.
func usable(c domain.Coordinate) bool {
	return c.Valid() && !c.IsZero()
}

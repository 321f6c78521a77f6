package consistency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/territory-sync/internal/domain"
	"github.com/couchcryptid/territory-sync/internal/observability"
	"github.com/couchcryptid/territory-sync/internal/territory"
)

// OutcomeStatus is the terminal state of one repair.
type OutcomeStatus string

const (
	StatusApplied  OutcomeStatus = "applied"
	StatusSkipped  OutcomeStatus = "skipped"
	StatusConflict OutcomeStatus = "conflict"
	StatusFailed   OutcomeStatus = "failed"
)

// Outcome is the result of repairing one finding. Label is the value that
// was (or would have been) written.
type Outcome struct {
	Finding Finding       `json:"finding"`
	Status  OutcomeStatus `json:"status"`
	Label   string        `json:"label,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Result  RepairResult  `json:"result"`
}

// NeedsReview reports whether a person has to look at the entity.
func (o Outcome) NeedsReview() bool {
	return o.Status == StatusSkipped || o.Status == StatusConflict
}

// Repairer writes corrected labels back to the store.
type Repairer struct {
	store     Store
	validator *Validator
	resolver  *territory.Resolver
	opts      StoreOptions
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewRepairer creates a Repairer. validator is used to re-check an entity
// whose canonical label changed between scan and repair.
func NewRepairer(store Store, validator *Validator, resolver *territory.Resolver, opts StoreOptions, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Repairer {
	return &Repairer{
		store:     store,
		validator: validator,
		resolver:  resolver,
		opts:      opts,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Repair fixes one finding.
//
// A Disagreement copies the canonical label onto every divergent derived
// copy. An InvalidLabel re-resolves the stored coordinates and writes the
// result to the canonical record and all derived copies, but only when the
// resolution is unambiguous; anything else is skipped for manual review.
//
// The write is a single transaction. Once started it is not interrupted by
// cancellation of ctx, only by the per-call timeout. If the canonical label
// changed since the finding was computed, the entity is validated again and
// the fresh finding is repaired once; a second conflict is reported.
func (r *Repairer) Repair(ctx context.Context, f Finding) Outcome {
	out := r.repair(ctx, f, true)
	r.metrics.Repairs.WithLabelValues(string(out.Status)).Inc()

	attrs := []any{
		"entity", out.Finding.Ref.String(),
		"kind", out.Finding.Kind,
		"status", out.Status,
	}
	switch out.Status {
	case StatusApplied:
		r.logger.Info("repair applied", append(attrs,
			"territory", out.Label,
			"canonical_updated", out.Result.CanonicalUpdated,
			"derived_updated", out.Result.DerivedUpdated,
		)...)
	case StatusFailed:
		r.logger.Error("repair failed", append(attrs, "error", out.Reason)...)
	default:
		r.logger.Warn("repair needs review", append(attrs, "reason", out.Reason)...)
	}
	return out
}

func (r *Repairer) repair(ctx context.Context, f Finding, revalidate bool) Outcome {
	unit, reason, ok := r.plan(f)
	if !ok {
		return Outcome{Finding: f, Status: StatusSkipped, Reason: reason}
	}

	res, err := r.apply(ctx, unit)
	switch {
	case err == nil:
		return Outcome{Finding: f, Status: StatusApplied, Label: unit.Label, Result: res}

	case errors.Is(err, domain.ErrRepairConflict):
		if !revalidate {
			return Outcome{Finding: f, Status: StatusConflict, Label: unit.Label, Reason: err.Error()}
		}
		fresh, found, checkErr := r.validator.Check(ctx, f.Ref)
		if checkErr != nil {
			return Outcome{Finding: f, Status: StatusFailed, Label: unit.Label, Reason: "re-validate: " + checkErr.Error()}
		}
		if !found {
			return Outcome{Finding: f, Status: StatusSkipped, Reason: "record changed concurrently and no longer needs repair"}
		}
		return r.repair(ctx, fresh, false)

	default:
		return Outcome{Finding: f, Status: StatusFailed, Label: unit.Label, Reason: err.Error()}
	}
}

// plan decides what to write for a finding. ok is false when the finding
// must be left for manual review.
func (r *Repairer) plan(f Finding) (unit RepairUnit, reason string, ok bool) {
	switch f.Kind {
	case KindDisagreement:
		if f.Label == nil || *f.Label == "" {
			return RepairUnit{}, "canonical label is empty", false
		}
		return RepairUnit{Ref: f.Ref, Expected: f.Label, Label: *f.Label}, "", true

	case KindInvalidLabel:
		if f.Coordinate == nil {
			return RepairUnit{}, "no stored coordinates to resolve", false
		}
		res := r.resolve(f)
		switch res.Status {
		case territory.Resolved:
			return RepairUnit{Ref: f.Ref, Expected: f.Label, Label: res.Territory, Canonical: true}, "", true
		case territory.Ambiguous:
			return RepairUnit{}, fmt.Sprintf("coordinates %s are ambiguous between %s", f.Coordinate, strings.Join(res.Candidates, ", ")), false
		default:
			return RepairUnit{}, fmt.Sprintf("coordinates %s are outside every territory", f.Coordinate), false
		}
	}
	return RepairUnit{}, fmt.Sprintf("unknown finding kind %q", f.Kind), false
}

// resolve reuses the resolution made during validation. Findings built
// elsewhere are resolved here.
func (r *Repairer) resolve(f Finding) territory.Resolution {
	if f.resolution != nil {
		return *f.resolution
	}
	return r.resolver.Resolve(f.Coordinate.Lat, f.Coordinate.Lng)
}

// apply runs the repair transaction. The transaction context is detached
// from ctx cancellation; ctx still stops the retry loop between attempts.
func (r *Repairer) apply(ctx context.Context, unit RepairUnit) (RepairResult, error) {
	var res RepairResult
	err := StoreRetry(ctx, r.opts, r.clock, r.logger, r.metrics, "apply repair", func(callCtx context.Context) error {
		txCtx, cancel := r.opts.callContext(context.WithoutCancel(callCtx))
		defer cancel()
		var err error
		res, err = r.store.ApplyRepair(txCtx, unit)
		return err
	})
	return res, err
}

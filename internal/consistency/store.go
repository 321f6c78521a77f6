// Package consistency finds territory labels that are not canonical or that
// disagree across tables, and repairs them one entity at a time.
package consistency

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/territory-sync/internal/backoff"
	"github.com/couchcryptid/territory-sync/internal/domain"
	"github.com/couchcryptid/territory-sync/internal/observability"
)

// Store is the location store as seen by the validator and repairer.
type Store interface {
	// ListLocations returns up to limit records of kind with id > afterID,
	// ordered by id.
	ListLocations(ctx context.Context, kind domain.EntityKind, afterID int64, limit int) ([]domain.LocationRecord, error)

	// ListDerived returns the derived label copies for the given entity ids,
	// keyed by entity id. Entities without copies may be absent.
	ListDerived(ctx context.Context, kind domain.EntityKind, ids []int64) (map[int64][]domain.DerivedRecord, error)

	// GetLocation returns one record and its derived copies, or
	// domain.ErrNotFound.
	GetLocation(ctx context.Context, ref domain.EntityRef) (domain.LocationRecord, []domain.DerivedRecord, error)

	// ApplyRepair applies unit in a single transaction. See RepairUnit.
	ApplyRepair(ctx context.Context, unit RepairUnit) (RepairResult, error)
}

// RepairUnit is one atomic write covering a canonical record and all of its
// derived copies.
//
// The store locks the canonical record and compares its label with Expected.
// If it matches neither Expected nor Label the unit fails with
// domain.ErrRepairConflict and nothing is written. Otherwise the canonical
// label is set to Label when Canonical is true, and every derived copy whose
// value differs from Label is overwritten. Applying the same unit twice
// leaves the same state as applying it once.
type RepairUnit struct {
	Ref       domain.EntityRef
	Expected  *string
	Label     string
	Canonical bool
}

// RepairResult reports what ApplyRepair changed.
type RepairResult struct {
	CanonicalUpdated bool `json:"canonical_updated"`
	DerivedUpdated   int  `json:"derived_updated"`
}

// Cursor is the last primary key processed for an entity kind. The zero
// cursor starts from the beginning.
type Cursor int64

// StoreOptions bound every location store call made during a run.
type StoreOptions struct {
	Timeout time.Duration
	Retry   backoff.Policy
}

// callContext applies the per-call timeout.
func (o StoreOptions) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.Timeout)
}

// retryableStoreError reports whether a store error is worth retrying.
// Per-call timeouts are; cancellation, conflicts and missing rows are not.
func retryableStoreError(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, domain.ErrRepairConflict),
		errors.Is(err, domain.ErrNotFound):
		return false
	}
	return true
}

// StoreRetry runs one store call under the per-call timeout, retrying
// transient failures with backoff. Every retry is logged and counted.
func StoreRetry(ctx context.Context, opts StoreOptions, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, op string, fn func(ctx context.Context) error) error {
	onRetry := func(retry int, err error) {
		metrics.StoreRetries.Inc()
		logger.Warn("store call failed, retrying",
			"op", op,
			"retry", retry,
			"max_retries", opts.Retry.MaxRetries,
			"error", err,
		)
	}
	return backoff.Retry(ctx, clock, opts.Retry, retryableStoreError, onRetry, func(ctx context.Context) error {
		callCtx, cancel := opts.callContext(ctx)
		defer cancel()
		return fn(callCtx)
	})
}

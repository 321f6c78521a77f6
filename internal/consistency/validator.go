package consistency

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/territory-sync/internal/domain"
	"github.com/couchcryptid/territory-sync/internal/observability"
	"github.com/couchcryptid/territory-sync/internal/territory"
)

// DefaultPageSize is used when Scan is given a page size below 1.
const DefaultPageSize = 500

// Validator checks stored territory labels against the territory index.
type Validator struct {
	store    Store
	resolver *territory.Resolver
	opts     StoreOptions
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewValidator creates a Validator.
func NewValidator(store Store, resolver *territory.Resolver, opts StoreOptions, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Validator {
	return &Validator{
		store:    store,
		resolver: resolver,
		opts:     opts,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// Scan lazily validates every record of kind with id greater than from.
//
// Records are read one page at a time in primary key order; the next page
// is fetched only after the consumer has taken every finding of the current
// one. A page that cannot be read after the configured retries, or a
// cancelled ctx, ends the sequence with a *ScanError carrying the resume
// cursor. Records inserted after the scan began may or may not be seen.
func (v *Validator) Scan(ctx context.Context, kind domain.EntityKind, pageSize int, from Cursor) iter.Seq2[Finding, error] {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return func(yield func(Finding, error) bool) {
		cursor := from
		for {
			if err := ctx.Err(); err != nil {
				yield(Finding{}, &ScanError{Kind: kind, Resume: cursor, Err: err})
				return
			}

			page, derived, err := v.fetchPage(ctx, kind, cursor, pageSize)
			if err != nil {
				yield(Finding{}, &ScanError{Kind: kind, Resume: cursor, Err: err})
				return
			}
			if len(page) == 0 {
				return
			}

			v.metrics.PagesScanned.WithLabelValues(string(kind)).Inc()
			v.metrics.RecordsScanned.WithLabelValues(string(kind)).Add(float64(len(page)))

			for _, rec := range page {
				f, ok := v.Validate(rec, derived[rec.Ref.ID])
				if !ok {
					continue
				}
				v.metrics.Findings.WithLabelValues(string(f.Kind)).Inc()
				if !yield(f, nil) {
					return
				}
			}

			cursor = Cursor(page[len(page)-1].Ref.ID)
			v.logger.Debug("page validated",
				"kind", kind,
				"records", len(page),
				"cursor", int64(cursor),
			)
			if len(page) < pageSize {
				return
			}
		}
	}
}

// Validate applies the canonicality and cross-table rules to one record.
// A record with an invalid canonical label yields only the InvalidLabel
// finding, since copying an invalid label onto derived records would be
// wrong.
func (v *Validator) Validate(rec domain.LocationRecord, derived []domain.DerivedRecord) (Finding, bool) {
	f := Finding{
		Ref:        rec.Ref,
		Name:       rec.Name,
		Label:      rec.Territory,
		Coordinate: rec.Coordinate,
		Divergent:  divergent(rec.Territory, derived),
	}

	var res *territory.Resolution
	if rec.Coordinate != nil {
		r := v.resolver.Resolve(rec.Coordinate.Lat, rec.Coordinate.Lng)
		res = &r
	}

	switch label := rec.TerritoryLabel(); {
	case label == "":
		f.Kind, f.Reason = KindInvalidLabel, ReasonMissing
	case !v.resolver.Index().Contains(label):
		f.Kind, f.Reason = KindInvalidLabel, ReasonNotCanonical
	case res != nil && res.Status == territory.Resolved && res.Territory != label:
		f.Kind, f.Reason, f.Suggested = KindInvalidLabel, ReasonGeometryMismatch, res.Territory
	}

	if f.Kind == KindInvalidLabel {
		f.resolution = res
	}
	if f.Kind == "" && len(f.Divergent) > 0 {
		f.Kind = KindDisagreement
	}
	if f.Kind == "" {
		return Finding{}, false
	}
	return f, true
}

// Check re-reads one entity and validates it again. ok is false when the
// entity no longer exists or no longer has a problem.
func (v *Validator) Check(ctx context.Context, ref domain.EntityRef) (Finding, bool, error) {
	var (
		rec     domain.LocationRecord
		derived []domain.DerivedRecord
	)
	err := v.withRetry(ctx, "get location", func(ctx context.Context) error {
		var err error
		rec, derived, err = v.store.GetLocation(ctx, ref)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return Finding{}, false, nil
	}
	if err != nil {
		return Finding{}, false, err
	}
	f, ok := v.Validate(rec, derived)
	return f, ok, nil
}

func (v *Validator) fetchPage(ctx context.Context, kind domain.EntityKind, cursor Cursor, limit int) ([]domain.LocationRecord, map[int64][]domain.DerivedRecord, error) {
	var page []domain.LocationRecord
	err := v.withRetry(ctx, "list locations", func(ctx context.Context) error {
		var err error
		page, err = v.store.ListLocations(ctx, kind, int64(cursor), limit)
		return err
	})
	if err != nil || len(page) == 0 {
		return nil, nil, err
	}

	ids := make([]int64, len(page))
	for i, rec := range page {
		ids[i] = rec.Ref.ID
	}
	var derived map[int64][]domain.DerivedRecord
	err = v.withRetry(ctx, "list derived", func(ctx context.Context) error {
		var err error
		derived, err = v.store.ListDerived(ctx, kind, ids)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return page, derived, nil
}

// withRetry runs one store call under the per-call timeout, retrying
// transient failures with backoff.
func (v *Validator) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return StoreRetry(ctx, v.opts, v.clock, v.logger, v.metrics, op, fn)
}

// divergent returns the derived copies whose label differs from canonical.
// A null copy always differs from a non-null canonical label.
func divergent(canonical *string, derived []domain.DerivedRecord) []domain.DerivedRecord {
	var out []domain.DerivedRecord
	for _, d := range derived {
		if !domain.SameLabel(canonical, d.Territory) {
			out = append(out, d)
		}
	}
	return out
}

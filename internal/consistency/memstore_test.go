package consistency

import (
	"context"
	"slices"
	"sync"

	"github.com/couchcryptid/territory-sync/internal/domain"
)

// memStore is an in-memory Store with the same repair semantics as the
// Postgres store, plus hooks for injecting failures.
type memStore struct {
	mu      sync.Mutex
	records map[domain.EntityKind]map[int64]*domain.LocationRecord
	derived map[domain.EntityKind]map[int64][]domain.DerivedRecord

	listErrs    []error // returned by successive ListLocations calls
	applyErrs   []error // returned by successive ApplyRepair calls
	beforeApply func(s *memStore, unit RepairUnit)
	listCalls   int
	applyCalls  int
}

func newMemStore() *memStore {
	return &memStore{
		records: map[domain.EntityKind]map[int64]*domain.LocationRecord{},
		derived: map[domain.EntityKind]map[int64][]domain.DerivedRecord{},
	}
}

func (s *memStore) put(rec domain.LocationRecord, derived ...domain.DerivedRecord) {
	if s.records[rec.Ref.Kind] == nil {
		s.records[rec.Ref.Kind] = map[int64]*domain.LocationRecord{}
		s.derived[rec.Ref.Kind] = map[int64][]domain.DerivedRecord{}
	}
	s.records[rec.Ref.Kind][rec.Ref.ID] = &rec
	if len(derived) > 0 {
		s.derived[rec.Ref.Kind][rec.Ref.ID] = derived
	}
}

// setLabel changes a canonical label without locking; used from hooks.
func (s *memStore) setLabel(ref domain.EntityRef, label *string) {
	s.records[ref.Kind][ref.ID].Territory = label
}

// labels returns the canonical label followed by every derived label.
func (s *memStore) labels(ref domain.EntityRef) []*string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*string{s.records[ref.Kind][ref.ID].Territory}
	for _, d := range s.derived[ref.Kind][ref.ID] {
		out = append(out, d.Territory)
	}
	return out
}

func (s *memStore) ListLocations(_ context.Context, kind domain.EntityKind, afterID int64, limit int) ([]domain.LocationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if len(s.listErrs) > 0 {
		err := s.listErrs[0]
		s.listErrs = s.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	var ids []int64
	for id := range s.records[kind] {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]domain.LocationRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.records[kind][id])
	}
	return out, nil
}

func (s *memStore) ListDerived(_ context.Context, kind domain.EntityKind, ids []int64) (map[int64][]domain.DerivedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int64][]domain.DerivedRecord{}
	for _, id := range ids {
		if d := s.derived[kind][id]; len(d) > 0 {
			out[id] = slices.Clone(d)
		}
	}
	return out, nil
}

func (s *memStore) GetLocation(_ context.Context, ref domain.EntityRef) (domain.LocationRecord, []domain.DerivedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ref.Kind][ref.ID]
	if !ok {
		return domain.LocationRecord{}, nil, domain.ErrNotFound
	}
	return *rec, slices.Clone(s.derived[ref.Kind][ref.ID]), nil
}

func (s *memStore) ApplyRepair(_ context.Context, unit RepairUnit) (RepairResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyCalls++
	if s.beforeApply != nil {
		s.beforeApply(s, unit)
	}
	if len(s.applyErrs) > 0 {
		err := s.applyErrs[0]
		s.applyErrs = s.applyErrs[1:]
		if err != nil {
			return RepairResult{}, err
		}
	}

	rec, ok := s.records[unit.Ref.Kind][unit.Ref.ID]
	if !ok {
		return RepairResult{}, domain.ErrNotFound
	}
	target := &unit.Label
	if !domain.SameLabel(rec.Territory, unit.Expected) && !domain.SameLabel(rec.Territory, target) {
		return RepairResult{}, domain.ErrRepairConflict
	}

	var res RepairResult
	if unit.Canonical && !domain.SameLabel(rec.Territory, target) {
		rec.Territory = domain.StringPtr(unit.Label)
		res.CanonicalUpdated = true
	}
	derived := s.derived[unit.Ref.Kind][unit.Ref.ID]
	for i := range derived {
		if !domain.SameLabel(derived[i].Territory, target) {
			derived[i].Territory = domain.StringPtr(unit.Label)
			res.DerivedUpdated++
		}
	}
	return res, nil
}

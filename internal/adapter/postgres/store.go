// Package postgres stores club and meet locations and their derived
// territory copies in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/territory-sync/internal/consistency"
	"github.com/couchcryptid/territory-sync/internal/domain"
)

//go:embed schema.sql
var schema string

// table maps an entity kind to its canonical table and derived column.
type table struct {
	name    string // canonical table
	fk      string // meet_results column referencing it
	copyCol string // meet_results column holding the copy
}

var tables = map[domain.EntityKind]table{
	domain.EntityClub: {name: "clubs", fk: "club_id", copyCol: "club_territory"},
	domain.EntityMeet: {name: "meets", fk: "meet_id", copyCol: "meet_territory"},
}

func tableFor(kind domain.EntityKind) (table, error) {
	t, ok := tables[kind]
	if !ok {
		return table{}, fmt.Errorf("postgres: unknown entity kind %q", kind)
	}
	return t, nil
}

var _ consistency.Store = (*Store)(nil)

// Store implements consistency.Store and the geocode store over pgx.
type Store struct {
	db *pgxpool.Pool
}

// Connect opens a pool and verifies the connection.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// New creates a Store.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

const locationColumns = `id, name, address, lat, lng, wso, geocode_status, geocode_error, geocode_failures`

// ListLocations returns one keyset page of canonical records.
func (s *Store) ListLocations(ctx context.Context, kind domain.EntityKind, afterID int64, limit int) ([]domain.LocationRecord, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE id > $1 ORDER BY id LIMIT $2`, locationColumns, t.name)
	return s.queryLocations(ctx, kind, sql, afterID, limit)
}

// ListUngeocoded returns one keyset page of records that have an address,
// no coordinates, and have not been classified as unresolvable.
func (s *Store) ListUngeocoded(ctx context.Context, kind domain.EntityKind, afterID int64, limit int) ([]domain.LocationRecord, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE id > $1
			AND (lat IS NULL OR lng IS NULL)
			AND address <> ''
			AND geocode_status <> $3
		ORDER BY id
		LIMIT $2`, locationColumns, t.name)
	return s.queryLocations(ctx, kind, sql, afterID, limit, string(domain.GeocodeUnresolved))
}

func (s *Store) queryLocations(ctx context.Context, kind domain.EntityKind, sql string, args ...any) ([]domain.LocationRecord, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query %s: %w", kind, err)
	}
	defer rows.Close()

	var out []domain.LocationRecord
	for rows.Next() {
		rec, err := scanLocation(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", kind, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate %s: %w", kind, err)
	}
	return out, nil
}

func scanLocation(row pgx.Row, kind domain.EntityKind) (domain.LocationRecord, error) {
	var (
		rec      domain.LocationRecord
		lat, lng *float64
		status   string
	)
	rec.Ref.Kind = kind
	err := row.Scan(
		&rec.Ref.ID,
		&rec.Name,
		&rec.Address,
		&lat,
		&lng,
		&rec.Territory,
		&status,
		&rec.GeoError,
		&rec.GeoFailures,
	)
	if err != nil {
		return domain.LocationRecord{}, err
	}
	if lat != nil && lng != nil {
		rec.Coordinate = &domain.Coordinate{Lat: *lat, Lng: *lng}
	}
	rec.GeoStatus = domain.GeocodeStatus(status)
	return rec, nil
}

// ListDerived returns the meet_results copies for the given entity ids.
func (s *Store) ListDerived(ctx context.Context, kind domain.EntityKind, ids []int64) (map[int64][]domain.DerivedRecord, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	out := map[int64][]domain.DerivedRecord{}
	if len(ids) == 0 {
		return out, nil
	}

	sql := fmt.Sprintf(`
		SELECT %[1]s, id, %[2]s FROM meet_results
		WHERE %[1]s = ANY($1)
		ORDER BY %[1]s, id`, t.fk, t.copyCol)
	rows, err := s.db.Query(ctx, sql, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: query derived %s: %w", kind, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			owner int64
			d     = domain.DerivedRecord{Table: "meet_results." + t.copyCol}
		)
		if err := rows.Scan(&owner, &d.ID, &d.Territory); err != nil {
			return nil, fmt.Errorf("postgres: scan derived %s: %w", kind, err)
		}
		out[owner] = append(out[owner], d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate derived %s: %w", kind, err)
	}
	return out, nil
}

// GetLocation returns one record and its derived copies.
func (s *Store) GetLocation(ctx context.Context, ref domain.EntityRef) (domain.LocationRecord, []domain.DerivedRecord, error) {
	t, err := tableFor(ref.Kind)
	if err != nil {
		return domain.LocationRecord{}, nil, err
	}
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, locationColumns, t.name)
	rec, err := scanLocation(s.db.QueryRow(ctx, sql, ref.ID), ref.Kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LocationRecord{}, nil, domain.ErrNotFound
	}
	if err != nil {
		return domain.LocationRecord{}, nil, fmt.Errorf("postgres: get %s: %w", ref, err)
	}

	derived, err := s.ListDerived(ctx, ref.Kind, []int64{ref.ID})
	if err != nil {
		return domain.LocationRecord{}, nil, err
	}
	return rec, derived[ref.ID], nil
}

// ApplyRepair locks the canonical row, checks the expected label and
// rewrites the canonical and derived labels in one transaction.
func (s *Store) ApplyRepair(ctx context.Context, unit consistency.RepairUnit) (consistency.RepairResult, error) {
	t, err := tableFor(unit.Ref.Kind)
	if err != nil {
		return consistency.RepairResult{}, err
	}

	var res consistency.RepairResult
	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var current *string
		lock := fmt.Sprintf(`SELECT wso FROM %s WHERE id = $1 FOR UPDATE`, t.name)
		if err := tx.QueryRow(ctx, lock, unit.Ref.ID).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("lock %s: %w", unit.Ref, err)
		}

		target := &unit.Label
		if !domain.SameLabel(current, unit.Expected) && !domain.SameLabel(current, target) {
			return domain.ErrRepairConflict
		}

		if unit.Canonical && !domain.SameLabel(current, target) {
			update := fmt.Sprintf(`UPDATE %s SET wso = $2 WHERE id = $1`, t.name)
			if _, err := tx.Exec(ctx, update, unit.Ref.ID, unit.Label); err != nil {
				return fmt.Errorf("update %s: %w", unit.Ref, err)
			}
			res.CanonicalUpdated = true
		}

		propagate := fmt.Sprintf(`
			UPDATE meet_results SET %[2]s = $2
			WHERE %[1]s = $1 AND %[2]s IS DISTINCT FROM $2`, t.fk, t.copyCol)
		tag, err := tx.Exec(ctx, propagate, unit.Ref.ID, unit.Label)
		if err != nil {
			return fmt.Errorf("propagate %s: %w", unit.Ref, err)
		}
		res.DerivedUpdated = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrRepairConflict) || errors.Is(err, domain.ErrNotFound) {
			return consistency.RepairResult{}, err
		}
		return consistency.RepairResult{}, fmt.Errorf("postgres: repair: %w", err)
	}
	return res, nil
}

// UpdateGeocode stores the outcome of geocoding one record. Coordinates are
// only overwritten on success.
func (s *Store) UpdateGeocode(ctx context.Context, ref domain.EntityRef, u domain.GeocodeUpdate) error {
	t, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}

	var lat, lng *float64
	if u.Coordinate != nil {
		lat, lng = &u.Coordinate.Lat, &u.Coordinate.Lng
	}
	sql := fmt.Sprintf(`
		UPDATE %s SET
			lat = COALESCE($2, lat),
			lng = COALESCE($3, lng),
			geocode_status = $4,
			geocode_error = $5,
			geocode_failures = $6
		WHERE id = $1`, t.name)
	tag, err := s.db.Exec(ctx, sql, ref.ID, lat, lng, string(u.Status), u.Error, u.Failures)
	if err != nil {
		return fmt.Errorf("postgres: update geocode %s: %w", ref, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Package territory indexes WSO territories and resolves coordinates to them.
//
// The index is built once at startup from the territory source and is never
// mutated afterwards, so an *Index and the Resolver built on it are safe for
// concurrent use.
package territory

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/couchcryptid/territory-sync/internal/domain"
)

type point struct {
	lat float64
	lng float64
}

type polygon struct {
	rings [][]point // rings[0] outer, rest holes
	bbox  domain.BBox
}

type territory struct {
	name  string
	units []string
	polys []polygon
	bbox  domain.BBox
}

func (t *territory) hasGeometry() bool {
	return len(t.polys) > 0
}

// Index is the immutable set of canonical territories.
type Index struct {
	territories []territory
	byName      map[string]int
}

// Load validates the definitions and builds an index. Any problem with the
// definitions is returned as *domain.ConfigurationError.
func Load(defs []domain.TerritoryDef) (*Index, error) {
	if len(defs) == 0 {
		return nil, &domain.ConfigurationError{Reason: "no territories defined"}
	}

	idx := &Index{
		territories: make([]territory, 0, len(defs)),
		byName:      make(map[string]int, len(defs)),
	}

	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return nil, &domain.ConfigurationError{Reason: "territory with empty name"}
		}
		if _, dup := idx.byName[name]; dup {
			return nil, &domain.ConfigurationError{Territory: name, Reason: "duplicate territory name"}
		}

		units := make([]string, 0, len(def.Units))
		for _, u := range def.Units {
			if u = strings.TrimSpace(u); u != "" {
				units = append(units, u)
			}
		}
		if len(units) == 0 {
			return nil, &domain.ConfigurationError{Territory: name, Reason: "references zero administrative units"}
		}

		t := territory{name: name, units: units}

		if def.Geometry != nil {
			polys, err := decodeGeometry(*def.Geometry)
			if err != nil {
				return nil, &domain.ConfigurationError{Territory: name, Reason: err.Error()}
			}
			t.polys = polys
		}

		switch {
		case def.BBox != nil:
			if err := checkBBox(*def.BBox); err != nil {
				return nil, &domain.ConfigurationError{Territory: name, Reason: err.Error()}
			}
			t.bbox = *def.BBox
		case t.hasGeometry():
			t.bbox = unionBBox(t.polys)
		default:
			return nil, &domain.ConfigurationError{Territory: name, Reason: "neither geometry nor bounding box"}
		}

		idx.byName[name] = len(idx.territories)
		idx.territories = append(idx.territories, t)
	}

	return idx, nil
}

// AllTerritoryNames returns the canonical enumeration in source order.
func (idx *Index) AllTerritoryNames() []string {
	names := make([]string, len(idx.territories))
	for i := range idx.territories {
		names[i] = idx.territories[i].name
	}
	return names
}

// Contains reports whether name is a canonical territory.
func (idx *Index) Contains(name string) bool {
	_, ok := idx.byName[name]
	return ok
}

// Units returns the administrative units of a territory, or nil if unknown.
func (idx *Index) Units(name string) []string {
	i, ok := idx.byName[name]
	if !ok {
		return nil
	}
	return append([]string(nil), idx.territories[i].units...)
}

// HasGeometry reports whether a territory can be tested by polygon containment.
func (idx *Index) HasGeometry(name string) bool {
	i, ok := idx.byName[name]
	return ok && idx.territories[i].hasGeometry()
}

func checkBBox(b domain.BBox) error {
	lo := domain.Coordinate{Lat: b.MinLat, Lng: b.MinLng}
	hi := domain.Coordinate{Lat: b.MaxLat, Lng: b.MaxLng}
	if !lo.Valid() || !hi.Valid() {
		return errors.New("bounding box out of range")
	}
	if b.MinLat > b.MaxLat || b.MinLng > b.MaxLng {
		return errors.New("bounding box min exceeds max")
	}
	return nil
}

// decodeGeometry converts GeoJSON Polygon/MultiPolygon coordinates into
// rings. Structural errors are rejected here; numeric problems inside a
// ring are left for the containment test to report.
func decodeGeometry(g domain.Geometry) ([]polygon, error) {
	switch strings.ToLower(g.Type) {
	case "polygon":
		p, err := decodePolygon(g.Coordinates)
		if err != nil {
			return nil, err
		}
		return []polygon{p}, nil
	case "multipolygon":
		parts, ok := g.Coordinates.([]any)
		if !ok {
			return nil, errors.New("multipolygon coordinates must be an array")
		}
		polys := make([]polygon, 0, len(parts))
		for i, part := range parts {
			p, err := decodePolygon(part)
			if err != nil {
				return nil, fmt.Errorf("multipolygon part %d: %w", i, err)
			}
			polys = append(polys, p)
		}
		if len(polys) == 0 {
			return nil, errors.New("multipolygon has no parts")
		}
		return polys, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", g.Type)
	}
}

func decodePolygon(raw any) (polygon, error) {
	rings, ok := raw.([]any)
	if !ok || len(rings) == 0 {
		return polygon{}, errors.New("polygon coordinates must be a non-empty array of rings")
	}
	var p polygon
	for i, r := range rings {
		positions, ok := r.([]any)
		if !ok {
			return polygon{}, fmt.Errorf("ring %d is not an array", i)
		}
		ring := make([]point, 0, len(positions))
		for _, pos := range positions {
			ring = append(ring, decodePosition(pos))
		}
		p.rings = append(p.rings, ring)
	}
	p.bbox = ringBBox(p.rings[0])
	return p, nil
}

// decodePosition reads a [lng, lat] pair. Anything unreadable becomes NaN so
// the ring is reported as malformed at query time.
func decodePosition(raw any) point {
	arr, ok := raw.([]any)
	if !ok || len(arr) < 2 {
		return point{lat: math.NaN(), lng: math.NaN()}
	}
	lng, okLng := toFloat(arr[0])
	lat, okLat := toFloat(arr[1])
	if !okLng || !okLat {
		return point{lat: math.NaN(), lng: math.NaN()}
	}
	return point{lat: lat, lng: lng}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}

func ringBBox(ring []point) domain.BBox {
	b := domain.BBox{MinLat: 90, MinLng: 180, MaxLat: -90, MaxLng: -180}
	for _, pt := range ring {
		if math.IsNaN(pt.lat) || math.IsNaN(pt.lng) {
			continue
		}
		b.MinLat = math.Min(b.MinLat, pt.lat)
		b.MaxLat = math.Max(b.MaxLat, pt.lat)
		b.MinLng = math.Min(b.MinLng, pt.lng)
		b.MaxLng = math.Max(b.MaxLng, pt.lng)
	}
	return b
}

func unionBBox(polys []polygon) domain.BBox {
	b := polys[0].bbox
	for _, p := range polys[1:] {
		b.MinLat = math.Min(b.MinLat, p.bbox.MinLat)
		b.MaxLat = math.Max(b.MaxLat, p.bbox.MaxLat)
		b.MinLng = math.Min(b.MinLng, p.bbox.MinLng)
		b.MaxLng = math.Max(b.MaxLng, p.bbox.MaxLng)
	}
	return b
}

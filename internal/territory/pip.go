package territory

import (
	"math"

	"github.com/couchcryptid/territory-sync/internal/domain"
)

// containsPoint tests the point against every polygon of t. Polygons are a
// union; inside a polygon means inside its outer ring and outside all holes.
// A malformed ring aborts the test for this territory with a GeometryError.
func containsPoint(t *territory, pt point) (bool, error) {
	for pi, p := range t.polys {
		for ri, ring := range p.rings {
			if reason := checkRing(ring); reason != "" {
				return false, &domain.GeometryError{Territory: t.name, Polygon: pi, Ring: ri, Reason: reason}
			}
		}
		if !p.bbox.Contains(pt.lat, pt.lng) {
			continue
		}
		if pointInPolygon(pt, p) {
			return true, nil
		}
	}
	return false, nil
}

func pointInPolygon(pt point, p polygon) bool {
	if !pointInRing(pt, p.rings[0]) {
		return false
	}
	for _, hole := range p.rings[1:] {
		if pointInRing(pt, hole) {
			return false
		}
	}
	return true
}

// pointInRing is the even-odd ray casting test with a ray cast towards +lng.
func pointInRing(pt point, ring []point) bool {
	inside := false
	x, y := pt.lng, pt.lat
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := ring[i].lng, ring[i].lat
		xj, yj := ring[j].lng, ring[j].lat
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// checkRing returns a non-empty reason when the ring cannot be tested.
// GeoJSON rings are closed, so a triangle needs four positions.
func checkRing(ring []point) string {
	if len(ring) < 4 {
		return "ring has fewer than 4 positions"
	}
	for _, pt := range ring {
		if math.IsNaN(pt.lat) || math.IsNaN(pt.lng) || math.IsInf(pt.lat, 0) || math.IsInf(pt.lng, 0) {
			return "ring has a non-numeric position"
		}
	}
	return ""
}

package territory

import (
	"log/slog"

	"github.com/couchcryptid/territory-sync/internal/domain"
	"github.com/couchcryptid/territory-sync/internal/observability"
)

// Status is the terminal state of a resolution.
type Status string

const (
	Resolved   Status = "resolved"
	Ambiguous  Status = "ambiguous"
	Unresolved Status = "unresolved"
)

// Method records which test produced the result.
type Method string

const (
	MethodGeometry Method = "geometry"
	MethodBBox     Method = "bbox"
	MethodNone     Method = "none"
)

// Resolution is the outcome of placing a point. Territory is set only when
// Status is Resolved; Candidates lists the competing territories when
// Status is Ambiguous.
type Resolution struct {
	Status     Status
	Territory  string
	Candidates []string
	Method     Method
}

// Resolver places coordinates into territories.
type Resolver struct {
	idx     *Index
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewResolver creates a Resolver over an immutable index.
func NewResolver(idx *Index, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{idx: idx, logger: logger, metrics: metrics}
}

// Index returns the territory index the resolver reads from.
func (r *Resolver) Index() *Index {
	return r.idx
}

// Resolve returns the territory owning (lat, lng).
//
// Polygon containment is tried first and is authoritative when exactly one
// territory matches. Otherwise every bounding box is tested: one match
// resolves, none is Unresolved, several is Ambiguous. Bounding boxes overlap
// along shared borders, so an ambiguous point is reported rather than guessed.
func (r *Resolver) Resolve(lat, lng float64) Resolution {
	res := r.resolve(lat, lng)
	r.metrics.Resolutions.WithLabelValues(string(res.Status), string(res.Method)).Inc()
	return res
}

func (r *Resolver) resolve(lat, lng float64) Resolution {
	if !(domain.Coordinate{Lat: lat, Lng: lng}).Valid() {
		return Resolution{Status: Unresolved, Method: MethodNone}
	}

	pt := point{lat: lat, lng: lng}

	var geomMatches []string
	for i := range r.idx.territories {
		t := &r.idx.territories[i]
		if !t.hasGeometry() {
			continue
		}
		inside, err := containsPoint(t, pt)
		if err != nil {
			r.metrics.GeometryErrors.Inc()
			r.logger.Warn("skipping malformed territory geometry",
				"territory", t.name,
				"lat", lat,
				"lng", lng,
				"error", err,
			)
			continue
		}
		if inside {
			geomMatches = append(geomMatches, t.name)
		}
	}
	if len(geomMatches) == 1 {
		return Resolution{Status: Resolved, Territory: geomMatches[0], Method: MethodGeometry}
	}
	if len(geomMatches) > 1 {
		r.logger.Debug("overlapping territory polygons, falling back to bounding boxes",
			"lat", lat,
			"lng", lng,
			"territories", geomMatches,
		)
	}

	var boxMatches []string
	for i := range r.idx.territories {
		t := &r.idx.territories[i]
		if t.bbox.Contains(lat, lng) {
			boxMatches = append(boxMatches, t.name)
		}
	}

	switch len(boxMatches) {
	case 0:
		return Resolution{Status: Unresolved, Method: MethodNone}
	case 1:
		return Resolution{Status: Resolved, Territory: boxMatches[0], Method: MethodBBox}
	default:
		return Resolution{Status: Ambiguous, Candidates: boxMatches, Method: MethodBBox}
	}
}

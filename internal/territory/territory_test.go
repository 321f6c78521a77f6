package territory

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/territory-sync/internal/domain"
	"github.com/couchcryptid/territory-sync/internal/observability"
)

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ring builds a closed GeoJSON ring for an axis-aligned rectangle.
func ring(minLat, minLng, maxLat, maxLng float64) []any {
	return []any{
		[]any{minLng, minLat},
		[]any{maxLng, minLat},
		[]any{maxLng, maxLat},
		[]any{minLng, maxLat},
		[]any{minLng, minLat},
	}
}

func rect(minLat, minLng, maxLat, maxLng float64) *domain.Geometry {
	return &domain.Geometry{Type: "Polygon", Coordinates: []any{ring(minLat, minLng, maxLat, maxLng)}}
}

func box(minLat, minLng, maxLat, maxLng float64) *domain.BBox {
	return &domain.BBox{MinLat: minLat, MinLng: minLng, MaxLat: maxLat, MaxLng: maxLng}
}

// southeast is a simplified Carolina / Tennessee-Kentucky layout: disjoint
// polygons split at 36°N with deliberately overlapping bounding boxes.
func southeast() []domain.TerritoryDef {
	return []domain.TerritoryDef{
		{
			Name:     "Tennessee-Kentucky",
			Units:    []string{"TN", "KY"},
			BBox:     box(34.9, -90.4, 39.2, -81.5),
			Geometry: rect(36.0, -90.3, 39.1, -81.7),
		},
		{
			Name:     "Carolina",
			Units:    []string{"NC", "SC"},
			BBox:     box(32.0, -84.4, 36.6, -75.4),
			Geometry: rect(32.0, -84.3, 36.0, -75.5),
		},
	}
}

func newTestResolver(t *testing.T, defs []domain.TerritoryDef) (*Resolver, *observability.Metrics) {
	t.Helper()
	idx, err := Load(defs)
	require.NoError(t, err)
	m := observability.NewMetricsForTesting()
	return NewResolver(idx, discardLogger(), m), m
}

// --- index ---

func TestLoad_AllTerritoryNames(t *testing.T) {
	idx, err := Load(southeast())
	require.NoError(t, err)

	assert.Equal(t, []string{"Tennessee-Kentucky", "Carolina"}, idx.AllTerritoryNames())
	assert.True(t, idx.Contains("Carolina"))
	assert.False(t, idx.Contains("carolina"))
	assert.Equal(t, []string{"NC", "SC"}, idx.Units("Carolina"))
	assert.True(t, idx.HasGeometry("Carolina"))
}

func TestLoad_NamesAreACopy(t *testing.T) {
	idx, err := Load(southeast())
	require.NoError(t, err)

	names := idx.AllTerritoryNames()
	names[0] = "Mutated"

	assert.Equal(t, "Tennessee-Kentucky", idx.AllTerritoryNames()[0])
}

func TestLoad_BBoxDerivedFromGeometry(t *testing.T) {
	idx, err := Load([]domain.TerritoryDef{
		{Name: "Florida", Units: []string{"FL"}, Geometry: rect(24.5, -87.6, 31.0, -80.0)},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.BBox{MinLat: 24.5, MinLng: -87.6, MaxLat: 31.0, MaxLng: -80.0}, idx.territories[0].bbox)
}

func TestLoad_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		defs []domain.TerritoryDef
		want string
	}{
		{"empty source", nil, "no territories"},
		{"zero units", []domain.TerritoryDef{{Name: "Texas", Units: []string{" "}, BBox: box(25, -107, 37, -93)}}, "zero administrative units"},
		{"empty name", []domain.TerritoryDef{{Name: "  ", Units: []string{"TX"}, BBox: box(25, -107, 37, -93)}}, "empty name"},
		{"duplicate", []domain.TerritoryDef{
			{Name: "Texas", Units: []string{"TX"}, BBox: box(25, -107, 37, -93)},
			{Name: "Texas", Units: []string{"OK"}, BBox: box(33, -103, 37, -94)},
		}, "duplicate"},
		{"no geometry or bbox", []domain.TerritoryDef{{Name: "Texas", Units: []string{"TX"}}}, "neither geometry nor bounding box"},
		{"inverted bbox", []domain.TerritoryDef{{Name: "Texas", Units: []string{"TX"}, BBox: box(37, -93, 25, -107)}}, "min exceeds max"},
		{"bbox out of range", []domain.TerritoryDef{{Name: "Texas", Units: []string{"TX"}, BBox: box(-95, -107, 37, -93)}}, "out of range"},
		{"unsupported geometry", []domain.TerritoryDef{{Name: "Texas", Units: []string{"TX"}, Geometry: &domain.Geometry{Type: "LineString"}}}, "unsupported geometry type"},
		{"bad rings", []domain.TerritoryDef{{Name: "Texas", Units: []string{"TX"}, Geometry: &domain.Geometry{Type: "Polygon", Coordinates: []any{"nope"}}}}, "ring 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.defs)
			require.Error(t, err)

			var cfgErr *domain.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// --- resolver ---

func TestResolve_InsidePolygon(t *testing.T) {
	r, _ := newTestResolver(t, southeast())

	res := r.Resolve(36.16, -86.78) // Nashville

	assert.Equal(t, Resolved, res.Status)
	assert.Equal(t, "Tennessee-Kentucky", res.Territory)
	assert.Equal(t, MethodGeometry, res.Method)
}

func TestResolve_GeometryBeatsOverlappingBoxes(t *testing.T) {
	r, _ := newTestResolver(t, southeast())

	// Inside both bounding boxes, inside only the Carolina polygon.
	res := r.Resolve(35.6, -82.5)

	assert.Equal(t, Resolved, res.Status)
	assert.Equal(t, "Carolina", res.Territory)
	assert.Equal(t, MethodGeometry, res.Method)
}

func TestResolve_OutsideEveryBox(t *testing.T) {
	r, m := newTestResolver(t, southeast())

	res := r.Resolve(21.3, -157.8) // Honolulu

	assert.Equal(t, Unresolved, res.Status)
	assert.Empty(t, res.Territory)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Resolutions.WithLabelValues("unresolved", "none")), 0)
}

func TestResolve_TwoBoxesNoPolygons_Ambiguous(t *testing.T) {
	r, _ := newTestResolver(t, []domain.TerritoryDef{
		{Name: "Pacific Northwest", Units: []string{"WA", "OR"}, BBox: box(41.9, -124.8, 49.0, -116.4)},
		{Name: "Mountain North", Units: []string{"ID", "MT"}, BBox: box(42.0, -117.3, 49.0, -104.0)},
	})

	res := r.Resolve(46.0, -116.9) // inside the overlap strip

	assert.Equal(t, Ambiguous, res.Status)
	assert.Empty(t, res.Territory)
	assert.ElementsMatch(t, []string{"Pacific Northwest", "Mountain North"}, res.Candidates)
}

func TestResolve_GapBetweenPolygons_FallsBackToBox(t *testing.T) {
	defs := southeast()
	defs[0].Geometry = rect(36.5, -90.3, 39.1, -81.7) // leave a gap at 36.0–36.5

	r, _ := newTestResolver(t, defs)

	// In the gap and under both boxes.
	res := r.Resolve(36.2, -83.0)
	assert.Equal(t, Ambiguous, res.Status)

	// West of Carolina's box, the gap point only hits Tennessee-Kentucky's box.
	res = r.Resolve(36.2, -88.0)
	assert.Equal(t, Resolved, res.Status)
	assert.Equal(t, "Tennessee-Kentucky", res.Territory)
	assert.Equal(t, MethodBBox, res.Method)
}

func TestResolve_TerritoryWithoutGeometryUsesBox(t *testing.T) {
	defs := append(southeast(), domain.TerritoryDef{
		Name:  "Florida",
		Units: []string{"FL"},
		BBox:  box(24.5, -87.6, 31.0, -80.0),
	})
	r, _ := newTestResolver(t, defs)

	res := r.Resolve(28.5, -81.4) // Orlando

	assert.Equal(t, Resolved, res.Status)
	assert.Equal(t, "Florida", res.Territory)
	assert.Equal(t, MethodBBox, res.Method)
}

func TestResolve_HoleExcludesPoint(t *testing.T) {
	outer := ring(30, -100, 40, -90)
	hole := ring(34, -96, 36, -94)
	r, _ := newTestResolver(t, []domain.TerritoryDef{
		{Name: "Outer", Units: []string{"AA"}, Geometry: &domain.Geometry{Type: "Polygon", Coordinates: []any{outer, hole}}},
		{Name: "Enclave", Units: []string{"BB"}, Geometry: rect(34, -96, 36, -94)},
	})

	res := r.Resolve(35, -95)
	assert.Equal(t, "Enclave", res.Territory)
	assert.Equal(t, MethodGeometry, res.Method)

	res = r.Resolve(32, -98)
	assert.Equal(t, "Outer", res.Territory)
	assert.Equal(t, MethodGeometry, res.Method)
}

func TestResolve_MultiPolygonIsUnion(t *testing.T) {
	r, _ := newTestResolver(t, []domain.TerritoryDef{
		{
			Name:  "Michigan",
			Units: []string{"MI"},
			Geometry: &domain.Geometry{Type: "MultiPolygon", Coordinates: []any{
				[]any{ring(41.7, -87.0, 45.8, -82.4)}, // lower peninsula
				[]any{ring(45.1, -90.4, 47.5, -84.4)}, // upper peninsula
			}},
		},
	})

	assert.Equal(t, "Michigan", r.Resolve(46.5, -87.4).Territory) // Marquette
	assert.Equal(t, "Michigan", r.Resolve(42.3, -83.0).Territory) // Detroit
	assert.Equal(t, Unresolved, r.Resolve(40.0, -86.0).Status)
}

func TestResolve_MalformedRingSkipsTerritory(t *testing.T) {
	r, m := newTestResolver(t, []domain.TerritoryDef{
		{
			Name:     "Broken",
			Units:    []string{"AA"},
			BBox:     box(30, -100, 40, -90),
			Geometry: &domain.Geometry{Type: "Polygon", Coordinates: []any{[]any{[]any{-100.0, 30.0}, []any{-90.0, 30.0}, []any{-100.0, 30.0}}}},
		},
		{Name: "Healthy", Units: []string{"BB"}, Geometry: rect(30, -80, 40, -70)},
	})

	res := r.Resolve(35, -95)
	assert.Equal(t, Resolved, res.Status)
	assert.Equal(t, "Broken", res.Territory, "bounding box still usable")
	assert.Equal(t, MethodBBox, res.Method)

	res = r.Resolve(35, -75)
	assert.Equal(t, "Healthy", res.Territory)
	assert.Equal(t, MethodGeometry, res.Method)

	assert.InDelta(t, 2, testutil.ToFloat64(m.GeometryErrors), 0)
}

func TestResolve_InvalidCoordinate(t *testing.T) {
	r, _ := newTestResolver(t, southeast())

	assert.Equal(t, Unresolved, r.Resolve(120, -80).Status)
}

// --- source ---

const carolinaGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"state": "NC"},
     "geometry": {"type": "Polygon", "coordinates": [[[-84.3,34.0],[-75.5,34.0],[-75.5,36.0],[-84.3,36.0],[-84.3,34.0]]]}},
    {"type": "Feature", "properties": {"state": "SC"},
     "geometry": {"type": "Polygon", "coordinates": [[[-83.4,32.0],[-78.5,32.0],[-78.5,34.0],[-83.4,34.0],[-83.4,32.0]]]}}
  ]
}`

const territoriesYAML = `territories:
  - name: Carolina
    units: [NC, SC]
    geometry_file: geo/carolina.geojson
  - name: Tennessee-Kentucky
    units: [TN, KY]
    bbox: {min_lat: 34.9, min_lng: -90.4, max_lat: 39.2, max_lng: -81.5}
    geometry:
      type: Polygon
      coordinates: [[[-90.3, 36], [-81.7, 36], [-81.7, 39.1], [-90.3, 39.1], [-90.3, 36]]]
  - name: Florida
    units: [FL]
    bbox: {min_lat: 24.5, min_lng: -87.6, max_lat: 31.0, max_lng: -80.0}
`

func TestLoadFile_YAMLWithGeoJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "geo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "geo", "carolina.geojson"), []byte(carolinaGeoJSON), 0o600))
	path := filepath.Join(dir, "territories.yaml")
	require.NoError(t, os.WriteFile(path, []byte(territoriesYAML), 0o600))

	defs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, "MultiPolygon", defs[0].Geometry.Type)

	r, _ := newTestResolver(t, defs)

	// Charleston and Raleigh sit in different features of the same collection.
	assert.Equal(t, "Carolina", r.Resolve(33.0, -80.0).Territory)
	assert.Equal(t, "Carolina", r.Resolve(35.8, -78.6).Territory)
	assert.Equal(t, "Tennessee-Kentucky", r.Resolve(38.25, -85.76).Territory)
	// Tampa: Florida has no geometry.
	assert.Equal(t, "Florida", r.Resolve(27.95, -82.46).Territory)
}

func TestLoadFile_MissingGeometryFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "territories.yaml")
	require.NoError(t, os.WriteFile(path, []byte(territoriesYAML), 0o600))

	_, err := LoadFile(path)
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "Carolina", cfgErr.Territory)
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

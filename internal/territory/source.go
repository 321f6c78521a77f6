package territory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/couchcryptid/territory-sync/internal/domain"
)

// sourceFile is the YAML layout of the territory source:
//
//	territories:
//	  - name: Carolina
//	    units: [NC, SC]
//	    bbox: {min_lat: 32.0, min_lng: -84.4, max_lat: 36.6, max_lng: -75.4}
//	    geometry_file: geo/carolina.geojson
//	  - name: Texas-Oklahoma
//	    units: [TX, OK]
//	    geometry: {type: Polygon, coordinates: [[[-106.6, 25.8], ...]]}
type sourceFile struct {
	Territories []domain.TerritoryDef `yaml:"territories"`
}

// LoadFile reads territory definitions from a YAML file. Referenced
// geometry files are resolved relative to the YAML file and inlined.
func LoadFile(path string) ([]domain.TerritoryDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read territory file: %w", err)
	}

	var src sourceFile
	if err := yaml.Unmarshal(data, &src); err != nil {
		return nil, &domain.ConfigurationError{Reason: fmt.Sprintf("parse %s: %v", filepath.Base(path), err)}
	}

	dir := filepath.Dir(path)
	for i := range src.Territories {
		def := &src.Territories[i]
		if def.GeometryFile == "" {
			continue
		}
		if def.Geometry != nil {
			return nil, &domain.ConfigurationError{Territory: def.Name, Reason: "both geometry and geometry_file set"}
		}
		geomPath := def.GeometryFile
		if !filepath.IsAbs(geomPath) {
			geomPath = filepath.Join(dir, geomPath)
		}
		g, err := readGeoJSON(geomPath)
		if err != nil {
			return nil, &domain.ConfigurationError{Territory: def.Name, Reason: err.Error()}
		}
		def.Geometry = g
	}

	return src.Territories, nil
}

// geoJSON covers the three shapes we accept in a geometry file: a bare
// geometry, a Feature, or a FeatureCollection.
type geoJSON struct {
	Type        string           `json:"type"`
	Coordinates any              `json:"coordinates"`
	Geometry    *domain.Geometry `json:"geometry"`
	Features    []struct {
		Geometry *domain.Geometry `json:"geometry"`
	} `json:"features"`
}

func readGeoJSON(path string) (*domain.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geometry file: %w", err)
	}
	var gj geoJSON
	if err := json.Unmarshal(data, &gj); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	switch strings.ToLower(gj.Type) {
	case "polygon", "multipolygon":
		return &domain.Geometry{Type: gj.Type, Coordinates: gj.Coordinates}, nil
	case "feature":
		if gj.Geometry == nil {
			return nil, fmt.Errorf("%s: feature without geometry", filepath.Base(path))
		}
		return gj.Geometry, nil
	case "featurecollection":
		geoms := make([]domain.Geometry, 0, len(gj.Features))
		for _, f := range gj.Features {
			if f.Geometry != nil {
				geoms = append(geoms, *f.Geometry)
			}
		}
		return mergeGeometries(geoms)
	default:
		return nil, fmt.Errorf("%s: unsupported GeoJSON type %q", filepath.Base(path), gj.Type)
	}
}

// mergeGeometries folds several Polygon/MultiPolygon geometries into one
// MultiPolygon so a territory split across features is treated as a union.
func mergeGeometries(geoms []domain.Geometry) (*domain.Geometry, error) {
	if len(geoms) == 0 {
		return nil, fmt.Errorf("feature collection has no geometries")
	}
	if len(geoms) == 1 {
		return &geoms[0], nil
	}
	var parts []any
	for i, g := range geoms {
		switch strings.ToLower(g.Type) {
		case "polygon":
			parts = append(parts, g.Coordinates)
		case "multipolygon":
			mp, ok := g.Coordinates.([]any)
			if !ok {
				return nil, fmt.Errorf("feature %d: multipolygon coordinates must be an array", i)
			}
			parts = append(parts, mp...)
		default:
			return nil, fmt.Errorf("feature %d: unsupported geometry type %q", i, g.Type)
		}
	}
	return &domain.Geometry{Type: "MultiPolygon", Coordinates: parts}, nil
}

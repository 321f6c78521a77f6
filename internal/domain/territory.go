package domain

import (
	"fmt"
	"math"
)

// Coordinate is a WGS-84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether both components are finite and within range.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// IsZero reports whether the coordinate is the (0,0) null island placeholder
// that providers and importers emit for "no location".
func (c Coordinate) IsZero() bool {
	return c.Lat == 0 && c.Lng == 0
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// BBox is an axis-aligned bounding box in degrees.
type BBox struct {
	MinLat float64 `yaml:"min_lat" json:"min_lat"`
	MinLng float64 `yaml:"min_lng" json:"min_lng"`
	MaxLat float64 `yaml:"max_lat" json:"max_lat"`
	MaxLng float64 `yaml:"max_lng" json:"max_lng"`
}

// Contains reports whether the point lies inside or on the edge of the box.
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// Geometry is a GeoJSON geometry object restricted to Polygon and MultiPolygon.
// Coordinates are kept raw and decoded by the territory index.
type Geometry struct {
	Type        string `yaml:"type" json:"type"`
	Coordinates any    `yaml:"coordinates" json:"coordinates"`
}

// TerritoryDef is one entry of the territory source, before indexing.
type TerritoryDef struct {
	Name         string    `yaml:"name"`
	Units        []string  `yaml:"units"`
	BBox         *BBox     `yaml:"bbox,omitempty"`
	Geometry     *Geometry `yaml:"geometry,omitempty"`
	GeometryFile string    `yaml:"geometry_file,omitempty"`
}

// Package domain models club and meet locations and the territories (WSOs)
// they are assigned to.
//
// # Territories
//
// A territory is a Weightlifting State Organization: a named region made of
// one or more US states, e.g. "Carolina" (NC, SC) or "Tennessee-Kentucky"
// (TN, KY). Large states can be split across several territories
// ("California North Central", "California South"), which is why a state
// list alone cannot place a point and polygons are needed.
//
// Each territory may carry a polygon geometry (GeoJSON Polygon or
// MultiPolygon, [lng, lat] order, first ring outer, remaining rings holes)
// and a bounding box. The bounding box is always available; the polygon is
// authoritative when present.
//
// # Canonical and derived labels
//
// The territory label of a club lives on its row in the clubs table (the
// canonical record). The same label is copied onto every meet_results row the
// club appears in (derived records). Meets follow the same pattern with the
// meets table as canonical. Only the repairer writes derived copies.
//
// # Geocode status
//
// Location rows carry a geocode status:
//
//	""            never attempted
//	"success"     coordinates stored
//	"unresolved"  every address variant returned no match
//	"failure"     provider errors exhausted retries
//
// A failure counter records how many variants failed before the final result.
package domain

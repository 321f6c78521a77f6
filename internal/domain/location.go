package domain

import "fmt"

// EntityKind identifies which canonical table a location belongs to.
type EntityKind string

const (
	EntityClub EntityKind = "club"
	EntityMeet EntityKind = "meet"
)

// EntityKinds lists every kind the validator scans, in scan order.
var EntityKinds = []EntityKind{EntityClub, EntityMeet}

// GeocodeStatus is the persisted outcome of the last geocode run for a record.
type GeocodeStatus string

const (
	GeocodeNone       GeocodeStatus = ""
	GeocodeSuccess    GeocodeStatus = "success"
	GeocodeUnresolved GeocodeStatus = "unresolved"
	GeocodeFailure    GeocodeStatus = "failure"
)

// EntityRef points at one canonical record.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   int64      `json:"id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s/%d", r.Kind, r.ID)
}

// LocationRecord is a club or meet row as seen by the core. The store owns
// every other column; only territory, coordinate and geocode fields are
// rewritten.
type LocationRecord struct {
	Ref         EntityRef
	Name        string
	Address     string
	Coordinate  *Coordinate
	Territory   *string
	GeoStatus   GeocodeStatus
	GeoError    string
	GeoFailures int
}

// TerritoryLabel returns the stored label or "" when null.
func (r LocationRecord) TerritoryLabel() string {
	if r.Territory == nil {
		return ""
	}
	return *r.Territory
}

// DerivedRecord is a denormalized copy of an entity's territory label,
// e.g. meet_results.club_territory.
type DerivedRecord struct {
	Table     string  `json:"table"`
	ID        int64   `json:"id"`
	Territory *string `json:"territory"`
}

// GeocodeUpdate is what the geocode pass writes back for one record.
type GeocodeUpdate struct {
	Coordinate *Coordinate
	Status     GeocodeStatus
	Error      string
	Failures   int
}

// StringPtr returns a pointer to s. Handy for nullable labels in literals.
func StringPtr(s string) *string {
	return &s
}

// SameLabel compares two nullable labels.
func SameLabel(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

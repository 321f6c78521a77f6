package domain

import (
	"errors"
	"fmt"
)

// ErrRepairConflict is returned by a store when the canonical label changed
// between validation and repair. The finding must be re-validated.
var ErrRepairConflict = errors.New("repair conflict: canonical record changed since validation")

// ConfigurationError reports malformed territory data. It is fatal at startup.
type ConfigurationError struct {
	Territory string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	if e.Territory == "" {
		return "territory config: " + e.Reason
	}
	return fmt.Sprintf("territory config: %q: %s", e.Territory, e.Reason)
}

// GeometryError reports a polygon that cannot be tested. The territory is
// skipped for the current query only.
type GeometryError struct {
	Territory string
	Polygon   int
	Ring      int
	Reason    string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("territory %q: polygon %d ring %d: %s", e.Territory, e.Polygon, e.Ring, e.Reason)
}

// ErrNotFound is returned by a store when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

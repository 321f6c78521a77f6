package consistency

import (
	"fmt"

	"github.com/couchcryptid/territory-sync/internal/domain"
	"github.com/couchcryptid/territory-sync/internal/territory"
)

// Kind classifies a finding.
type Kind string

const (
	// KindInvalidLabel: the canonical label is missing, not a known
	// territory, or contradicted by the record's own coordinates.
	KindInvalidLabel Kind = "invalid_label"
	// KindDisagreement: the canonical label is valid but a derived copy
	// differs from it.
	KindDisagreement Kind = "disagreement"
)

// Reason explains an InvalidLabel finding.
type Reason string

const (
	ReasonMissing          Reason = "missing"
	ReasonNotCanonical     Reason = "not_canonical"
	ReasonGeometryMismatch Reason = "geometry_mismatch"
)

// Finding is one problem found for one entity. At most one finding is
// produced per entity per scan.
type Finding struct {
	Kind       Kind                   `json:"kind"`
	Ref        domain.EntityRef       `json:"ref"`
	Name       string                 `json:"name,omitempty"`
	Label      *string                `json:"label"`
	Reason     Reason                 `json:"reason,omitempty"`
	Suggested  string                 `json:"suggested,omitempty"`
	Coordinate *domain.Coordinate     `json:"coordinate,omitempty"`
	Divergent  []domain.DerivedRecord `json:"divergent,omitempty"`

	// resolution is where Coordinate resolved when the finding was made.
	resolution *territory.Resolution
}

func (f Finding) String() string {
	label := "<null>"
	if f.Label != nil {
		label = fmt.Sprintf("%q", *f.Label)
	}
	switch f.Kind {
	case KindInvalidLabel:
		s := fmt.Sprintf("%s %s: label %s is %s", f.Kind, f.Ref, label, f.Reason)
		if f.Suggested != "" {
			s += fmt.Sprintf(" (coordinates resolve to %q)", f.Suggested)
		}
		return s
	default:
		return fmt.Sprintf("%s %s: label %s, %d derived cop(ies) differ", f.Kind, f.Ref, label, len(f.Divergent))
	}
}

// ScanError stops a scan of one entity kind. Resume is the cursor to restart
// from; every record up to and including it has been validated.
type ScanError struct {
	Kind   domain.EntityKind
	Resume Cursor
	Err    error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s after id %d: %v", e.Kind, e.Resume, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

package consistency

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/territory-sync/internal/domain"
)

// Report summarizes one run: geocode results, findings by kind, repair
// outcomes by status, entities needing manual attention and failures.
// It is safe for concurrent use.
type Report struct {
	mu sync.Mutex

	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Geocoded map[string]int
	Findings map[Kind]int
	Outcomes map[OutcomeStatus]int
	Manual   []Outcome
	Failures []string
	Resume   map[domain.EntityKind]Cursor
}

// NewReport starts a report with a fresh run ID.
func NewReport(startedAt time.Time) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		StartedAt: startedAt,
		Geocoded:  map[string]int{},
		Findings:  map[Kind]int{},
		Outcomes:  map[OutcomeStatus]int{},
		Resume:    map[domain.EntityKind]Cursor{},
	}
}

// AddGeocode counts one geocoded record by status.
func (r *Report) AddGeocode(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Geocoded[status]++
}

// AddFinding counts a finding that was not repaired in this run.
func (r *Report) AddFinding(f Finding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Findings[f.Kind]++
}

// AddOutcome counts a repaired finding and its outcome.
func (r *Report) AddOutcome(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Findings[o.Finding.Kind]++
	r.Outcomes[o.Status]++
	switch {
	case o.NeedsReview():
		r.Manual = append(r.Manual, o)
	case o.Status == StatusFailed:
		r.Failures = append(r.Failures, fmt.Sprintf("%s: %s", o.Finding.Ref, o.Reason))
	}
}

// AddError records a failure that was not tied to a single finding. A
// *ScanError also records where the scan of its kind can resume.
func (r *Report) AddError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures = append(r.Failures, err.Error())
	var se *ScanError
	if errors.As(err, &se) {
		r.Resume[se.Kind] = se.Resume
	}
}

// Summary is a point-in-time copy of a Report, safe to serialize.
type Summary struct {
	RunID      string                       `json:"run_id"`
	StartedAt  time.Time                    `json:"started_at"`
	FinishedAt time.Time                    `json:"finished_at,omitzero"`
	Geocoded   map[string]int               `json:"geocoded"`
	Findings   map[Kind]int                 `json:"findings"`
	Outcomes   map[OutcomeStatus]int        `json:"outcomes"`
	Manual     []Outcome                    `json:"manual_review"`
	Failures   []string                     `json:"failures"`
	Resume     map[domain.EntityKind]Cursor `json:"resume,omitempty"`
}

// Summary copies the report.
func (r *Report) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Summary{
		RunID:      r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Geocoded:   maps.Clone(r.Geocoded),
		Findings:   maps.Clone(r.Findings),
		Outcomes:   maps.Clone(r.Outcomes),
		Manual:     slices.Clone(r.Manual),
		Failures:   slices.Clone(r.Failures),
		Resume:     maps.Clone(r.Resume),
	}
}

// Finish stamps the end time.
func (r *Report) Finish(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = at
}

// Clean reports whether the run completed without failures.
func (r *Report) Clean() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Failures) == 0
}

// WriteText renders the report for people.
func (r *Report) WriteText(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "territory sync run %s\n", r.RunID)
	fmt.Fprintf(&b, "  started  %s\n", r.StartedAt.Format(time.RFC3339))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "  finished %s (%s)\n", r.FinishedAt.Format(time.RFC3339), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}

	writeCounts(&b, "geocoded", r.Geocoded)
	writeCounts(&b, "findings", r.Findings)
	writeCounts(&b, "repairs", r.Outcomes)

	if len(r.Manual) > 0 {
		fmt.Fprintf(&b, "manual review (%d):\n", len(r.Manual))
		for _, o := range r.Manual {
			fmt.Fprintf(&b, "  - %s [%s]: %s\n", o.Finding, o.Status, o.Reason)
		}
	}
	if len(r.Failures) > 0 {
		fmt.Fprintf(&b, "failures (%d):\n", len(r.Failures))
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
	}
	if len(r.Resume) > 0 {
		b.WriteString("resume from:\n")
		for _, kind := range sortedKeys(r.Resume) {
			fmt.Fprintf(&b, "  %s after id %d\n", kind, r.Resume[kind])
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeCounts[K ~string](b *strings.Builder, title string, counts map[K]int) {
	if len(counts) == 0 {
		fmt.Fprintf(b, "%s: none\n", title)
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, k := range sortedKeys(counts) {
		fmt.Fprintf(b, "  %-16s %d\n", k, counts[k])
	}
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

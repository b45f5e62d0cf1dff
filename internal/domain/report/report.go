package report

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Type is the immutable side of a report.
type Type string

const (
	// TypeLost is a report filed by the owner of a missing item.
	TypeLost Type = "lost"
	// TypeFound is a report filed by someone who picked an item up.
	TypeFound Type = "found"
)

// ParseType validates a report type string.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeLost, TypeFound:
		return t, nil
	default:
		return "", fmt.Errorf("unknown report type %q", s)
	}
}

// Opposite returns the type a report of this type is matched against.
func (t Type) Opposite() Type {
	if t == TypeLost {
		return TypeFound
	}
	return TypeLost
}

// Status is the report lifecycle state. Only active reports take part in matching.
type Status string

const (
	StatusActive   Status = "active"
	StatusMatched  Status = "matched"
	StatusResolved Status = "resolved"
	StatusArchived Status = "archived"
)

// MatchDetail is one confirmed match partner in a report's history.
type MatchDetail struct {
	ReportID  string
	Score     float64
	MatchedOn time.Time
}

// Report is a lost-or-found item record (immutable value object).
// Payload fields the core does not interpret are kept as raw JSON.
type Report struct {
	id         string
	reportType Type
	status     Status
	matchedIDs []string
	details    []MatchDetail
	images     []string
	payload    json.RawMessage
	mediaPaths []string
}

// Reconstruct creates a Report without validation (storage hydration).
func Reconstruct(
	id string, t Type, status Status, matchedIDs []string, details []MatchDetail,
	images []string, payload json.RawMessage,
) Report {
	return Report{
		id:         id,
		reportType: t,
		status:     status,
		matchedIDs: matchedIDs,
		details:    details,
		images:     images,
		payload:    payload,
	}
}

// ID returns the store-assigned identifier.
func (r *Report) ID() string { return r.id }

// Type returns lost or found.
func (r *Report) Type() Type { return r.reportType }

// Status returns the lifecycle state.
func (r *Report) Status() Status { return r.status }

// MatchedReportIDs returns the ids of confirmed partners.
func (r *Report) MatchedReportIDs() []string { return r.matchedIDs }

// MatchDetails returns the match history in commit order.
func (r *Report) MatchDetails() []MatchDetail { return r.details }

// Images returns the stored image references from itemDetails.images.
func (r *Report) Images() []string { return r.images }

// Payload returns the stored document as raw JSON.
func (r *Report) Payload() json.RawMessage { return r.payload }

// MediaPaths returns media locations resolved for this cycle.
func (r *Report) MediaPaths() []string { return r.mediaPaths }

// Unmatched reports whether the report is active with no match history.
func (r *Report) Unmatched() bool {
	return r.status == StatusActive && len(r.matchedIDs) == 0
}

// HasPartner reports whether id is already in the match history.
func (r *Report) HasPartner(id string) bool {
	return slices.Contains(r.matchedIDs, id)
}

// WithMediaPaths returns a copy carrying resolved media locations.
func (r *Report) WithMediaPaths(paths []string) Report {
	c := *r
	c.mediaPaths = slices.Clone(paths)
	return c
}

package match

import "time"

// Key identifies a candidate pair.
type Key struct {
	LostID  string
	FoundID string
}

// Score is one source's verdict on a pair.
// MatchedOn is zero when the source did not supply a timestamp.
type Score struct {
	LostID    string
	FoundID   string
	Score     float64
	MatchedOn time.Time
}

// Key returns the pair key.
func (s Score) Key() Key { return Key{LostID: s.LostID, FoundID: s.FoundID} }

// Merged is the per-pair result after combining every contributing source.
type Merged struct {
	LostID    string
	FoundID   string
	Score     float64
	MatchedOn time.Time
	Sources   int
}

// Key returns the pair key.
func (m Merged) Key() Key { return Key{LostID: m.LostID, FoundID: m.FoundID} }

// CommitResult describes the outcome of writing both sides of a merged match.
type CommitResult struct {
	FoundChanged bool
	LostChanged  bool
	FoundErr     error
	LostErr      error
}

// Applied reports whether both sides were written.
func (c CommitResult) Applied() bool { return c.FoundErr == nil && c.LostErr == nil }

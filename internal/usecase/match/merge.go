package match

import (
	"sort"
	"time"

	"github.com/kailas-cloud/matchd/internal/domain/match"
)

// Normalizer maps one source's raw score onto the shared scale before averaging.
type Normalizer func(score float64) float64

// Identity leaves scores untouched.
func Identity(score float64) float64 { return score }

// Linear rescales [lo, hi] onto [0, 1]. A degenerate range yields Identity.
func Linear(lo, hi float64) Normalizer {
	if hi <= lo || (lo == 0 && hi == 1) {
		return Identity
	}
	return func(score float64) float64 { return (score - lo) / (hi - lo) }
}

// Merger combines per-source scores into one decision per pair.
type Merger struct {
	normalizers []Normalizer
}

// NewMerger creates a Merger. normalizers[i] applies to the i-th source passed
// to Merge; missing or nil entries mean Identity.
func NewMerger(normalizers ...Normalizer) *Merger {
	return &Merger{normalizers: normalizers}
}

// Merge groups scores by (lost, found) pair and averages every contributing source.
//
// A pair reported by a single source is kept with that source's score. A
// source listing the same pair twice contributes once, with its highest score.
// MatchedOn is the earliest timestamp any source supplied for the pair, or now
// when none did. Output is sorted by pair.
func (m *Merger) Merge(now time.Time, sources ...[]match.Score) []match.Merged {
	type acc struct {
		sum       float64
		n         int
		matchedOn time.Time
	}
	pairs := make(map[match.Key]*acc)

	for i, scores := range sources {
		norm := m.normalizer(i)

		best := make(map[match.Key]float64, len(scores))
		for _, s := range scores {
			k := s.Key()
			a, ok := pairs[k]
			if !ok {
				a = &acc{}
				pairs[k] = a
			}
			if !s.MatchedOn.IsZero() && (a.matchedOn.IsZero() || s.MatchedOn.Before(a.matchedOn)) {
				a.matchedOn = s.MatchedOn
			}
			if v, seen := best[k]; !seen || s.Score > v {
				best[k] = s.Score
			}
		}

		for k, v := range best {
			a := pairs[k]
			a.sum += norm(v)
			a.n++
		}
	}

	out := make([]match.Merged, 0, len(pairs))
	for k, a := range pairs {
		matchedOn := a.matchedOn
		if matchedOn.IsZero() {
			matchedOn = now
		}
		out = append(out, match.Merged{
			LostID:    k.LostID,
			FoundID:   k.FoundID,
			Score:     a.sum / float64(a.n),
			MatchedOn: matchedOn,
			Sources:   a.n,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].LostID != out[j].LostID {
			return out[i].LostID < out[j].LostID
		}
		return out[i].FoundID < out[j].FoundID
	})
	return out
}

// Merge averages sources without normalization.
func Merge(now time.Time, sources ...[]match.Score) []match.Merged {
	return NewMerger().Merge(now, sources...)
}

func (m *Merger) normalizer(i int) Normalizer {
	if i < len(m.normalizers) && m.normalizers[i] != nil {
		return m.normalizers[i]
	}
	return Identity
}

package coordinator

import (
	"context"
	"time"

	"github.com/kailas-cloud/matchd/internal/domain/match"
	"github.com/kailas-cloud/matchd/internal/domain/report"
)

// ReportStore discovers candidates and commits decisions.
type ReportStore interface {
	EnsureIndex(ctx context.Context) error
	FetchUnmatched(ctx context.Context, t report.Type) ([]report.Report, error)
	CommitMatch(ctx context.Context, m match.Merged) (match.CommitResult, error)
}

// ReadinessWaiter blocks until the backing store answers.
type ReadinessWaiter interface {
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Source is one scoring service. Score never fails: a broken call yields no scores.
type Source interface {
	Name() string
	RequiresMedia() bool
	HealthCheck(ctx context.Context) bool
	Score(ctx context.Context, lost []report.Report, found *report.Report) []match.Score
}

// MediaResolver attaches retrievable media locations to reports.
type MediaResolver interface {
	Enrich(ctx context.Context, t report.Type, reports []report.Report) []report.Report
}

// Merger combines per-source scores into merged matches.
type Merger interface {
	Merge(now time.Time, sources ...[]match.Score) []match.Merged
}

// PendingJournal remembers half-applied commits for replay.
type PendingJournal interface {
	Add(ctx context.Context, m match.Merged) error
	List(ctx context.Context) ([]match.Merged, error)
	Remove(ctx context.Context, m match.Merged) error
	Count(ctx context.Context) (int64, error)
}

// CycleLease keeps concurrent coordinators from running the same cycle.
// The held context ends if the lease is lost; release frees it.
type CycleLease interface {
	Acquire(ctx context.Context) (held context.Context, release context.CancelFunc, ok bool, err error)
}

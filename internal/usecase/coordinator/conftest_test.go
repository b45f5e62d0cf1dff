package coordinator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kailas-cloud/matchd/internal/domain"
	"github.com/kailas-cloud/matchd/internal/domain/match"
	"github.com/kailas-cloud/matchd/internal/domain/report"
)

// memReport is the mutable state behind one stored report.
type memReport struct {
	id      string
	t       report.Type
	status  report.Status
	partner []string
	details []report.MatchDetail
}

// memStore is an in-memory ReportStore with add-if-absent commit semantics.
type memStore struct {
	mu         sync.Mutex
	reports    map[string]*memReport
	fetchErr   error
	failApply  map[string]error
	fetchCalls int
	fetchCtx   context.Context
	commits    int
}

func newMemStore() *memStore {
	return &memStore{reports: map[string]*memReport{}, failApply: map[string]error{}}
}

func (m *memStore) add(id string, t report.Type) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[id] = &memReport{id: id, t: t, status: report.StatusActive}
}

func (m *memStore) get(id string) memReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.reports[id]
}

func (m *memStore) EnsureIndex(context.Context) error { return nil }

func (m *memStore) FetchUnmatched(ctx context.Context, t report.Type) ([]report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++
	m.fetchCtx = ctx
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}

	var out []report.Report
	for _, r := range m.reports {
		if r.t == t && r.status == report.StatusActive && len(r.partner) == 0 {
			out = append(out, report.Reconstruct(r.id, r.t, r.status, nil, nil, nil, nil))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (m *memStore) apply(id, partner string, score float64, at time.Time) (bool, error) {
	if err := m.failApply[id]; err != nil {
		return false, err
	}
	r, ok := m.reports[id]
	if !ok {
		return false, domain.ErrReportNotFound
	}
	r.status = report.StatusMatched
	for _, p := range r.partner {
		if p == partner {
			return false, nil
		}
	}
	r.partner = append(r.partner, partner)
	r.details = append(r.details, report.MatchDetail{ReportID: partner, Score: score, MatchedOn: at})
	return true, nil
}

func (m *memStore) CommitMatch(_ context.Context, mm match.Merged) (match.CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++

	var res match.CommitResult
	res.FoundChanged, res.FoundErr = m.apply(mm.FoundID, mm.LostID, mm.Score, mm.MatchedOn)
	res.LostChanged, res.LostErr = m.apply(mm.LostID, mm.FoundID, mm.Score, mm.MatchedOn)
	if res.Applied() {
		return res, nil
	}
	return res, domain.NewPartialCommit(errors.Join(res.FoundErr, res.LostErr))
}

// fakeSource returns canned scores per found report.
type fakeSource struct {
	name    string
	healthy bool
	media   bool
	scores  map[string][]match.Score // found id -> scores
	delay   time.Duration
	panics  bool

	mu        sync.Mutex
	calls     int
	lastLost  []report.Report
	lastFound []string
}

func (f *fakeSource) Name() string                     { return f.name }
func (f *fakeSource) RequiresMedia() bool              { return f.media }
func (f *fakeSource) HealthCheck(context.Context) bool { return f.healthy }

func (f *fakeSource) Score(ctx context.Context, lost []report.Report, found *report.Report) []match.Score {
	f.mu.Lock()
	f.calls++
	f.lastLost = lost
	f.lastFound = append(f.lastFound, found.ID())
	f.mu.Unlock()

	if f.panics {
		panic("source exploded")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil
		}
	}
	return f.scores[found.ID()]
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memJournal is an in-memory PendingJournal.
type memJournal struct {
	mu      sync.Mutex
	entries map[match.Key]match.Merged
}

func newMemJournal() *memJournal { return &memJournal{entries: map[match.Key]match.Merged{}} }

func (j *memJournal) Add(_ context.Context, m match.Merged) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[m.Key()] = m
	return nil
}

func (j *memJournal) List(context.Context) ([]match.Merged, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]match.Merged, 0, len(j.entries))
	for _, m := range j.entries {
		out = append(out, m)
	}
	return out, nil
}

func (j *memJournal) Remove(_ context.Context, m match.Merged) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, m.Key())
	return nil
}

func (j *memJournal) Count(context.Context) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return int64(len(j.entries)), nil
}

type heldKey struct{}

// stubLease grants or refuses the lease. A granted lease is marked with heldKey.
type stubLease struct {
	grant    bool
	err      error
	lose     bool // held context ends right after acquisition
	released int
}

func (l *stubLease) Acquire(ctx context.Context) (context.Context, context.CancelFunc, bool, error) {
	if l.err != nil || !l.grant {
		return nil, nil, false, l.err
	}
	held, cancel := context.WithCancel(context.WithValue(ctx, heldKey{}, true))
	if l.lose {
		cancel()
	}
	return held, func() {
		l.released++
		cancel()
	}, true, nil
}

// stubMedia tags every report with one path derived from its id.
type stubMedia struct {
	calls int
}

func (m *stubMedia) Enrich(_ context.Context, _ report.Type, reports []report.Report) []report.Report {
	m.calls++
	out := make([]report.Report, len(reports))
	for i := range reports {
		out[i] = reports[i].WithMediaPaths([]string{"/media/" + reports[i].ID()})
	}
	return out
}

// stubWaiter fails readiness when err is set.
type stubWaiter struct{ err error }

func (w stubWaiter) WaitForReady(context.Context, time.Duration) error { return w.err }

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

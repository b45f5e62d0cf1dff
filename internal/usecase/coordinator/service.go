package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/matchd/internal/domain"
	"github.com/kailas-cloud/matchd/internal/domain/match"
	"github.com/kailas-cloud/matchd/internal/domain/report"
	"github.com/kailas-cloud/matchd/internal/logger"
	"github.com/kailas-cloud/matchd/internal/metrics"
	usematch "github.com/kailas-cloud/matchd/internal/usecase/match"
)

const defaultWorkers = 4

// Config holds loop settings.
type Config struct {
	Interval         time.Duration
	Workers          int
	MaxStoreFailures int // consecutive discovery failures before terminating; 0 = never
}

// Service is the match coordination loop: discover, score, merge, commit.
type Service struct {
	store   ReportStore
	sources []Source
	cfg     Config

	ready        ReadinessWaiter
	readyTimeout time.Duration
	media        MediaResolver
	merger       Merger
	pending      PendingJournal
	lease        CycleLease
	logger       *zap.Logger
	now          func() time.Time

	cycles atomic.Int64

	mu            sync.RWMutex
	state         State
	storeFailures int
	reason        string
	last          *CycleStats
}

// New creates a coordinator over store and the configured scoring sources.
func New(store ReportStore, sources []Source, cfg Config, opts ...Option) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = domain.DefaultCycleInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}

	s := &Service{
		store:   store,
		sources: sources,
		cfg:     cfg,
		merger:  usematch.NewMerger(),
		logger:  zap.NewNop(),
		now:     time.Now,
		state:   StateInitializing,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the startup gate and then the loop until ctx is cancelled.
// It returns an error only when the coordinator terminates abnormally.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	return s.Run(ctx)
}

// Init waits for the store, ensures the discovery index and probes every
// scoring source once. Any failure terminates the coordinator.
func (s *Service) Init(ctx context.Context) error {
	s.setState(StateInitializing)

	if s.ready != nil {
		if err := s.ready.WaitForReady(ctx, s.readyTimeout); err != nil {
			err = fmt.Errorf("wait for store: %w: %w", domain.ErrStoreUnavailable, err)
			s.terminate(err)
			return err
		}
	}
	if err := s.store.EnsureIndex(ctx); err != nil {
		err = fmt.Errorf("ensure index: %w", err)
		s.terminate(err)
		return err
	}

	s.setState(StateHealthChecking)
	var unhealthy []string
	for _, src := range s.sources {
		if !src.HealthCheck(ctx) {
			unhealthy = append(unhealthy, src.Name())
		}
	}
	if len(unhealthy) > 0 {
		err := fmt.Errorf("%w: %s", domain.ErrSourceUnhealthy, strings.Join(unhealthy, ", "))
		s.terminate(err)
		return err
	}

	s.setState(StateRunning)
	s.logger.Info("coordinator running",
		zap.Int("sources", len(s.sources)),
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("workers", s.cfg.Workers),
	)
	return nil
}

// Run repeats cycles every Interval. Discovery failures skip the cycle; after
// MaxStoreFailures consecutive ones the coordinator terminates.
func (s *Service) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.terminate(nil)
			return nil
		case <-timer.C:
		}

		_, err := s.RunCycle(ctx)
		if ctx.Err() != nil {
			s.terminate(nil)
			return nil
		}
		if err != nil && errors.Is(err, domain.ErrStoreUnavailable) {
			failures := s.storeFailed()
			if s.cfg.MaxStoreFailures > 0 && failures >= s.cfg.MaxStoreFailures {
				err = fmt.Errorf("%d consecutive store failures: %w", failures, err)
				s.terminate(err)
				return err
			}
		} else {
			s.storeRecovered()
		}

		timer.Reset(s.cfg.Interval)
	}
}

// RunCycle performs one discovery, scoring, merge and commit pass.
// Only store failures during lease or discovery are returned.
func (s *Service) RunCycle(ctx context.Context) (stats CycleStats, err error) {
	n := s.cycles.Add(1)
	stats = CycleStats{ID: strconv.FormatInt(n, 10), StartedAt: s.now()}
	log := s.logger.With(zap.String("cycle_id", stats.ID))
	ctx = logger.ContextWithLogger(ctx, log)

	defer func() {
		stats.Duration = s.now().Sub(stats.StartedAt)
		metrics.CyclesTotal.WithLabelValues(stats.Outcome).Inc()
		metrics.CycleDuration.Observe(stats.Duration.Seconds())
		s.record(stats)

		fields := []zap.Field{
			zap.String("outcome", stats.Outcome),
			zap.Duration("duration", stats.Duration),
			zap.Int("lost", stats.Lost),
			zap.Int("found", stats.Found),
			zap.Int("scoring_calls", stats.ScoringCalls),
			zap.Int("merged", stats.Merged),
			zap.Int("committed", stats.Committed),
			zap.Int("partial_commits", stats.PartialCommits),
			zap.Int("replayed", stats.Replayed),
			zap.Int("failed_found", stats.FailedFound),
		}
		if err != nil {
			log.Warn("coordinator_cycle", append(fields, zap.Error(err))...)
			return
		}
		log.Info("coordinator_cycle", fields...)
	}()

	if s.lease != nil {
		held, release, acquired, lerr := s.lease.Acquire(ctx)
		if lerr != nil {
			stats.Outcome = OutcomeStoreUnavailable
			return stats, fmt.Errorf("acquire lease: %w: %w", domain.ErrStoreUnavailable, lerr)
		}
		if !acquired {
			stats.Outcome = OutcomeSkippedLease
			log.Debug("cycle lease held elsewhere")
			return stats, nil
		}
		parent := ctx
		defer func() {
			if held.Err() != nil && parent.Err() == nil {
				log.Warn("cycle lease lost before the cycle finished")
			}
			release()
		}()
		ctx = held
	}

	stats.Replayed = s.replayPending(ctx)

	lost, err := s.store.FetchUnmatched(ctx, report.TypeLost)
	if err != nil {
		stats.Outcome = OutcomeStoreUnavailable
		return stats, fmt.Errorf("discover lost: %w", err)
	}
	found, err := s.store.FetchUnmatched(ctx, report.TypeFound)
	if err != nil {
		stats.Outcome = OutcomeStoreUnavailable
		return stats, fmt.Errorf("discover found: %w", err)
	}
	stats.Lost, stats.Found = len(lost), len(found)

	if len(lost) == 0 || len(found) == 0 {
		stats.Outcome = OutcomeSkippedEmpty
		return stats, nil
	}

	if s.needsMedia() {
		lost = s.media.Enrich(ctx, report.TypeLost, lost)
		found = s.media.Enrich(ctx, report.TypeFound, found)
	}

	var acc cycleAcc
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)
	for i := range found {
		f := &found[i]
		g.Go(func() error {
			s.processFound(ctx, lost, f, &acc)
			return nil
		})
	}
	_ = g.Wait()

	stats.ScoringCalls = int(acc.scoringCalls.Load())
	stats.Merged = int(acc.merged.Load())
	stats.Committed = int(acc.committed.Load())
	stats.PartialCommits = int(acc.partial.Load())
	stats.FailedFound = int(acc.failedFound.Load())
	stats.Outcome = OutcomeCompleted
	s.updatePendingGauge(ctx)
	return stats, nil
}

type cycleAcc struct {
	scoringCalls atomic.Int64
	merged       atomic.Int64
	committed    atomic.Int64
	partial      atomic.Int64
	failedFound  atomic.Int64
}

// processFound scores one found report against the lost batch and commits
// the merged matches. Nothing escapes it, panics included.
func (s *Service) processFound(ctx context.Context, lost []report.Report, found *report.Report, acc *cycleAcc) {
	ctx = logger.With(ctx, zap.String("found_id", found.ID()))
	log := logger.FromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			acc.failedFound.Add(1)
			log.Error("found report processing panicked", zap.Any("panic", r))
		}
	}()

	results := s.gather(ctx, lost, found)
	acc.scoringCalls.Add(int64(len(results)))

	merged := s.merger.Merge(s.now(), results...)
	acc.merged.Add(int64(len(merged)))
	if len(merged) == 0 {
		return
	}

	for _, m := range merged {
		s.commit(ctx, m, acc)
	}
}

// gather calls every source concurrently and waits for all of them.
// results[i] holds the i-th source's scores.
func (s *Service) gather(ctx context.Context, lost []report.Report, found *report.Report) [][]match.Score {
	results := make([][]match.Score, len(s.sources))
	var g errgroup.Group
	for i, src := range s.sources {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = nil
					logger.FromContext(ctx).Error("scoring source panicked",
						zap.String("source", src.Name()), zap.Any("panic", r))
				}
			}()
			results[i] = src.Score(ctx, lost, found)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) commit(ctx context.Context, m match.Merged, acc *cycleAcc) {
	log := logger.FromContext(ctx)

	res, err := s.store.CommitMatch(ctx, m)
	recordCommit(res)
	if err == nil {
		acc.committed.Add(1)
		log.Info("match committed",
			zap.String("lost_id", m.LostID),
			zap.Float64("score", m.Score),
			zap.Int("sources", m.Sources),
		)
		return
	}

	acc.partial.Add(1)
	log.Warn("match commit incomplete",
		zap.String("lost_id", m.LostID),
		zap.NamedError("found_err", res.FoundErr),
		zap.NamedError("lost_err", res.LostErr),
	)
	if s.pending == nil {
		return
	}
	if jerr := s.pending.Add(ctx, m); jerr != nil {
		log.Error("journal pending commit", zap.String("lost_id", m.LostID), zap.Error(jerr))
	}
}

// replayPending re-applies journalled matches. An entry is dropped once both
// sides are written or the missing side no longer exists.
func (s *Service) replayPending(ctx context.Context) int {
	if s.pending == nil {
		return 0
	}
	log := logger.FromContext(ctx)

	entries, err := s.pending.List(ctx)
	if err != nil {
		log.Warn("list pending commits", zap.Error(err))
		return 0
	}

	replayed := 0
	for _, m := range entries {
		res, err := s.store.CommitMatch(ctx, m)
		recordCommit(res)
		if err != nil && !(settled(res.FoundErr) && settled(res.LostErr)) {
			log.Warn("replay pending commit",
				zap.String("lost_id", m.LostID),
				zap.String("found_id", m.FoundID),
				zap.Error(err),
			)
			continue
		}
		if err := s.pending.Remove(ctx, m); err != nil {
			log.Warn("remove pending commit", zap.Error(err))
			continue
		}
		replayed++
	}
	return replayed
}

func settled(err error) bool {
	return err == nil || errors.Is(err, domain.ErrReportNotFound)
}

func recordCommit(res match.CommitResult) {
	metrics.CommitsTotal.WithLabelValues("found", commitStatus(res.FoundChanged, res.FoundErr)).Inc()
	metrics.CommitsTotal.WithLabelValues("lost", commitStatus(res.LostChanged, res.LostErr)).Inc()
}

func commitStatus(changed bool, err error) string {
	switch {
	case err != nil:
		return "failed"
	case changed:
		return "applied"
	default:
		return "unchanged"
	}
}

func (s *Service) updatePendingGauge(ctx context.Context) {
	if s.pending == nil {
		return
	}
	if n, err := s.pending.Count(ctx); err == nil {
		metrics.PendingCommits.Set(float64(n))
	}
}

func (s *Service) needsMedia() bool {
	if s.media == nil {
		return false
	}
	for _, src := range s.sources {
		if src.RequiresMedia() {
			return true
		}
	}
	return false
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns a snapshot for operators.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		State:             s.state,
		Cycles:            s.cycles.Load(),
		StoreFailures:     s.storeFailures,
		TerminationReason: s.reason,
	}
	if s.last != nil {
		last := *s.last
		st.LastCycle = &last
	}
	return st
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Service) terminate(cause error) {
	s.mu.Lock()
	s.state = StateTerminated
	if cause != nil {
		s.reason = cause.Error()
	}
	s.mu.Unlock()

	if cause != nil {
		s.logger.Error("coordinator terminated", zap.Error(cause))
		return
	}
	s.logger.Info("coordinator stopped")
}

func (s *Service) record(stats CycleStats) {
	s.mu.Lock()
	s.last = &stats
	s.mu.Unlock()
}

func (s *Service) storeFailed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeFailures++
	return s.storeFailures
}

func (s *Service) storeRecovered() {
	s.mu.Lock()
	s.storeFailures = 0
	s.mu.Unlock()
}

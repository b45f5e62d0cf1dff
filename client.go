package matchd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/matchd/internal/db"
	dbRedis "github.com/kailas-cloud/matchd/internal/db/redis"
	dbValkey "github.com/kailas-cloud/matchd/internal/db/valkey"
	"github.com/kailas-cloud/matchd/internal/domain"
	domreport "github.com/kailas-cloud/matchd/internal/domain/report"
	"github.com/kailas-cloud/matchd/internal/media"
	leaserepo "github.com/kailas-cloud/matchd/internal/repository/lease"
	pendingrepo "github.com/kailas-cloud/matchd/internal/repository/pending"
	reportrepo "github.com/kailas-cloud/matchd/internal/repository/report"
	"github.com/kailas-cloud/matchd/internal/transport/scoring"
	"github.com/kailas-cloud/matchd/internal/usecase/coordinator"
	matchuc "github.com/kailas-cloud/matchd/internal/usecase/match"
)

const defaultReadinessTimeout = 10 * time.Second

// Errors returned by the client. Use errors.Is.
var (
	ErrReportNotFound   = domain.ErrReportNotFound
	ErrInvalidReport    = domain.ErrInvalidReport
	ErrStoreUnavailable = domain.ErrStoreUnavailable
	ErrSourceUnhealthy  = domain.ErrSourceUnhealthy
)

// CycleStats summarizes one coordination cycle.
type CycleStats = coordinator.CycleStats

// Status is a snapshot of the embedded coordinator.
type Status = coordinator.Status

// Report is a read-only view of a stored report.
type Report struct {
	ID               string
	Type             string
	Status           string
	MatchedReportIDs []string
	MatchDetails     []MatchDetail
}

// MatchDetail is one entry of a report's match history.
type MatchDetail struct {
	ReportID  string
	Score     float64
	MatchedOn time.Time
}

// Client embeds the match coordinator in-process.
type Client struct {
	store   db.Store
	lease   *leaserepo.Repo
	reports *reportrepo.Repo
	coord   *coordinator.Service
}

// New creates a matchd Client and connects to the report store.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	store, err := newStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("matchd: create store: %w", err)
	}

	ctx := context.Background()
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("matchd: database not ready: %w", err)
	}

	var lease *leaserepo.Repo
	if cfg.lease {
		validity := cfg.leaseValidity
		if validity <= 0 {
			interval := cfg.interval
			if interval <= 0 {
				interval = domain.DefaultCycleInterval
			}
			validity = 2 * interval
		}
		locker, err := leaserepo.NewLocker(leaserepo.Config{
			Addrs:     cfg.addrs,
			Password:  cfg.password,
			KeyPrefix: cfg.keyPrefix,
			Validity:  validity,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("matchd: create lease: %w", err)
		}
		lease = leaserepo.New(locker)
	}

	return wireClient(store, lease, cfg), nil
}

func newStore(cfg *clientConfig) (db.Store, error) {
	if cfg.valkey {
		return dbValkey.NewStore(dbValkey.Config{Addrs: cfg.addrs, Password: cfg.password})
	}
	return dbRedis.NewStore(dbRedis.Config{Addrs: cfg.addrs, Password: cfg.password})
}

func wireClient(store db.Store, lease *leaserepo.Repo, cfg *clientConfig) *Client {
	reports := reportrepo.New(store, cfg.keyPrefix, 0)

	sources := make([]coordinator.Source, 0, len(cfg.sources))
	normalizers := make([]matchuc.Normalizer, 0, len(cfg.sources))
	for _, s := range cfg.sources {
		sources = append(sources, scoring.New(&scoring.Config{
			Name:          s.Name,
			URL:           s.URL,
			Timeout:       s.Timeout,
			Retries:       s.Retries,
			RequiresMedia: s.RequiresMedia,
			Logger:        cfg.logger,
		}))
		normalizers = append(normalizers, matchuc.Linear(s.ScoreMin, s.ScoreMax))
	}

	opts := []coordinator.Option{
		coordinator.WithMerger(matchuc.NewMerger(normalizers...)),
		coordinator.WithPending(pendingrepo.New(store, cfg.keyPrefix)),
	}
	if cfg.logger != nil {
		opts = append(opts, coordinator.WithLogger(cfg.logger))
	}
	if cfg.mediaDir != "" {
		opts = append(opts, coordinator.WithMedia(media.NewDir(cfg.mediaDir, cfg.logger)))
	}
	if lease != nil {
		opts = append(opts, coordinator.WithLease(lease))
	}

	return &Client{
		store:   store,
		lease:   lease,
		reports: reports,
		coord: coordinator.New(reports, sources, coordinator.Config{
			Interval:         cfg.interval,
			Workers:          cfg.workers,
			MaxStoreFailures: cfg.maxStoreFailures,
		}, opts...),
	}
}

// Close releases all resources.
func (c *Client) Close() {
	if c.lease != nil {
		c.lease.Close()
	}
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// PutReport stores a report document as the intake flow would.
// doc must be a JSON object with reportType "lost" or "found".
func (c *Client) PutReport(ctx context.Context, id string, doc json.RawMessage) error {
	if err := c.reports.Put(ctx, id, doc); err != nil {
		return fmt.Errorf("matchd: %w", err)
	}
	return nil
}

// GetReport loads a report with its match history.
func (c *Client) GetReport(ctx context.Context, id string) (Report, error) {
	r, err := c.reports.Get(ctx, id)
	if err != nil {
		return Report{}, fmt.Errorf("matchd: %w", err)
	}
	return toReport(&r), nil
}

// DeleteReport removes a report. Matched partners keep their history.
func (c *Client) DeleteReport(ctx context.Context, id string) error {
	if err := c.reports.Delete(ctx, id); err != nil {
		return fmt.Errorf("matchd: %w", err)
	}
	return nil
}

// Init ensures the discovery index and health-checks every source.
// It must succeed before RunCycle.
func (c *Client) Init(ctx context.Context) error {
	if err := c.coord.Init(ctx); err != nil {
		return fmt.Errorf("matchd: %w", err)
	}
	return nil
}

// RunCycle runs a single discovery, scoring and commit pass.
func (c *Client) RunCycle(ctx context.Context) (CycleStats, error) {
	stats, err := c.coord.RunCycle(ctx)
	if err != nil {
		return stats, fmt.Errorf("matchd: %w", err)
	}
	return stats, nil
}

// Run initializes the coordinator and runs cycles until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	if err := c.coord.Start(ctx); err != nil {
		return fmt.Errorf("matchd: %w", err)
	}
	return nil
}

// Status returns the coordinator snapshot.
func (c *Client) Status() Status {
	return c.coord.Status()
}

func toReport(r *domreport.Report) Report {
	out := Report{
		ID:               r.ID(),
		Type:             string(r.Type()),
		Status:           string(r.Status()),
		MatchedReportIDs: append([]string(nil), r.MatchedReportIDs()...),
	}
	for _, d := range r.MatchDetails() {
		out.MatchDetails = append(out.MatchDetails, MatchDetail{
			ReportID:  d.ReportID,
			Score:     d.Score,
			MatchedOn: d.MatchedOn,
		})
	}
	return out
}

var errNoAddress = errors.New("matchd: database address required (use WithRedis)")

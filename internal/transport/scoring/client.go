package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/matchd/internal/domain"
	"github.com/kailas-cloud/matchd/internal/domain/match"
	"github.com/kailas-cloud/matchd/internal/domain/report"
	"github.com/kailas-cloud/matchd/internal/metrics"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 8 << 20
)

// Client talks to one scoring source (text or image similarity).
type Client struct {
	name          string
	url           string
	timeout       time.Duration
	healthTimeout time.Duration
	requiresMedia bool
	http          *retryablehttp.Client
	logger        *zap.Logger
}

// Config holds the scoring source settings.
type Config struct {
	Name          string
	URL           string
	Timeout       time.Duration
	HealthTimeout time.Duration
	Retries       int
	RequiresMedia bool
	Logger        *zap.Logger
	HTTPClient    *http.Client // optional; defaults to a pooled transport
}

// New creates a scoring client.
func New(cfg *Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("source", cfg.Name))

	rc := retryablehttp.NewClient()
	rc.RetryMax = max(cfg.Retries, 0)
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = leveledLogger{s: logger.Sugar()}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = domain.DefaultHealthTimeout
	}

	return &Client{
		name:          cfg.Name,
		url:           cfg.URL,
		timeout:       timeout,
		healthTimeout: healthTimeout,
		requiresMedia: cfg.RequiresMedia,
		http:          rc,
		logger:        logger,
	}
}

// Name returns the source name used in logs and metrics.
func (c *Client) Name() string { return c.name }

// RequiresMedia reports whether requests must carry resolved media locations.
func (c *Client) RequiresMedia() bool { return c.requiresMedia }

// Probe sends an empty envelope once, without retries, and expects 200.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	body, err := json.Marshal(envelope{Lost: []json.RawMessage{}, Found: []json.RawMessage{}})
	if err != nil {
		return fmt.Errorf("marshal probe: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build probe: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", c.name, domain.ErrSourceUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d: %w", c.name, resp.StatusCode, domain.ErrSourceUnhealthy)
	}
	return nil
}

// HealthCheck reports whether the source answered the startup probe.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if err := c.Probe(ctx); err != nil {
		c.logger.Error("scoring source health check failed", zap.Error(err))
		return false
	}
	c.logger.Info("scoring source is online")
	return true
}

// Score sends one found report against the lost batch. Any failure degrades to
// an empty result: it is logged and counted, never returned.
func (c *Client) Score(ctx context.Context, lost []report.Report, found *report.Report) []match.Score {
	start := time.Now()
	scores, err := c.score(ctx, lost, found)
	metrics.ScoringRequestDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ScoringRequestsTotal.WithLabelValues(c.name, statusLabel(err)).Inc()
		c.logger.Warn("scoring request failed",
			zap.String("found_id", found.ID()),
			zap.Int("lost_count", len(lost)),
			zap.Error(err),
		)
		return nil
	}

	metrics.ScoringRequestsTotal.WithLabelValues(c.name, "ok").Inc()
	metrics.ScoringMatchesTotal.WithLabelValues(c.name).Add(float64(len(scores)))
	return scores
}

func (c *Client) score(ctx context.Context, lost []report.Report, found *report.Report) ([]match.Score, error) {
	body, err := buildEnvelope(lost, found, c.requiresMedia)
	if err != nil {
		return nil, fmt.Errorf("build envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrSourceUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w: %w", domain.ErrSourceUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrSourceError)
	}

	scores, dropped, err := parseResponse(data, lost, found)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		c.logger.Warn("dropped malformed match entries",
			zap.String("found_id", found.ID()),
			zap.Int("dropped", dropped),
		)
	}
	return scores, nil
}

func statusLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrSourceUnreachable):
		return "unreachable"
	case errors.Is(err, domain.ErrMalformedResponse):
		return "malformed"
	default:
		return "error"
	}
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }

package coordinator

import (
	"time"

	"go.uber.org/zap"
)

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithReadiness makes Start wait for the store before anything else.
func WithReadiness(w ReadinessWaiter, timeout time.Duration) Option {
	return func(s *Service) {
		s.ready = w
		s.readyTimeout = timeout
	}
}

// WithMedia sets the media resolver used for sources that require media.
func WithMedia(m MediaResolver) Option {
	return func(s *Service) { s.media = m }
}

// WithMerger replaces the default averaging merger.
func WithMerger(m Merger) Option {
	return func(s *Service) { s.merger = m }
}

// WithPending enables journalling and replay of partial commits.
func WithPending(p PendingJournal) Option {
	return func(s *Service) { s.pending = p }
}

// WithLease guards each cycle with l. The cycle runs under the held context.
func WithLease(l CycleLease) Option {
	return func(s *Service) { s.lease = l }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

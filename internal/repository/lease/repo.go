package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/rueidislock"

	"github.com/kailas-cloud/matchd/internal/domain"
)

const cycleLock = "cycle"

// locker is the consumer interface over rueidislock (ISP).
type locker interface {
	TryWithContext(ctx context.Context, name string) (context.Context, context.CancelFunc, error)
	Close()
}

// Config holds connection parameters for the lock client.
type Config struct {
	Addrs    []string
	Password string
	// KeyPrefix namespaces the lock keys (e.g. "matchd:").
	KeyPrefix string
	// Validity bounds how long a crashed holder blocks others.
	// The lock is extended every Validity/2 while held.
	Validity time.Duration
}

// NewLocker connects a single-node rueidislock locker.
func NewLocker(cfg Config) (rueidislock.Locker, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("addrs is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = domain.KeyPrefix
	}

	l, err := rueidislock.NewLocker(rueidislock.LockerOption{
		ClientOption: rueidis.ClientOption{
			InitAddress: cfg.Addrs,
			Password:    cfg.Password,
		},
		KeyPrefix:   prefix + "lease",
		KeyValidity: cfg.Validity,
		KeyMajority: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create locker: %w", err)
	}
	return l, nil
}

// Repo is the coordination cycle lease. While held it is extended in the
// background until released or its context ends.
type Repo struct {
	locker locker
}

// New creates a cycle lease over l.
func New(l locker) *Repo {
	return &Repo{locker: l}
}

// Acquire tries to take the lease without waiting. On success the returned
// context is cancelled if the lease is lost, and release frees it.
// ok is false when another coordinator holds the lease.
func (r *Repo) Acquire(ctx context.Context) (held context.Context, release context.CancelFunc, ok bool, err error) {
	held, release, err = r.locker.TryWithContext(ctx, cycleLock)
	if err != nil {
		if errors.Is(err, rueidislock.ErrNotLocked) {
			return nil, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("acquire %s lease: %w", cycleLock, err)
	}
	return held, release, true, nil
}

// Close stops the locker. Held leases are released.
func (r *Repo) Close() {
	r.locker.Close()
}

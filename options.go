package matchd

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Option configures the Client.
type Option func(*clientConfig)

// Source describes one scoring service.
type Source struct {
	Name          string
	URL           string
	Timeout       time.Duration // default 30s
	Retries       int
	RequiresMedia bool
	// ScoreMin and ScoreMax rescale the source's scores linearly to [0,1].
	// Leave both zero when the source already scores in [0,1].
	ScoreMin, ScoreMax float64
}

type clientConfig struct {
	addrs    []string
	password string
	valkey   bool

	keyPrefix        string
	sources          []Source
	mediaDir         string
	interval         time.Duration
	workers          int
	maxStoreFailures int
	lease            bool
	leaseValidity    time.Duration

	logger *zap.Logger
}

// WithRedis configures the client to connect to a Redis instance with RedisJSON and RediSearch.
func WithRedis(addr, password string) Option {
	return func(c *clientConfig) {
		c.addrs = []string{addr}
		c.password = password
	}
}

// WithValkey configures the client to connect to a Valkey instance with valkey-json.
func WithValkey(addr, password string) Option {
	return func(c *clientConfig) {
		c.addrs = []string{addr}
		c.password = password
		c.valkey = true
	}
}

// WithKeyPrefix namespaces every key the client touches. Default "matchd:".
func WithKeyPrefix(prefix string) Option {
	return func(c *clientConfig) {
		c.keyPrefix = prefix
	}
}

// WithSource adds a scoring source. Sources are merged in the order added.
func WithSource(s Source) Option {
	return func(c *clientConfig) {
		c.sources = append(c.sources, s)
	}
}

// WithMediaDir resolves image references against <dir>/Lost and <dir>/Found.
func WithMediaDir(dir string) Option {
	return func(c *clientConfig) {
		c.mediaDir = dir
	}
}

// WithInterval sets the pause between cycles in Run. Default 30s.
func WithInterval(d time.Duration) Option {
	return func(c *clientConfig) {
		c.interval = d
	}
}

// WithWorkers bounds how many found reports are processed in parallel. Default 4.
func WithWorkers(n int) Option {
	return func(c *clientConfig) {
		c.workers = n
	}
}

// WithMaxStoreFailures stops Run after n consecutive store failures. 0 never stops.
func WithMaxStoreFailures(n int) Option {
	return func(c *clientConfig) {
		c.maxStoreFailures = n
	}
}

// WithLease guards every cycle with a store-side lock so several processes
// can share one store. The lock is extended while a cycle runs; validity
// bounds how long a crashed holder blocks the others (0 = twice the interval).
func WithLease(validity time.Duration) Option {
	return func(c *clientConfig) {
		c.lease = true
		c.leaseValidity = validity
	}
}

// WithLogger sets the zap logger. Default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

func (c *clientConfig) validate() error {
	if len(c.addrs) == 0 || c.addrs[0] == "" {
		return errNoAddress
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	seen := make(map[string]struct{}, len(c.sources))
	for i, s := range c.sources {
		if s.Name == "" || s.URL == "" {
			return fmt.Errorf("matchd: source %d: name and url are required", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("matchd: duplicate source %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.RequiresMedia && c.mediaDir == "" {
			return errors.New("matchd: source " + s.Name + " requires media (use WithMediaDir)")
		}
	}
	return nil
}

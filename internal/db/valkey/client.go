package valkey

import (
	"fmt"

	"github.com/kailas-cloud/matchd/internal/db"
	"github.com/kailas-cloud/matchd/internal/db/redis"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Config holds connection parameters for a Valkey store.
type Config struct {
	Addrs    []string
	Password string
}

// Store implements db.Store for Valkey with valkey-json loaded.
// Key, hash, JSON and script commands are shared with the Redis driver;
// search is served by SCAN because valkey-search only answers vector queries.
type Store struct {
	*redis.Store
}

// NewStore creates a Valkey store.
func NewStore(cfg Config) (*Store, error) {
	rs, err := redis.NewStore(redis.Config{Addrs: cfg.Addrs, Password: cfg.Password})
	if err != nil {
		return nil, fmt.Errorf("valkey: %w", err)
	}
	return &Store{Store: rs}, nil
}

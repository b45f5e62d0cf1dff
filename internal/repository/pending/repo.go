package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/matchd/internal/domain"
	"github.com/kailas-cloud/matchd/internal/domain/match"
	"github.com/kailas-cloud/matchd/internal/logger"
)

// store is the consumer interface for the journal (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HLen(ctx context.Context, key string) (int64, error)
}

// Repo journals merged matches whose commit reached only one side.
// Entries live in a single hash keyed by pair and are replayed at the next cycle.
type Repo struct {
	store store
	key   string
}

// New creates a pending-commit journal under prefix.
func New(s store, prefix string) *Repo {
	if prefix == "" {
		prefix = domain.KeyPrefix
	}
	return &Repo{store: s, key: prefix + "pending"}
}

type entryDoc struct {
	LostID    string  `json:"lost_id"`
	FoundID   string  `json:"found_id"`
	Score     float64 `json:"score"`
	MatchedOn string  `json:"matched_on"`
}

// Add records m for replay. Adding the same pair again overwrites the entry.
func (r *Repo) Add(ctx context.Context, m match.Merged) error {
	data, err := json.Marshal(entryDoc{
		LostID:    m.LostID,
		FoundID:   m.FoundID,
		Score:     m.Score,
		MatchedOn: m.MatchedOn.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal pending entry: %w", err)
	}
	if err := r.store.HSet(ctx, r.key, map[string]string{field(m.Key()): string(data)}); err != nil {
		return fmt.Errorf("hset %s: %w", r.key, err)
	}
	return nil
}

// List returns every journalled match ordered by pair. Undecodable entries are
// skipped with a warning and stay in the journal.
func (r *Repo) List(ctx context.Context) ([]match.Merged, error) {
	raw, err := r.store.HGetAll(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", r.key, err)
	}

	fields := make([]string, 0, len(raw))
	for f := range raw {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	out := make([]match.Merged, 0, len(raw))
	for _, f := range fields {
		var e entryDoc
		if err := json.Unmarshal([]byte(raw[f]), &e); err != nil {
			logger.FromContext(ctx).Warn("skipping undecodable pending entry",
				zap.String("key", r.key), zap.String("field", f), zap.Error(err))
			continue
		}
		matchedOn, _ := time.Parse(time.RFC3339Nano, e.MatchedOn)
		out = append(out, match.Merged{
			LostID:    e.LostID,
			FoundID:   e.FoundID,
			Score:     e.Score,
			MatchedOn: matchedOn,
		})
	}
	return out, nil
}

// Remove drops the entry for m's pair.
func (r *Repo) Remove(ctx context.Context, m match.Merged) error {
	if err := r.store.HDel(ctx, r.key, field(m.Key())); err != nil {
		return fmt.Errorf("hdel %s: %w", r.key, err)
	}
	return nil
}

// Count returns the number of journalled matches.
func (r *Repo) Count(ctx context.Context) (int64, error) {
	n, err := r.store.HLen(ctx, r.key)
	if err != nil {
		return 0, fmt.Errorf("hlen %s: %w", r.key, err)
	}
	return n, nil
}

func field(k match.Key) string {
	return k.LostID + "\x1f" + k.FoundID
}

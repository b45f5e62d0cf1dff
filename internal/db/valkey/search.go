package valkey

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/matchd/internal/db"
)

// CreateIndex is a no-op: listings are served by SCAN over the index key prefix.
func (s *Store) CreateIndex(_ context.Context, _ *db.IndexDefinition) error {
	return nil
}

// SearchList pages through keys under the index prefix in key order.
// The query is ignored; callers filter the returned documents themselves.
func (s *Store) SearchList(
	ctx context.Context, index, _ string, offset, limit int, fields []string,
) (*db.SearchResult, error) {
	keys, err := s.scanKeys(ctx, index)
	if err != nil {
		return nil, err
	}

	total := len(keys)
	if offset >= total {
		return &db.SearchResult{Total: total}, nil
	}
	end := min(offset+limit, total)

	paths := fields
	if len(paths) == 0 {
		paths = []string{"$"}
	}

	entries := make([]db.SearchEntry, 0, end-offset)
	for _, key := range keys[offset:end] {
		raw, err := s.JSONGet(ctx, key, paths...)
		if err != nil {
			if errors.Is(err, db.ErrKeyNotFound) {
				continue // deleted between SCAN and GET
			}
			return nil, err
		}
		entries = append(entries, db.SearchEntry{
			Key:    key,
			Fields: map[string]string{"$": string(raw)},
		})
	}

	return &db.SearchResult{Total: total, Entries: entries}, nil
}

func (s *Store) scanKeys(ctx context.Context, index string) ([]string, error) {
	keys, err := s.Scan(ctx, indexToKeyPrefix(index)+"*")
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", index, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// indexToKeyPrefix maps an index name to its key prefix.
// "matchd:report:idx" -> "matchd:report:"
func indexToKeyPrefix(index string) string {
	if strings.HasSuffix(index, ":idx") {
		return index[:len(index)-3]
	}
	return index + ":"
}

package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/matchd/internal/db"
	"github.com/kailas-cloud/matchd/internal/domain"
	"github.com/kailas-cloud/matchd/internal/domain/match"
	domreport "github.com/kailas-cloud/matchd/internal/domain/report"
	"github.com/kailas-cloud/matchd/internal/logger"
)

const defaultPageSize = 200

// store is the consumer interface for reports (ISP).
type store interface {
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	SearchList(ctx context.Context, index, query string, offset, limit int, fields []string) (*db.SearchResult, error)
	RunScript(ctx context.Context, script *db.Script, keys, args []string) (int64, error)
	JSONSet(ctx context.Context, key, path string, data []byte) error
	JSONGet(ctx context.Context, key string, paths ...string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, key string) error
}

// Repo implements the report store client over RedisJSON documents.
type Repo struct {
	store    store
	prefix   string
	pageSize int
}

// New creates a report repository. prefix namespaces every key (e.g. "matchd:").
func New(s store, prefix string, pageSize int) *Repo {
	if prefix == "" {
		prefix = domain.KeyPrefix
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Repo{store: s, prefix: prefix, pageSize: pageSize}
}

// EnsureIndex creates the discovery index. An existing index is not an error.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	def, err := buildIndex(r.indexName(), r.keyPrefix())
	if err != nil {
		return fmt.Errorf("build report index: %w", err)
	}
	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create report index: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Put stores a report document under id. The document must carry a valid
// reportType; _id is overwritten and a missing status defaults to active.
func (r *Repo) Put(ctx context.Context, id string, doc json.RawMessage) error {
	if id == "" {
		return fmt.Errorf("put report: empty id: %w", domain.ErrInvalidReport)
	}
	data, err := normalizeDoc(id, doc)
	if err != nil {
		return err
	}
	if err := r.store.JSONSet(ctx, r.reportKey(id), "$", data); err != nil {
		return fmt.Errorf("put report %s: %w: %w", id, domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Get loads one report by id.
func (r *Repo) Get(ctx context.Context, id string) (domreport.Report, error) {
	raw, err := r.store.JSONGet(ctx, r.reportKey(id), "$")
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domreport.Report{}, fmt.Errorf("get report %s: %w", id, domain.ErrReportNotFound)
		}
		return domreport.Report{}, fmt.Errorf("get report %s: %w: %w", id, domain.ErrStoreUnavailable, err)
	}
	return parseReport(id, string(raw))
}

// Delete removes a report. Partners keep their history entries for it.
func (r *Repo) Delete(ctx context.Context, id string) error {
	key := r.reportKey(id)
	ok, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("delete report %s: %w: %w", id, domain.ErrStoreUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("delete report %s: %w", id, domain.ErrReportNotFound)
	}
	if err := r.store.Del(ctx, key); err != nil {
		return fmt.Errorf("delete report %s: %w: %w", id, domain.ErrStoreUnavailable, err)
	}
	return nil
}

// FetchUnmatched returns every active report of type t with no match history.
// The index narrows by type and status; match history is checked on the decoded document.
func (r *Repo) FetchUnmatched(ctx context.Context, t domreport.Type) ([]domreport.Report, error) {
	query := db.TagFilter("reportType", string(t)) + " " + db.TagFilter("status", string(domreport.StatusActive))

	var reports []domreport.Report
	for offset := 0; ; offset += r.pageSize {
		result, err := r.store.SearchList(ctx, r.indexName(), query, offset, r.pageSize, []string{"$"})
		if err != nil {
			return nil, fmt.Errorf("search unmatched %s: %w: %w", t, domain.ErrStoreUnavailable, err)
		}
		if result == nil {
			break
		}

		for _, entry := range result.Entries {
			rep, err := parseReport(r.extractID(entry.Key), entry.Fields["$"])
			if err != nil {
				logger.FromContext(ctx).Warn("skipping undecodable report",
					zap.String("key", entry.Key), zap.Error(err))
				continue
			}
			if rep.Type() != t || !rep.Unmatched() {
				continue
			}
			reports = append(reports, rep)
		}

		// Pages can come back short when documents vanish between the
		// count and the fetch, so only the reported total ends the walk.
		if offset+r.pageSize >= result.Total {
			break
		}
	}
	return reports, nil
}

// ApplyMatch records partnerID on the report and marks it matched.
// Returns false when the partner was already present (history unchanged).
func (r *Repo) ApplyMatch(ctx context.Context, reportID string, detail domreport.MatchDetail) (bool, error) {
	partner, err := json.Marshal(detail.ReportID)
	if err != nil {
		return false, fmt.Errorf("marshal partner id: %w", err)
	}
	entry, err := json.Marshal(matchDetailDoc{
		ReportID:  detail.ReportID,
		Score:     detail.Score,
		MatchedOn: detail.MatchedOn.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return false, fmt.Errorf("marshal match detail: %w", err)
	}

	key := r.reportKey(reportID)
	res, err := r.store.RunScript(ctx, applyMatchScript, []string{key}, []string{string(partner), string(entry)})
	if err != nil {
		return false, fmt.Errorf("apply match %s: %w: %w", reportID, domain.ErrStoreUnavailable, err)
	}

	switch res {
	case applyNotFound:
		return false, fmt.Errorf("apply match %s: %w", reportID, domain.ErrReportNotFound)
	case applyUnchanged:
		return false, nil
	case applyAppended:
		return true, nil
	default:
		return false, fmt.Errorf("apply match %s: unexpected script reply %d", reportID, res)
	}
}

// CommitMatch applies a merged match to both reports, found side first.
// Both sides are always attempted; a single failure yields domain.ErrPartialCommit.
func (r *Repo) CommitMatch(ctx context.Context, m match.Merged) (match.CommitResult, error) {
	var res match.CommitResult

	res.FoundChanged, res.FoundErr = r.ApplyMatch(ctx, m.FoundID, domreport.MatchDetail{
		ReportID: m.LostID, Score: m.Score, MatchedOn: m.MatchedOn,
	})
	res.LostChanged, res.LostErr = r.ApplyMatch(ctx, m.LostID, domreport.MatchDetail{
		ReportID: m.FoundID, Score: m.Score, MatchedOn: m.MatchedOn,
	})

	if res.Applied() {
		return res, nil
	}

	var failed []string
	if res.FoundErr != nil {
		failed = append(failed, m.FoundID)
	}
	if res.LostErr != nil {
		failed = append(failed, m.LostID)
	}
	return res, domain.NewPartialCommit(errors.Join(res.FoundErr, res.LostErr), failed...)
}

func (r *Repo) keyPrefix() string { return r.prefix + "report:" }

func (r *Repo) reportKey(id string) string { return r.keyPrefix() + id }

func (r *Repo) indexName() string { return r.prefix + "report:idx" }

func (r *Repo) extractID(key string) string { return strings.TrimPrefix(key, r.keyPrefix()) }

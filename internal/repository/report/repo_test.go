package report

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/matchd/internal/db"
	"github.com/kailas-cloud/matchd/internal/domain"
	"github.com/kailas-cloud/matchd/internal/domain/match"
	domreport "github.com/kailas-cloud/matchd/internal/domain/report"
	"github.com/kailas-cloud/matchd/internal/logger"
)

// --- EnsureIndex ---

func TestEnsureIndex_Creates(t *testing.T) {
	repo, ms := newTestRepo(t)

	var got *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		got = def
		return nil
	}

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("expected CreateIndex to be called")
	}
	want := "FT.CREATE matchd:report:idx ON JSON PREFIX matchd:report: " +
		"SCHEMA $.reportType AS reportType TAG $.status AS status TAG"
	if got.String() != want {
		t.Errorf("index = %q\nwant    %q", got.String(), want)
	}
}

func TestEnsureIndex_AlreadyExists(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		return db.ErrIndexExists
	}

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("existing index should not be an error: %v", err)
	}
}

func TestEnsureIndex_StoreError(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		return &db.Error{Op: db.OpCreateIndex, Err: context.DeadlineExceeded}
	}

	err := repo.EnsureIndex(context.Background())
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

// --- FetchUnmatched ---

func TestFetchUnmatched_QueryAndFilter(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.searchListFn = func(
		_ context.Context, index, query string, offset, limit int, fields []string,
	) (*db.SearchResult, error) {
		if index != "matchd:report:idx" {
			t.Errorf("unexpected index: %s", index)
		}
		if query != "@reportType:{lost} @status:{active}" {
			t.Errorf("unexpected query: %s", query)
		}
		if offset != 0 || limit != 2 {
			t.Errorf("unexpected page: offset=%d limit=%d", offset, limit)
		}
		if len(fields) != 1 || fields[0] != "$" {
			t.Errorf("unexpected fields: %v", fields)
		}
		return &db.SearchResult{Total: 2, Entries: []db.SearchEntry{
			{Key: "matchd:report:l1", Fields: map[string]string{
				"$": `{"reportType":"lost","status":"active","itemDetails":{"images":["a.jpg"]}}`,
			}},
			// stale index entry: already carries history
			{Key: "matchd:report:l2", Fields: map[string]string{
				"$": `{"reportType":"lost","status":"active","matchedReportIds":["f9"]}`,
			}},
		}}, nil
	}

	reports, err := repo.FetchUnmatched(context.Background(), domreport.TypeLost)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	if reports[0].ID() != "l1" {
		t.Errorf("expected id l1, got %s", reports[0].ID())
	}
	if imgs := reports[0].Images(); len(imgs) != 1 || imgs[0] != "a.jpg" {
		t.Errorf("unexpected images: %v", imgs)
	}
}

func TestFetchUnmatched_Paginates(t *testing.T) {
	repo, ms := newTestRepo(t)

	pages := map[int][]db.SearchEntry{
		0: {
			{Key: "matchd:report:f1", Fields: map[string]string{"$": `{"reportType":"found","status":"active"}`}},
			{Key: "matchd:report:f2", Fields: map[string]string{"$": `{"reportType":"found","status":"active"}`}},
		},
		2: {
			{Key: "matchd:report:f3", Fields: map[string]string{"$": `[{"reportType":"found","status":"active"}]`}},
		},
	}
	var calls int
	ms.searchListFn = func(
		_ context.Context, _, _ string, offset, _ int, _ []string,
	) (*db.SearchResult, error) {
		calls++
		return &db.SearchResult{Total: 3, Entries: pages[offset]}, nil
	}

	reports, err := repo.FetchUnmatched(context.Background(), domreport.TypeFound)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 pages, got %d", calls)
	}
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(reports))
	}
	if reports[2].ID() != "f3" {
		t.Errorf("expected wrapped document to decode, got %s", reports[2].ID())
	}
}

func TestFetchUnmatched_SkipsMalformed(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchListFn = func(
		_ context.Context, _, _ string, _, _ int, _ []string,
	) (*db.SearchResult, error) {
		return &db.SearchResult{Total: 2, Entries: []db.SearchEntry{
			{Key: "matchd:report:bad", Fields: map[string]string{"$": `{not json`}},
			{Key: "matchd:report:ok", Fields: map[string]string{"$": `{"reportType":"found","status":"active"}`}},
		}}, nil
	}

	reports, err := repo.FetchUnmatched(context.Background(), domreport.TypeFound)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 1 || reports[0].ID() != "ok" {
		t.Errorf("expected only the well-formed report, got %d", len(reports))
	}
}

func TestFetchUnmatched_ShortPageKeepsWalking(t *testing.T) {
	repo, ms := newTestRepo(t)

	// f1 was deleted after the count, so the first page holds one document.
	pages := map[int][]db.SearchEntry{
		0: {
			{Key: "matchd:report:f2", Fields: map[string]string{"$": `{"reportType":"found","status":"active"}`}},
		},
		2: {
			{Key: "matchd:report:f3", Fields: map[string]string{"$": `{"reportType":"found","status":"active"}`}},
		},
	}
	var offsets []int
	ms.searchListFn = func(
		_ context.Context, _, _ string, offset, _ int, _ []string,
	) (*db.SearchResult, error) {
		offsets = append(offsets, offset)
		return &db.SearchResult{Total: 3, Entries: pages[offset]}, nil
	}

	reports, err := repo.FetchUnmatched(context.Background(), domreport.TypeFound)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(offsets) != 2 || offsets[1] != 2 {
		t.Errorf("expected pages at offsets [0 2], got %v", offsets)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if reports[0].ID() != "f2" || reports[1].ID() != "f3" {
		t.Errorf("unexpected ids: %s, %s", reports[0].ID(), reports[1].ID())
	}
}

func TestFetchUnmatched_LogsSkippedDocument(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchListFn = func(
		_ context.Context, _, _ string, _, _ int, _ []string,
	) (*db.SearchResult, error) {
		return &db.SearchResult{Total: 1, Entries: []db.SearchEntry{
			{Key: "matchd:report:bad", Fields: map[string]string{"$": `{"reportType":"kept"}`}},
		}}, nil
	}

	core, logs := observer.New(zap.WarnLevel)
	ctx := logger.ContextWithLogger(context.Background(), zap.New(core))

	reports, err := repo.FetchUnmatched(ctx, domreport.TypeFound)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 0 {
		t.Fatalf("expected no reports, got %d", len(reports))
	}
	entries := logs.FilterMessage("skipping undecodable report").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(entries))
	}
	if key := entries[0].ContextMap()["key"]; key != "matchd:report:bad" {
		t.Errorf("expected key field matchd:report:bad, got %v", key)
	}
}

func TestFetchUnmatched_StoreUnavailable(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchListFn = func(
		_ context.Context, _, _ string, _, _ int, _ []string,
	) (*db.SearchResult, error) {
		return nil, &db.Error{Op: db.OpSearch, Err: errors.New("connection refused")}
	}

	_, err := repo.FetchUnmatched(context.Background(), domreport.TypeLost)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

// --- ApplyMatch ---

func TestApplyMatch_Args(t *testing.T) {
	repo, ms := newTestRepo(t)
	matchedOn := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	ms.runScriptFn = func(_ context.Context, script *db.Script, keys, args []string) (int64, error) {
		if script != applyMatchScript {
			t.Errorf("unexpected script: %s", script.Name)
		}
		if len(keys) != 1 || keys[0] != "matchd:report:f1" {
			t.Errorf("unexpected keys: %v", keys)
		}
		if args[0] != `"l1"` {
			t.Errorf("partner id must be JSON-encoded, got %s", args[0])
		}
		var d matchDetailDoc
		if err := json.Unmarshal([]byte(args[1]), &d); err != nil {
			t.Fatalf("detail is not JSON: %v", err)
		}
		if d.ReportID != "l1" || d.Score != 0.85 || d.MatchedOn != "2024-05-01T12:00:00Z" {
			t.Errorf("unexpected detail: %+v", d)
		}
		return applyAppended, nil
	}

	changed, err := repo.ApplyMatch(context.Background(), "f1", domreport.MatchDetail{
		ReportID: "l1", Score: 0.85, MatchedOn: matchedOn,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Error("expected changed=true")
	}
}

func TestApplyMatch_Replies(t *testing.T) {
	tests := []struct {
		name        string
		reply       int64
		wantChanged bool
		wantErr     error
	}{
		{"appended", applyAppended, true, nil},
		{"unchanged", applyUnchanged, false, nil},
		{"not_found", applyNotFound, false, domain.ErrReportNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, ms := newTestRepo(t)
			ms.runScriptFn = func(_ context.Context, _ *db.Script, _, _ []string) (int64, error) {
				return tc.reply, nil
			}

			changed, err := repo.ApplyMatch(context.Background(), "f1", domreport.MatchDetail{ReportID: "l1"})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if changed != tc.wantChanged {
				t.Errorf("expected changed=%v, got %v", tc.wantChanged, changed)
			}
		})
	}
}

// --- CommitMatch ---

func TestCommitMatch_BothSides(t *testing.T) {
	repo, ms := newTestRepo(t)

	var order []string
	ms.runScriptFn = func(_ context.Context, _ *db.Script, keys, args []string) (int64, error) {
		order = append(order, keys[0]+"<-"+args[0])
		return applyAppended, nil
	}

	res, err := repo.CommitMatch(context.Background(), match.Merged{
		LostID: "l1", FoundID: "f1", Score: 0.85, MatchedOn: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Applied() || !res.FoundChanged || !res.LostChanged {
		t.Errorf("unexpected result: %+v", res)
	}
	want := []string{`matchd:report:f1<-"l1"`, `matchd:report:l1<-"f1"`}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestCommitMatch_PartialFailureStillAttemptsOtherSide(t *testing.T) {
	repo, ms := newTestRepo(t)

	var lostAttempted bool
	ms.runScriptFn = func(_ context.Context, _ *db.Script, keys, _ []string) (int64, error) {
		if keys[0] == "matchd:report:f1" {
			return 0, errors.New("connection reset")
		}
		lostAttempted = true
		return applyAppended, nil
	}

	res, err := repo.CommitMatch(context.Background(), match.Merged{LostID: "l1", FoundID: "f1", Score: 0.9})
	if !errors.Is(err, domain.ErrPartialCommit) {
		t.Fatalf("expected ErrPartialCommit, got %v", err)
	}
	if !lostAttempted {
		t.Error("lost side must be attempted after found side fails")
	}
	if res.FoundErr == nil || res.LostErr != nil || !res.LostChanged {
		t.Errorf("unexpected result: %+v", res)
	}

	var pce *domain.PartialCommitError
	if !errors.As(err, &pce) {
		t.Fatalf("expected PartialCommitError, got %T", err)
	}
	if len(pce.FailedIDs) != 1 || pce.FailedIDs[0] != "f1" {
		t.Errorf("unexpected failed ids: %v", pce.FailedIDs)
	}
}

func TestCommitMatch_Idempotent(t *testing.T) {
	repo, ms := newTestRepo(t)

	// add-if-absent, as the server-side script does
	history := map[string][]string{}
	ms.runScriptFn = func(_ context.Context, _ *db.Script, keys, args []string) (int64, error) {
		for _, p := range history[keys[0]] {
			if p == args[0] {
				return applyUnchanged, nil
			}
		}
		history[keys[0]] = append(history[keys[0]], args[0])
		return applyAppended, nil
	}

	m := match.Merged{LostID: "l1", FoundID: "f1", Score: 0.85, MatchedOn: time.Now()}
	if _, err := repo.CommitMatch(context.Background(), m); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	res, err := repo.CommitMatch(context.Background(), m)
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if res.FoundChanged || res.LostChanged {
		t.Error("second commit must not change history")
	}
	if len(history["matchd:report:f1"]) != 1 || len(history["matchd:report:l1"]) != 1 {
		t.Errorf("expected one entry per side, got %v", history)
	}
}

func TestPut_NormalizesDocument(t *testing.T) {
	repo, ms := newTestRepo(t)

	var gotKey, gotPath string
	var stored map[string]any
	ms.jsonSetFn = func(_ context.Context, key, path string, data []byte) error {
		gotKey, gotPath = key, path
		return json.Unmarshal(data, &stored)
	}

	doc := json.RawMessage(`{"reportType":"lost","userId":"u1","itemDetails":{"images":["a.jpg"]}}`)
	if err := repo.Put(context.Background(), "L1", doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotKey != "matchd:report:L1" || gotPath != "$" {
		t.Errorf("unexpected key/path: %q %q", gotKey, gotPath)
	}
	if stored["_id"] != "L1" || stored["status"] != "active" || stored["userId"] != "u1" {
		t.Errorf("unexpected document: %v", stored)
	}
	if ids, ok := stored["matchedReportIds"].([]any); !ok || len(ids) != 0 {
		t.Errorf("expected empty matchedReportIds, got %v", stored["matchedReportIds"])
	}
	if details, ok := stored["matchDetails"].([]any); !ok || len(details) != 0 {
		t.Errorf("expected empty matchDetails, got %v", stored["matchDetails"])
	}
}

func TestPut_KeepsExistingStatus(t *testing.T) {
	repo, ms := newTestRepo(t)

	var stored map[string]any
	ms.jsonSetFn = func(_ context.Context, _, _ string, data []byte) error {
		return json.Unmarshal(data, &stored)
	}

	if err := repo.Put(context.Background(), "F1", json.RawMessage(`{"reportType":"found","status":"resolved"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored["status"] != "resolved" {
		t.Errorf("status overwritten: %v", stored["status"])
	}
}

func TestPut_Invalid(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.jsonSetFn = func(context.Context, string, string, []byte) error {
		t.Fatal("store must not be called for invalid documents")
		return nil
	}

	tests := []struct {
		name, id, doc string
	}{
		{"empty_id", "", `{"reportType":"lost"}`},
		{"not_object", "L1", `["lost"]`},
		{"bad_json", "L1", `{`},
		{"missing_type", "L1", `{"status":"active"}`},
		{"unknown_type", "L1", `{"reportType":"stolen"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := repo.Put(context.Background(), tc.id, json.RawMessage(tc.doc))
			if !errors.Is(err, domain.ErrInvalidReport) {
				t.Errorf("expected ErrInvalidReport, got %v", err)
			}
		})
	}
}

func TestPut_StoreError(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.jsonSetFn = func(context.Context, string, string, []byte) error {
		return errors.New("conn reset")
	}

	err := repo.Put(context.Background(), "L1", json.RawMessage(`{"reportType":"lost"}`))
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestGet(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.jsonGetFn = func(_ context.Context, key string, paths ...string) ([]byte, error) {
		if key != "matchd:report:L1" || len(paths) != 1 || paths[0] != "$" {
			t.Errorf("unexpected args: %q %v", key, paths)
		}
		return []byte(`[{"reportType":"lost","status":"matched","matchedReportIds":["F1"],` +
			`"matchDetails":[{"report_id":"F1","score":0.85,"matched_on":"2024-05-01T12:00:00Z"}]}]`), nil
	}

	rep, err := repo.Get(context.Background(), "L1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.ID() != "L1" || !rep.HasPartner("F1") || len(rep.MatchDetails()) != 1 {
		t.Errorf("unexpected report: %+v", rep)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.Get(context.Background(), "nope")
	if !errors.Is(err, domain.ErrReportNotFound) {
		t.Fatalf("expected ErrReportNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	repo, ms := newTestRepo(t)
	var deleted string
	ms.delFn = func(_ context.Context, key string) error {
		deleted = key
		return nil
	}

	if err := repo.Delete(context.Background(), "L1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != "matchd:report:L1" {
		t.Errorf("deleted key = %q", deleted)
	}
}

func TestDelete_NotFound(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.existsFn = func(context.Context, string) (bool, error) { return false, nil }
	ms.delFn = func(context.Context, string) error {
		t.Fatal("Del must not be called for a missing report")
		return nil
	}

	if err := repo.Delete(context.Background(), "nope"); !errors.Is(err, domain.ErrReportNotFound) {
		t.Errorf("expected ErrReportNotFound, got %v", err)
	}
}

func TestDelete_StoreError(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.delFn = func(context.Context, string) error { return errors.New("conn reset") }

	if err := repo.Delete(context.Background(), "L1"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

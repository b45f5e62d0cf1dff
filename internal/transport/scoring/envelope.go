package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/kailas-cloud/matchd/internal/domain"
	"github.com/kailas-cloud/matchd/internal/domain/match"
	"github.com/kailas-cloud/matchd/internal/domain/report"
)

// envelope is the request body: the lost batch plus the single found report.
type envelope struct {
	Lost  []json.RawMessage `json:"lost"`
	Found []json.RawMessage `json:"found"`
}

type response struct {
	Matches []matchDoc `json:"matches"`
}

type matchDoc struct {
	LostID    string   `json:"lost_id"`
	FoundID   string   `json:"found_id"`
	Score     *float64 `json:"score"`
	MatchedOn string   `json:"matched_on,omitempty"`
}

func buildEnvelope(lost []report.Report, found *report.Report, withMedia bool) ([]byte, error) {
	env := envelope{
		Lost:  make([]json.RawMessage, 0, len(lost)),
		Found: make([]json.RawMessage, 0, 1),
	}
	for i := range lost {
		p, err := payload(&lost[i], withMedia)
		if err != nil {
			return nil, err
		}
		env.Lost = append(env.Lost, p)
	}
	p, err := payload(found, withMedia)
	if err != nil {
		return nil, err
	}
	env.Found = append(env.Found, p)

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// payload forwards the stored document untouched apart from the id and,
// for media-aware sources, the resolved image locations.
func payload(r *report.Report, withMedia bool) (json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	if raw := r.Payload(); len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("report %s payload: %w", r.ID(), err)
		}
		if doc == nil {
			doc = map[string]json.RawMessage{}
		}
	}

	id, err := json.Marshal(r.ID())
	if err != nil {
		return nil, fmt.Errorf("marshal id: %w", err)
	}
	doc["_id"] = id
	doc["reportType"], _ = json.Marshal(string(r.Type()))

	if withMedia {
		paths := r.MediaPaths()
		if paths == nil {
			paths = []string{}
		}
		doc["image_paths"], err = json.Marshal(paths)
		if err != nil {
			return nil, fmt.Errorf("marshal image paths: %w", err)
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

// parseResponse decodes the match list. Entries naming reports outside the
// request, or carrying a missing or non-finite score, are dropped and counted.
func parseResponse(data []byte, lost []report.Report, found *report.Report) ([]match.Score, int, error) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", domain.ErrMalformedResponse, err)
	}

	requested := make(map[string]struct{}, len(lost))
	for i := range lost {
		requested[lost[i].ID()] = struct{}{}
	}

	scores := make([]match.Score, 0, len(resp.Matches))
	dropped := 0
	for _, m := range resp.Matches {
		if _, ok := requested[m.LostID]; !ok || m.FoundID != found.ID() {
			dropped++
			continue
		}
		if m.Score == nil || math.IsNaN(*m.Score) || math.IsInf(*m.Score, 0) {
			dropped++
			continue
		}

		s := match.Score{LostID: m.LostID, FoundID: m.FoundID, Score: *m.Score}
		if m.MatchedOn != "" {
			s.MatchedOn = parseTimestamp(m.MatchedOn)
		}
		scores = append(scores, s)
	}
	return scores, dropped, nil
}

// parseTimestamp accepts RFC 3339 and the zone-less ISO form some sources emit.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

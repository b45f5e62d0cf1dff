package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/matchd/internal/domain"
	domreport "github.com/kailas-cloud/matchd/internal/domain/report"
)

// reportDoc is the subset of the stored document the core reads.
// Everything else travels untouched in the raw payload.
type reportDoc struct {
	ReportType       string           `json:"reportType"`
	Status           string           `json:"status"`
	MatchedReportIDs []string         `json:"matchedReportIds"`
	MatchDetails     []matchDetailDoc `json:"matchDetails"`
	ItemDetails      struct {
		Images []string `json:"images"`
	} `json:"itemDetails"`
}

type matchDetailDoc struct {
	ReportID  string  `json:"report_id"`
	Score     float64 `json:"score"`
	MatchedOn string  `json:"matched_on"`
}

// parseReport decodes an FT.SEARCH "$" value. Depending on the dialect the
// document arrives either bare or wrapped in a one-element array.
func parseReport(id, raw string) (domreport.Report, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domreport.Report{}, fmt.Errorf("report %s: empty document: %w", id, domain.ErrInvalidReport)
	}

	payload := json.RawMessage(raw)
	if strings.HasPrefix(raw, "[") {
		var wrapped []json.RawMessage
		if err := json.Unmarshal(payload, &wrapped); err != nil || len(wrapped) == 0 {
			return domreport.Report{}, fmt.Errorf("report %s: %w", id, domain.ErrInvalidReport)
		}
		payload = wrapped[0]
	}

	var doc reportDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return domreport.Report{}, fmt.Errorf("report %s: %w: %w", id, domain.ErrInvalidReport, err)
	}

	t, err := domreport.ParseType(doc.ReportType)
	if err != nil {
		return domreport.Report{}, fmt.Errorf("report %s: %w: %w", id, domain.ErrInvalidReport, err)
	}

	details := make([]domreport.MatchDetail, 0, len(doc.MatchDetails))
	for _, d := range doc.MatchDetails {
		matchedOn, _ := time.Parse(time.RFC3339Nano, d.MatchedOn)
		details = append(details, domreport.MatchDetail{
			ReportID:  d.ReportID,
			Score:     d.Score,
			MatchedOn: matchedOn,
		})
	}

	return domreport.Reconstruct(
		id, t, domreport.Status(doc.Status),
		doc.MatchedReportIDs, details, doc.ItemDetails.Images, payload,
	), nil
}

// normalizeDoc validates an incoming document and fills the fields the
// discovery index depends on.
func normalizeDoc(id string, doc json.RawMessage) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("report %s: not a JSON object: %w", id, domain.ErrInvalidReport)
	}

	var probe reportDoc
	if err := json.Unmarshal(doc, &probe); err != nil {
		return nil, fmt.Errorf("report %s: %w: %w", id, domain.ErrInvalidReport, err)
	}
	if _, err := domreport.ParseType(probe.ReportType); err != nil {
		return nil, fmt.Errorf("report %s: %w: %w", id, domain.ErrInvalidReport, err)
	}

	idJSON, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("marshal id: %w", err)
	}
	fields["_id"] = idJSON
	if probe.Status == "" {
		fields["status"] = json.RawMessage(`"` + string(domreport.StatusActive) + `"`)
	}
	if _, ok := fields["matchedReportIds"]; !ok {
		fields["matchedReportIds"] = json.RawMessage(`[]`)
	}
	if _, ok := fields["matchDetails"]; !ok {
		fields["matchDetails"] = json.RawMessage(`[]`)
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal report %s: %w", id, err)
	}
	return data, nil
}

// Package media maps stored image references on reports to locations a
// scoring source can read. References are matched by case-insensitive base
// name with the extension stripped, inside a per-type folder ("Lost", "Found").
package media

import (
	"context"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/matchd/internal/domain/report"
)

// lister enumerates the media available for one report type: base key -> location.
type lister interface {
	list(ctx context.Context, t report.Type) (map[string]string, error)
}

// Resolver attaches resolved media locations to reports.
type Resolver struct {
	src    lister
	logger *zap.Logger
}

func newResolver(src lister, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{src: src, logger: logger}
}

// Nop returns a Resolver that attaches no media.
func Nop() *Resolver { return &Resolver{logger: zap.NewNop()} }

// Enrich returns copies of reports carrying their resolved media locations.
// An unreadable folder or unknown reference is logged and yields no location.
func (r *Resolver) Enrich(ctx context.Context, t report.Type, reports []report.Report) []report.Report {
	out := make([]report.Report, len(reports))
	if r.src == nil {
		copy(out, reports)
		return out
	}

	available, err := r.src.list(ctx, t)
	if err != nil {
		r.logger.Error("media folder unavailable", zap.String("report_type", string(t)), zap.Error(err))
		available = nil
	}

	for i := range reports {
		refs := reports[i].Images()
		paths := make([]string, 0, len(refs))
		for _, ref := range refs {
			key := baseKey(ref)
			loc, ok := available[key]
			if !ok {
				r.logger.Warn("media not found",
					zap.String("report_id", reports[i].ID()),
					zap.String("base_name", key),
				)
				continue
			}
			paths = append(paths, loc)
		}
		out[i] = reports[i].WithMediaPaths(paths)
	}
	return out
}

// Folder returns the per-type folder name.
func Folder(t report.Type) string {
	if t == report.TypeFound {
		return "Found"
	}
	return "Lost"
}

// baseKey normalizes a reference to its lower-cased base name without extension.
// Both "/" and "\" separators are accepted since references come from client uploads.
func baseKey(ref string) string {
	ref = strings.ReplaceAll(ref, "\\", "/")
	base := path.Base(ref)
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.ToLower(base)
}

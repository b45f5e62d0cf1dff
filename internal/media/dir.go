package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kailas-cloud/matchd/internal/domain"
	"github.com/kailas-cloud/matchd/internal/domain/report"
)

type dirLister struct {
	base string
}

// NewDir creates a Resolver over a local directory holding Lost/ and Found/ folders.
func NewDir(base string, logger *zap.Logger) *Resolver {
	return newResolver(&dirLister{base: base}, logger)
}

func (d *dirLister) list(_ context.Context, t report.Type) (map[string]string, error) {
	folder := filepath.Join(d.base, Folder(t))
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", folder, domain.ErrMediaUnavailable, err)
	}

	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		out[baseKey(e.Name())] = filepath.Clean(filepath.Join(folder, e.Name()))
	}
	return out, nil
}

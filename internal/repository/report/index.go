package report

import "github.com/kailas-cloud/matchd/internal/db"

// buildIndex describes the discovery index over report documents.
func buildIndex(name, prefix string) (*db.IndexDefinition, error) {
	return db.NewIndex(name).
		Prefix(prefix).
		JSONTag("$.reportType", "reportType").
		JSONTag("$.status", "status").
		Build()
}

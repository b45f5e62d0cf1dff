package health

import "context"

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// SourceProber checks one scoring source.
type SourceProber interface {
	Name() string
	Probe(ctx context.Context) error
}

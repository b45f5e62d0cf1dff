package coordinator

import "time"

// State is the coordinator lifecycle state.
type State string

const (
	StateInitializing   State = "initializing"
	StateHealthChecking State = "health_checking"
	StateRunning        State = "running"
	StateTerminated     State = "terminated"
)

// Cycle outcomes, also used as metric labels.
const (
	OutcomeCompleted        = "completed"
	OutcomeSkippedEmpty     = "skipped_empty"
	OutcomeSkippedLease     = "skipped_lease"
	OutcomeStoreUnavailable = "store_unavailable"
)

// CycleStats summarizes one coordination cycle.
type CycleStats struct {
	ID             string        `json:"id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration_ns"`
	Outcome        string        `json:"outcome"`
	Lost           int           `json:"lost"`
	Found          int           `json:"found"`
	ScoringCalls   int           `json:"scoring_calls"`
	Merged         int           `json:"merged"`
	Committed      int           `json:"committed"`
	PartialCommits int           `json:"partial_commits"`
	Replayed       int           `json:"replayed"`
	FailedFound    int           `json:"failed_found"`
}

// Status is a point-in-time snapshot of the coordinator.
type Status struct {
	State             State       `json:"state"`
	Cycles            int64       `json:"cycles"`
	StoreFailures     int         `json:"consecutive_store_failures"`
	TerminationReason string      `json:"termination_reason,omitempty"`
	LastCycle         *CycleStats `json:"last_cycle,omitempty"`
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable signals that the report store could not be queried.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrReportNotFound signals a missing report.
	ErrReportNotFound = errors.New("report not found")
	// ErrInvalidReport signals a stored report that cannot be decoded.
	ErrInvalidReport = errors.New("invalid report")

	// ErrSourceUnreachable signals a network failure or timeout talking to a scoring source.
	ErrSourceUnreachable = errors.New("scoring source unreachable")
	// ErrSourceError signals a non-2xx reply from a scoring source.
	ErrSourceError = errors.New("scoring source error")
	// ErrMalformedResponse signals a scoring reply that could not be decoded.
	ErrMalformedResponse = errors.New("malformed scoring response")
	// ErrSourceUnhealthy signals a failed startup health probe.
	ErrSourceUnhealthy = errors.New("scoring source unhealthy")

	// ErrPartialCommit signals that only one side of a match was written.
	ErrPartialCommit = errors.New("partial commit")
	// ErrMediaUnavailable signals that stored media could not be resolved.
	ErrMediaUnavailable = errors.New("media unavailable")
)

// PartialCommitError wraps ErrPartialCommit with the ids of the sides that failed.
type PartialCommitError struct {
	FailedIDs []string
	Err       error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("%s: failed sides %v: %v", ErrPartialCommit.Error(), e.FailedIDs, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *PartialCommitError) Unwrap() []error { return []error{ErrPartialCommit, e.Err} }

// NewPartialCommit creates a partial commit error.
func NewPartialCommit(cause error, failedIDs ...string) error {
	return &PartialCommitError{FailedIDs: failedIDs, Err: cause}
}

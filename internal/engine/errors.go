package engine

import (
	"fmt"

	"ndjobi/internal/domain"
)

// UnroutableTypeError indicates no role in the catalog accepts the report
// type. A configuration or input problem, surfaced to the intake caller.
type UnroutableTypeError struct {
	Type string
}

func (e UnroutableTypeError) Error() string {
	return fmt.Sprintf("no agent role accepts report type %q", e.Type)
}

// InvalidTransitionError indicates a status change not reachable from the
// report's current status. The report is left unmodified.
type InvalidTransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// ValidationError indicates malformed input at the engine boundary.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) ValidationError {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConcurrentModificationError indicates a lost race on a per-report mutation.
// Callers should reload and retry, bounded to a few attempts.
type ConcurrentModificationError struct {
	ReportID string
}

func (e ConcurrentModificationError) Error() string {
	return fmt.Sprintf("report %s was modified concurrently; reload and retry", e.ReportID)
}

// DuplicateDecisionError indicates a replayed dedup token. The prior decision
// is attached so callers can treat the replay as success-equivalent.
type DuplicateDecisionError struct {
	Token    string
	Existing domain.Decision
}

func (e DuplicateDecisionError) Error() string {
	return fmt.Sprintf("decision with dedup token %s already recorded", e.Token)
}

// RepositoryError wraps a persistence-layer failure.
type RepositoryError struct {
	Op  string
	Err error
}

func (e RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e RepositoryError) Unwrap() error { return e.Err }

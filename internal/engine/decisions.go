package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"ndjobi/internal/domain"
	"ndjobi/internal/events"
	"ndjobi/internal/hub"
	"ndjobi/internal/repo"
)

// RecordDecisionOptions parameterize an authoritative decision on a case.
type RecordDecisionOptions struct {
	ReportID  string
	Kind      domain.DecisionKind
	ActorID   string
	Rationale string
	// DedupToken makes the call idempotent: a retried request carrying the
	// same token fails with DuplicateDecisionError instead of appending a
	// second decision.
	DedupToken string
}

// RecordDecision appends an immutable decision and applies the status
// transition it implies, as one atomic unit. An invalid implied transition
// rolls the decision back; the ledger never holds an orphan entry.
func (e Engine) RecordDecision(ctx context.Context, opts RecordDecisionOptions) (domain.Decision, error) {
	if !opts.Kind.Known() {
		return domain.Decision{}, validationf("unknown decision kind %q", opts.Kind)
	}
	if opts.ActorID == "" {
		return domain.Decision{}, validationf("actor is required")
	}
	if opts.DedupToken == "" {
		return domain.Decision{}, validationf("dedup token is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Decision{}, RepositoryError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	if prior, err := e.Repo.GetDecisionByTokenTx(ctx, tx, opts.DedupToken); err == nil {
		return domain.Decision{}, DuplicateDecisionError{Token: opts.DedupToken, Existing: prior}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Decision{}, RepositoryError{Op: "dedup lookup", Err: err}
	}
	rep, err := e.Repo.GetReportTx(ctx, tx, opts.ReportID)
	if err != nil {
		return domain.Decision{}, err
	}
	implied := opts.Kind.ImpliedStatus()
	if !transitionAllowed(rep.Status, implied) {
		return domain.Decision{}, InvalidTransitionError{From: rep.Status, To: implied}
	}
	now := e.now().UTC().Format(time.RFC3339)
	d := domain.Decision{
		ID:         uuid.NewString(),
		ReportID:   rep.ID,
		Kind:       opts.Kind,
		DecidedBy:  opts.ActorID,
		DecidedAt:  now,
		Rationale:  opts.Rationale,
		DedupToken: opts.DedupToken,
	}
	if err := e.Repo.InsertDecision(ctx, tx, d); err != nil {
		return domain.Decision{}, RepositoryError{Op: "insert decision", Err: err}
	}
	var resolvedAt *string
	if implied.Terminal() {
		resolvedAt = &now
	}
	ok, err := e.Repo.UpdateReportStatusTx(ctx, tx, rep.ID, implied, now, resolvedAt, rep.Version)
	if err != nil {
		return domain.Decision{}, RepositoryError{Op: "update status", Err: err}
	}
	if !ok {
		return domain.Decision{}, ConcurrentModificationError{ReportID: rep.ID}
	}
	if err := e.Events.Append(ctx, tx, "decision.recorded", rep.ID, rep.AssignedRole, opts.ActorID, events.EventPayload{
		"decision_id": d.ID,
		"kind":        string(d.Kind),
		"from":        string(rep.Status),
		"to":          string(implied),
	}); err != nil {
		return domain.Decision{}, RepositoryError{Op: "append event", Err: err}
	}
	if err := e.Events.Append(ctx, tx, "report.status_changed", rep.ID, rep.AssignedRole, opts.ActorID, events.EventPayload{
		"from": string(rep.Status),
		"to":   string(implied),
	}); err != nil {
		return domain.Decision{}, RepositoryError{Op: "append event", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return domain.Decision{}, RepositoryError{Op: "commit", Err: err}
	}
	from := rep.Status
	rep.Status = implied
	rep.UpdatedAt = now
	rep.ResolvedAt = resolvedAt
	rep.Version++
	e.publish(hub.EventDecided, rep, map[string]any{
		"decision_id": d.ID,
		"kind":        string(d.Kind),
		"decided_by":  d.DecidedBy,
	})
	e.publish(hub.EventUpdated, rep, map[string]any{
		"from":   string(from),
		"status": string(rep.Status),
	})
	return d, nil
}

// ListDecisions returns the full trail for a report; only the latest entry
// is authoritative for status.
func (e Engine) ListDecisions(ctx context.Context, reportID string) ([]domain.Decision, error) {
	if _, err := e.Repo.GetReport(ctx, reportID); err != nil {
		return nil, err
	}
	return e.Repo.ListDecisions(ctx, reportID)
}

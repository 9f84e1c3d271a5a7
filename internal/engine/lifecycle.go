package engine

import (
	"context"
	"time"

	"ndjobi/internal/domain"
	"ndjobi/internal/events"
	"ndjobi/internal/hub"
)

// transitions is the explicit status table. Reports move from pending into
// an active state, circulate between investigation and in_progress, and end
// in a terminal state. Nothing leaves a terminal state.
var transitions = map[domain.Status][]domain.Status{
	domain.StatusPending:       {domain.StatusAssigned, domain.StatusInvestigation, domain.StatusInProgress},
	domain.StatusAssigned:      {domain.StatusInvestigation, domain.StatusInProgress, domain.StatusResolved, domain.StatusClosed},
	domain.StatusInvestigation: {domain.StatusInProgress, domain.StatusResolved, domain.StatusClosed},
	domain.StatusInProgress:    {domain.StatusInvestigation, domain.StatusResolved, domain.StatusClosed},
	domain.StatusResolved:      {},
	domain.StatusClosed:        {},
}

func transitionAllowed(from, to domain.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionOptions parameterize a status change.
type TransitionOptions struct {
	ReportID string
	Target   domain.Status
	ActorID  string
	// IfVersion, when set, asserts the caller's view of the report. A
	// mismatch fails with ConcurrentModificationError before any change.
	IfVersion *int64
}

// Transition applies a validated status change. On success the report's
// status, updated-at, and (for terminal targets) resolved-at move together
// under the optimistic version guard; on failure the report is untouched.
func (e Engine) Transition(ctx context.Context, opts TransitionOptions) (domain.Report, error) {
	if opts.ActorID == "" {
		return domain.Report{}, validationf("actor is required")
	}
	if !opts.Target.Known() {
		return domain.Report{}, validationf("unknown status %q", opts.Target)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, RepositoryError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	rep, err := e.Repo.GetReportTx(ctx, tx, opts.ReportID)
	if err != nil {
		return domain.Report{}, err
	}
	if opts.IfVersion != nil && *opts.IfVersion != rep.Version {
		return domain.Report{}, ConcurrentModificationError{ReportID: rep.ID}
	}
	if !transitionAllowed(rep.Status, opts.Target) {
		return domain.Report{}, InvalidTransitionError{From: rep.Status, To: opts.Target}
	}
	if opts.Target.Terminal() && rep.Sensitive() {
		n, err := e.Repo.CountDecisionsTx(ctx, tx, rep.ID)
		if err != nil {
			return domain.Report{}, RepositoryError{Op: "count decisions", Err: err}
		}
		if n == 0 {
			return domain.Report{}, validationf("sensitive case %s requires a recorded decision before closure", rep.Reference)
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	var resolvedAt *string
	if opts.Target.Terminal() {
		resolvedAt = &now
	}
	ok, err := e.Repo.UpdateReportStatusTx(ctx, tx, rep.ID, opts.Target, now, resolvedAt, rep.Version)
	if err != nil {
		return domain.Report{}, RepositoryError{Op: "update status", Err: err}
	}
	if !ok {
		return domain.Report{}, ConcurrentModificationError{ReportID: rep.ID}
	}
	if err := e.Events.Append(ctx, tx, "report.status_changed", rep.ID, rep.AssignedRole, opts.ActorID, events.EventPayload{
		"from": string(rep.Status),
		"to":   string(opts.Target),
	}); err != nil {
		return domain.Report{}, RepositoryError{Op: "append event", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, RepositoryError{Op: "commit", Err: err}
	}
	from := rep.Status
	rep.Status = opts.Target
	rep.UpdatedAt = now
	rep.ResolvedAt = resolvedAt
	rep.Version++
	e.publish(hub.EventUpdated, rep, map[string]any{
		"from":   string(from),
		"status": string(rep.Status),
	})
	return rep, nil
}

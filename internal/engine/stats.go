package engine

import (
	"context"
	"time"

	"ndjobi/internal/domain"
	"ndjobi/internal/repo"
)

// Snapshot aggregates the role's current report set into dashboard counters.
// It is a pure read recomputed on every call; there are no stored running
// totals to drift from the ledger of record.
func (e Engine) Snapshot(ctx context.Context, role string, asOf time.Time) (domain.StatsSnapshot, error) {
	if _, ok := e.Catalog.Role(role); !ok {
		return domain.StatsSnapshot{}, validationf("unknown agent role %q", role)
	}
	rows, err := e.Repo.ReportsForRole(ctx, role)
	if err != nil {
		return domain.StatsSnapshot{}, RepositoryError{Op: "reports for role", Err: err}
	}
	defer rows.Close()

	asOf = asOf.UTC()
	monthStart := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)
	prevStart := monthStart.AddDate(0, -1, 0)

	snap := domain.StatsSnapshot{Role: role, ByType: map[string]int{}}
	for rows.Next() {
		// A navigated-away dashboard cancels the context; bail out between
		// rows since there is nothing to roll back.
		if err := ctx.Err(); err != nil {
			return domain.StatsSnapshot{}, err
		}
		rep, err := repo.ScanReportRow(rows)
		if err != nil {
			return domain.StatsSnapshot{}, RepositoryError{Op: "scan report", Err: err}
		}
		snap.Total++
		switch rep.Status {
		case domain.StatusPending:
			snap.Pending++
		case domain.StatusAssigned, domain.StatusInvestigation, domain.StatusInProgress:
			snap.InProgress++
		case domain.StatusResolved, domain.StatusClosed:
			snap.Resolved++
		}
		snap.ByType[rep.Type]++
		if created, err := time.Parse(time.RFC3339, rep.CreatedAt); err == nil {
			created = created.UTC()
			switch {
			case !created.Before(monthStart) && created.Before(monthStart.AddDate(0, 1, 0)):
				snap.ThisMonth++
			case !created.Before(prevStart) && created.Before(monthStart):
				snap.LastMonth++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return domain.StatsSnapshot{}, RepositoryError{Op: "iterate reports", Err: err}
	}
	if snap.Total > 0 {
		snap.SuccessRate = float64(snap.Resolved) / float64(snap.Total)
	}
	return snap, nil
}

package engine

import (
	"context"

	"ndjobi/internal/domain"
)

// Route picks the agent queue for a report type. It has no side effects:
// persistence and notification belong to the caller.
//
// A single accepting role wins outright. With several candidates the one with
// the lowest pending-queue load is chosen; exact ties fall back to catalog
// rank, so routing stays reproducible.
func (e Engine) Route(ctx context.Context, reportType string) (string, error) {
	candidates := e.Catalog.RolesFor(reportType)
	if len(candidates) == 0 {
		return "", UnroutableTypeError{Type: reportType}
	}
	if len(candidates) == 1 {
		return candidates[0].ID, nil
	}
	loads, err := e.Repo.CountPendingByRole(ctx)
	if err != nil {
		return "", RepositoryError{Op: "count pending by role", Err: err}
	}
	return pickRole(candidates, loads), nil
}

// pickRole selects the least-loaded candidate. Candidates arrive in rank
// order, so a strict less-than comparison resolves exact ties by rank.
func pickRole(candidates []domain.AgentRole, loads map[string]int) string {
	best := candidates[0]
	bestLoad := loads[best.ID]
	for _, c := range candidates[1:] {
		if loads[c.ID] < bestLoad {
			best = c
			bestLoad = loads[c.ID]
		}
	}
	return best.ID
}

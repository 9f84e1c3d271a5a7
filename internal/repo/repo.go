// Package repo confines all SQL behind repository methods. The engine never
// issues raw queries; swapping the store means swapping this package.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ndjobi/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const reportColumns = `id, reference, title, type, status, priority, COALESCE(location,''), description,
assigned_role, submitted_by, ai_priority_score, ai_credibility_score, ai_summary, ai_category,
version, created_at, updated_at, resolved_at`

type reportScanner interface {
	Scan(dest ...any) error
}

func scanReport(row reportScanner) (domain.Report, error) {
	var r domain.Report
	var status, priority string
	var aiPriority, aiCredibility sql.NullFloat64
	var aiSummary, aiCategory, resolvedAt sql.NullString
	err := row.Scan(&r.ID, &r.Reference, &r.Title, &r.Type, &status, &priority, &r.Location, &r.Description,
		&r.AssignedRole, &r.SubmittedBy, &aiPriority, &aiCredibility, &aiSummary, &aiCategory,
		&r.Version, &r.CreatedAt, &r.UpdatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.Status = domain.Status(status)
	r.Priority = domain.Priority(priority)
	if aiPriority.Valid {
		r.Assessment = &domain.AIAssessment{
			PriorityScore:    aiPriority.Float64,
			CredibilityScore: aiCredibility.Float64,
			Summary:          aiSummary.String,
			Category:         aiCategory.String,
		}
	}
	if resolvedAt.Valid {
		r.ResolvedAt = &resolvedAt.String
	}
	return r, nil
}

// InsertReport persists a freshly routed report inside tx.
func (r Repo) InsertReport(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reports(id, reference, title, type, status, priority, location, description,
assigned_role, submitted_by, version, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rep.ID, rep.Reference, rep.Title, rep.Type, string(rep.Status), string(rep.Priority),
		nullable(rep.Location), rep.Description, rep.AssignedRole, rep.SubmittedBy,
		rep.Version, rep.CreatedAt, rep.UpdatedAt)
	return err
}

// GetReport fetches a report by id.
func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	return scanReport(r.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id))
}

// GetReportTx fetches a report inside tx, observing uncommitted writes.
func (r Repo) GetReportTx(ctx context.Context, tx *sql.Tx, id string) (domain.Report, error) {
	return scanReport(tx.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id))
}

// GetReportByReference fetches a report by its human-readable reference.
func (r Repo) GetReportByReference(ctx context.Context, reference string) (domain.Report, error) {
	return scanReport(r.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE reference=?`, reference))
}

// ReportFilters narrow ListReports.
type ReportFilters struct {
	Role     string
	Status   string
	Type     string
	Priority string
	Limit    int
}

// ListReports returns reports matching the filters, newest first.
func (r Repo) ListReports(ctx context.Context, f ReportFilters) ([]domain.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports`
	var conds []string
	var args []any
	if f.Role != "" {
		conds = append(conds, "assigned_role=?")
		args = append(args, f.Role)
	}
	if f.Status != "" {
		conds = append(conds, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		conds = append(conds, "type=?")
		args = append(args, f.Type)
	}
	if f.Priority != "" {
		conds = append(conds, "priority=?")
		args = append(args, f.Priority)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// UpdateReportStatusTx applies a status change guarded by the optimistic
// version check. Returns false when the stored version no longer matches,
// meaning a concurrent mutation won.
func (r Repo) UpdateReportStatusTx(ctx context.Context, tx *sql.Tx, id string, status domain.Status, updatedAt string, resolvedAt *string, expectVersion int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE reports SET status=?, updated_at=?, resolved_at=?, version=version+1
WHERE id=? AND version=?`,
		string(status), updatedAt, nullableString(resolvedAt), id, expectVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateAssessmentTx merges AI scoring fields, guarded like a status update.
func (r Repo) UpdateAssessmentTx(ctx context.Context, tx *sql.Tx, id string, a domain.AIAssessment, updatedAt string, expectVersion int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE reports SET ai_priority_score=?, ai_credibility_score=?, ai_summary=?, ai_category=?,
updated_at=?, version=version+1 WHERE id=? AND version=?`,
		a.PriorityScore, a.CredibilityScore, nullable(a.Summary), nullable(a.Category),
		updatedAt, id, expectVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountPendingByRole returns the pending-queue depth per role, used by
// routing to pick the least-loaded candidate.
func (r Repo) CountPendingByRole(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT assigned_role, COUNT(*) FROM reports WHERE status=? GROUP BY assigned_role`,
		string(domain.StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		counts[role] = n
	}
	return counts, rows.Err()
}

// ReportsForRole streams the role's full report set for aggregation.
func (r Repo) ReportsForRole(ctx context.Context, role string) (*sql.Rows, error) {
	return r.DB.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE assigned_role=?`, role)
}

// ScanReportRow adapts a ReportsForRole row for callers outside this package.
func ScanReportRow(rows *sql.Rows) (domain.Report, error) {
	return scanReport(rows)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

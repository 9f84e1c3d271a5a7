package repo

import (
	"context"
	"database/sql"

	"ndjobi/internal/domain"
)

func scanDecision(row reportScanner) (domain.Decision, error) {
	var d domain.Decision
	var kind string
	var rationale sql.NullString
	err := row.Scan(&d.ID, &d.ReportID, &kind, &d.DecidedBy, &d.DecidedAt, &rationale, &d.DedupToken)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.Kind = domain.DecisionKind(kind)
	d.Rationale = rationale.String
	return d, nil
}

// InsertDecision appends to the decision ledger inside tx. Decisions are
// immutable: there is no update or delete counterpart.
func (r Repo) InsertDecision(ctx context.Context, tx *sql.Tx, d domain.Decision) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO decisions(id, report_id, kind, decided_by, decided_at, rationale, dedup_token)
VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.ReportID, string(d.Kind), d.DecidedBy, d.DecidedAt, nullable(d.Rationale), d.DedupToken)
	return err
}

// GetDecisionByTokenTx looks up a prior decision by dedup token inside tx.
func (r Repo) GetDecisionByTokenTx(ctx context.Context, tx *sql.Tx, token string) (domain.Decision, error) {
	return scanDecision(tx.QueryRowContext(ctx,
		`SELECT id, report_id, kind, decided_by, decided_at, rationale, dedup_token FROM decisions WHERE dedup_token=?`, token))
}

// CountDecisionsTx returns how many decisions the report has accumulated,
// observed inside tx.
func (r Repo) CountDecisionsTx(ctx context.Context, tx *sql.Tx, reportID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions WHERE report_id=?`, reportID).Scan(&n)
	return n, err
}

// ListDecisions returns the report's decision trail, oldest first, so the
// last entry is the authoritative one.
func (r Repo) ListDecisions(ctx context.Context, reportID string) ([]domain.Decision, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, report_id, kind, decided_by, decided_at, rationale, dedup_token FROM decisions WHERE report_id=? ORDER BY decided_at, id`,
		reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

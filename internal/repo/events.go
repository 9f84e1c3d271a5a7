package repo

import (
	"context"
	"strings"

	"ndjobi/internal/domain"
)

// LatestEvents returns the most recent ledger entries matching the filters,
// newest first.
func (r Repo) LatestEvents(ctx context.Context, n int, evtType, reportID, role string) ([]domain.Event, error) {
	query := `SELECT id, ts, type, COALESCE(report_id,''), COALESCE(role,''), actor_id, payload_json FROM events`
	var conds []string
	var args []any
	if evtType != "" {
		conds = append(conds, "type=?")
		args = append(args, evtType)
	}
	if reportID != "" {
		conds = append(conds, "report_id=?")
		args = append(args, reportID)
	}
	if role != "" {
		conds = append(conds, "role=?")
		args = append(args, role)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ReportID, &e.Role, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the id of the newest ledger entry, 0 when empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

// EventsAfter returns up to limit ledger entries with id greater than cursor,
// oldest first. Used by webhook delivery and API tailing.
func (r Repo) EventsAfter(ctx context.Context, cursor int64, limit int) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, ts, type, COALESCE(report_id,''), COALESCE(role,''), actor_id, payload_json FROM events WHERE id>? ORDER BY id LIMIT ?`,
		cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ReportID, &e.Role, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Package engine implements the report triage core: routing, the status
// lifecycle, the decision ledger, and per-role statistics. Operations return
// a result or a typed error and leave transport to the callers.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ndjobi/internal/catalog"
	"ndjobi/internal/domain"
	"ndjobi/internal/events"
	"ndjobi/internal/hub"
	"ndjobi/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Catalog *catalog.Catalog
	Hub     *hub.Hub
	Now     func() time.Time
}

// New wires an engine over the given store and catalog. The hub is optional;
// a nil hub disables realtime fan-out. All mutations commit before any
// publish, so subscribers never observe uncommitted state.
func New(db *sql.DB, cat *catalog.Catalog, h *hub.Hub) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Catalog: cat,
		Hub:     h,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CreateReportOptions are the intake parameters. Status is never accepted
// from the caller: every report starts at pending.
type CreateReportOptions struct {
	Title       string
	Type        string
	Description string
	Location    string
	Priority    domain.Priority
	SubmittedBy string
	ActorID     string
}

// CreateReport routes an incoming report to its agent queue and persists it
// at the initial pending status.
func (e Engine) CreateReport(ctx context.Context, opts CreateReportOptions) (domain.Report, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Report{}, validationf("title is required")
	}
	if strings.TrimSpace(opts.Description) == "" {
		return domain.Report{}, validationf("description is required")
	}
	if opts.ActorID == "" {
		opts.ActorID = opts.SubmittedBy
	}
	if opts.ActorID == "" {
		return domain.Report{}, validationf("actor is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Priority.Known() {
		return domain.Report{}, validationf("unknown priority %q", opts.Priority)
	}
	role, err := e.Route(ctx, opts.Type)
	if err != nil {
		return domain.Report{}, err
	}
	now := e.now().UTC()
	id := uuid.NewString()
	rep := domain.Report{
		ID:           id,
		Reference:    referenceFor(id, now),
		Title:        opts.Title,
		Type:         opts.Type,
		Status:       domain.StatusPending,
		Priority:     opts.Priority,
		Location:     opts.Location,
		Description:  opts.Description,
		AssignedRole: role,
		SubmittedBy:  opts.SubmittedBy,
		Version:      1,
		CreatedAt:    now.Format(time.RFC3339),
		UpdatedAt:    now.Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, RepositoryError{Op: "begin", Err: err}
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReport(ctx, tx, rep); err != nil {
		return domain.Report{}, RepositoryError{Op: "insert report", Err: err}
	}
	if err := e.Events.Append(ctx, tx, "report.created", rep.ID, rep.AssignedRole, opts.ActorID, events.EventPayload{
		"reference": rep.Reference,
		"type":      rep.Type,
		"priority":  string(rep.Priority),
		"status":    string(rep.Status),
	}); err != nil {
		return domain.Report{}, RepositoryError{Op: "append event", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, RepositoryError{Op: "commit", Err: err}
	}
	e.publish(hub.EventCreated, rep, map[string]any{
		"reference": rep.Reference,
		"type":      rep.Type,
		"priority":  string(rep.Priority),
		"status":    string(rep.Status),
	})
	return rep, nil
}

// AttachAssessment merges externally computed AI scoring onto the report.
// The scores are opaque to the engine; no correctness checks beyond range.
func (e Engine) AttachAssessment(ctx context.Context, reportID string, a domain.AIAssessment, actorID string) (domain.Report, error) {
	if actorID == "" {
		return domain.Report{}, validationf("actor is required")
	}
	if a.PriorityScore < 0 || a.PriorityScore > 100 {
		return domain.Report{}, validationf("priority score %v outside [0,100]", a.PriorityScore)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, RepositoryError{Op: "begin", Err: err}
	}
	defer tx.Rollback()
	rep, err := e.Repo.GetReportTx(ctx, tx, reportID)
	if err != nil {
		return domain.Report{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	ok, err := e.Repo.UpdateAssessmentTx(ctx, tx, reportID, a, now, rep.Version)
	if err != nil {
		return domain.Report{}, RepositoryError{Op: "update assessment", Err: err}
	}
	if !ok {
		return domain.Report{}, ConcurrentModificationError{ReportID: reportID}
	}
	if err := e.Events.Append(ctx, tx, "report.assessment_attached", rep.ID, rep.AssignedRole, actorID, events.EventPayload{
		"priority_score":    a.PriorityScore,
		"credibility_score": a.CredibilityScore,
		"category":          a.Category,
	}); err != nil {
		return domain.Report{}, RepositoryError{Op: "append event", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, RepositoryError{Op: "commit", Err: err}
	}
	rep.Assessment = &a
	rep.UpdatedAt = now
	rep.Version++
	e.publish(hub.EventUpdated, rep, map[string]any{
		"priority_score": a.PriorityScore,
	})
	return rep, nil
}

func (e Engine) publish(kind hub.EventKind, rep domain.Report, payload map[string]any) {
	if e.Hub == nil {
		return
	}
	e.Hub.Publish(hub.Event{
		ReportID: rep.ID,
		Role:     rep.AssignedRole,
		Kind:     kind,
		Payload:  payload,
		TS:       e.now().UTC(),
	})
}

// referenceFor derives the public tracking reference citizens use to follow
// their signalement.
func referenceFor(id string, now time.Time) string {
	compact := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(compact) > 8 {
		compact = compact[:8]
	}
	return fmt.Sprintf("SIG-%d-%s", now.Year(), compact)
}

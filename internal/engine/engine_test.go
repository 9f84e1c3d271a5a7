package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ndjobi/internal/catalog"
	"ndjobi/internal/config"
	"ndjobi/internal/db"
	"ndjobi/internal/domain"
	"ndjobi/internal/engine"
	"ndjobi/internal/migrate"
	"ndjobi/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	return newTestEnvWithConfig(t, config.Default())
}

func newTestEnvWithConfig(t *testing.T, cfg *config.Config) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cat, err := catalog.New(cfg)
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	eng := engine.New(conn, cat, nil)
	eng.Now = func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func createReport(t *testing.T, env testEnv, typ string, opts ...func(*engine.CreateReportOptions)) domain.Report {
	t.Helper()
	o := engine.CreateReportOptions{
		Title:       "Signalement " + typ,
		Type:        typ,
		Description: "description",
		SubmittedBy: "citizen-1",
	}
	for _, f := range opts {
		f(&o)
	}
	rep, err := env.Engine.CreateReport(env.Ctx, o)
	if err != nil {
		t.Fatalf("create report (%s): %v", typ, err)
	}
	return rep
}

func TestRoutingCoversCatalog(t *testing.T) {
	env := newTestEnv(t)
	for _, typ := range env.Engine.Catalog.Types() {
		rep := createReport(t, env, typ.ID)
		if rep.AssignedRole == "" {
			t.Fatalf("type %s: no role assigned", typ.ID)
		}
		role, ok := env.Engine.Catalog.Role(rep.AssignedRole)
		if !ok {
			t.Fatalf("type %s: assigned unknown role %s", typ.ID, rep.AssignedRole)
		}
		if !role.AcceptsType(typ.ID) {
			t.Fatalf("type %s routed to role %s which does not accept it", typ.ID, role.ID)
		}
		if rep.Status != domain.StatusPending {
			t.Fatalf("type %s: expected pending, got %s", typ.ID, rep.Status)
		}
	}
}

func TestUnroutableType(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateReport(env.Ctx, engine.CreateReportOptions{
		Title:       "Inconnu",
		Type:        "braconnage",
		Description: "type hors catalogue",
		SubmittedBy: "citizen-1",
	})
	var unroutable engine.UnroutableTypeError
	if !errors.As(err, &unroutable) {
		t.Fatalf("expected UnroutableTypeError, got %v", err)
	}
	if unroutable.Type != "braconnage" {
		t.Fatalf("unexpected type in error: %s", unroutable.Type)
	}
	// The report must not have been persisted.
	items, err := env.Engine.Repo.ListReports(env.Ctx, repo.ReportFilters{})
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("unroutable report was persisted: %+v", items)
	}
}

func TestRoutingPrefersLowestLoad(t *testing.T) {
	cfg := &config.Config{}
	cfg.Catalog.Types = []config.TypeDef{{ID: "partage", Label: "Partagé"}}
	cfg.Catalog.Roles = []config.RoleDef{
		{ID: "role_a", Label: "A", Types: []string{"partage"}, Rank: 1},
		{ID: "role_b", Label: "B", Types: []string{"partage"}, Rank: 2},
	}
	env := newTestEnvWithConfig(t, cfg)

	// Exact tie (0-0): lowest rank wins.
	first := createReport(t, env, "partage")
	if first.AssignedRole != "role_a" {
		t.Fatalf("tie should go to rank 1, got %s", first.AssignedRole)
	}
	// role_a now carries one pending case; role_b is lighter.
	second := createReport(t, env, "partage")
	if second.AssignedRole != "role_b" {
		t.Fatalf("expected role_b for lighter queue, got %s", second.AssignedRole)
	}
	// Back to an exact tie (1-1): rank decides again.
	third := createReport(t, env, "partage")
	if third.AssignedRole != "role_a" {
		t.Fatalf("tie should go back to rank 1, got %s", third.AssignedRole)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	env := newTestEnv(t)
	rep := createReport(t, env, "corruption")
	rep, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: rep.ID, Target: domain.StatusAssigned, ActorID: "agent-1"})
	if err != nil {
		t.Fatalf("to assigned: %v", err)
	}
	rep, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: rep.ID, Target: domain.StatusResolved, ActorID: "agent-1"})
	if err != nil {
		t.Fatalf("to resolved: %v", err)
	}
	if rep.ResolvedAt == nil {
		t.Fatal("terminal transition must set resolved_at")
	}

	for _, target := range domain.Statuses() {
		_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: rep.ID, Target: target, ActorID: "agent-1"})
		var invalid engine.InvalidTransitionError
		if !errors.As(err, &invalid) {
			t.Fatalf("resolved -> %s: expected InvalidTransitionError, got %v", target, err)
		}
	}
	// And the stored report is untouched.
	stored, err := env.Engine.Repo.GetReport(env.Ctx, rep.ID)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if stored.Status != domain.StatusResolved || stored.Version != rep.Version {
		t.Fatalf("report mutated by rejected transition: %+v", stored)
	}
}

func TestDecisionImpliedTransitionAtomic(t *testing.T) {
	env := newTestEnv(t)
	rep := createReport(t, env, "fraude")

	// approve implies resolved, which is not reachable from pending; the
	// decision must roll back with the transition.
	_, err := env.Engine.RecordDecision(env.Ctx, engine.RecordDecisionOptions{
		ReportID:   rep.ID,
		Kind:       domain.DecisionApprove,
		ActorID:    "president-1",
		DedupToken: "tok-atomic",
	})
	var invalid engine.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	decisions, err := env.Engine.ListDecisions(env.Ctx, rep.ID)
	if err != nil {
		t.Fatalf("list decisions: %v", err)
	}
	if len(decisions) != 0 {
		t.Fatalf("orphan decision written: %+v", decisions)
	}
	stored, _ := env.Engine.Repo.GetReport(env.Ctx, rep.ID)
	if stored.Status != domain.StatusPending {
		t.Fatalf("status moved despite rollback: %s", stored.Status)
	}

	// investigate implies investigation, which is reachable from pending.
	d, err := env.Engine.RecordDecision(env.Ctx, engine.RecordDecisionOptions{
		ReportID:   rep.ID,
		Kind:       domain.DecisionInvestigate,
		ActorID:    "president-1",
		Rationale:  "complément d'enquête",
		DedupToken: "tok-investigate",
	})
	if err != nil {
		t.Fatalf("investigate decision: %v", err)
	}
	if d.Kind != domain.DecisionInvestigate {
		t.Fatalf("unexpected kind %s", d.Kind)
	}
	stored, _ = env.Engine.Repo.GetReport(env.Ctx, rep.ID)
	if stored.Status != domain.StatusInvestigation {
		t.Fatalf("expected investigation, got %s", stored.Status)
	}
}

func TestDecisionDedupToken(t *testing.T) {
	env := newTestEnv(t)
	rep := createReport(t, env, "corruption")
	if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: rep.ID, Target: domain.StatusInvestigation, ActorID: "agent-1"}); err != nil {
		t.Fatalf("to investigation: %v", err)
	}
	opts := engine.RecordDecisionOptions{
		ReportID:   rep.ID,
		Kind:       domain.DecisionApprove,
		ActorID:    "president-1",
		DedupToken: "tok-retry",
	}
	first, err := env.Engine.RecordDecision(env.Ctx, opts)
	if err != nil {
		t.Fatalf("first decision: %v", err)
	}
	_, err = env.Engine.RecordDecision(env.Ctx, opts)
	var dup engine.DuplicateDecisionError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateDecisionError, got %v", err)
	}
	if dup.Existing.ID != first.ID {
		t.Fatalf("duplicate error should carry the prior decision")
	}
	decisions, _ := env.Engine.ListDecisions(env.Ctx, rep.ID)
	if len(decisions) != 1 {
		t.Fatalf("expected exactly one decision, got %d", len(decisions))
	}
}

func TestStaleVersionGuard(t *testing.T) {
	env := newTestEnv(t)
	rep := createReport(t, env, "extorsion")
	v1 := rep.Version
	if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: rep.ID, Target: domain.StatusAssigned, ActorID: "agent-1", IfVersion: &v1}); err != nil {
		t.Fatalf("assign with fresh version: %v", err)
	}
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: rep.ID, Target: domain.StatusInProgress, ActorID: "agent-1", IfVersion: &v1})
	var conflict engine.ConcurrentModificationError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConcurrentModificationError, got %v", err)
	}
}

func TestSensitiveCaseRequiresDecision(t *testing.T) {
	env := newTestEnv(t)
	rep := createReport(t, env, "detournement", func(o *engine.CreateReportOptions) {
		o.Priority = domain.PriorityCritical
	})
	if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: rep.ID, Target: domain.StatusInvestigation, ActorID: "agent-1"}); err != nil {
		t.Fatalf("to investigation: %v", err)
	}
	// Closing a sensitive case without a recorded decision is refused.
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: rep.ID, Target: domain.StatusClosed, ActorID: "agent-1"})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	// A decision both records the disposition and closes the case.
	if _, err := env.Engine.RecordDecision(env.Ctx, engine.RecordDecisionOptions{
		ReportID:   rep.ID,
		Kind:       domain.DecisionReject,
		ActorID:    "president-1",
		DedupToken: "tok-sensitive",
	}); err != nil {
		t.Fatalf("reject decision: %v", err)
	}
	stored, _ := env.Engine.Repo.GetReport(env.Ctx, rep.ID)
	if stored.Status != domain.StatusClosed {
		t.Fatalf("expected closed, got %s", stored.Status)
	}
}

func TestAttachAssessment(t *testing.T) {
	env := newTestEnv(t)
	rep := createReport(t, env, "favoritisme")

	_, err := env.Engine.AttachAssessment(env.Ctx, rep.ID, domain.AIAssessment{PriorityScore: 130}, "analyzer")
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected range validation, got %v", err)
	}

	updated, err := env.Engine.AttachAssessment(env.Ctx, rep.ID, domain.AIAssessment{
		PriorityScore:    92,
		CredibilityScore: 70,
		Summary:          "Concordance élevée",
	}, "analyzer")
	if err != nil {
		t.Fatalf("attach assessment: %v", err)
	}
	if updated.Assessment == nil || updated.Assessment.PriorityScore != 92 {
		t.Fatalf("assessment not merged: %+v", updated.Assessment)
	}
	if updated.Version != rep.Version+1 {
		t.Fatalf("version not bumped: %d -> %d", rep.Version, updated.Version)
	}
	if !updated.Sensitive() {
		t.Fatal("score above threshold must mark the report sensitive")
	}
}

func TestReferenceFormat(t *testing.T) {
	env := newTestEnv(t)
	rep := createReport(t, env, "autre")
	if !strings.HasPrefix(rep.Reference, "SIG-2024-") {
		t.Fatalf("unexpected reference %s", rep.Reference)
	}
	if len(rep.Reference) != len("SIG-2024-")+8 {
		t.Fatalf("reference should carry 8 id chars: %s", rep.Reference)
	}
	got, err := env.Engine.Repo.GetReportByReference(env.Ctx, rep.Reference)
	if err != nil {
		t.Fatalf("lookup by reference: %v", err)
	}
	if got.ID != rep.ID {
		t.Fatalf("reference resolved to wrong report")
	}
}

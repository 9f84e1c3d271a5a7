package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"go.uber.org/zap"

	"ndjobi/internal/catalog"
	"ndjobi/internal/config"
	"ndjobi/internal/db"
	"ndjobi/internal/domain"
	"ndjobi/internal/engine"
	"ndjobi/internal/engine/auth"
	"ndjobi/internal/hub"
	"ndjobi/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cat, err := catalog.New(cfg)
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	h := hub.New(zap.NewNop())
	e := engine.New(conn, cat, h)
	handler, err := New(Config{
		Engine:   e,
		Authz:    auth.New(cfg),
		Hub:      h,
		BasePath: "/v1",
		Auth:     AuthConfig{AllowInsecureHeaders: true},
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			h.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func citizenHeaders() map[string]string {
	return map[string]string{"X-Actor-Id": "citizen-1", "X-Actor-Role": "user"}
}

func agentHeaders(role string) map[string]string {
	return map[string]string{"X-Actor-Id": "agent-1", "X-Actor-Role": role}
}

func presidentHeaders() map[string]string {
	return map[string]string{"X-Actor-Id": "president-1", "X-Actor-Role": "president"}
}

func TestReportLifecycleWithDecision(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/reports", map[string]any{
		"title":       "Pot-de-vin au guichet",
		"type":        "corruption",
		"description": "Demande de paiement pour un acte gratuit",
	}, citizenHeaders())
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create report status %d: %s", createRes.StatusCode, string(data))
	}
	var created domain.Report
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if created.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", created.Status)
	}
	if created.AssignedRole != "agent_anticorruption" {
		t.Fatalf("expected agent_anticorruption assignment, got %s", created.AssignedRole)
	}
	if created.Reference == "" {
		t.Fatal("expected a tracking reference")
	}

	// Assigned agent moves the case into investigation.
	invRes, invBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/reports/"+created.ID+"/status", map[string]any{
		"status": "investigation",
	}, agentHeaders(created.AssignedRole))
	if invRes.StatusCode != http.StatusOK {
		t.Fatalf("investigation status %d: %s", invRes.StatusCode, string(invBody))
	}

	// Authority approves; the report lands at resolved atomically.
	decRes, decBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/reports/"+created.ID+"/decisions", map[string]any{
		"kind":        "approve",
		"rationale":   "Faits établis",
		"dedup_token": "tok-approve-1",
	}, presidentHeaders())
	if decRes.StatusCode != http.StatusCreated {
		t.Fatalf("decision status %d: %s", decRes.StatusCode, string(decBody))
	}

	getRes, getBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/reports/"+created.ID, nil, citizenHeaders())
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get report status %d: %s", getRes.StatusCode, string(getBody))
	}
	var resolved domain.Report
	if err := json.Unmarshal(getBody, &resolved); err != nil {
		t.Fatalf("unmarshal resolved: %v", err)
	}
	if resolved.Status != domain.StatusResolved {
		t.Fatalf("expected resolved after approve, got %s", resolved.Status)
	}
	if resolved.ResolvedAt == nil {
		t.Fatal("expected resolved_at to be set")
	}

	// Public tracker works without any credential.
	trackRes, trackBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/reports/reference/"+created.Reference, nil, nil)
	if trackRes.StatusCode != http.StatusOK {
		t.Fatalf("track status %d: %s", trackRes.StatusCode, string(trackBody))
	}
	var tracked ReferenceStatusResponse
	if err := json.Unmarshal(trackBody, &tracked); err != nil {
		t.Fatalf("unmarshal tracked: %v", err)
	}
	if tracked.Status != "resolved" {
		t.Fatalf("tracker shows %s, want resolved", tracked.Status)
	}

	// Stats reflect the closed case.
	statsRes, statsBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/roles/"+created.AssignedRole+"/stats", nil, presidentHeaders())
	if statsRes.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d: %s", statsRes.StatusCode, string(statsBody))
	}
	var snap domain.StatsSnapshot
	if err := json.Unmarshal(statsBody, &snap); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if snap.Total != 1 || snap.Resolved != 1 {
		t.Fatalf("unexpected stats: %+v", snap)
	}
}

func TestDuplicateDecisionReplay(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/reports", map[string]any{
		"title":       "Fraude marché public",
		"type":        "fraude",
		"description": "Surfacturation",
	}, citizenHeaders())
	var created domain.Report
	_ = json.Unmarshal(data, &created)

	invRes, invBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/reports/"+created.ID+"/status", map[string]any{
		"status": "investigation",
	}, agentHeaders(created.AssignedRole))
	if invRes.StatusCode != http.StatusOK {
		t.Fatalf("investigation: %d %s", invRes.StatusCode, string(invBody))
	}

	payload := map[string]any{
		"kind":        "reject",
		"rationale":   "Éléments insuffisants",
		"dedup_token": "tok-reject-1",
	}
	first, firstBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/reports/"+created.ID+"/decisions", payload, presidentHeaders())
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first decision: %d %s", first.StatusCode, string(firstBody))
	}
	replay, replayBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/reports/"+created.ID+"/decisions", payload, presidentHeaders())
	if replay.StatusCode != http.StatusConflict {
		t.Fatalf("expected duplicate conflict, got %d %s", replay.StatusCode, string(replayBody))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(replayBody, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "duplicate_decision" {
		t.Fatalf("expected duplicate_decision code, got %s", envelope.Error.Code)
	}

	// The replay must not have appended a second ledger entry.
	listRes, listBody := doJSON(t, client, http.MethodGet, srv.URL+"/v1/reports/"+created.ID+"/decisions", nil, presidentHeaders())
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list decisions: %d %s", listRes.StatusCode, string(listBody))
	}
	var decisions DecisionListResponse
	_ = json.Unmarshal(listBody, &decisions)
	if len(decisions.Items) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions.Items))
	}
}

func TestTransitionAuthorization(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/reports", map[string]any{
		"title":       "Extorsion barrage routier",
		"type":        "extorsion",
		"description": "Paiement forcé",
	}, citizenHeaders())
	var created domain.Report
	_ = json.Unmarshal(data, &created)

	// An agent from another queue cannot move the case.
	otherRes, otherBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/reports/"+created.ID+"/status", map[string]any{
		"status": "assigned",
	}, agentHeaders("agent_defense"))
	if otherRes.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d %s", otherRes.StatusCode, string(otherBody))
	}

	// A citizen cannot record decisions.
	decRes, decBody := doJSON(t, client, http.MethodPost, srv.URL+"/v1/reports/"+created.ID+"/decisions", map[string]any{
		"kind":        "approve",
		"dedup_token": "tok-x",
	}, citizenHeaders())
	if decRes.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden decision, got %d %s", decRes.StatusCode, string(decBody))
	}

	// No credential at all is rejected outright.
	anonRes, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/reports", nil, nil)
	if anonRes.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", anonRes.StatusCode)
	}
}

func TestStaleVersionRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/reports", map[string]any{
		"title":       "Favoritisme appel d'offres",
		"type":        "favoritisme",
		"description": "Attribution dirigée",
	}, citizenHeaders())
	var created domain.Report
	_ = json.Unmarshal(data, &created)

	okRes, okBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/reports/"+created.ID+"/status", map[string]any{
		"status":     "assigned",
		"if_version": created.Version,
	}, agentHeaders(created.AssignedRole))
	if okRes.StatusCode != http.StatusOK {
		t.Fatalf("assign with current version: %d %s", okRes.StatusCode, string(okBody))
	}

	staleRes, staleBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/reports/"+created.ID+"/status", map[string]any{
		"status":     "in_progress",
		"if_version": created.Version,
	}, agentHeaders(created.AssignedRole))
	if staleRes.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict on stale version, got %d %s", staleRes.StatusCode, string(staleBody))
	}
}

func TestUnroutableType(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/reports", map[string]any{
		"title":       "Cas inconnu",
		"type":        "contrebande",
		"description": "Type hors catalogue",
	}, citizenHeaders())
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 unroutable, got %d %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)
	if envelope.Error.Code != "unroutable_type" {
		t.Fatalf("expected unroutable_type code, got %s", envelope.Error.Code)
	}
}

package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"actionguard/internal/config"
	"actionguard/internal/domain"
	"actionguard/internal/security"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeAudit struct {
	entries []domain.AuditEntry
}

func (f *fakeAudit) RecentAudit(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 || limit > len(f.entries) {
		limit = len(f.entries)
	}
	return f.entries[:limit], nil
}

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	sm := security.NewSessionManager(context.Background(), security.SessionManagerConfig{
		Policy: security.DefaultMiddlewareConfig(),
		Logger: testLogger(),
	})
	cfg := Config{
		Logger:          testLogger(),
		Sessions:        sm,
		MetricsEndpoint: "/metrics",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func do(t *testing.T, h http.Handler, method, path, body string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec
}

func TestStatus_IsPublic(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.AuthToken = "secret-token" })

	var body map[string]any
	rec := do(t, s.Handler(), http.MethodGet, "/status", "", &body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "ok" || body["rules"] != float64(9) {
		t.Errorf("unexpected status body: %v", body)
	}
}

func TestAuth_RequiresBearerToken(t *testing.T) {
	s := newTestServer(t, func(c *Config) { c.AuthToken = "secret-token" })
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/api/rules", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/rules", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}

func TestAnalyzeCommand_DangerousRemoval(t *testing.T) {
	s := newTestServer(t, nil)

	var res domain.SecurityResult
	rec := do(t, s.Handler(), http.MethodPost, "/api/sessions/default/analyze/command", `{"command":"rm -rf /tmp/x"}`, &res)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !res.Allowed || !res.RequiresConfirmation {
		t.Errorf("expected allowed with confirmation, got %+v", res)
	}
	if len(res.Alerts) != 1 || res.Alerts[0].Level != domain.LevelCritical {
		t.Errorf("expected one CRITICAL alert, got %+v", res.Alerts)
	}
}

func TestAnalyze_EmptyActionMatchesNothing(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	var res domain.SecurityResult
	rec := do(t, h, http.MethodPost, "/api/sessions/default/analyze", `{"type":"COMMAND","action":""}`, &res)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	if !res.Allowed || len(res.Alerts) != 0 || res.RequiresConfirmation {
		t.Fatalf("empty action should be allowed with no alerts, got %+v", res)
	}

	rec = do(t, h, http.MethodPost, "/api/sessions/default/analyze/command", `{"command":""}`, &res)
	if rec.Code != http.StatusOK || !res.Allowed || len(res.Alerts) != 0 {
		t.Fatalf("empty command: %d %+v", rec.Code, res)
	}

	if rec := do(t, h, http.MethodPost, "/api/sessions/default/analyze", `{"action":"ls"}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing type should be rejected, got %d", rec.Code)
	}
}

func TestAnalyze_BlockedCommandAfterBlocklistEdit(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	if rec := do(t, h, http.MethodPost, "/api/sessions/default/blocklist/commands", `{"value":"shutdown"}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("block: %d %s", rec.Code, rec.Body.String())
	}

	var res domain.SecurityResult
	do(t, h, http.MethodPost, "/api/sessions/default/analyze", `{"type":"COMMAND","action":"sudo shutdown -h now"}`, &res)
	if res.Allowed {
		t.Fatalf("expected block, got %+v", res)
	}

	var blocked []domain.SecurityAction
	do(t, h, http.MethodGet, "/api/sessions/default/blocked", "", &blocked)
	if len(blocked) != 1 {
		t.Fatalf("expected 1 blocked action, got %d", len(blocked))
	}

	if rec := do(t, h, http.MethodDelete, "/api/sessions/default/blocklist/commands", `{"value":"shutdown"}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("unblock: %d", rec.Code)
	}
	do(t, h, http.MethodPost, "/api/sessions/default/analyze/command", `{"command":"shutdown"}`, &res)
	if !res.Allowed {
		t.Fatalf("expected allow after unblock, got %+v", res)
	}
}

func TestAnalyzeFile_RejectsUnknownOperation(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodPost, "/api/sessions/default/analyze/file", `{"operation":"chmod","filePath":".env"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAnalyzeURL_NotRecorded(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	var body struct {
		Alerts []domain.SecurityAlert `json:"alerts"`
	}
	do(t, h, http.MethodPost, "/api/sessions/default/analyze/url", `{"url":"http://crack.example.com/tool.exe"}`, &body)
	if len(body.Alerts) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(body.Alerts))
	}

	var alerts []domain.SecurityAlert
	do(t, h, http.MethodGet, "/api/sessions/default/alerts", "", &alerts)
	if len(alerts) != 0 {
		t.Fatalf("URL alerts must not enter the history, got %d", len(alerts))
	}
}

func TestAlerts_FilterAndCounts(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	do(t, h, http.MethodPost, "/api/sessions/default/analyze/text", `{"text":"sudo rm -rf /"}`, nil)

	var high []domain.SecurityAlert
	do(t, h, http.MethodGet, "/api/sessions/default/alerts?level=high", "", &high)
	if len(high) != 1 || high[0].RuleID != "system-sudo" {
		t.Errorf("unexpected HIGH alerts: %+v", high)
	}

	var sorted []domain.SecurityAlert
	do(t, h, http.MethodGet, "/api/sessions/default/alerts?sort=severity", "", &sorted)
	if len(sorted) != 2 || sorted[0].Level != domain.LevelCritical {
		t.Errorf("expected CRITICAL first, got %+v", sorted)
	}

	var counts map[domain.Level]int
	do(t, h, http.MethodGet, "/api/sessions/default/alerts/counts", "", &counts)
	if counts[domain.LevelCritical] != 1 || counts[domain.LevelHigh] != 1 || counts[domain.LevelLow] != 0 {
		t.Errorf("unexpected counts: %v", counts)
	}

	if rec := do(t, h, http.MethodGet, "/api/sessions/default/alerts?level=severe", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown level, got %d", rec.Code)
	}
}

func TestSessions_Lifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	var created sessionView
	if rec := do(t, h, http.MethodPost, "/api/sessions", "", &created); rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}
	if created.ID == "" || created.ID == security.DefaultSessionID {
		t.Fatalf("unexpected session id %q", created.ID)
	}

	do(t, h, http.MethodPost, "/api/sessions/"+created.ID+"/analyze/command", `{"command":"ls"}`, nil)

	var stats domain.SecurityStats
	do(t, h, http.MethodGet, "/api/sessions/"+created.ID+"/stats", "", &stats)
	if stats.TotalActions != 1 {
		t.Errorf("expected 1 action in new session, got %d", stats.TotalActions)
	}
	do(t, h, http.MethodGet, "/api/sessions/default/stats", "", &stats)
	if stats.TotalActions != 0 {
		t.Errorf("sessions must not share counters, default has %d", stats.TotalActions)
	}

	if rec := do(t, h, http.MethodDelete, "/api/sessions/"+created.ID, "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/sessions/"+created.ID+"/stats", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/sessions/default", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("default session must not be deletable, got %d", rec.Code)
	}
}

func TestPolicy_PatchAndMonitorToggle(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	var policy security.MiddlewareConfig
	do(t, h, http.MethodPatch, "/api/sessions/default/policy", `{"autoBlock":true}`, &policy)
	if !policy.AutoBlock || !policy.Enabled {
		t.Fatalf("unexpected policy: %+v", policy)
	}

	var res domain.SecurityResult
	do(t, h, http.MethodPost, "/api/sessions/default/analyze/command", `{"command":"mkfs /dev/sda"}`, &res)
	if res.Allowed {
		t.Fatal("expected CRITICAL command to be blocked with autoBlock")
	}

	var state map[string]bool
	do(t, h, http.MethodPut, "/api/sessions/default/monitor", `{"enabled":false}`, &state)
	if state["enabled"] {
		t.Fatal("expected monitor disabled")
	}
	do(t, h, http.MethodPost, "/api/sessions/default/analyze/command", `{"command":"mkfs /dev/sda"}`, &res)
	if !res.Allowed || len(res.Alerts) != 0 {
		t.Fatalf("disabled monitor should produce no alerts, got %+v", res)
	}

	if rec := do(t, h, http.MethodPatch, "/api/sessions/default/policy", `{"maxActionHistory":-1}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative history, got %d", rec.Code)
	}
}

func TestHistory_LimitAndClear(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	for _, cmd := range []string{"ls", "pwd", "whoami"} {
		do(t, h, http.MethodPost, "/api/sessions/default/analyze/command", `{"command":"`+cmd+`"}`, nil)
	}

	var history []domain.SecurityAction
	do(t, h, http.MethodGet, "/api/sessions/default/history?limit=2", "", &history)
	if len(history) != 2 || history[0].Action != "pwd" || history[1].Action != "whoami" {
		t.Fatalf("unexpected history: %+v", history)
	}

	if rec := do(t, h, http.MethodDelete, "/api/sessions/default/history", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("clear: %d", rec.Code)
	}
	do(t, h, http.MethodGet, "/api/sessions/default/history", "", &history)
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
}

func TestRules_AddCustomRule(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	rule := `{"id":"no-chmod","pattern":"chmod\\s+777","category":"system","level":"high","message":"open permissions"}`
	if rec := do(t, h, http.MethodPost, "/api/rules", rule, nil); rec.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodPost, "/api/rules", rule, nil); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", rec.Code)
	}
	bad := `{"id":"broken","pattern":"(","category":"SYSTEM","level":"LOW"}`
	if rec := do(t, h, http.MethodPost, "/api/rules", bad, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid pattern: expected 400, got %d", rec.Code)
	}

	var res domain.SecurityResult
	do(t, h, http.MethodPost, "/api/sessions/default/analyze/command", `{"command":"CHMOD 777 /srv"}`, &res)
	if len(res.Alerts) != 1 || res.Alerts[0].RuleID != "no-chmod" {
		t.Fatalf("custom rule did not match: %+v", res.Alerts)
	}
}

func TestAudit(t *testing.T) {
	s := newTestServer(t, nil)
	if rec := do(t, s.Handler(), http.MethodGet, "/api/audit", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without audit reader, got %d", rec.Code)
	}

	audit := &fakeAudit{entries: []domain.AuditEntry{{Action: "action_blocked"}, {Action: "action_allowed"}}}
	s = newTestServer(t, func(c *Config) { c.Audit = audit })
	var entries []domain.AuditEntry
	do(t, s.Handler(), http.MethodGet, "/api/audit?limit=1", "", &entries)
	if len(entries) != 1 || entries[0].Action != "action_blocked" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestConfig_UpdateValidateSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := config.Defaults()
	cfg.Server.AuthToken = "guard-token-1234567890"
	s := newTestServer(t, func(c *Config) {
		c.Settings = cfg
		c.SettingsPath = path
	})
	h := s.Handler()

	var got config.Config
	do(t, h, http.MethodGet, "/api/config", "", &got)
	if got.Server.AuthToken == cfg.Server.AuthToken {
		t.Fatal("auth token should be masked")
	}

	if rec := do(t, h, http.MethodPut, "/api/config", `{"path":"security.autoBlock","value":true}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	if !cfg.Security.AutoBlock {
		t.Fatal("expected autoBlock to be applied")
	}

	if rec := do(t, h, http.MethodPut, "/api/config", `{"path":"store.driver","value":"mysql"}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected validation failure, got %d", rec.Code)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("rejected update leaked into live config: %q", cfg.Store.Driver)
	}

	if rec := do(t, h, http.MethodPut, "/api/config", `{"path":"security.autoBlok","value":false}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown path to be rejected, got %d", rec.Code)
	}
	if !cfg.Security.AutoBlock {
		t.Fatal("unknown path must not touch the live config")
	}
	if rec := do(t, h, http.MethodPut, "/api/config", `{"path":"security.blockedCommands","value":["shutdown","mkfs"]}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("list update: %d %s", rec.Code, rec.Body.String())
	}
	if len(cfg.Security.BlockedCommands) != 2 || cfg.Security.BlockedCommands[1] != "mkfs" {
		t.Fatalf("unexpected blocked commands %v", cfg.Security.BlockedCommands)
	}

	if rec := do(t, h, http.MethodPost, "/api/config/save", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("save: %d", rec.Code)
	}
	loaded, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Security.AutoBlock {
		t.Fatal("saved config should carry autoBlock")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	do(t, h, http.MethodPost, "/api/sessions/default/analyze/command", `{"command":"sudo ls"}`, nil)

	rec := do(t, h, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	for _, want := range []string{"actionguard_actions_total", `actionguard_alerts_total{level="HIGH"}`} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

// Package server exposes the session classifiers over a JSON HTTP API.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"actionguard/internal/config"
	"actionguard/internal/domain"
	"actionguard/internal/metrics"
	"actionguard/internal/security"
)

const (
	maxBodySize     = 1 << 20 // 1MB
	shutdownTimeout = 5 * time.Second
)

// AuditReader lists recent audit entries, newest first.
type AuditReader interface {
	RecentAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

type Config struct {
	Host            string
	Port            int
	AuthToken       string  // empty disables bearer auth
	MetricsEndpoint string  // empty disables /metrics
	RateLimit       float64 // requests per second per client; 0 disables
	RateBurst       int
	Version         string
	Logger          *slog.Logger
	Sessions        *security.SessionManager
	Audit           AuditReader    // optional
	Settings        *config.Config // optional; enables /api/config
	SettingsPath    string
}

// Server is the HTTP front end for a SessionManager.
type Server struct {
	host      string
	port      int
	authToken string
	metrics   string
	version   string
	logger    *slog.Logger
	sessions  *security.SessionManager
	audit     AuditReader
	limiter   *clientRateLimiter
	server    *http.Server

	// Config reference for the settings API (protected by cfgMu)
	cfg     *config.Config
	cfgPath string
	cfgMu   sync.RWMutex
}

func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var limiter *clientRateLimiter
	if cfg.RateLimit > 0 {
		limiter = newClientRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return &Server{
		host:      cfg.Host,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		metrics:   cfg.MetricsEndpoint,
		version:   cfg.Version,
		logger:    cfg.Logger,
		sessions:  cfg.Sessions,
		audit:     cfg.Audit,
		limiter:   limiter,
		cfg:       cfg.Settings,
		cfgPath:   cfg.SettingsPath,
	}
}

// Handler returns the routed API. It is what Start serves and what tests
// drive through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", s.handleStatus) // public endpoint
	if s.metrics != "" {
		mux.HandleFunc("GET "+s.metrics, metrics.Collector.Handler())
	}

	mux.HandleFunc("GET /api/sessions", s.requireAuth(s.handleListSessions))
	mux.HandleFunc("POST /api/sessions", s.requireAuth(s.handleCreateSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.requireAuth(s.handleDeleteSession))

	mux.HandleFunc("POST /api/sessions/{id}/analyze", s.requireAuth(s.withSession(s.handleAnalyze)))
	mux.HandleFunc("POST /api/sessions/{id}/analyze/command", s.requireAuth(s.withSession(s.handleAnalyzeCommand)))
	mux.HandleFunc("POST /api/sessions/{id}/analyze/file", s.requireAuth(s.withSession(s.handleAnalyzeFile)))
	mux.HandleFunc("POST /api/sessions/{id}/analyze/network", s.requireAuth(s.withSession(s.handleAnalyzeNetwork)))
	mux.HandleFunc("POST /api/sessions/{id}/analyze/install", s.requireAuth(s.withSession(s.handleAnalyzeInstall)))
	mux.HandleFunc("POST /api/sessions/{id}/analyze/url", s.requireAuth(s.withSession(s.handleAnalyzeURL)))
	mux.HandleFunc("POST /api/sessions/{id}/analyze/text", s.requireAuth(s.withSession(s.handleAnalyzeText)))

	mux.HandleFunc("GET /api/sessions/{id}/alerts", s.requireAuth(s.withSession(s.handleAlerts)))
	mux.HandleFunc("DELETE /api/sessions/{id}/alerts", s.requireAuth(s.withSession(s.handleClearAlerts)))
	mux.HandleFunc("GET /api/sessions/{id}/alerts/counts", s.requireAuth(s.withSession(s.handleAlertCounts)))
	mux.HandleFunc("GET /api/sessions/{id}/stats", s.requireAuth(s.withSession(s.handleStats)))
	mux.HandleFunc("GET /api/sessions/{id}/history", s.requireAuth(s.withSession(s.handleHistory)))
	mux.HandleFunc("DELETE /api/sessions/{id}/history", s.requireAuth(s.withSession(s.handleClearHistory)))
	mux.HandleFunc("GET /api/sessions/{id}/blocked", s.requireAuth(s.withSession(s.handleBlocked)))

	mux.HandleFunc("GET /api/sessions/{id}/policy", s.requireAuth(s.withSession(s.handleGetPolicy)))
	mux.HandleFunc("PATCH /api/sessions/{id}/policy", s.requireAuth(s.withSession(s.handlePatchPolicy)))
	mux.HandleFunc("POST /api/sessions/{id}/blocklist/{kind}", s.requireAuth(s.withSession(s.handleBlock)))
	mux.HandleFunc("DELETE /api/sessions/{id}/blocklist/{kind}", s.requireAuth(s.withSession(s.handleUnblock)))

	mux.HandleFunc("GET /api/sessions/{id}/monitor", s.requireAuth(s.withSession(s.handleGetMonitor)))
	mux.HandleFunc("PUT /api/sessions/{id}/monitor", s.requireAuth(s.withSession(s.handleSetMonitor)))

	mux.HandleFunc("GET /api/rules", s.requireAuth(s.handleListRules))
	mux.HandleFunc("POST /api/rules", s.requireAuth(s.handleAddRule))
	mux.HandleFunc("GET /api/audit", s.requireAuth(s.handleAudit))

	mux.HandleFunc("GET /api/config", s.requireAuth(s.handleGetConfig))
	mux.HandleFunc("PUT /api/config", s.requireAuth(s.handleUpdateConfig))
	mux.HandleFunc("POST /api/config/save", s.requireAuth(s.handleSaveConfig))

	if s.limiter != nil {
		return s.limiter.wrap(mux)
	}
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("API server started", "addr", "http://"+addr, "auth", s.authToken != "")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// requireAuth checks the bearer token when one is configured.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(rw, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			rw.Header().Set("WWW-Authenticate", `Bearer realm="actionguard"`)
			writeError(rw, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(rw, r)
	}
}

type sessionHandler func(rw http.ResponseWriter, r *http.Request, sess *security.Session)

// withSession resolves the {id} path segment to a live session.
func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Get(r.PathValue("id"))
		if err != nil {
			writeError(rw, http.StatusNotFound, err.Error())
			return
		}
		next(rw, r, sess)
	}
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"sessions": len(s.sessions.List()),
		"rules":    s.sessions.Rules().Len(),
		"time":     time.Now().Format(time.RFC3339),
	})
}

// --- sessions ---

type sessionView struct {
	ID        string               `json:"id"`
	CreatedAt time.Time            `json:"createdAt"`
	Monitor   bool                 `json:"monitorEnabled"`
	Stats     domain.SecurityStats `json:"stats"`
}

func viewSession(sess *security.Session) sessionView {
	return sessionView{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		Monitor:   sess.Monitor.IsEnabled(),
		Stats:     sess.Middleware.Stats(),
	}
}

func (s *Server) handleListSessions(rw http.ResponseWriter, r *http.Request) {
	list := s.sessions.List()
	out := make([]sessionView, 0, len(list))
	for _, sess := range list {
		out = append(out, viewSession(sess))
	}
	writeJSON(rw, http.StatusOK, out)
}

func (s *Server) handleCreateSession(rw http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create(r.Context())
	writeJSON(rw, http.StatusCreated, viewSession(sess))
}

func (s *Server) handleDeleteSession(rw http.ResponseWriter, r *http.Request) {
	err := s.sessions.Delete(r.PathValue("id"))
	switch {
	case errors.Is(err, security.ErrSessionNotFound):
		writeError(rw, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(rw, http.StatusBadRequest, err.Error())
	default:
		rw.WriteHeader(http.StatusNoContent)
	}
}

// --- analysis ---

func (s *Server) handleAnalyze(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	var action domain.SecurityAction
	if !decodeBody(rw, r, &action) {
		return
	}
	// An empty action is valid input and simply matches nothing.
	if action.Type == "" {
		writeError(rw, http.StatusBadRequest, "type is required")
		return
	}
	writeJSON(rw, http.StatusOK, sess.Middleware.AnalyzeAction(r.Context(), action))
}

func (s *Server) handleAnalyzeCommand(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	var req struct {
		Command  string            `json:"command"`
		Metadata map[string]string `json:"metadata"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	writeJSON(rw, http.StatusOK, sess.Middleware.AnalyzeCommand(r.Context(), req.Command, req.Metadata))
}

func (s *Server) handleAnalyzeFile(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	var req struct {
		Operation domain.FileOperation `json:"operation"`
		FilePath  string               `json:"filePath"`
		Metadata  map[string]string    `json:"metadata"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	switch req.Operation {
	case domain.FileRead, domain.FileWrite, domain.FileDelete:
	default:
		writeError(rw, http.StatusBadRequest, "operation must be one of: read, write, delete")
		return
	}
	if req.FilePath == "" {
		writeError(rw, http.StatusBadRequest, "filePath is required")
		return
	}
	writeJSON(rw, http.StatusOK, sess.Middleware.AnalyzeFileOperation(r.Context(), req.Operation, req.FilePath, req.Metadata))
}

func (s *Server) handleAnalyzeNetwork(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	var req struct {
		URL      string            `json:"url"`
		Type     domain.ActionType `json:"type"`
		Metadata map[string]string `json:"metadata"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(rw, http.StatusBadRequest, "url is required")
		return
	}
	writeJSON(rw, http.StatusOK, sess.Middleware.AnalyzeNetworkAction(r.Context(), req.URL, req.Type, req.Metadata))
}

func (s *Server) handleAnalyzeInstall(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	var req struct {
		PackageName    string            `json:"packageName"`
		PackageManager string            `json:"packageManager"`
		Metadata       map[string]string `json:"metadata"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	if req.PackageName == "" || req.PackageManager == "" {
		writeError(rw, http.StatusBadRequest, "packageName and packageManager are required")
		return
	}
	writeJSON(rw, http.StatusOK, sess.Middleware.AnalyzeInstallAction(r.Context(), req.PackageName, req.PackageManager, req.Metadata))
}

func (s *Server) handleAnalyzeURL(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	var req struct {
		URL string `json:"url"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"alerts": sess.Monitor.AnalyzeURL(req.URL)})
}

func (s *Server) handleAnalyzeText(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"alerts": sess.Monitor.AnalyzeAction(req.Text)})
}

// --- monitor state ---

func (s *Server) handleAlerts(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	q := r.URL.Query()
	var alerts []domain.SecurityAlert
	switch {
	case q.Get("level") != "":
		level, ok := domain.ParseLevel(q.Get("level"))
		if !ok {
			writeError(rw, http.StatusBadRequest, "unknown level "+strconv.Quote(q.Get("level")))
			return
		}
		alerts = sess.Monitor.AlertsByLevel(level)
	case q.Get("category") != "":
		category, ok := domain.ParseCategory(q.Get("category"))
		if !ok {
			writeError(rw, http.StatusBadRequest, "unknown category "+strconv.Quote(q.Get("category")))
			return
		}
		alerts = sess.Monitor.AlertsByCategory(category)
	case q.Get("sort") == "severity":
		alerts = sess.Monitor.SortedAlerts()
	default:
		alerts = sess.Monitor.Alerts()
	}
	writeJSON(rw, http.StatusOK, alerts)
}

func (s *Server) handleClearAlerts(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	sess.Monitor.ClearAlerts()
	rw.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAlertCounts(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	writeJSON(rw, http.StatusOK, sess.Monitor.CountByLevel())
}

func (s *Server) handleGetMonitor(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	writeJSON(rw, http.StatusOK, map[string]bool{"enabled": sess.Monitor.IsEnabled()})
}

func (s *Server) handleSetMonitor(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(rw, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := sess.Monitor.SetEnabled(r.Context(), *req.Enabled); err != nil {
		s.logger.Warn("monitor state not persisted", "session", sess.ID, "err", err)
	}
	writeJSON(rw, http.StatusOK, map[string]bool{"enabled": sess.Monitor.IsEnabled()})
}

// --- middleware state ---

func (s *Server) handleStats(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	writeJSON(rw, http.StatusOK, sess.Middleware.Stats())
}

func (s *Server) handleHistory(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(rw, http.StatusOK, sess.Middleware.ActionHistory(limit))
}

func (s *Server) handleClearHistory(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	sess.Middleware.ClearHistory()
	rw.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBlocked(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	writeJSON(rw, http.StatusOK, sess.Middleware.BlockedActions())
}

func (s *Server) handleGetPolicy(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	writeJSON(rw, http.StatusOK, sess.Middleware.Config())
}

func (s *Server) handlePatchPolicy(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	var patch security.ConfigPatch
	if !decodeBody(rw, r, &patch) {
		return
	}
	if patch.MaxActionHistory != nil && *patch.MaxActionHistory < 0 {
		writeError(rw, http.StatusBadRequest, "maxActionHistory must be >= 0")
		return
	}
	sess.Middleware.UpdateConfig(patch)
	s.logger.Info("session policy updated", "session", sess.ID)
	writeJSON(rw, http.StatusOK, sess.Middleware.Config())
}

func (s *Server) handleBlock(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	s.editBlocklist(rw, r, sess, true)
}

func (s *Server) handleUnblock(rw http.ResponseWriter, r *http.Request, sess *security.Session) {
	s.editBlocklist(rw, r, sess, false)
}

func (s *Server) editBlocklist(rw http.ResponseWriter, r *http.Request, sess *security.Session, add bool) {
	var req struct {
		Value string `json:"value"`
	}
	if !decodeBody(rw, r, &req) {
		return
	}
	if strings.TrimSpace(req.Value) == "" {
		writeError(rw, http.StatusBadRequest, "value is required")
		return
	}

	mw := sess.Middleware
	switch kind := r.PathValue("kind"); {
	case kind == "commands" && add:
		mw.BlockCommand(req.Value)
	case kind == "commands":
		mw.UnblockCommand(req.Value)
	case kind == "domains" && add:
		mw.BlockDomain(req.Value)
	case kind == "domains":
		mw.UnblockDomain(req.Value)
	default:
		writeError(rw, http.StatusNotFound, "unknown block list "+strconv.Quote(kind))
		return
	}
	writeJSON(rw, http.StatusOK, mw.Config())
}

// --- rules and audit ---

func (s *Server) handleListRules(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.sessions.Rules().Rules())
}

func (s *Server) handleAddRule(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	defer r.Body.Close()

	var rule domain.SecurityRule
	if err := json.Unmarshal(body, &rule); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid rule: "+err.Error())
		return
	}
	var ok bool
	if rule.Level, ok = domain.ParseLevel(string(rule.Level)); !ok {
		writeError(rw, http.StatusBadRequest, "unknown level "+strconv.Quote(string(rule.Level)))
		return
	}
	if rule.Category, ok = domain.ParseCategory(string(rule.Category)); !ok {
		writeError(rw, http.StatusBadRequest, "unknown category "+strconv.Quote(string(rule.Category)))
		return
	}
	if rule.Name == "" {
		rule.Name = rule.ID
	}

	if err := s.sessions.Rules().AddCustomRule(rule); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, security.ErrDuplicateRule) {
			status = http.StatusConflict
		}
		writeError(rw, status, err.Error())
		return
	}
	s.logger.Info("custom rule added", "id", rule.ID, "level", rule.Level, "category", rule.Category)
	writeJSON(rw, http.StatusCreated, rule)
}

func (s *Server) handleAudit(rw http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(rw, http.StatusServiceUnavailable, "audit log not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.audit.RecentAudit(r.Context(), limit)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, entries)
}

// --- settings ---

func (s *Server) handleGetConfig(rw http.ResponseWriter, r *http.Request) {
	s.cfgMu.RLock()
	cfg := s.cfg
	s.cfgMu.RUnlock()

	if cfg == nil {
		writeError(rw, http.StatusServiceUnavailable, "config not loaded")
		return
	}
	writeJSON(rw, http.StatusOK, config.Sanitize(cfg))
}

// handleUpdateConfig applies { "path": "security.autoBlock", "value": true }
// to the loaded config. Running sessions keep their policy; use
// PATCH /api/sessions/{id}/policy for live changes.
func (s *Server) handleUpdateConfig(rw http.ResponseWriter, r *http.Request) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	if s.cfg == nil {
		writeError(rw, http.StatusServiceUnavailable, "config not loaded")
		return
	}

	var partial struct {
		Path  string `json:"path"`
		Value any    `json:"value"`
	}
	if !decodeBody(rw, r, &partial) {
		return
	}
	if partial.Path == "" {
		writeError(rw, http.StatusBadRequest, "path is required")
		return
	}

	// Work on a deep copy so a rejected update leaves the live config intact.
	data, err := json.Marshal(s.cfg)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	var candidate config.Config
	if err := json.Unmarshal(data, &candidate); err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	if err := config.SetByPath(&candidate, partial.Path, partial.Value); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if err := config.Validate(&candidate); err != nil {
		writeError(rw, http.StatusBadRequest, "validation: "+err.Error())
		return
	}
	*s.cfg = candidate

	s.logger.Info("config updated via path", "path", partial.Path)
	writeJSON(rw, http.StatusOK, map[string]string{"status": "updated", "path": partial.Path})
}

func (s *Server) handleSaveConfig(rw http.ResponseWriter, r *http.Request) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()

	if s.cfg == nil || s.cfgPath == "" {
		writeError(rw, http.StatusServiceUnavailable, "config not available")
		return
	}
	if err := config.Save(s.cfgPath, s.cfg); err != nil {
		writeError(rw, http.StatusInternalServerError, "save failed: "+err.Error())
		return
	}

	s.logger.Info("config saved to disk", "path", s.cfgPath)
	writeJSON(rw, http.StatusOK, map[string]string{"status": "saved", "path": s.cfgPath})
}

// --- helpers ---

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}

// decodeBody reads a JSON body into v and answers 400 itself on failure.
func decodeBody(rw http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

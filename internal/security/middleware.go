package security

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"actionguard/internal/domain"
	"actionguard/internal/metrics"
)

const defaultHistoryLimit = 50

const (
	blockReason     = "action blocked by security policy"
	blockSuggestion = "revise the action and try again"
	suggestCancel   = "cancel this action and review its security implications"
	suggestReview   = "review carefully before proceeding"
	suggestCaution  = "action may proceed with attention"
)

// MiddlewareConfig is the live policy of a Middleware.
type MiddlewareConfig struct {
	Enabled             bool     `json:"enabled"`
	RequireConfirmation bool     `json:"requireConfirmation"`
	LogActions          bool     `json:"logActions"`
	AutoBlock           bool     `json:"autoBlock"`
	AllowedCommands     []string `json:"allowedCommands"` // carried, never consulted
	BlockedCommands     []string `json:"blockedCommands"`
	AllowedDomains      []string `json:"allowedDomains"` // carried, never consulted
	BlockedDomains      []string `json:"blockedDomains"`
	MaxActionHistory    int      `json:"maxActionHistory"` // 0 = unbounded
}

// DefaultMiddlewareConfig returns the policy used when nothing is configured.
func DefaultMiddlewareConfig() MiddlewareConfig {
	return MiddlewareConfig{
		Enabled:             true,
		RequireConfirmation: true,
		LogActions:          true,
		AutoBlock:           false,
		AllowedCommands:     []string{},
		BlockedCommands:     []string{},
		AllowedDomains:      []string{},
		BlockedDomains:      []string{},
	}
}

func (c MiddlewareConfig) clone() MiddlewareConfig {
	c.AllowedCommands = slices.Clone(c.AllowedCommands)
	c.BlockedCommands = slices.Clone(c.BlockedCommands)
	c.AllowedDomains = slices.Clone(c.AllowedDomains)
	c.BlockedDomains = slices.Clone(c.BlockedDomains)
	return c
}

// ConfigPatch is a partial MiddlewareConfig; nil fields are left as they are.
type ConfigPatch struct {
	Enabled             *bool     `json:"enabled,omitempty"`
	RequireConfirmation *bool     `json:"requireConfirmation,omitempty"`
	LogActions          *bool     `json:"logActions,omitempty"`
	AutoBlock           *bool     `json:"autoBlock,omitempty"`
	AllowedCommands     *[]string `json:"allowedCommands,omitempty"`
	BlockedCommands     *[]string `json:"blockedCommands,omitempty"`
	AllowedDomains      *[]string `json:"allowedDomains,omitempty"`
	BlockedDomains      *[]string `json:"blockedDomains,omitempty"`
	MaxActionHistory    *int      `json:"maxActionHistory,omitempty"`
}

type MiddlewareOption func(*Middleware)

// WithAuditLogger records every analyzed action to a durable sink.
func WithAuditLogger(a domain.AuditLogger) MiddlewareOption {
	return func(m *Middleware) { m.audit = a }
}

func WithLogger(l *slog.Logger) MiddlewareOption {
	return func(m *Middleware) { m.logger = l }
}

func WithClock(now func() time.Time) MiddlewareOption {
	return func(m *Middleware) { m.now = now }
}

// WithSessionID stamps actions that arrive without a session.
func WithSessionID(id string) MiddlewareOption {
	return func(m *Middleware) { m.sessionID = id }
}

// Middleware applies action-level policy on top of a Monitor. It uses the
// monitor but does not own its alert history: ClearHistory leaves the
// monitor's alerts alone.
type Middleware struct {
	monitor   *Monitor
	audit     domain.AuditLogger
	logger    *slog.Logger
	now       func() time.Time
	sessionID string

	mu           sync.Mutex
	cfg          MiddlewareConfig
	history      []domain.SecurityAction
	blocked      []domain.SecurityAction
	totalActions int
	totalBlocked int
}

func NewMiddleware(monitor *Monitor, cfg MiddlewareConfig, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		monitor: monitor,
		cfg:     cfg.clone(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AnalyzeAction classifies an action and decides whether it may proceed.
func (m *Middleware) AnalyzeAction(ctx context.Context, action domain.SecurityAction) domain.SecurityResult {
	m.mu.Lock()
	cfg := m.cfg.clone()
	if !cfg.Enabled {
		m.mu.Unlock()
		return domain.SecurityResult{Allowed: true, Alerts: []domain.SecurityAlert{}}
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = m.now()
	}
	if action.SessionID == "" {
		action.SessionID = m.sessionID
	}
	if cfg.LogActions {
		m.history = appendBounded(m.history, action, cfg.MaxActionHistory)
		m.totalActions++
	}
	m.mu.Unlock()

	start := time.Now()
	metrics.ActionsTotal.Inc()

	alerts := m.monitor.AnalyzeAction(action.Action)
	alerts = append(alerts, m.checkCustomRules(cfg, action)...)

	var result domain.SecurityResult
	if shouldBlock(cfg, action, alerts) {
		m.mu.Lock()
		m.blocked = appendBounded(m.blocked, action, cfg.MaxActionHistory)
		m.totalBlocked++
		m.mu.Unlock()

		metrics.SecurityBlocks.Inc()
		m.logger.Warn("action BLOCKED",
			"type", action.Type,
			"action", action.Action,
			"alerts", len(alerts),
		)
		result = domain.SecurityResult{
			Allowed:         false,
			Alerts:          alerts,
			Reason:          blockReason,
			SuggestedAction: blockSuggestion,
		}
		m.logAction(ctx, action, "action_blocked", "blocked", alerts)
	} else {
		requiresConfirmation := cfg.RequireConfirmation && slices.ContainsFunc(alerts, func(a domain.SecurityAlert) bool {
			return a.RequiresConfirmation
		})
		result = domain.SecurityResult{
			Allowed:              true,
			Alerts:               alerts,
			RequiresConfirmation: requiresConfirmation,
			SuggestedAction:      suggestedAction(alerts),
		}
		if requiresConfirmation {
			metrics.ConfirmationsRequired.Inc()
			m.logAction(ctx, action, "action_confirm", "confirm", alerts)
		} else {
			m.logAction(ctx, action, "action_allowed", "allowed", alerts)
		}
	}

	metrics.AnalyzeLatency.Observe(time.Since(start).Seconds())
	return result
}

// checkCustomRules turns block-list hits into alerts. Allow lists are not
// consulted.
func (m *Middleware) checkCustomRules(cfg MiddlewareConfig, action domain.SecurityAction) []domain.SecurityAlert {
	var alerts []domain.SecurityAlert

	switch action.Type {
	case domain.ActionCommand:
		command := strings.ToLower(action.Action)
		for _, blockedCmd := range cfg.BlockedCommands {
			if strings.Contains(command, strings.ToLower(blockedCmd)) {
				alerts = append(alerts, domain.SecurityAlert{
					Level:                domain.LevelCritical,
					Category:             domain.CategorySystem,
					Message:              "BLOCKED COMMAND: command not permitted",
					Details:              fmt.Sprintf("The command %q is on the blocked command list.", action.Action),
					Action:               "This command cannot be run for security reasons.",
					RequiresConfirmation: false,
					Timestamp:            m.now(),
				})
			}
		}
	case domain.ActionNetwork, domain.ActionDownload:
		url := action.Metadata["url"]
		if url == "" {
			url = action.Action
		}
		for _, blockedDomain := range cfg.BlockedDomains {
			if strings.Contains(url, blockedDomain) {
				alerts = append(alerts, domain.SecurityAlert{
					Level:                domain.LevelHigh,
					Category:             domain.CategoryNetwork,
					Message:              "BLOCKED DOMAIN: access to domain not permitted",
					Details:              fmt.Sprintf("The domain %q is on the blocked domain list.", blockedDomain),
					Action:               "This domain cannot be accessed for security reasons.",
					RequiresConfirmation: false,
					Timestamp:            m.now(),
				})
			}
		}
	}
	return alerts
}

func shouldBlock(cfg MiddlewareConfig, action domain.SecurityAction, alerts []domain.SecurityAlert) bool {
	if cfg.AutoBlock && hasLevel(alerts, domain.LevelCritical) {
		return true
	}
	if action.Type != domain.ActionCommand {
		return false
	}
	command := strings.ToLower(action.Action)
	for _, blockedCmd := range cfg.BlockedCommands {
		if strings.Contains(command, strings.ToLower(blockedCmd)) {
			return true
		}
	}
	return false
}

func suggestedAction(alerts []domain.SecurityAlert) string {
	switch {
	case len(alerts) == 0:
		return ""
	case hasLevel(alerts, domain.LevelCritical):
		return suggestCancel
	case hasLevel(alerts, domain.LevelHigh):
		return suggestReview
	default:
		return suggestCaution
	}
}

func hasLevel(alerts []domain.SecurityAlert, level domain.Level) bool {
	return slices.ContainsFunc(alerts, func(a domain.SecurityAlert) bool { return a.Level == level })
}

// AnalyzeCommand classifies a terminal command.
func (m *Middleware) AnalyzeCommand(ctx context.Context, command string, metadata map[string]string) domain.SecurityResult {
	return m.AnalyzeAction(ctx, domain.SecurityAction{
		Type:      domain.ActionCommand,
		Action:    command,
		Metadata:  metadata,
		Timestamp: m.now(),
	})
}

// AnalyzeFileOperation classifies "<operation> <filePath>".
func (m *Middleware) AnalyzeFileOperation(ctx context.Context, operation domain.FileOperation, filePath string, metadata map[string]string) domain.SecurityResult {
	md := mergeMetadata(map[string]string{"filePath": filePath, "operation": string(operation)}, metadata)
	return m.AnalyzeAction(ctx, domain.SecurityAction{
		Type:      domain.ActionFile,
		Action:    string(operation) + " " + filePath,
		Metadata:  md,
		Timestamp: m.now(),
	})
}

// AnalyzeNetworkAction classifies a URL access. actionType must be NETWORK
// or DOWNLOAD; anything else is treated as NETWORK.
func (m *Middleware) AnalyzeNetworkAction(ctx context.Context, url string, actionType domain.ActionType, metadata map[string]string) domain.SecurityResult {
	if actionType != domain.ActionDownload {
		actionType = domain.ActionNetwork
	}
	return m.AnalyzeAction(ctx, domain.SecurityAction{
		Type:      actionType,
		Action:    url,
		Metadata:  mergeMetadata(map[string]string{"url": url}, metadata),
		Timestamp: m.now(),
	})
}

// AnalyzeInstallAction classifies "<manager> install <pkg>".
func (m *Middleware) AnalyzeInstallAction(ctx context.Context, packageName, packageManager string, metadata map[string]string) domain.SecurityResult {
	md := mergeMetadata(map[string]string{"packageName": packageName, "packageManager": packageManager}, metadata)
	return m.AnalyzeAction(ctx, domain.SecurityAction{
		Type:      domain.ActionInstall,
		Action:    packageManager + " install " + packageName,
		Metadata:  md,
		Timestamp: m.now(),
	})
}

// Stats returns a snapshot of the counters.
func (m *Middleware) Stats() domain.SecurityStats {
	counts := m.monitor.CountByLevel()
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.SecurityStats{
		TotalActions:   m.totalActions,
		BlockedActions: m.totalBlocked,
		CriticalAlerts: counts[domain.LevelCritical],
		HighAlerts:     counts[domain.LevelHigh],
		MediumAlerts:   counts[domain.LevelMedium],
		LowAlerts:      counts[domain.LevelLow],
		IsEnabled:      m.cfg.Enabled,
	}
}

// ActionHistory returns the most recent limit actions, oldest first.
// A non-positive limit means 50.
func (m *Middleware) ActionHistory(limit int) []domain.SecurityAction {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	start := max(len(m.history)-limit, 0)
	return append([]domain.SecurityAction{}, m.history[start:]...)
}

func (m *Middleware) BlockedActions() []domain.SecurityAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SecurityAction, len(m.blocked))
	copy(out, m.blocked)
	return out
}

// ClearHistory empties the action and blocked logs and their counters.
func (m *Middleware) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
	m.blocked = nil
	m.totalActions = 0
	m.totalBlocked = 0
}

// UpdateConfig merges the non-nil fields of patch into the live config.
func (m *Middleware) UpdateConfig(patch ConfigPatch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if patch.Enabled != nil {
		m.cfg.Enabled = *patch.Enabled
	}
	if patch.RequireConfirmation != nil {
		m.cfg.RequireConfirmation = *patch.RequireConfirmation
	}
	if patch.LogActions != nil {
		m.cfg.LogActions = *patch.LogActions
	}
	if patch.AutoBlock != nil {
		m.cfg.AutoBlock = *patch.AutoBlock
	}
	if patch.AllowedCommands != nil {
		m.cfg.AllowedCommands = slices.Clone(*patch.AllowedCommands)
	}
	if patch.BlockedCommands != nil {
		m.cfg.BlockedCommands = slices.Clone(*patch.BlockedCommands)
	}
	if patch.AllowedDomains != nil {
		m.cfg.AllowedDomains = slices.Clone(*patch.AllowedDomains)
	}
	if patch.BlockedDomains != nil {
		m.cfg.BlockedDomains = slices.Clone(*patch.BlockedDomains)
	}
	if patch.MaxActionHistory != nil {
		m.cfg.MaxActionHistory = *patch.MaxActionHistory
	}
}

// Config returns a copy of the live config.
func (m *Middleware) Config() MiddlewareConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.clone()
}

func (m *Middleware) BlockCommand(command string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.cfg.BlockedCommands, command) {
		m.cfg.BlockedCommands = append(m.cfg.BlockedCommands, command)
	}
}

func (m *Middleware) UnblockCommand(command string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.BlockedCommands = slices.DeleteFunc(m.cfg.BlockedCommands, func(c string) bool { return c == command })
}

func (m *Middleware) BlockDomain(d string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.cfg.BlockedDomains, d) {
		m.cfg.BlockedDomains = append(m.cfg.BlockedDomains, d)
	}
}

func (m *Middleware) UnblockDomain(d string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.BlockedDomains = slices.DeleteFunc(m.cfg.BlockedDomains, func(c string) bool { return c == d })
}

// Monitor returns the classifier this middleware delegates to.
func (m *Middleware) Monitor() *Monitor { return m.monitor }

func (m *Middleware) logAction(ctx context.Context, action domain.SecurityAction, kind, result string, alerts []domain.SecurityAlert) {
	if m.audit == nil {
		return
	}
	details := make([]string, 0, len(alerts))
	for _, a := range alerts {
		details = append(details, string(a.Level)+":"+string(a.Category))
	}
	err := m.audit.LogAudit(ctx, domain.AuditEntry{
		Action:     kind,
		ActionType: action.Type,
		Command:    action.Action,
		Result:     result,
		Details:    strings.Join(details, ","),
		SessionID:  action.SessionID,
		CreatedAt:  action.Timestamp,
	})
	if err != nil {
		m.logger.Warn("audit log write failed", "err", err)
	}
}

func appendBounded(list []domain.SecurityAction, action domain.SecurityAction, limit int) []domain.SecurityAction {
	list = append(list, action)
	if limit > 0 && len(list) > limit {
		list = slices.Clone(list[len(list)-limit:])
	}
	return list
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	for k, v := range extra {
		base[k] = v
	}
	return base
}

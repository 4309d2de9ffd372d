package security

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"actionguard/internal/domain"
	"actionguard/internal/metrics"
)

// EnabledFlagKey is the durable key holding the monitor on/off state.
const EnabledFlagKey = "security-monitor-enabled"

// suspiciousURLPatterns are evaluated by AnalyzeURL only. They are kept apart
// from the rule table and cannot be extended with AddCustomRule.
var suspiciousURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.(exe|bat|cmd|ps1|sh)$`),
	regexp.MustCompile(`(?i)(malware|virus|hack|crack)`),
	regexp.MustCompile(`(?i)(http://|ftp://)`),
}

// MonitorConfig configures NewMonitor.
type MonitorConfig struct {
	Rules  *RuleTable       // shared; nil means the built-in catalog
	Flags  domain.FlagStore // nil keeps the enabled state in memory only
	Logger *slog.Logger
	Now    func() time.Time
}

// Monitor classifies free text against a rule table and keeps the resulting
// alert history.
type Monitor struct {
	rules  *RuleTable
	flags  domain.FlagStore
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	alerts  []domain.SecurityAlert
	enabled bool
}

// NewMonitor creates a monitor and restores its enabled state from the flag
// store. A missing flag, or any value other than "false", means enabled.
func NewMonitor(ctx context.Context, cfg MonitorConfig) *Monitor {
	m := &Monitor{
		rules:   cfg.Rules,
		flags:   cfg.Flags,
		logger:  cfg.Logger,
		now:     cfg.Now,
		enabled: true,
	}
	if m.rules == nil {
		m.rules = MustDefaultTable()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}

	if m.flags != nil {
		value, found, err := m.flags.LoadFlag(ctx, EnabledFlagKey)
		if err != nil {
			m.logger.Warn("cannot load monitor state, defaulting to enabled", "key", EnabledFlagKey, "err", err)
		} else if found {
			m.enabled = value != "false"
		}
	}
	return m
}

// AnalyzeAction evaluates text against every rule. Each match yields one
// alert, returned and appended to the history.
func (m *Monitor) AnalyzeAction(text string) []domain.SecurityAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return []domain.SecurityAlert{}
	}

	detected := []domain.SecurityAlert{}
	for _, rule := range m.rules.Match(text) {
		alert := domain.SecurityAlert{
			RuleID:               rule.ID,
			Level:                rule.Level,
			Category:             rule.Category,
			Message:              rule.Message,
			Details:              rule.Details,
			Action:               rule.Action,
			RequiresConfirmation: rule.RequiresConfirmation,
			Timestamp:            m.now(),
		}
		detected = append(detected, alert)
		m.alerts = append(m.alerts, alert)
		metrics.AlertsTotal(alert.Level).Inc()
	}
	return detected
}

// AnalyzeFile classifies "<operation> <filePath>".
func (m *Monitor) AnalyzeFile(filePath string, operation domain.FileOperation) []domain.SecurityAlert {
	if !m.IsEnabled() {
		return []domain.SecurityAlert{}
	}
	return m.AnalyzeAction(string(operation) + " " + filePath)
}

// AnalyzeURL checks a URL against the fixed suspicious-URL patterns. Every
// matching pattern produces its own alert. URL alerts are returned to the
// caller but not recorded in the history.
func (m *Monitor) AnalyzeURL(url string) []domain.SecurityAlert {
	if !m.IsEnabled() {
		return []domain.SecurityAlert{}
	}

	alerts := []domain.SecurityAlert{}
	for _, re := range suspiciousURLPatterns {
		if !re.MatchString(url) {
			continue
		}
		alerts = append(alerts, domain.SecurityAlert{
			Level:                domain.LevelHigh,
			Category:             domain.CategoryNetwork,
			Message:              "SUSPICIOUS URL: potentially dangerous URL detected",
			Details:              fmt.Sprintf("The URL %q may contain malicious content.", url),
			Action:               "Verify the origin of the URL before accessing it.",
			RequiresConfirmation: true,
			Timestamp:            m.now(),
		})
	}
	return alerts
}

// Alerts returns a copy of the alert history.
func (m *Monitor) Alerts() []domain.SecurityAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SecurityAlert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// AlertsByLevel returns the recorded alerts of one severity.
func (m *Monitor) AlertsByLevel(level domain.Level) []domain.SecurityAlert {
	return m.filter(func(a domain.SecurityAlert) bool { return a.Level == level })
}

// AlertsByCategory returns the recorded alerts of one category.
func (m *Monitor) AlertsByCategory(category domain.Category) []domain.SecurityAlert {
	return m.filter(func(a domain.SecurityAlert) bool { return a.Category == category })
}

// SortedAlerts returns the history ordered by severity, newest first within
// a level.
func (m *Monitor) SortedAlerts() []domain.SecurityAlert {
	out := m.Alerts()
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Level.Rank(), out[j].Level.Rank()
		if ri != rj {
			return ri > rj
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// CountByLevel tallies the history per severity. Every known level is present.
func (m *Monitor) CountByLevel() map[domain.Level]int {
	counts := make(map[domain.Level]int, len(domain.Levels))
	for _, l := range domain.Levels {
		counts[l] = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		counts[a.Level]++
	}
	return counts
}

// ClearAlerts empties the history. The enabled state is untouched.
func (m *Monitor) ClearAlerts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = nil
}

// SetEnabled flips the kill switch and persists it. The in-memory state
// changes even when persisting fails.
func (m *Monitor) SetEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()

	m.logger.Info("security monitor toggled", "enabled", enabled)
	if m.flags == nil {
		return nil
	}
	value := "true"
	if !enabled {
		value = "false"
	}
	if err := m.flags.SaveFlag(ctx, EnabledFlagKey, value); err != nil {
		return fmt.Errorf("persist monitor state: %w", err)
	}
	return nil
}

// IsEnabled reports whether the monitor is classifying.
func (m *Monitor) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// AddCustomRule appends a rule to the underlying table, which is shared with
// every monitor built on it.
func (m *Monitor) AddCustomRule(rule domain.SecurityRule) error {
	if err := m.rules.AddCustomRule(rule); err != nil {
		return err
	}
	m.logger.Info("custom rule added", "id", rule.ID, "level", rule.Level, "category", rule.Category)
	return nil
}

// Rules exposes the rule table this monitor evaluates.
func (m *Monitor) Rules() *RuleTable { return m.rules }

func (m *Monitor) filter(keep func(domain.SecurityAlert) bool) []domain.SecurityAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.SecurityAlert{}
	for _, a := range m.alerts {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

package domain

import (
	"context"
	"strings"
	"time"
)

// Level is the severity of an alert.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Levels lists every severity from lowest to highest.
var Levels = []Level{LevelLow, LevelMedium, LevelHigh, LevelCritical}

// Rank orders levels; unknown values rank below LOW.
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	default:
		return 0
	}
}

// ParseLevel accepts any casing of a known level.
func ParseLevel(s string) (Level, bool) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	return l, l.Rank() > 0
}

// Category groups alerts by the kind of resource they touch.
type Category string

const (
	CategorySystem     Category = "SYSTEM"
	CategoryFile       Category = "FILE"
	CategoryNetwork    Category = "NETWORK"
	CategoryDependency Category = "DEPENDENCY"
	CategoryConfig     Category = "CONFIG"
)

// ParseCategory accepts any casing of a known category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CategorySystem, CategoryFile, CategoryNetwork, CategoryDependency, CategoryConfig:
		return c, true
	}
	return c, false
}

// ActionType tags what kind of text a SecurityAction carries.
type ActionType string

const (
	ActionCommand  ActionType = "COMMAND"
	ActionFile     ActionType = "FILE"
	ActionNetwork  ActionType = "NETWORK"
	ActionDownload ActionType = "DOWNLOAD"
	ActionInstall  ActionType = "INSTALL"
)

// FileOperation is the operation passed to file analysis.
type FileOperation string

const (
	FileRead   FileOperation = "read"
	FileWrite  FileOperation = "write"
	FileDelete FileOperation = "delete"
)

// SecurityRule binds a pattern to a severity and an explanation.
type SecurityRule struct {
	ID                   string   `json:"id" yaml:"id"`
	Name                 string   `json:"name" yaml:"name"`
	Pattern              string   `json:"pattern" yaml:"pattern"` // regular expression, matched case-insensitively
	Category             Category `json:"category" yaml:"category"`
	Level                Level    `json:"level" yaml:"level"`
	Message              string   `json:"message" yaml:"message"`
	Details              string   `json:"details" yaml:"details"`
	Action               string   `json:"action" yaml:"action"` // recommended remediation
	RequiresConfirmation bool     `json:"requiresConfirmation" yaml:"requiresConfirmation"`
}

// SecurityAlert is produced once per rule match and never mutated afterwards.
type SecurityAlert struct {
	RuleID               string    `json:"ruleId,omitempty"`
	Level                Level     `json:"level"`
	Category             Category  `json:"category"`
	Message              string    `json:"message"`
	Details              string    `json:"details"`
	Action               string    `json:"action"`
	RequiresConfirmation bool      `json:"requiresConfirmation"`
	Timestamp            time.Time `json:"timestamp"`
}

// SecurityAction is the envelope handed to the policy middleware.
type SecurityAction struct {
	Type      ActionType        `json:"type"`
	Action    string            `json:"action"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	UserID    string            `json:"userId,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
}

// SecurityResult is the middleware verdict for one action.
type SecurityResult struct {
	Allowed              bool            `json:"allowed"`
	Alerts               []SecurityAlert `json:"alerts"`
	RequiresConfirmation bool            `json:"requiresConfirmation"`
	Reason               string          `json:"reason,omitempty"`
	SuggestedAction      string          `json:"suggestedAction,omitempty"`
}

// SecurityStats is a point-in-time snapshot of middleware and monitor counters.
type SecurityStats struct {
	TotalActions   int  `json:"totalActions"`
	BlockedActions int  `json:"blockedActions"`
	CriticalAlerts int  `json:"criticalAlerts"`
	HighAlerts     int  `json:"highAlerts"`
	MediumAlerts   int  `json:"mediumAlerts"`
	LowAlerts      int  `json:"lowAlerts"`
	IsEnabled      bool `json:"isEnabled"`
}

// FlagStore persists small string settings across restarts.
type FlagStore interface {
	LoadFlag(ctx context.Context, key string) (value string, found bool, err error)
	SaveFlag(ctx context.Context, key string, value string) error
}

// AuditLogger records analyzed actions to a durable sink.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry AuditEntry) error
}

type AuditEntry struct {
	Action     string     `json:"action"` // action_allowed | action_confirm | action_blocked
	ActionType ActionType `json:"actionType"`
	Command    string     `json:"command"`
	Result     string     `json:"result"` // allowed | confirm | blocked
	Details    string     `json:"details,omitempty"`
	SessionID  string     `json:"sessionId,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

package security

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"actionguard/internal/domain"
)

// ErrDuplicateRule is returned when a custom rule reuses an existing ID.
var ErrDuplicateRule = errors.New("duplicate rule id")

// DefaultRules returns the built-in detection catalog in evaluation order.
func DefaultRules() []domain.SecurityRule {
	return []domain.SecurityRule{
		{
			ID:                   "system-rm",
			Name:                 "Recursive file removal",
			Pattern:              `\brm\s+(-rf?|--recursive|--force)`,
			Category:             domain.CategorySystem,
			Level:                domain.LevelCritical,
			Message:              "DANGEROUS COMMAND: recursive file removal",
			Details:              "This command can permanently delete important files and directories.",
			Action:               "Confirm that you really want to run this removal command.",
			RequiresConfirmation: true,
		},
		{
			ID:                   "system-format",
			Name:                 "Disk formatting",
			Pattern:              `\b(format|mkfs|fdisk|dd)\b`,
			Category:             domain.CategorySystem,
			Level:                domain.LevelCritical,
			Message:              "CRITICAL COMMAND: disk formatting operation",
			Details:              "This command can completely erase data on a disk.",
			Action:               "Explicit confirmation is required before proceeding.",
			RequiresConfirmation: true,
		},
		{
			ID:                   "system-sudo",
			Name:                 "Elevated privileges",
			Pattern:              `\bsudo\b`,
			Category:             domain.CategorySystem,
			Level:                domain.LevelHigh,
			Message:              "ELEVATED PRIVILEGES: command uses sudo",
			Details:              "This command will run with administrator privileges.",
			Action:               "Check that the command is safe before confirming.",
			RequiresConfirmation: true,
		},
		{
			ID:                   "file-env",
			Name:                 "Environment file",
			Pattern:              `\.env`,
			Category:             domain.CategoryFile,
			Level:                domain.LevelHigh,
			Message:              "SENSITIVE FILE: access to a .env file",
			Details:              "This file may contain passwords, API keys and other credentials.",
			Action:               "Confirm that the access is necessary and safe.",
			RequiresConfirmation: true,
		},
		{
			ID:                   "file-config",
			Name:                 "Configuration file",
			Pattern:              `(config|\.config|\.json|\.yaml|\.yml)$`,
			Category:             domain.CategoryFile,
			Level:                domain.LevelMedium,
			Message:              "CONFIGURATION FILE: modification detected",
			Details:              "Changes to configuration files can alter system behavior.",
			Action:               "Review the changes before applying them.",
			RequiresConfirmation: false,
		},
		{
			ID:                   "network-curl",
			Name:                 "Download via curl",
			Pattern:              `\bcurl\s+(-O|-o|--output)`,
			Category:             domain.CategoryNetwork,
			Level:                domain.LevelMedium,
			Message:              "DOWNLOAD: file download via curl",
			Details:              "Verify the origin and integrity of the file before running it.",
			Action:               "Confirm that the source is trusted.",
			RequiresConfirmation: true,
		},
		{
			ID:                   "network-wget",
			Name:                 "Download via wget",
			Pattern:              `\bwget\b`,
			Category:             domain.CategoryNetwork,
			Level:                domain.LevelMedium,
			Message:              "DOWNLOAD: file download via wget",
			Details:              "Verify the origin and integrity of the file before running it.",
			Action:               "Confirm that the source is trusted.",
			RequiresConfirmation: true,
		},
		{
			ID:                   "dependency-install",
			Name:                 "Dependency installation",
			Pattern:              `\b(npm install|yarn add|pip install|apt install|brew install)\b`,
			Category:             domain.CategoryDependency,
			Level:                domain.LevelMedium,
			Message:              "INSTALLATION: dependency installation detected",
			Details:              "Check that the package comes from a trusted source and contains no malware.",
			Action:               "Review the dependency before installing it.",
			RequiresConfirmation: false,
		},
		{
			ID:                   "config-registry",
			Name:                 "Registry change",
			Pattern:              `\b(regedit|registry)\b`,
			Category:             domain.CategoryConfig,
			Level:                domain.LevelCritical,
			Message:              "REGISTRY: Windows registry modification detected",
			Details:              "Registry changes can break the operating system.",
			Action:               "Explicit confirmation is required before proceeding.",
			RequiresConfirmation: true,
		},
	}
}

type compiledRule struct {
	rule domain.SecurityRule
	re   *regexp.Regexp
}

// RuleTable is an append-only, ordered set of compiled rules.
// It may be shared by many monitors.
type RuleTable struct {
	mu    sync.RWMutex
	rules []compiledRule
	ids   map[string]bool
}

// NewRuleTable compiles the given rules in order. With no arguments the
// table is empty; use DefaultRules() for the built-in catalog.
func NewRuleTable(rules ...domain.SecurityRule) (*RuleTable, error) {
	t := &RuleTable{ids: make(map[string]bool, len(rules))}
	for _, r := range rules {
		if err := t.AddCustomRule(r); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MustDefaultTable builds the built-in table. The catalog is static, so a
// compile failure is a programming error.
func MustDefaultTable() *RuleTable {
	t, err := NewRuleTable(DefaultRules()...)
	if err != nil {
		panic(err)
	}
	return t
}

// AddCustomRule compiles and appends a rule. The table is left unchanged
// when the pattern is invalid or the ID is already taken.
func (t *RuleTable) AddCustomRule(rule domain.SecurityRule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	re, err := compileRulePattern(rule.Pattern)
	if err != nil {
		return fmt.Errorf("rule %q: %w", rule.ID, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ids[rule.ID] {
		return fmt.Errorf("rule %q: %w", rule.ID, ErrDuplicateRule)
	}
	t.ids[rule.ID] = true
	t.rules = append(t.rules, compiledRule{rule: rule, re: re})
	return nil
}

// Rules returns a copy of the rules in insertion order.
func (t *RuleTable) Rules() []domain.SecurityRule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.SecurityRule, len(t.rules))
	for i, cr := range t.rules {
		out[i] = cr.rule
	}
	return out
}

// Len returns the number of rules.
func (t *RuleTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rules)
}

// Match returns every rule whose pattern matches text, in table order.
func (t *RuleTable) Match(text string) []domain.SecurityRule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var matched []domain.SecurityRule
	for _, cr := range t.rules {
		if cr.re.MatchString(text) {
			matched = append(matched, cr.rule)
		}
	}
	return matched
}

func compileRulePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	re, err := regexp.Compile(`(?i)` + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

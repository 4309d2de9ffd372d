package security

import (
	"fmt"
	"os"
	"strings"

	"actionguard/internal/domain"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk schema of a custom rule pack.
type ruleFile struct {
	Rules []domain.SecurityRule `yaml:"rules"`
}

// LoadRuleFile reads a YAML rule pack. Level and category are normalized to
// upper case and rejected when unknown; patterns are compiled later by
// AddCustomRule.
func LoadRuleFile(path string) ([]domain.SecurityRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("rule file %s: %w", path, err)
	}
	return rules, nil
}

// ParseRules decodes a YAML rule pack.
func ParseRules(data []byte) ([]domain.SecurityRule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	var errs []string
	for i := range f.Rules {
		r := &f.Rules[i]
		if strings.TrimSpace(r.ID) == "" {
			errs = append(errs, fmt.Sprintf("rules[%d]: id is required", i))
			continue
		}
		level, ok := domain.ParseLevel(string(r.Level))
		if !ok {
			errs = append(errs, fmt.Sprintf("rules[%d] %s: unknown level %q", i, r.ID, r.Level))
		}
		category, ok := domain.ParseCategory(string(r.Category))
		if !ok {
			errs = append(errs, fmt.Sprintf("rules[%d] %s: unknown category %q", i, r.ID, r.Category))
		}
		r.Level = level
		r.Category = category
		if r.Name == "" {
			r.Name = r.ID
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid rules:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return f.Rules, nil
}

package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"actionguard/internal/domain"
)

func TestParseRules_NormalizesAndDefaults(t *testing.T) {
	data := []byte(`
rules:
  - id: k8s-delete
    pattern: 'kubectl\s+delete'
    category: system
    level: critical
    message: cluster resource deletion
    requiresConfirmation: true
`)
	rules, err := ParseRules(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	r := rules[0]
	if r.Level != domain.LevelCritical || r.Category != domain.CategorySystem {
		t.Errorf("expected normalized level/category, got %s/%s", r.Level, r.Category)
	}
	if r.Name != "k8s-delete" {
		t.Errorf("name should default to id, got %q", r.Name)
	}
	if !r.RequiresConfirmation {
		t.Error("requiresConfirmation not decoded")
	}
}

func TestParseRules_CollectsErrors(t *testing.T) {
	data := []byte(`
rules:
  - pattern: 'x'
    category: SYSTEM
    level: LOW
  - id: bad-level
    pattern: 'y'
    category: SYSTEM
    level: SEVERE
  - id: bad-category
    pattern: 'z'
    category: KERNEL
    level: LOW
`)
	_, err := ParseRules(data)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"rules[0]: id is required", `unknown level "SEVERE"`, `unknown category "KERNEL"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestParseRules_InvalidYAML(t *testing.T) {
	if _, err := ParseRules([]byte("rules: [::")); err == nil {
		t.Fatal("expected YAML error")
	}
}

func TestLoadRuleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := "rules:\n  - id: no-nc\n    pattern: '\\bnc\\s+-l'\n    category: NETWORK\n    level: HIGH\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRuleFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	table := MustDefaultTable()
	for _, r := range rules {
		if err := table.AddCustomRule(r); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if m := table.Match("nc -l 4444"); len(m) != 1 || m[0].ID != "no-nc" {
		t.Fatalf("loaded rule did not match: %+v", m)
	}
}

func TestLoadRuleFile_Missing(t *testing.T) {
	if _, err := LoadRuleFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

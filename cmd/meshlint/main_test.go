package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mjones3/api-consistency-analyzer/internal/config"
)

func baseConfig() config.Config {
	return config.Config{
		Namespaces:              []string{"default"},
		FieldExtractionMaxDepth: 8,
	}
}

func TestNewLinterDefaultsToStyleOnly(t *testing.T) {
	linter, err := newLinter(baseConfig())
	if err != nil {
		t.Fatalf("newLinter: %v", err)
	}
	if linter == nil {
		t.Fatalf("expected a non-nil linter")
	}
	if linter.RuleSet().Version() == "" {
		t.Fatalf("expected a non-empty rule set version")
	}
}

func TestNewLinterAppendsFHIRWhenEnabled(t *testing.T) {
	cfg := baseConfig()
	cfg.LintFHIRProfileEnabled = true

	withFHIR, err := newLinter(cfg)
	if err != nil {
		t.Fatalf("newLinter: %v", err)
	}

	cfg.LintFHIRProfileEnabled = false
	withoutFHIR, err := newLinter(cfg)
	if err != nil {
		t.Fatalf("newLinter: %v", err)
	}

	if withFHIR.RuleSet().Version() == withoutFHIR.RuleSet().Version() {
		t.Fatalf("expected enabling the FHIR profile to change the chained rule set version")
	}
}

func TestNewLinterLoadsStyleRulesFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "style.yaml")
	if err := os.WriteFile(path, []byte("collection_path_plural: false\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := baseConfig()
	cfg.LintStyleRulesPath = path

	linter, err := newLinter(cfg)
	if err != nil {
		t.Fatalf("newLinter: %v", err)
	}
	if linter == nil {
		t.Fatalf("expected a non-nil linter")
	}
}

func TestNewLinterRejectsUnreadableStyleRulesPath(t *testing.T) {
	cfg := baseConfig()
	cfg.LintStyleRulesPath = filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := newLinter(cfg); err == nil {
		t.Fatalf("expected an error when LintStyleRulesPath does not exist")
	}
}

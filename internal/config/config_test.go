package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t, "NAMESPACES", "HARVEST_INTERVAL_HOURS", "MAX_CONCURRENT", "STORAGE_PATH",
		"RUN_MODE", "HEALTH_CHECK_ENABLED", "PROBE_TIMEOUT_SECONDS", "HARVEST_TIMEOUT_SECONDS",
		"FIELD_EXTRACTION_MAX_DEPTH", "LINT_STYLE_RULES_PATH", "LINT_FHIR_PROFILE_ENABLED",
		"METRICS_ADDR", "API_ADDR", "LABEL_APP")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Namespaces) != 1 || cfg.Namespaces[0] != "default" {
		t.Fatalf("Namespaces = %v, want [default]", cfg.Namespaces)
	}
	if cfg.HarvestInterval != 6*time.Hour {
		t.Fatalf("HarvestInterval = %v, want 6h", cfg.HarvestInterval)
	}
	if cfg.MaxConcurrent != 10 {
		t.Fatalf("MaxConcurrent = %d, want 10", cfg.MaxConcurrent)
	}
	if cfg.RunMode != "continuous" {
		t.Fatalf("RunMode = %q, want continuous", cfg.RunMode)
	}
	if cfg.ProbeTimeout != 5*time.Second {
		t.Fatalf("ProbeTimeout = %v, want 5s", cfg.ProbeTimeout)
	}
	if cfg.HarvestTimeout != 30*time.Second {
		t.Fatalf("HarvestTimeout = %v, want 30s", cfg.HarvestTimeout)
	}
	if cfg.FieldExtractionMaxDepth != 8 {
		t.Fatalf("FieldExtractionMaxDepth = %d, want 8", cfg.FieldExtractionMaxDepth)
	}
	if cfg.LintFHIRProfileEnabled {
		t.Fatalf("LintFHIRProfileEnabled should default to false")
	}
	if cfg.MetricsAddr != ":9090" {
		t.Fatalf("MetricsAddr = %q, want :9090", cfg.MetricsAddr)
	}
	if cfg.APIAddr != ":8080" {
		t.Fatalf("APIAddr = %q, want :8080", cfg.APIAddr)
	}
}

func TestLoadRejectsInvalidRunMode(t *testing.T) {
	t.Setenv("RUN_MODE", "sometimes")
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to reject an unrecognised RUN_MODE")
	}
}

func TestLoadParsesNamespaceList(t *testing.T) {
	t.Setenv("NAMESPACES", "prod, staging ,dev")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"prod", "staging", "dev"}
	if len(cfg.Namespaces) != len(want) {
		t.Fatalf("Namespaces = %v, want %v", cfg.Namespaces, want)
	}
	for i := range want {
		if cfg.Namespaces[i] != want[i] {
			t.Fatalf("Namespaces = %v, want %v", cfg.Namespaces, want)
		}
	}
}

func TestLoadLabelAppBareValueShorthand(t *testing.T) {
	t.Setenv("LABEL_APP", "widgets")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LabelSelectors["app"] != "widgets" {
		t.Fatalf("LabelSelectors = %v, want app=widgets", cfg.LabelSelectors)
	}
}

func TestLoadLabelAppKeyValuePairs(t *testing.T) {
	t.Setenv("LABEL_APP", "tier=api,team=core")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LabelSelectors["tier"] != "api" || cfg.LabelSelectors["team"] != "core" {
		t.Fatalf("LabelSelectors = %v, want tier=api,team=core", cfg.LabelSelectors)
	}
}

func TestLoadHonorsOverrides(t *testing.T) {
	t.Setenv("MAX_CONCURRENT", "25")
	t.Setenv("RUN_MODE", "one-shot")
	t.Setenv("LINT_FHIR_PROFILE_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxConcurrent != 25 {
		t.Fatalf("MaxConcurrent = %d, want 25", cfg.MaxConcurrent)
	}
	if cfg.RunMode != "one-shot" {
		t.Fatalf("RunMode = %q, want one-shot", cfg.RunMode)
	}
	if !cfg.LintFHIRProfileEnabled {
		t.Fatalf("LintFHIRProfileEnabled = false, want true")
	}
}

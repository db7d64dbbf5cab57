// Package config loads process configuration from environment variables,
// the same surface the Python predecessor read (os.getenv(...) in
// src/main.py), validated with github.com/go-playground/validator/v10
// rather than hand-rolled checks.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// Config is every environment-derived setting the process needs. Fields
// are validated as a unit so a misconfiguration fails fast at startup
// (spec §6.6 exit code 1: fatal init error) rather than partway through
// the first cycle.
type Config struct {
	Namespaces        []string          `validate:"required,min=1"`
	LabelSelectors    map[string]string `validate:"-"`
	AnnotationFilters map[string]string `validate:"-"`

	HarvestInterval time.Duration `validate:"required"`
	MaxConcurrent   int           `validate:"required,min=1"`
	StoragePath     string        `validate:"required"`
	RunMode         string        `validate:"required,oneof=continuous one-shot"`
	HealthCheckEnabled bool

	ProbeTimeout            time.Duration `validate:"required"`
	HarvestTimeout          time.Duration `validate:"required"`
	FieldExtractionMaxDepth int           `validate:"required,min=1"`
	LintStyleRulesPath      string        `validate:"-"`
	LintFHIRProfileEnabled  bool

	MetricsAddr string `validate:"required"`
	APIAddr     string `validate:"required"`
}

// Load reads every supported environment variable, applies the spec's
// defaults, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Namespaces:        splitCSV(getenv("NAMESPACES", "default")),
		LabelSelectors:    parseKV(getenv("LABEL_APP", "spring-boot")),
		AnnotationFilters: map[string]string{},

		HarvestInterval: hoursEnv("HARVEST_INTERVAL_HOURS", 6),
		MaxConcurrent:   intEnv("MAX_CONCURRENT", 10),
		StoragePath:     getenv("STORAGE_PATH", "/data/api-specs"),
		RunMode:         getenv("RUN_MODE", "continuous"),
		HealthCheckEnabled: boolEnv("HEALTH_CHECK_ENABLED", true),

		ProbeTimeout:            secondsEnv("PROBE_TIMEOUT_SECONDS", 5),
		HarvestTimeout:          secondsEnv("HARVEST_TIMEOUT_SECONDS", 30),
		FieldExtractionMaxDepth: intEnv("FIELD_EXTRACTION_MAX_DEPTH", 8),
		LintStyleRulesPath:      getenv("LINT_STYLE_RULES_PATH", ""),
		LintFHIRProfileEnabled:  boolEnv("LINT_FHIR_PROFILE_ENABLED", false),

		MetricsAddr: getenv("METRICS_ADDR", ":9090"),
		APIAddr:     getenv("API_ADDR", ":8080"),
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return Config{}, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseKV parses "key=value,key2=value2" into a map. A single bare value
// (no "=") is treated as LABEL_APP's historical shorthand for
// app=<value>.
func parseKV(v string) map[string]string {
	out := map[string]string{}
	if v == "" {
		return out
	}
	if !strings.Contains(v, "=") {
		out["app"] = v
		return out
	}
	for _, pair := range strings.Split(v, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

func intEnv(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func boolEnv(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func hoursEnv(key string, fallbackHours int) time.Duration {
	return time.Duration(intEnv(key, fallbackHours)) * time.Hour
}

func secondsEnv(key string, fallbackSeconds int) time.Duration {
	return time.Duration(intEnv(key, fallbackSeconds)) * time.Second
}

// Package style implements the style-guide Linter: naming conventions,
// error-response shape, and path conventions. Configuration is loaded from
// a YAML rule file, grounded on the teacher's marshal/unmarshal-validate
// round trip idiom for rule configuration (pkg/rules/rules.go).
package style

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mjones3/api-consistency-analyzer/pkg/lint"
	"github.com/mjones3/api-consistency-analyzer/pkg/openapi"
	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

// Config is the style guide's rule configuration.
type Config struct {
	// NamingPattern matches allowed path segment names. Segments that are
	// path parameters (wrapped in braces) are exempt.
	NamingPattern string `yaml:"naming_pattern"`

	// RequiredErrorFields lists the property names every non-2xx response
	// schema must declare.
	RequiredErrorFields []string `yaml:"required_error_fields"`

	// CollectionPathPlural flags collection-style paths (no path parameter
	// in any segment) whose final segment ends in "y" (e.g. "/category");
	// other singular forms are not detected.
	CollectionPathPlural bool `yaml:"collection_path_plural"`
}

// DefaultConfig matches the spec's naming, error-response-shape, and
// path-convention defaults.
func DefaultConfig() Config {
	return Config{
		NamingPattern:        `^[a-z0-9]+(-[a-z0-9]+)*$`,
		RequiredErrorFields:  []string{"code", "message"},
		CollectionPathPlural: true,
	}
}

// LoadConfig parses a YAML rule file, falling back to DefaultConfig when raw
// is empty.
func LoadConfig(raw []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(raw) == 0 {
		return cfg, nil
	}
	// Round trip through a fresh default so the YAML file only needs to
	// override the fields it cares about.
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse style rule file")
	}
	return cfg, nil
}

// RuleSet wraps Config to satisfy lint.RuleSet.
type RuleSet struct {
	cfg Config
}

func (r RuleSet) Version() string {
	b, err := yaml.Marshal(r.cfg)
	if err != nil {
		return "style-default"
	}
	var tree any
	if err := yaml.Unmarshal(b, &tree); err != nil {
		return "style-default"
	}
	hash, err := openapi.ContentHash(jsonify(tree))
	if err != nil {
		return "style-default"
	}
	return "style-" + hash[:16]
}

// jsonify converts yaml.v3's decoded tree (which may contain
// map[string]interface{} already, or occasionally map[any]any for nested
// maps) into the map[string]any / []any / scalar shape openapi.ContentHash
// expects.
func jsonify(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[k] = jsonify(sub)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = jsonify(sub)
		}
		return out
	default:
		return val
	}
}

// Linter is the style-guide Linter implementation.
type Linter struct {
	cfg     Config
	ruleSet RuleSet
	naming  *regexp.Regexp
}

// New builds a style Linter from cfg.
func New(cfg Config) (*Linter, error) {
	re, err := regexp.Compile(cfg.NamingPattern)
	if err != nil {
		return nil, errors.Wrapf(err, "compile naming pattern %q", cfg.NamingPattern)
	}
	return &Linter{cfg: cfg, ruleSet: RuleSet{cfg: cfg}, naming: re}, nil
}

func (l *Linter) RuleSet() lint.RuleSet { return l.ruleSet }

func (l *Linter) Lint(_ context.Context, doc *openapi.Document, _ []types.FieldRecord) ([]lint.Finding, error) {
	root, ok := doc.Root.(map[string]any)
	if !ok {
		return nil, nil
	}
	var findings []lint.Finding
	findings = append(findings, l.lintPaths(root)...)
	return findings, nil
}

func (l *Linter) lintPaths(root map[string]any) []lint.Finding {
	paths, ok := root["paths"].(map[string]any)
	if !ok {
		return nil
	}
	var findings []lint.Finding
	names := sortedKeys(paths)
	for _, p := range names {
		item, ok := paths[p].(map[string]any)
		if !ok {
			continue
		}
		findings = append(findings, l.lintPathNaming(p)...)
		for _, method := range httpMethods {
			op, ok := item[method].(map[string]any)
			if !ok {
				continue
			}
			findings = append(findings, l.lintErrorShape(p, method, op)...)
		}
	}
	return findings
}

var httpMethods = []string{"get", "put", "post", "delete", "patch", "head", "options", "trace"}

func (l *Linter) lintPathNaming(p string) []lint.Finding {
	var findings []lint.Finding
	segments := strings.Split(strings.Trim(p, "/"), "/")
	isCollectionPath := true
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			isCollectionPath = false
			continue
		}
		if !l.naming.MatchString(seg) {
			findings = append(findings, lint.Finding{
				Kind:           types.KindNaming,
				NativeSeverity: lint.SevWarn,
				RuleID:         "naming.path-segment-case",
				Message:        fmt.Sprintf("path segment %q does not match naming convention %q", seg, l.cfg.NamingPattern),
				Location:       "paths." + p,
				AffectedFields: []string{"paths." + p},
				Recommendation: "use lower-kebab-case path segments",
			})
		}
	}
	if l.cfg.CollectionPathPlural && isCollectionPath {
		last := segments[len(segments)-1]
		if last != "" && strings.HasSuffix(last, "y") && !strings.HasSuffix(last, "s") {
			findings = append(findings, lint.Finding{
				Kind:           types.KindPathShape,
				NativeSeverity: lint.SevInfo,
				RuleID:         "path-shape.collection-plural",
				Message:        fmt.Sprintf("collection path %q should use a plural final segment", p),
				Location:       "paths." + p,
				AffectedFields: []string{"paths." + p},
				Recommendation: fmt.Sprintf("rename %q to a plural form", last),
			})
		}
	}
	return findings
}

func (l *Linter) lintErrorShape(p, method string, op map[string]any) []lint.Finding {
	responses, ok := op["responses"].(map[string]any)
	if !ok {
		return nil
	}
	var findings []lint.Finding
	codes := sortedKeys(responses)
	for _, code := range codes {
		if isSuccessCode(code) {
			continue
		}
		resp, ok := responses[code].(map[string]any)
		if !ok {
			continue
		}
		schema := errorResponseSchema(resp)
		if schema == nil {
			continue
		}
		props, _ := schema["properties"].(map[string]any)
		var missing []string
		for _, field := range l.cfg.RequiredErrorFields {
			if props == nil {
				missing = append(missing, field)
				continue
			}
			if _, ok := props[field]; !ok {
				missing = append(missing, field)
			}
		}
		if len(missing) > 0 {
			loc := fmt.Sprintf("paths.%s.%s.responses.%s", p, method, code)
			findings = append(findings, lint.Finding{
				Kind:           types.KindErrorShape,
				NativeSeverity: lint.SevError,
				RuleID:         "error-shape.missing-fields",
				Message:        fmt.Sprintf("error response %s %s %s is missing fields: %s", method, p, code, strings.Join(missing, ", ")),
				Location:       loc,
				AffectedFields: []string{loc},
				Recommendation: fmt.Sprintf("add fields %s to the error response schema", strings.Join(missing, ", ")),
			})
		}
	}
	return findings
}

func isSuccessCode(code string) bool {
	return strings.HasPrefix(code, "2") || code == "default"
}

func errorResponseSchema(resp map[string]any) map[string]any {
	content, ok := resp["content"].(map[string]any)
	if !ok {
		return nil
	}
	json, ok := content["application/json"].(map[string]any)
	if !ok {
		return nil
	}
	schema, _ := json["schema"].(map[string]any)
	return schema
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package fhir implements the optional domain schema profile linter: a
// FHIR R4-flavoured field requirement table, recovered from the Python
// predecessor's FHIRComplianceChecker (original_source/src/core/fhir_compliance.py)
// and translated into the Linter capability. It is the concrete instance of
// the spec's "optional domain schema profile (e.g. a healthcare data
// model)" -- enabling it is a deployment choice, not a hidden default.
package fhir

import (
	"context"
	"fmt"

	"github.com/mjones3/api-consistency-analyzer/pkg/lint"
	"github.com/mjones3/api-consistency-analyzer/pkg/openapi"
	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

// FieldRequirement mirrors FHIRFieldRequirement from the Python predecessor.
type FieldRequirement struct {
	FHIRPath string
	DataType string
	Required bool
}

// resourceRequirements holds the field tables for the FHIR resource types
// relevant to this profile, transcribed from fhir_compliance.py's
// _load_fhir_patient_requirements (and generalised across the other
// resource types that module enumerates in FHIRResourceType).
var resourceRequirements = map[string]map[string]FieldRequirement{
	"Patient": {
		"resourceType": {FHIRPath: "Patient.resourceType", DataType: "string", Required: true},
		"identifier":   {FHIRPath: "Patient.identifier", DataType: "array", Required: true},
		"name":         {FHIRPath: "Patient.name", DataType: "array", Required: true},
		"telecom":      {FHIRPath: "Patient.telecom", DataType: "array", Required: false},
		"gender":       {FHIRPath: "Patient.gender", DataType: "string", Required: true},
		"birthDate":    {FHIRPath: "Patient.birthDate", DataType: "string", Required: false},
	},
	"Practitioner": {
		"resourceType": {FHIRPath: "Practitioner.resourceType", DataType: "string", Required: true},
		"identifier":   {FHIRPath: "Practitioner.identifier", DataType: "array", Required: true},
		"name":         {FHIRPath: "Practitioner.name", DataType: "array", Required: true},
	},
	"Organization": {
		"resourceType": {FHIRPath: "Organization.resourceType", DataType: "string", Required: true},
		"identifier":   {FHIRPath: "Organization.identifier", DataType: "array", Required: true},
		"name":         {FHIRPath: "Organization.name", DataType: "string", Required: true},
	},
	"Observation": {
		"resourceType": {FHIRPath: "Observation.resourceType", DataType: "string", Required: true},
		"status":       {FHIRPath: "Observation.status", DataType: "string", Required: true},
		"code":         {FHIRPath: "Observation.code", DataType: "object", Required: true},
		"subject":      {FHIRPath: "Observation.subject", DataType: "object", Required: false},
	},
	"DiagnosticReport": {
		"resourceType": {FHIRPath: "DiagnosticReport.resourceType", DataType: "string", Required: true},
		"status":       {FHIRPath: "DiagnosticReport.status", DataType: "string", Required: true},
		"code":         {FHIRPath: "DiagnosticReport.code", DataType: "object", Required: true},
	},
}

var jsonTypeBySchemaKind = map[string]string{
	"array":  "array",
	"object": "object",
	"string": "string",
}

// RuleSet satisfies lint.RuleSet with a fixed version: the profile's field
// table is compiled into the binary and does not vary at runtime, so its
// version is a constant rather than a content hash.
type RuleSet struct{}

func (RuleSet) Version() string { return "fhir-profile-v1" }

// Linter is the FHIR domain profile Linter implementation.
type Linter struct{}

// New builds a FHIR domain profile Linter.
func New() *Linter { return &Linter{} }

func (l *Linter) RuleSet() lint.RuleSet { return RuleSet{} }

func (l *Linter) Lint(_ context.Context, doc *openapi.Document, _ []types.FieldRecord) ([]lint.Finding, error) {
	root, ok := doc.Root.(map[string]any)
	if !ok {
		return nil, nil
	}
	components, ok := root["components"].(map[string]any)
	if !ok {
		return nil, nil
	}
	schemas, ok := components["schemas"].(map[string]any)
	if !ok {
		return nil, nil
	}
	var findings []lint.Finding
	for name, raw := range schemas {
		_, ok := resourceRequirements[name]
		if !ok {
			continue
		}
		schema, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		findings = append(findings, l.lintResource(name, schema)...)
	}
	return findings, nil
}

func (l *Linter) lintResource(name string, schema map[string]any) []lint.Finding {
	props, _ := schema["properties"].(map[string]any)
	required := stringSet(schema["required"])

	var findings []lint.Finding
	for field, req := range resourceRequirements[name] {
		loc := fmt.Sprintf("components.schemas.%s.properties.%s", name, field)
		prop, present := props[field].(map[string]any)
		if !present {
			if req.Required {
				findings = append(findings, lint.Finding{
					Kind:           types.KindProfileViolation,
					NativeSeverity: lint.SevError,
					RuleID:         "fhir.missing-field",
					Message:        fmt.Sprintf("%s is missing required FHIR field %q (%s)", name, field, req.FHIRPath),
					Location:       loc,
					AffectedFields: []string{loc},
					Recommendation: fmt.Sprintf("add %q as type %s to match %s", field, req.DataType, req.FHIRPath),
				})
			}
			continue
		}
		if req.Required && !required[field] {
			findings = append(findings, lint.Finding{
				Kind:           types.KindProfileViolation,
				NativeSeverity: lint.SevWarn,
				RuleID:         "fhir.not-required",
				Message:        fmt.Sprintf("%s.%s should be required to match %s", name, field, req.FHIRPath),
				Location:       loc,
				AffectedFields: []string{loc},
				Recommendation: fmt.Sprintf("add %q to the schema's required list", field),
			})
		}
		actualType, _ := prop["type"].(string)
		if expected, ok := jsonTypeBySchemaKind[req.DataType]; ok && actualType != "" && actualType != expected {
			findings = append(findings, lint.Finding{
				Kind:           types.KindTypeMismatch,
				NativeSeverity: lint.SevError,
				RuleID:         "fhir.type-mismatch",
				Message:        fmt.Sprintf("%s.%s has type %q, FHIR expects %q (%s)", name, field, actualType, expected, req.FHIRPath),
				Location:       loc,
				AffectedFields: []string{loc},
				Recommendation: fmt.Sprintf("change type of %q to %s", field, expected),
			})
		}
	}
	return findings
}

func stringSet(v any) map[string]bool {
	out := map[string]bool{}
	arr, ok := v.([]any)
	if !ok {
		return out
	}
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out[s] = true
		}
	}
	return out
}

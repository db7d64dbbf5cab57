// Package lint defines the Linter capability the Analyzer drives, and a
// RuleSet abstraction that ships two concrete implementations: a style
// guide linter (pkg/lint/style) and an optional FHIR domain profile linter
// (pkg/lint/fhir). The core pipeline is indifferent to which rule sets are
// wired in; Chain composes any number of them into one Linter.
package lint

import (
	"context"

	"github.com/mjones3/api-consistency-analyzer/pkg/openapi"
	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

// RuleSet is an opaque, versioned collection of rules applied uniformly to
// every document. Version changes invalidate cached overviews (spec §9).
type RuleSet interface {
	Version() string
}

// Linter applies a rule set to a document and returns findings. Findings
// use the linter's own native severity vocabulary (see NativeSeverity);
// the Analyzer maps it onto the fixed taxonomy.
type Linter interface {
	Lint(ctx context.Context, doc *openapi.Document, fields []types.FieldRecord) ([]Finding, error)
	RuleSet() RuleSet
}

// NativeSeverity is the linter's own severity vocabulary, mapped by the
// Analyzer onto types.Severity via a single fixed table (spec §4.4,
// §9 design note): error->critical, warn->major, info->minor, hint->info.
// Any other value maps to minor, never dropped.
type NativeSeverity string

const (
	SevError NativeSeverity = "error"
	SevWarn  NativeSeverity = "warn"
	SevInfo  NativeSeverity = "info"
	SevHint  NativeSeverity = "hint"
)

// Finding is what a Linter implementation emits, before the Analyzer wraps
// it into types.Finding with a mapped severity.
type Finding struct {
	Kind           types.FindingKind
	NativeSeverity NativeSeverity
	RuleID         string
	Message        string
	Location       string
	Line           int
	AffectedFields []string
	Recommendation string
}

// MapSeverity implements the fixed severity mapping table from spec §4.4 and
// §9: unknown native severities bucket to minor rather than being dropped.
func MapSeverity(s NativeSeverity) types.Severity {
	switch s {
	case SevError:
		return types.SeverityCritical
	case SevWarn:
		return types.SeverityMajor
	case SevInfo:
		return types.SeverityMinor
	case SevHint:
		return types.SeverityInfo
	default:
		return types.SeverityMinor
	}
}

// Chain composes multiple Linters into one, concatenating their findings
// and their rule sets into a combined, order-stable version.
type Chain struct {
	linters []Linter
	ruleSet chainRuleSet
}

// NewChain builds a Chain over the given linters. The order given is
// preserved in both findings output and the combined rule-set version.
func NewChain(linters ...Linter) *Chain {
	c := &Chain{linters: linters}
	for _, l := range linters {
		c.ruleSet.versions = append(c.ruleSet.versions, l.RuleSet().Version())
	}
	return c
}

func (c *Chain) Lint(ctx context.Context, doc *openapi.Document, fields []types.FieldRecord) ([]Finding, error) {
	var out []Finding
	for _, l := range c.linters {
		findings, err := l.Lint(ctx, doc, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, findings...)
	}
	return out, nil
}

func (c *Chain) RuleSet() RuleSet { return c.ruleSet }

type chainRuleSet struct {
	versions []string
}

// Version concatenates member versions with a separator unlikely to appear
// in any individual version string, so it changes whenever any member's
// rule set changes.
func (r chainRuleSet) Version() string {
	out := ""
	for i, v := range r.versions {
		if i > 0 {
			out += "|"
		}
		out += v
	}
	return out
}

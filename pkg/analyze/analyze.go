// Package analyze implements the Analyzer: it walks a harvested document to
// extract a field inventory, hands the document and inventory to a Linter,
// classifies the returned findings into the fixed taxonomy, and computes a
// deterministic compliance score.
package analyze

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/mjones3/api-consistency-analyzer/pkg/lint"
	"github.com/mjones3/api-consistency-analyzer/pkg/openapi"
	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

// Weights assigns the per-severity weight used by the score formula. The
// §4.4 defaults are normative per spec; deployments may override via
// Analyzer.Weights.
type Weights struct {
	Critical float64
	Major    float64
	Minor    float64
	Info     float64
	Base     float64
}

// DefaultWeights are the spec §4.4 defaults: critical=3, major=2, minor=1,
// info=0, base=10.
func DefaultWeights() Weights {
	return Weights{Critical: 3, Major: 2, Minor: 1, Info: 0, Base: 10}
}

func (w Weights) of(sev types.Severity) float64 {
	switch sev {
	case types.SeverityCritical:
		return w.Critical
	case types.SeverityMajor:
		return w.Major
	case types.SeverityMinor:
		return w.Minor
	case types.SeverityInfo:
		return w.Info
	default:
		return w.Minor
	}
}

// DefaultMaxDepth is the default bound on the depth-first descent into
// nested schema properties,
// preventing pathological documents from exhausting resources. Default 8,
// per spec §4.4 / §9.
const DefaultMaxDepth = 8

// Analyzer is the Analyze(doc) -> ServiceOverview component.
type Analyzer struct {
	Linter  lint.Linter
	Weights Weights
	MaxDepth int
	Now     func() time.Time
}

// New builds an Analyzer with spec-default weights and depth, using the
// given Linter.
func New(linter lint.Linter) *Analyzer {
	return &Analyzer{
		Linter:   linter,
		Weights:  DefaultWeights(),
		MaxDepth: DefaultMaxDepth,
		Now:      time.Now,
	}
}

// Analyze walks doc, extracts its field inventory, invokes the configured
// Linter, classifies findings, and computes the compliance score. It is
// pure with respect to (doc, rule set): two invocations produce identical
// scores and finding counts per kind, modulo AnalyzedAt (spec P2).
func (a *Analyzer) Analyze(ctx context.Context, doc *types.SpecDocument, parsed *openapi.Document) (types.ServiceOverview, error) {
	maxDepth := a.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	fields := ExtractFields(parsed, doc.Service, doc.Namespace, maxDepth)

	nativeFindings, err := a.Linter.Lint(ctx, parsed, fields)
	if err != nil {
		return types.ServiceOverview{}, err
	}

	byKind := make(map[types.FindingKind][]types.Finding)
	for _, nf := range nativeFindings {
		kind := nf.Kind
		if !isKnownKind(kind) {
			kind = types.KindOther
		}
		byKind[kind] = append(byKind[kind], types.Finding{
			Kind:           kind,
			Severity:       lint.MapSeverity(nf.NativeSeverity),
			RuleID:         nf.RuleID,
			Message:        nf.Message,
			Location:       nf.Location,
			Line:           nf.Line,
			AffectedFields: nf.AffectedFields,
			Recommendation: nf.Recommendation,
		})
	}
	for kind, findings := range byKind {
		sort.Slice(findings, func(i, j int) bool {
			if findings[i].RuleID != findings[j].RuleID {
				return findings[i].RuleID < findings[j].RuleID
			}
			return findings[i].Location < findings[j].Location
		})
		byKind[kind] = findings
	}

	score := a.score(byKind)

	now := time.Now
	if a.Now != nil {
		now = a.Now
	}

	return types.ServiceOverview{
		Service:           doc.Service,
		Namespace:         doc.Namespace,
		TotalEndpoints:    CountEndpoints(parsed),
		NamingIssueCount:  len(byKind[types.KindNaming]),
		ErrorIssueCount:   len(byKind[types.KindErrorShape]),
		ComplianceScore:   score,
		FindingsByKind:    byKind,
		AnalyzedAt:        now(),
		SourceURL:         doc.SourceURL,
		RuleSetVersion:    a.Linter.RuleSet().Version(),
		UnderlyingDocTime: doc.HarvestedAt,
	}, nil
}

func isKnownKind(k types.FindingKind) bool {
	switch k {
	case types.KindNaming, types.KindErrorShape, types.KindPathShape,
		types.KindTypeMismatch, types.KindMissingRequired,
		types.KindProfileViolation, types.KindOther:
		return true
	default:
		return false
	}
}

// score implements the spec §4.4 formula exactly: W = sum(weight) + base,
// I = sum(weight), score = clamp(0,100, 100*(W-I)/W), zero findings -> 100,
// rounded to one decimal place. It is monotone in findings (spec P5): every
// finding of positive weight strictly decreases the score until it reaches
// the floor of 0.
func (a *Analyzer) score(byKind map[types.FindingKind][]types.Finding) float64 {
	var total float64
	var count int
	for _, findings := range byKind {
		for _, f := range findings {
			total += a.Weights.of(f.Severity)
			count++
		}
	}
	if count == 0 {
		return 100.0
	}
	base := a.Weights.Base
	w := total + base
	i := total
	if w <= 0 {
		return 0
	}
	score := 100 * (w - i) / w
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return math.Round(score*10) / 10
}

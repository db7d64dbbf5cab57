// Package types holds the data model shared across every pipeline stage:
// descriptors produced by discovery, documents produced by harvest, and the
// findings and overviews produced by lint and analysis.
package types

import "time"

// ServiceDescriptor identifies a candidate service discovered from cluster
// state. It is constructed fresh by a ClusterIndex each cycle, is immutable
// thereafter, and is never persisted.
type ServiceDescriptor struct {
	Name        string
	Namespace   string
	Labels      map[string]string
	Annotations map[string]string

	// Endpoints is a non-empty ordered sequence of base URLs for the service.
	Endpoints []string

	// HealthPath comes from the ClusterIndex (an annotation hint) and may be
	// empty; Probe reads it but never fills it. OpenAPIPath may also come
	// from the ClusterIndex and is filled in by Probe when one of its
	// candidate paths answers with JSON.
	HealthPath  string
	OpenAPIPath string

	Version string

	// IstioSidecar is informational only: it never participates in
	// filtering, probing, or scoring.
	IstioSidecar bool
}

// Identity returns the (service, namespace) pair that is the stable key for
// this descriptor throughout the pipeline.
func (d ServiceDescriptor) Identity() Identity {
	return Identity{Service: d.Name, Namespace: d.Namespace}
}

// Identity is the pair (service, namespace), the stable key throughout the
// pipeline. Results are never merged across distinct identities.
type Identity struct {
	Service   string
	Namespace string
}

func (id Identity) String() string {
	return id.Service + "/" + id.Namespace
}

// HarvestOutcome classifies a successful harvest against the previously
// stored document for the same identity.
type HarvestOutcome string

const (
	OutcomeNew       HarvestOutcome = "new"
	OutcomeUnchanged HarvestOutcome = "unchanged"
	OutcomeUpdated   HarvestOutcome = "updated"
)

// SpecDocument is a harvested OpenAPI artifact belonging to one service.
type SpecDocument struct {
	Service   string
	Namespace string
	SourceURL string

	// Content is the structured document: a tree of objects, arrays, and
	// scalars, as decoded from JSON.
	Content any

	Version string

	HarvestedAt time.Time

	IsValid          bool
	ValidationErrors []string

	// ContentHash is computed over the canonicalised Content and is used for
	// change detection between cycles.
	ContentHash string

	// FetchDuration is the wall-clock time the harvest attempt took. It does
	// not participate in the content hash or in any invariant; it exists
	// purely for latency metrics.
	FetchDuration time.Duration
}

// Identity returns the (service, namespace) pair this document belongs to.
func (d SpecDocument) Identity() Identity {
	return Identity{Service: d.Service, Namespace: d.Namespace}
}

// FieldRecord is one addressable property inside a harvested document,
// derived and owned by the Analyzer. It is never persisted.
type FieldRecord struct {
	Name        string
	Type        string
	Format      string
	Required    bool
	Description string

	Service   string
	Namespace string

	// Location is the structural path into the document, e.g.
	// "components.schemas.Patient.properties.birthDate".
	Location string
}

// FindingKind is the fixed taxonomy of compliance issue kinds. It is closed:
// unrecognised linter-native kinds bucket to KindOther, never dropped.
type FindingKind string

const (
	KindNaming           FindingKind = "naming"
	KindErrorShape       FindingKind = "error_shape"
	KindPathShape        FindingKind = "path_shape"
	KindTypeMismatch     FindingKind = "type_mismatch"
	KindMissingRequired  FindingKind = "missing_required"
	KindProfileViolation FindingKind = "profile_violation"
	KindOther            FindingKind = "other"
)

// Severity is the fixed severity taxonomy used for scoring and roll-ups.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityInfo     Severity = "info"
)

// Finding is a single compliance issue emitted by a Linter (and wrapped by
// the Analyzer). Findings live only inside a ServiceOverview; they are
// never persisted independently.
type Finding struct {
	Kind     FindingKind
	Severity Severity
	RuleID   string
	Message  string

	// Location is the document path the finding applies to. Line is a
	// best-effort source-line hint; 0 means no hint is available.
	Location string
	Line     int

	// AffectedFields references at least one FieldRecord by location string.
	AffectedFields []string

	Recommendation string
}

// ServiceOverview is the Analyzer's per-service result for one cycle.
type ServiceOverview struct {
	Service   string
	Namespace string

	TotalEndpoints    int
	NamingIssueCount  int
	ErrorIssueCount   int
	ComplianceScore   float64
	FindingsByKind    map[FindingKind][]Finding
	AnalyzedAt        time.Time
	SourceURL         string
	RuleSetVersion    string
	UnderlyingDocTime time.Time
}

// Identity returns the (service, namespace) pair this overview belongs to.
func (o ServiceOverview) Identity() Identity {
	return Identity{Service: o.Service, Namespace: o.Namespace}
}

// Findings flattens FindingsByKind into a single slice, in a stable order
// (kind, then rule ID, then location) for deterministic output.
func (o ServiceOverview) Findings() []Finding {
	var out []Finding
	for _, kind := range []FindingKind{
		KindNaming, KindErrorShape, KindPathShape, KindTypeMismatch,
		KindMissingRequired, KindProfileViolation, KindOther,
	} {
		out = append(out, o.FindingsByKind[kind]...)
	}
	return out
}

// ComplianceBand classifies a score into the fleet summary's histogram
// bands: high >= 90, 70 <= medium < 90, low < 70.
func ComplianceBand(score float64) string {
	switch {
	case score >= 90:
		return "high"
	case score >= 70:
		return "medium"
	default:
		return "low"
	}
}

// FleetSummary is the Aggregator's fleet-wide roll-up of overviews.
type FleetSummary struct {
	TotalServices int
	AverageScore  float64

	CountsBySeverity map[Severity]int

	// Band histogram: "high", "medium", "low".
	Band map[string]int

	GeneratedAt time.Time
}

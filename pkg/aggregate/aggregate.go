// Package aggregate implements the Aggregator: a single-writer,
// multi-reader cache of the latest ServiceOverview per identity, plus the
// fleet-wide summary roll-up. Concurrency pattern is grounded on
// pkg/export/series_cache.go's snapshot-then-compute idiom: readers copy
// under the lock and release it before doing any work, so the lock is
// never held across a computation.
package aggregate

import (
	"sort"
	"sync"
	"time"

	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

// entry is one cached overview plus the rule-set version it was computed
// against, used to detect staleness when rule configuration changes
// (spec §9).
type entry struct {
	overview       types.ServiceOverview
	ruleSetVersion string
}

// Aggregator holds the latest overview per (service, namespace). It is
// safe for concurrent use: one Scheduler goroutine writes via Update while
// any number of REST handlers read via List/Summary/Details*.
//
// It also retains two pieces of per-cycle diagnostic state that never
// participate in scoring: the raw descriptor set the last cycle's
// discovery pass returned (so GET /services reflects "everything
// discovered," not just the subset that was successfully analyzed), and
// the most recent harvest/analysis failure per identity (so a service
// that is discovered but never produces an overview is still explainable
// rather than silently absent, spec §6.4 / §7).
type Aggregator struct {
	mu         sync.RWMutex
	entries    map[types.Identity]entry
	discovered []types.ServiceDescriptor
	errors     map[types.Identity]string
}

// New builds an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{
		entries: make(map[types.Identity]entry),
		errors:  make(map[types.Identity]string),
	}
}

// Update replaces the cached overview for its identity. Overviews are
// never merged across identities or partially applied (spec I- invariant:
// an identity's result is atomic).
func (a *Aggregator) Update(overview types.ServiceOverview) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[overview.Identity()] = entry{
		overview:       overview,
		ruleSetVersion: overview.RuleSetVersion,
	}
}

// Get returns the cached overview for id, if present.
func (a *Aggregator) Get(id types.Identity) (types.ServiceOverview, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[id]
	return e.overview, ok
}

// List returns every cached overview, sorted by (namespace, service) for
// deterministic output.
func (a *Aggregator) List() []types.ServiceOverview {
	a.mu.RLock()
	snapshot := make([]types.ServiceOverview, 0, len(a.entries))
	for _, e := range a.entries {
		snapshot = append(snapshot, e.overview)
	}
	a.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].Namespace != snapshot[j].Namespace {
			return snapshot[i].Namespace < snapshot[j].Namespace
		}
		return snapshot[i].Service < snapshot[j].Service
	})
	return snapshot
}

// DetailsNaming returns only the naming-kind findings for one identity.
func (a *Aggregator) DetailsNaming(id types.Identity) ([]types.Finding, bool) {
	overview, ok := a.Get(id)
	if !ok {
		return nil, false
	}
	return overview.FindingsByKind[types.KindNaming], true
}

// DetailsErrors returns only the error-shape-kind findings for one
// identity.
func (a *Aggregator) DetailsErrors(id types.Identity) ([]types.Finding, bool) {
	overview, ok := a.Get(id)
	if !ok {
		return nil, false
	}
	return overview.FindingsByKind[types.KindErrorShape], true
}

// Summary computes the fleet-wide roll-up over a snapshot of the current
// cache: average compliance score, severity-bucketed finding counts, and
// the high/medium/low band histogram at the 90/70 cutoffs.
func (a *Aggregator) Summary() types.FleetSummary {
	overviews := a.List()

	summary := types.FleetSummary{
		TotalServices:    len(overviews),
		CountsBySeverity: make(map[types.Severity]int),
		Band:             map[string]int{"high": 0, "medium": 0, "low": 0},
		GeneratedAt:      time.Now(),
	}
	if len(overviews) == 0 {
		return summary
	}

	var total float64
	for _, o := range overviews {
		total += o.ComplianceScore
		summary.Band[types.ComplianceBand(o.ComplianceScore)]++
		for _, f := range o.Findings() {
			summary.CountsBySeverity[f.Severity]++
		}
	}
	summary.AverageScore = total / float64(len(overviews))
	return summary
}

// SetDiscovered records the descriptor set a cycle's discovery pass
// returned, replacing whatever the previous cycle recorded. It is
// independent of which identities go on to be successfully harvested and
// analyzed.
func (a *Aggregator) SetDiscovered(descs []types.ServiceDescriptor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.discovered = append([]types.ServiceDescriptor(nil), descs...)
}

// Discovered returns the descriptor set from the most recent cycle's
// discovery pass.
func (a *Aggregator) Discovered() []types.ServiceDescriptor {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]types.ServiceDescriptor(nil), a.discovered...)
}

// SetError records the most recent harvest or analysis failure for id. It
// persists until ClearError is called for the same identity, so a
// service's last known failure reason stays visible across cycles in
// which it continues to fail.
func (a *Aggregator) SetError(id types.Identity, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors[id] = err.Error()
}

// ClearError removes any recorded failure for id. The Scheduler calls
// this once an identity is harvested and analyzed successfully.
func (a *Aggregator) ClearError(id types.Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.errors, id)
}

// LastError returns the most recently recorded failure for id, if any.
func (a *Aggregator) LastError(id types.Identity) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	msg, ok := a.errors[id]
	return msg, ok
}

// StaleSince reports whether the cached overview for id was computed
// against a rule-set version other than currentVersion, or is absent
// entirely. The Scheduler uses this, together with the harvest outcome,
// to decide whether a re-analysis can be skipped (spec §9).
func (a *Aggregator) StaleSince(id types.Identity, currentVersion string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[id]
	if !ok {
		return true
	}
	return e.ruleSetVersion != currentVersion
}

// Package metrics defines the Prometheus counters, gauges, and histograms
// exposed by the pipeline, grounded on pkg/export/export.go's package-level
// prometheus.New* variable block and MustRegister idiom.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the pipeline registers. A single
// instance is constructed at startup and threaded into each component,
// rather than relying on package-global collectors, so tests can use an
// isolated registry.
type Metrics struct {
	CyclesTotal          prometheus.Counter
	CycleDuration        prometheus.Histogram
	DiscoveredServices   prometheus.Gauge
	HarvestAttemptsTotal *prometheus.CounterVec
	HarvestSuccessTotal  prometheus.Counter
	HarvestFailureTotal  prometheus.Counter
	HarvestInFlight      prometheus.Gauge
	AnalyzeDuration      prometheus.Histogram
	ComplianceScore      *prometheus.GaugeVec
	SpecStoreWriteErrors prometheus.Counter
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshlint",
			Name:      "cycles_total",
			Help:      "Number of harvest cycles completed.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "meshlint",
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of a full discover-harvest-analyze-aggregate cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		DiscoveredServices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshlint",
			Name:      "discovered_services",
			Help:      "Number of services returned by the last discovery pass.",
		}),
		HarvestAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshlint",
			Name:      "harvest_attempts_total",
			Help:      "Number of harvest fetch attempts by outcome.",
		}, []string{"outcome"}),
		HarvestSuccessTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshlint",
			Name:      "harvest_success_total",
			Help:      "Number of services successfully harvested.",
		}),
		HarvestFailureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshlint",
			Name:      "harvest_failure_total",
			Help:      "Number of services whose harvest failed (fetch or persist).",
		}),
		HarvestInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshlint",
			Name:      "harvest_in_flight",
			Help:      "Number of harvest fetches currently in flight.",
		}),
		AnalyzeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "meshlint",
			Name:      "analyze_duration_seconds",
			Help:      "Duration of a single service's analysis.",
			Buckets:   prometheus.DefBuckets,
		}),
		ComplianceScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meshlint",
			Name:      "compliance_score",
			Help:      "Latest compliance score per service.",
		}, []string{"service", "namespace"}),
		SpecStoreWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshlint",
			Name:      "specstore_write_errors_total",
			Help:      "Number of SpecStore.Put failures.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CyclesTotal,
			m.CycleDuration,
			m.DiscoveredServices,
			m.HarvestAttemptsTotal,
			m.HarvestSuccessTotal,
			m.HarvestFailureTotal,
			m.HarvestInFlight,
			m.AnalyzeDuration,
			m.ComplianceScore,
			m.SpecStoreWriteErrors,
		)
	}
	return m
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersEveryCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	if m.CyclesTotal == nil || m.CycleDuration == nil || m.DiscoveredServices == nil ||
		m.HarvestAttemptsTotal == nil || m.HarvestSuccessTotal == nil || m.HarvestFailureTotal == nil ||
		m.HarvestInFlight == nil || m.AnalyzeDuration == nil || m.ComplianceScore == nil ||
		m.SpecStoreWriteErrors == nil {
		t.Fatalf("expected every collector to be initialised, got %#v", m)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected collectors to be registered against reg")
	}
}

func TestNewWithNilRegistererSkipsRegistration(t *testing.T) {
	m := New(nil)
	if m == nil {
		t.Fatalf("expected a non-nil Metrics even with a nil Registerer")
	}
	m.CyclesTotal.Inc()
}

func TestNewRegisteringTwiceWithSharedRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected registering duplicate collector names against the same registry to panic")
		}
	}()
	New(reg)
}

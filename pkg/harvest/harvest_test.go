package harvest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mjones3/api-consistency-analyzer/pkg/specstore"
	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

const sampleDoc = `{"openapi":"3.0.0","info":{"title":"widgets","version":"1.0.0"},"paths":{}}`

func newTestHarvester(t *testing.T, maxConcurrent int) (*Harvester, specstore.Store) {
	t.Helper()
	store, err := specstore.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return New(nil, nil, store, maxConcurrent, 2*time.Second), store
}

func descriptorFor(srv *httptest.Server, name string) types.ServiceDescriptor {
	return types.ServiceDescriptor{
		Name:        name,
		Namespace:   "prod",
		Endpoints:   []string{srv.URL},
		OpenAPIPath: "/openapi.json",
	}
}

func TestHarvestSkipsDescriptorsWithoutOpenAPIPath(t *testing.T) {
	h, _ := newTestHarvester(t, 2)
	res := h.Harvest(context.Background(), []types.ServiceDescriptor{
		{Name: "widgets", Namespace: "prod", Endpoints: []string{"http://example.invalid"}},
	})
	if res.Attempts != 0 {
		t.Fatalf("expected descriptors without an OpenAPIPath to be skipped entirely, got %d attempts", res.Attempts)
	}
}

func TestHarvestSuccessfulFetchClassifiesNew(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleDoc))
	}))
	defer srv.Close()

	h, _ := newTestHarvester(t, 2)
	res := h.Harvest(context.Background(), []types.ServiceDescriptor{descriptorFor(srv, "widgets")})

	if len(res.Documents) != 1 {
		t.Fatalf("expected one harvested document, got %d (failures=%v)", len(res.Documents), res.Failures)
	}
	id := types.Identity{Service: "widgets", Namespace: "prod"}
	if res.Outcomes[id] != types.OutcomeNew {
		t.Fatalf("Outcomes[id] = %v, want OutcomeNew", res.Outcomes[id])
	}
}

func TestHarvestUnchangedOnSecondIdenticalFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleDoc))
	}))
	defer srv.Close()

	h, _ := newTestHarvester(t, 2)
	desc := descriptorFor(srv, "widgets")
	h.Harvest(context.Background(), []types.ServiceDescriptor{desc})
	res := h.Harvest(context.Background(), []types.ServiceDescriptor{desc})

	id := types.Identity{Service: "widgets", Namespace: "prod"}
	if res.Outcomes[id] != types.OutcomeUnchanged {
		t.Fatalf("Outcomes[id] = %v, want OutcomeUnchanged", res.Outcomes[id])
	}
}

func TestHarvestUpdatedWhenContentChanges(t *testing.T) {
	var callCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.Header().Set("Content-Type", "application/json")
		if callCount == 1 {
			w.Write([]byte(sampleDoc))
			return
		}
		w.Write([]byte(`{"openapi":"3.0.0","info":{"title":"widgets","version":"1.0.1"},"paths":{}}`))
	}))
	defer srv.Close()

	h, _ := newTestHarvester(t, 2)
	desc := descriptorFor(srv, "widgets")
	h.Harvest(context.Background(), []types.ServiceDescriptor{desc})
	res := h.Harvest(context.Background(), []types.ServiceDescriptor{desc})

	id := types.Identity{Service: "widgets", Namespace: "prod"}
	if res.Outcomes[id] != types.OutcomeUpdated {
		t.Fatalf("Outcomes[id] = %v, want OutcomeUpdated", res.Outcomes[id])
	}
}

func TestHarvest4xxIsTerminalNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	h, _ := newTestHarvester(t, 2)
	res := h.Harvest(context.Background(), []types.ServiceDescriptor{descriptorFor(srv, "widgets")})

	id := types.Identity{Service: "widgets", Namespace: "prod"}
	if _, failed := res.Failures[id]; !failed {
		t.Fatalf("expected a 404 response to be recorded as a failure")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt for a 4xx response, got %d", calls)
	}
}

func TestHarvestOneFailureDoesNotAbortOtherTargets(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer failing.Close()
	succeeding := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleDoc))
	}))
	defer succeeding.Close()

	h, _ := newTestHarvester(t, 2)
	res := h.Harvest(context.Background(), []types.ServiceDescriptor{
		descriptorFor(failing, "broken"),
		descriptorFor(succeeding, "widgets"),
	})

	if len(res.Documents) != 1 {
		t.Fatalf("expected the healthy target to still be harvested, got %d documents", len(res.Documents))
	}
	if len(res.Failures) != 1 {
		t.Fatalf("expected exactly one recorded failure, got %d", len(res.Failures))
	}
}

func TestResultSuccessRate(t *testing.T) {
	r := Result{Attempts: 0}
	if r.SuccessRate() != 1 {
		t.Fatalf("SuccessRate() with zero attempts = %v, want 1", r.SuccessRate())
	}

	r = Result{Attempts: 4, Documents: []types.SpecDocument{{}, {}, {}}}
	if r.SuccessRate() != 0.75 {
		t.Fatalf("SuccessRate() = %v, want 0.75", r.SuccessRate())
	}
}

func TestHarvestRespectsBoundedConcurrency(t *testing.T) {
	var inFlight, maxObserved int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			observed := atomic.LoadInt32(&maxObserved)
			if current <= observed || atomic.CompareAndSwapInt32(&maxObserved, observed, current) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleDoc))
	}))
	defer srv.Close()

	const concurrency = 2
	h, _ := newTestHarvester(t, concurrency)
	var descs []types.ServiceDescriptor
	for i := 0; i < 6; i++ {
		descs = append(descs, types.ServiceDescriptor{
			Name:        "svc" + string(rune('a'+i)),
			Namespace:   "prod",
			Endpoints:   []string{srv.URL},
			OpenAPIPath: "/openapi.json",
		})
	}
	h.Harvest(context.Background(), descs)

	if int(maxObserved) > concurrency {
		t.Fatalf("observed %d concurrent in-flight requests, want at most %d", maxObserved, concurrency)
	}
}

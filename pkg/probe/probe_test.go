package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

func TestProbeLocatesOpenAPIEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v3/api-docs" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := New(nil, time.Second)
	desc := types.ServiceDescriptor{Name: "widgets", Namespace: "prod", Endpoints: []string{srv.URL}}
	enriched, live := p.Probe(context.Background(), desc)
	if !live {
		t.Fatalf("expected service to be reported live")
	}
	if enriched.OpenAPIPath != "/v3/api-docs" {
		t.Fatalf("OpenAPIPath = %q, want /v3/api-docs", enriched.OpenAPIPath)
	}
}

func TestProbeNoCandidateMatchesLeavesPathEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := New(nil, time.Second)
	desc := types.ServiceDescriptor{Name: "widgets", Namespace: "prod", Endpoints: []string{srv.URL}}
	enriched, live := p.Probe(context.Background(), desc)
	if !live {
		t.Fatalf("expected service to still be reported live absent a health hint")
	}
	if enriched.OpenAPIPath != "" {
		t.Fatalf("OpenAPIPath = %q, want empty", enriched.OpenAPIPath)
	}
}

func TestProbeHealthPathFailureReportsNotLive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := New(nil, time.Second)
	desc := types.ServiceDescriptor{Name: "widgets", Namespace: "prod", Endpoints: []string{srv.URL}, HealthPath: "/healthz"}
	_, live := p.Probe(context.Background(), desc)
	if live {
		t.Fatalf("expected a failing health check to report not-live")
	}
}

func TestProbeIgnoresNonJSONCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v3/api-docs" {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`<html></html>`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := New(nil, time.Second)
	desc := types.ServiceDescriptor{Name: "widgets", Namespace: "prod", Endpoints: []string{srv.URL}}
	enriched, _ := p.Probe(context.Background(), desc)
	if enriched.OpenAPIPath != "" {
		t.Fatalf("expected a non-JSON candidate response to be rejected, got %q", enriched.OpenAPIPath)
	}
}

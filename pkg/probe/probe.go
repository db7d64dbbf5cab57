// Package probe implements the Probe component: given a ServiceDescriptor
// with at least one base URL, it confirms liveness and locates the
// OpenAPI endpoint, never propagating a single probe's failure upward --
// grounded on the Python predecessor's HealthChecker
// (original_source/src/core/istio_discovery.py), whose check_health
// swallows every exception into a boolean.
package probe

import (
	"context"
	"mime"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

// DefaultTimeout is the per-request probe timeout (spec §5: Probe 5s per
// request).
const DefaultTimeout = 5 * time.Second

// candidatePaths is the ordered list of OpenAPI endpoint candidates probed
// against each base URL until one returns 2xx with a JSON content type.
// First match wins (spec §4.1).
var candidatePaths = []string{
	"/v3/api-docs",
	"/api-docs",
	"/swagger.json",
	"/openapi.json",
	"/docs/openapi.json",
}

// Prober probes descriptors for liveness and OpenAPI endpoint location.
type Prober struct {
	client  *http.Client
	logger  log.Logger
	timeout time.Duration
}

// New builds a Prober using a pooled HTTP client (hashicorp/go-cleanhttp,
// consistent with the teacher's preference for a shared transport rather
// than http.DefaultClient).
func New(logger log.Logger, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Prober{
		client:  cleanhttp.DefaultPooledClient(),
		logger:  logger,
		timeout: timeout,
	}
}

// Probe enriches desc with a confirmed OpenAPIPath (or leaves it empty) and
// reports whether the service is live. Network errors, non-2xx, and
// non-JSON responses are never errors -- they mean "no endpoint here";
// the only thing Probe returns is enrichment or none, matching spec §4.1's
// failure semantics exactly.
func (p *Prober) Probe(ctx context.Context, desc types.ServiceDescriptor) (enriched types.ServiceDescriptor, live bool) {
	enriched = desc

	if !p.checkLive(ctx, desc) {
		return enriched, false
	}
	live = true

	for _, endpoint := range desc.Endpoints {
		if path, ok := p.locateOpenAPI(ctx, endpoint); ok {
			enriched.OpenAPIPath = path
			break
		}
	}
	return enriched, live
}

// checkLive issues a GET against the health hint if one is configured.
// Absent a health hint, the service is assumed live (spec §4.1(a)).
func (p *Prober) checkLive(ctx context.Context, desc types.ServiceDescriptor) bool {
	if desc.HealthPath == "" || len(desc.Endpoints) == 0 {
		return true
	}
	resp, err := p.get(ctx, desc.Endpoints[0]+desc.HealthPath)
	if err != nil {
		level.Debug(p.logger).Log("msg", "health probe failed", "service", desc.Name, "namespace", desc.Namespace, "err", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// locateOpenAPI probes the candidate path list against one endpoint,
// returning the first path that resolves with 2xx + JSON content type.
func (p *Prober) locateOpenAPI(ctx context.Context, endpoint string) (string, bool) {
	for _, path := range candidatePaths {
		resp, err := p.get(ctx, endpoint+path)
		if err != nil {
			continue
		}
		ok := resp.StatusCode >= 200 && resp.StatusCode < 300 && isJSON(resp.Header.Get("Content-Type"))
		resp.Body.Close()
		if ok {
			return path, true
		}
	}
	return "", false
}

func (p *Prober) get(ctx context.Context, url string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return p.client.Do(req)
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || mt == "text/json"
}

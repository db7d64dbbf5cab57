// Package harvest implements the Harvester: bounded-concurrency fetch of
// OpenAPI documents with per-target throttling, retry with backoff, and
// change detection against the previously stored document. Concurrency
// shape is grounded on pkg/export/export.go's shard-drain loop, adapted
// from "drain shards into a batch" to "drain descriptors into fetch
// workers"; backoff constants are taken from the Python predecessor's
// tenacity-based retry decorator
// (original_source/src/core/istio_discovery.py).
package harvest

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/mjones3/api-consistency-analyzer/pkg/metrics"
	"github.com/mjones3/api-consistency-analyzer/pkg/openapi"
	"github.com/mjones3/api-consistency-analyzer/pkg/specstore"
	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

// DefaultMaxConcurrent is the default fan-out width and rate-limit budget
// (spec §4.2 / §5).
const DefaultMaxConcurrent = 10

// DefaultTimeout is the per-attempt request timeout (spec §4.2: 30s total
// per attempt, connect + read + parse).
const DefaultTimeout = 30 * time.Second

const maxAttempts = 3

// Result is the outcome of one Harvest call.
type Result struct {
	Documents []types.SpecDocument
	Outcomes  map[types.Identity]types.HarvestOutcome
	Failures  map[types.Identity]error
	Attempts  int
}

// SuccessRate is the cycle's aggregate success rate: successes / attempts
// (spec §4.2). Zero attempts report a perfect rate (vacuously true, and
// avoids a division by zero for an empty cycle, spec P10).
func (r Result) SuccessRate() float64 {
	if r.Attempts == 0 {
		return 1
	}
	return float64(len(r.Documents)) / float64(r.Attempts)
}

// Harvester fetches OpenAPI documents with bounded concurrency. One
// Harvester is constructed at startup and reused across cycles: its HTTP
// client and per-target circuit breakers persist between cycles, while the
// semaphore-equivalent worker pool and rate limiter for a given Harvest
// call are constructed fresh each time, per spec §9's "no shared mutable
// globals across cycles" (descriptors, in-flight bound, and rate limiter
// are per-cycle; the breaker, like SpecStore, is allowed to persist).
type Harvester struct {
	logger        log.Logger
	client        *http.Client
	metrics       *metrics.Metrics
	store         specstore.Store
	maxConcurrent int
	timeout       time.Duration

	breakersMu sync.Mutex
	breakers   map[types.Identity]*gobreaker.CircuitBreaker
}

// New builds a Harvester. maxConcurrent <= 0 and timeout <= 0 fall back to
// their spec defaults.
func New(logger log.Logger, m *metrics.Metrics, store specstore.Store, maxConcurrent int, timeout time.Duration) *Harvester {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Harvester{
		logger:        logger,
		client:        cleanhttp.DefaultPooledClient(),
		metrics:       m,
		store:         store,
		maxConcurrent: maxConcurrent,
		timeout:       timeout,
		breakers:      make(map[types.Identity]*gobreaker.CircuitBreaker),
	}
}

// Harvest fetches every descriptor with a confirmed OpenAPI endpoint.
// Descriptors without one are skipped silently (they never reached the
// point of having something to harvest). A single service's failure never
// aborts the cycle (spec §4.2); the pipeline continues and records it.
func (h *Harvester) Harvest(ctx context.Context, descs []types.ServiceDescriptor) Result {
	res := Result{
		Outcomes: make(map[types.Identity]types.HarvestOutcome),
		Failures: make(map[types.Identity]error),
	}

	var targets []types.ServiceDescriptor
	for _, d := range descs {
		if d.OpenAPIPath != "" && len(d.Endpoints) > 0 {
			targets = append(targets, d)
		}
	}
	if len(targets) == 0 {
		return res
	}

	limiter := rate.NewLimiter(rate.Limit(h.maxConcurrent), h.maxConcurrent)

	type fetchOutcome struct {
		id  types.Identity
		doc *types.SpecDocument
		err error
	}

	jobs := make(chan types.ServiceDescriptor)
	outcomes := make(chan fetchOutcome)

	var wg sync.WaitGroup
	for i := 0; i < h.maxConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				id := d.Identity()
				if err := limiter.Wait(ctx); err != nil {
					outcomes <- fetchOutcome{id: id, err: errors.Wrap(err, "rate limiter wait")}
					continue
				}
				if h.metrics != nil {
					h.metrics.HarvestInFlight.Inc()
				}
				doc, err := h.fetchWithRetry(ctx, d)
				if h.metrics != nil {
					h.metrics.HarvestInFlight.Dec()
				}
				outcomes <- fetchOutcome{id: id, doc: doc, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, d := range targets {
			select {
			case jobs <- d:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for o := range outcomes {
		res.Attempts++
		if o.err != nil {
			res.Failures[o.id] = o.err
			if h.metrics != nil {
				h.metrics.HarvestAttemptsTotal.WithLabelValues("failure").Inc()
				h.metrics.HarvestFailureTotal.Inc()
			}
			continue
		}

		prior, _ := h.store.Latest(ctx, o.id)
		outcome := classify(prior, o.doc)

		if err := h.store.Put(ctx, *o.doc); err != nil {
			res.Failures[o.id] = errors.Wrap(err, "persist harvested document")
			if h.metrics != nil {
				h.metrics.HarvestAttemptsTotal.WithLabelValues("failure").Inc()
				h.metrics.SpecStoreWriteErrors.Inc()
				h.metrics.HarvestFailureTotal.Inc()
			}
			continue
		}

		res.Documents = append(res.Documents, *o.doc)
		res.Outcomes[o.id] = outcome
		if h.metrics != nil {
			h.metrics.HarvestAttemptsTotal.WithLabelValues("success").Inc()
			h.metrics.HarvestSuccessTotal.Inc()
		}
	}

	return res
}

// classify implements spec §4.2's change-detection outcomes: new (no
// prior), unchanged (hash match), updated (hash differs).
func classify(prior *types.SpecDocument, current *types.SpecDocument) types.HarvestOutcome {
	if prior == nil {
		return types.OutcomeNew
	}
	if prior.ContentHash == current.ContentHash {
		return types.OutcomeUnchanged
	}
	return types.OutcomeUpdated
}

func (h *Harvester) breakerFor(id types.Identity) *gobreaker.CircuitBreaker {
	h.breakersMu.Lock()
	defer h.breakersMu.Unlock()
	b, ok := h.breakers[id]
	if !ok {
		b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        id.String(),
			MaxRequests: 1,
			Interval:    0,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		h.breakers[id] = b
	}
	return b
}

// fetchWithRetry performs up to maxAttempts fetches for one descriptor,
// wrapped in that identity's circuit breaker. 4xx is terminal (no retry);
// transport errors and 5xx are retried with backoff; retry exhaustion is
// recorded as a failure, never as a panic or process-fatal error.
func (h *Harvester) fetchWithRetry(ctx context.Context, d types.ServiceDescriptor) (*types.SpecDocument, error) {
	breaker := h.breakerFor(d.Identity())
	attemptID := uuid.NewString()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		v, err := breaker.Execute(func() (interface{}, error) {
			return h.fetchOnce(ctx, d)
		})
		if err != nil {
			level.Debug(h.logger).Log("msg", "fetch attempt failed", "attempt_id", attemptID, "attempt", attempt, "service", d.Name, "namespace", d.Namespace, "err", err)
		}
		if err == nil {
			doc := v.(*types.SpecDocument)
			doc.FetchDuration = time.Since(start)
			return doc, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(backoff(attempt, d.Identity())):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, errors.Wrapf(lastErr, "retry exhausted after %d attempts", maxAttempts)
}

// terminalError marks a 4xx response: not retried, per spec §4.2.
type terminalError struct{ statusCode int }

func (e terminalError) Error() string { return http.StatusText(e.statusCode) }

func isRetryable(err error) bool {
	var t terminalError
	if errors.As(err, &t) {
		return false
	}
	// An open breaker rejects every attempt without a network call, so
	// retrying it only spends backoff time.
	return !errors.Is(err, gobreaker.ErrOpenState)
}

// backoff implements the deterministic exponential backoff from spec §4.2
// (base 1s, min 4s, max 10s) with a deterministic, identity-derived jitter
// instead of math/rand, keeping cycles reproducible for tests (spec §4.2's
// "deterministic jitter optional").
func backoff(attempt int, id types.Identity) time.Duration {
	const base = 1 * time.Second
	const min = 4 * time.Second
	const max = 10 * time.Second

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if d < min {
		d = min
	}
	if d > max {
		d = max
	}

	jitter := time.Duration(len(id.Service)+len(id.Namespace)) * 10 * time.Millisecond
	d += jitter
	if d > max {
		d = max
	}
	return d
}

func (h *Harvester) fetchOnce(ctx context.Context, d types.ServiceDescriptor) (*types.SpecDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	url := d.Endpoints[0] + d.OpenAPIPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "transport error")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, terminalError{statusCode: resp.StatusCode}
	}
	if resp.StatusCode >= 500 {
		return nil, errors.Errorf("server error: %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response body")
	}

	parsed, err := openapi.Parse(raw)
	if err != nil {
		return nil, terminalError{statusCode: http.StatusUnprocessableEntity}
	}

	valid, validationErrors := openapi.Validate(ctx, raw)
	hash, err := openapi.ContentHash(parsed.Root)
	if err != nil {
		return nil, errors.Wrap(err, "hash content")
	}

	doc := &types.SpecDocument{
		Service:          d.Name,
		Namespace:        d.Namespace,
		SourceURL:        url,
		Content:          parsed.Root,
		Version:          parsed.InfoVersion(),
		HarvestedAt:      time.Now(),
		IsValid:          valid,
		ValidationErrors: validationErrors,
		ContentHash:      hash,
	}

	if !valid {
		level.Debug(h.logger).Log("msg", "document failed validation, retaining for best-effort analysis",
			"service", d.Name, "namespace", d.Namespace, "errors", len(validationErrors))
	}

	return doc, nil
}

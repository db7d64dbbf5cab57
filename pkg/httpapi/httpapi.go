// Package httpapi is the REST surface spec §6.4 names: a read path over
// the Aggregator's cached overviews and fleet summary, plus POST /harvest
// to drive the Scheduler on demand. Response envelope and writeResponse /
// writeSuccessResponse / writeError trio are grounded on
// cmd/rule-evaluator/internal/api.go, adapted from Prometheus's query-API
// status vocabulary ("success"/"error") to this system's own
// ("ok"/"error").
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/mjones3/api-consistency-analyzer/pkg/aggregate"
	"github.com/mjones3/api-consistency-analyzer/pkg/scheduler"
	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

type status string

const (
	statusOK    status = "ok"
	statusError status = "error"
)

type response struct {
	Status status      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Trigger is the narrow surface the API needs from the Scheduler, so tests
// can substitute a fake rather than a live scheduler.
type Trigger interface {
	TriggerNow(ctx context.Context, force bool) error
}

// API serves the REST surface. Readiness reports whatever the ready func
// passed to New reports; a nil ready func means always ready.
type API struct {
	logger     log.Logger
	aggregator *aggregate.Aggregator
	trigger    Trigger

	ready func() bool
}

// New builds the chi router. corsOrigins, if non-empty, enables
// cross-origin reads for the listed origins (spec §1's "web dashboard"
// external collaborator).
func New(logger log.Logger, aggregator *aggregate.Aggregator, trigger Trigger, ready func() bool, corsOrigins []string) http.Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	api := &API{logger: logger, aggregator: aggregator, trigger: trigger, ready: ready}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
		}))
	}

	r.Get("/services", api.handleServices)
	r.Get("/overview", api.handleOverview)
	r.Get("/overview/{service}", api.handleOverviewOne)
	r.Get("/overview/{service}/naming", api.handleOverviewNaming)
	r.Get("/overview/{service}/errors", api.handleOverviewErrors)
	r.Get("/services/{service}/error", api.handleServiceError)
	r.Get("/summary", api.handleSummary)
	r.Post("/harvest", api.handleHarvest)
	r.Get("/health/live", api.handleLive)
	r.Get("/health/ready", api.handleReady)

	return r
}

func (api *API) writeResponse(w http.ResponseWriter, code int, uri string, resp response) {
	logger := log.With(api.logger, "endpoint", uri, "code", code)
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(resp)
	if err != nil {
		level.Error(logger).Log("msg", "failed to marshal response", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","error":"failed to marshal response"}`))
		return
	}
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		level.Error(logger).Log("msg", "failed to write response", "err", err)
	}
}

func (api *API) writeSuccess(w http.ResponseWriter, code int, uri string, data interface{}) {
	api.writeResponse(w, code, uri, response{Status: statusOK, Data: data})
}

func (api *API) writeError(w http.ResponseWriter, code int, uri string, msg string) {
	api.writeResponse(w, code, uri, response{Status: statusError, Error: msg})
}

// handleServices lists the descriptor set the last discovery pass
// returned (spec §6.4), not merely the identities that went on to produce
// an overview -- a service that is live with no OpenAPI endpoint, or one
// whose harvest failed outright, still appears here even though it is
// absent from GET /overview (spec §7, scenario S3).
func (api *API) handleServices(w http.ResponseWriter, r *http.Request) {
	descriptors := api.aggregator.Discovered()
	type service struct {
		Service   string `json:"service"`
		Namespace string `json:"namespace"`
	}
	out := make([]service, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, service{Service: d.Name, Namespace: d.Namespace})
	}
	api.writeSuccess(w, http.StatusOK, r.URL.Path, out)
}

func (api *API) handleOverview(w http.ResponseWriter, r *http.Request) {
	api.writeSuccess(w, http.StatusOK, r.URL.Path, api.aggregator.List())
}

func (api *API) identityFromRequest(r *http.Request) types.Identity {
	return types.Identity{
		Service:   chi.URLParam(r, "service"),
		Namespace: r.URL.Query().Get("namespace"),
	}
}

func (api *API) handleOverviewOne(w http.ResponseWriter, r *http.Request) {
	id := api.identityFromRequest(r)
	overview, ok := api.aggregator.Get(id)
	if !ok {
		api.writeError(w, http.StatusNotFound, r.URL.Path, "no overview for "+id.String())
		return
	}
	api.writeSuccess(w, http.StatusOK, r.URL.Path, overview)
}

func (api *API) handleOverviewNaming(w http.ResponseWriter, r *http.Request) {
	id := api.identityFromRequest(r)
	findings, ok := api.aggregator.DetailsNaming(id)
	if !ok {
		api.writeError(w, http.StatusNotFound, r.URL.Path, "no overview for "+id.String())
		return
	}
	api.writeSuccess(w, http.StatusOK, r.URL.Path, findings)
}

func (api *API) handleOverviewErrors(w http.ResponseWriter, r *http.Request) {
	id := api.identityFromRequest(r)
	findings, ok := api.aggregator.DetailsErrors(id)
	if !ok {
		api.writeError(w, http.StatusNotFound, r.URL.Path, "no overview for "+id.String())
		return
	}
	api.writeSuccess(w, http.StatusOK, r.URL.Path, findings)
}

// handleServiceError is the per-service diagnostics endpoint from
// SPEC_FULL §6.4: it surfaces the most recent recorded probe, harvest, or
// analysis failure for an identity, kept by the Scheduler in the
// Aggregator's error cache until the identity next succeeds (spec §7).
func (api *API) handleServiceError(w http.ResponseWriter, r *http.Request) {
	id := api.identityFromRequest(r)
	msg, ok := api.aggregator.LastError(id)
	if !ok {
		api.writeError(w, http.StatusNotFound, r.URL.Path, "no recorded error for "+id.String())
		return
	}
	api.writeSuccess(w, http.StatusOK, r.URL.Path, map[string]interface{}{
		"service":   id.Service,
		"namespace": id.Namespace,
		"error":     msg,
	})
}

func (api *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	api.writeSuccess(w, http.StatusOK, r.URL.Path, api.aggregator.Summary())
}

func (api *API) handleHarvest(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := api.trigger.TriggerNow(ctx, force); err != nil {
		if err == scheduler.ErrCycleInProgress {
			api.writeError(w, http.StatusConflict, r.URL.Path, err.Error())
			return
		}
		api.writeError(w, http.StatusInternalServerError, r.URL.Path, err.Error())
		return
	}
	api.writeSuccess(w, http.StatusAccepted, r.URL.Path, map[string]string{"status": "triggered"})
}

func (api *API) handleLive(w http.ResponseWriter, r *http.Request) {
	api.writeSuccess(w, http.StatusOK, r.URL.Path, map[string]string{"status": "live"})
}

func (api *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if !api.ready() {
		api.writeError(w, http.StatusServiceUnavailable, r.URL.Path, "not ready")
		return
	}
	api.writeSuccess(w, http.StatusOK, r.URL.Path, map[string]string{"status": "ready"})
}

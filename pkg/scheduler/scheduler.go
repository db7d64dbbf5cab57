// Package scheduler drives the recurring discover-harvest-analyze-aggregate
// cycle and exposes on-demand triggering. Lifecycle is composed from
// oklog/run.Group actors -- one loop that serves both the ticker and the
// trigger channel, and one that watches the parent context -- exactly as
// cmd/operator/main.go composes its reconcile loop and signal handler as
// separate actors in one run.Group.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/oklog/run"
	"github.com/oklog/ulid"

	"github.com/mjones3/api-consistency-analyzer/pkg/aggregate"
	"github.com/mjones3/api-consistency-analyzer/pkg/analyze"
	"github.com/mjones3/api-consistency-analyzer/pkg/discovery"
	"github.com/mjones3/api-consistency-analyzer/pkg/harvest"
	"github.com/mjones3/api-consistency-analyzer/pkg/metrics"
	"github.com/mjones3/api-consistency-analyzer/pkg/openapi"
	"github.com/mjones3/api-consistency-analyzer/pkg/probe"
	"github.com/mjones3/api-consistency-analyzer/pkg/specstore"
	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

// ErrCycleInProgress is returned by TriggerNow when a cycle is already
// running and the caller did not request force (spec §4.6: at-most-one
// concurrent cycle, second trigger coalesced/dropped by default).
var ErrCycleInProgress = errors.New("a cycle is already in progress")

// ErrClusterIndexUnavailable is a cycle-fatal sentinel: discovery itself
// failed, so the cycle cannot proceed at all. It never aborts the process;
// the Scheduler logs it and retains the prior Aggregator snapshot.
var ErrClusterIndexUnavailable = errors.New("cluster index unavailable")

// DefaultInterval is the spec §6 default HARVEST_INTERVAL_HOURS, 6 hours.
const DefaultInterval = 6 * time.Hour

// GracePeriod is how long an in-flight cycle is allowed to keep running
// after a cancellation before being hard-cancelled (spec §4.6).
const GracePeriod = 5 * time.Second

type triggerRequest struct {
	id    string
	force bool
	reply chan error
}

// Scheduler owns the recurring cycle. One Scheduler is constructed at
// startup and run for the lifetime of the process.
type Scheduler struct {
	logger log.Logger

	index      discovery.ClusterIndex
	prober     *probe.Prober
	harvester  *harvest.Harvester
	store      specstore.Store
	analyzer   *analyze.Analyzer
	aggregator *aggregate.Aggregator
	metrics    *metrics.Metrics

	namespaces        []string
	labelSelectors    map[string]string
	annotationFilters map[string]string
	interval          time.Duration

	trigger chan triggerRequest

	mu        sync.Mutex
	running   bool
	cycleDone chan struct{}
}

// Config bundles the Scheduler's wiring: every collaborator it drives each
// cycle plus the discovery filters and interval.
type Config struct {
	Logger            log.Logger
	Index             discovery.ClusterIndex
	Prober            *probe.Prober
	Harvester         *harvest.Harvester
	Store             specstore.Store
	Analyzer          *analyze.Analyzer
	Aggregator        *aggregate.Aggregator
	Metrics           *metrics.Metrics
	Namespaces        []string
	LabelSelectors    map[string]string
	AnnotationFilters map[string]string
	Interval          time.Duration
}

// New builds a Scheduler from cfg, filling in spec defaults for any unset
// interval.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		logger:            log.With(logger, "component", "scheduler"),
		index:             cfg.Index,
		prober:            cfg.Prober,
		harvester:         cfg.Harvester,
		store:             cfg.Store,
		analyzer:          cfg.Analyzer,
		aggregator:        cfg.Aggregator,
		metrics:           cfg.Metrics,
		namespaces:        cfg.Namespaces,
		labelSelectors:    cfg.LabelSelectors,
		annotationFilters: cfg.AnnotationFilters,
		interval:          interval,
		trigger:           make(chan triggerRequest),
	}
}

// TriggerNow requests an immediate cycle. If a cycle is already running
// and force is false, it returns ErrCycleInProgress without queuing
// anything (coalesce-by-default, spec §4.6). force=true still will not
// interrupt a running cycle -- it queues exactly one extra cycle to run
// after the current one finishes.
func (s *Scheduler) TriggerNow(ctx context.Context, force bool) error {
	reply := make(chan error, 1)
	req := triggerRequest{id: uuid.NewString(), force: force, reply: reply}
	select {
	case s.trigger <- req:
	default:
		// The Run loop is busy with a cycle, or Run is not running at all:
		// decide (and, if allowed, run the cycle) in the caller's goroutine.
		return s.handleTrigger(ctx, req)
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the Scheduler's lifecycle until ctx is cancelled. It
// composes, in one run.Group, an actor that serves both the ticker and
// the trigger channel and an actor that watches ctx, so cancelling either
// stops both.
func (s *Scheduler) Run(ctx context.Context) error {
	var g run.Group

	runCtx, cancel := context.WithCancel(ctx)

	g.Add(func() error {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runCycle(runCtx, false)
			case req := <-s.trigger:
				req.reply <- s.handleTrigger(runCtx, req)
			case <-runCtx.Done():
				return runCtx.Err()
			}
		}
	}, func(error) {
		cancel()
	})

	g.Add(func() error {
		<-ctx.Done()
		return ctx.Err()
	}, func(error) {
		cancel()
	})

	err := g.Run()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) handleTrigger(ctx context.Context, req triggerRequest) error {
	s.mu.Lock()
	if s.running {
		if !req.force {
			s.mu.Unlock()
			level.Debug(s.logger).Log("msg", "trigger coalesced, cycle already running", "trigger_id", req.id)
			return ErrCycleInProgress
		}
		// force=true never interrupts the running cycle; it queues exactly
		// one extra cycle to run once the current one finishes.
		done := s.cycleDone
		s.mu.Unlock()
		level.Debug(s.logger).Log("msg", "forced trigger queued behind running cycle", "trigger_id", req.id)
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		s.mu.Unlock()
	}
	s.runCycle(ctx, req.force)
	return nil
}

// runCycle executes one full discover-harvest-analyze-aggregate pass. It
// never returns an error to its caller: cycle-fatal conditions are logged
// and the prior Aggregator snapshot is retained untouched, per spec §7.
func (s *Scheduler) runCycle(parent context.Context, force bool) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.cycleDone = make(chan struct{})
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		close(s.cycleDone)
		s.mu.Unlock()
	}()

	cycleID := ulid.MustNew(ulid.Timestamp(time.Now()), nil)
	logger := log.With(s.logger, "cycle_id", cycleID.String())
	start := time.Now()

	// ctx is cancelled either when the cycle finishes normally (deferred
	// cancel below) or GracePeriod after parent is cancelled, whichever
	// comes first -- in-flight fetches and analyses get a grace window to
	// finish and push to the Aggregator before being hard-cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-parent.Done():
			select {
			case <-ctx.Done():
			case <-time.After(GracePeriod):
				cancel()
			}
		case <-ctx.Done():
		}
	}()

	level.Info(logger).Log("msg", "cycle starting", "force", force)

	descriptors, err := s.index.Enumerate(ctx, s.namespaces, s.labelSelectors, s.annotationFilters)
	if err != nil {
		level.Error(logger).Log("msg", "discovery failed, retaining prior snapshot", "err", ErrClusterIndexUnavailable, "cause", err)
		return
	}
	if s.metrics != nil {
		s.metrics.DiscoveredServices.Set(float64(len(descriptors)))
	}
	// Retained independent of what's harvested/analyzed below, so GET
	// /services (spec §6.4) reflects the full discovered set -- including
	// a service that is live but has no OpenAPI endpoint, or one whose
	// harvest fails outright (spec §7, scenario S3).
	s.aggregator.SetDiscovered(descriptors)

	probed := make([]types.ServiceDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		enriched, live := s.prober.Probe(ctx, d)
		if !live {
			s.aggregator.SetError(enriched.Identity(), errors.New("probe reported the service is not live"))
			continue
		}
		probed = append(probed, enriched)
		if enriched.OpenAPIPath == "" {
			s.aggregator.SetError(enriched.Identity(), errors.New("no OpenAPI endpoint located"))
		}
	}

	result := s.harvester.Harvest(ctx, probed)
	for id, err := range result.Failures {
		level.Warn(logger).Log("msg", "harvest failed", "identity", id, "err", err)
		s.aggregator.SetError(id, err)
	}

	for _, doc := range result.Documents {
		id := doc.Identity()
		outcome := result.Outcomes[id]
		s.aggregator.ClearError(id)

		ruleSetVersion := s.analyzer.Linter.RuleSet().Version()
		if outcome == types.OutcomeUnchanged && !s.aggregator.StaleSince(id, ruleSetVersion) {
			level.Debug(logger).Log("msg", "skipping re-analysis, unchanged and rule set stable", "identity", id)
			continue
		}

		parsed := &openapi.Document{Root: doc.Content}
		docCopy := doc
		analyzeStart := time.Now()
		overview, err := s.analyzer.Analyze(ctx, &docCopy, parsed)
		if s.metrics != nil {
			s.metrics.AnalyzeDuration.Observe(time.Since(analyzeStart).Seconds())
		}
		if err != nil {
			level.Warn(logger).Log("msg", "analysis failed", "identity", id, "err", err)
			s.aggregator.SetError(id, err)
			continue
		}
		s.aggregator.Update(overview)
		if s.metrics != nil {
			s.metrics.ComplianceScore.WithLabelValues(id.Service, id.Namespace).Set(overview.ComplianceScore)
		}

		if err := s.store.Prune(ctx, id); err != nil {
			level.Warn(logger).Log("msg", "prune failed", "identity", id, "err", err)
		}
	}

	if s.metrics != nil {
		s.metrics.CyclesTotal.Inc()
		s.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}
	level.Info(logger).Log("msg", "cycle complete", "duration", time.Since(start), "harvested", len(result.Documents), "attempts", result.Attempts)
}

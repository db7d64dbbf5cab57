// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/mjones3/api-consistency-analyzer/internal/config"
	"github.com/mjones3/api-consistency-analyzer/internal/logging"
	"github.com/mjones3/api-consistency-analyzer/pkg/aggregate"
	"github.com/mjones3/api-consistency-analyzer/pkg/analyze"
	"github.com/mjones3/api-consistency-analyzer/pkg/discovery"
	k8sdiscovery "github.com/mjones3/api-consistency-analyzer/pkg/discovery/k8s"
	"github.com/mjones3/api-consistency-analyzer/pkg/harvest"
	"github.com/mjones3/api-consistency-analyzer/pkg/httpapi"
	"github.com/mjones3/api-consistency-analyzer/pkg/lint"
	"github.com/mjones3/api-consistency-analyzer/pkg/lint/fhir"
	"github.com/mjones3/api-consistency-analyzer/pkg/lint/style"
	"github.com/mjones3/api-consistency-analyzer/pkg/metrics"
	"github.com/mjones3/api-consistency-analyzer/pkg/probe"
	"github.com/mjones3/api-consistency-analyzer/pkg/scheduler"
	"github.com/mjones3/api-consistency-analyzer/pkg/specstore"
)

func main() {
	logLevel := flag.String("log-level", logging.LevelInfo,
		fmt.Sprintf("Log level to use. Possible values: %s", strings.Join([]string{
			logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError,
		}, ", ")))
	flag.Parse()

	logger, err := logging.New(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger failed: %s", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		level.Error(logger).Log("msg", "loading configuration failed", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store, err := specstore.NewFileStore(cfg.StoragePath, logger)
	if err != nil {
		level.Error(logger).Log("msg", "initializing spec store failed", "err", err)
		os.Exit(1)
	}

	index, err := newClusterIndex(cfg)
	if err != nil {
		level.Error(logger).Log("msg", "initializing cluster index failed", "err", err)
		os.Exit(1)
	}

	linterChain, err := newLinter(cfg)
	if err != nil {
		level.Error(logger).Log("msg", "initializing linter failed", "err", err)
		os.Exit(1)
	}

	prober := probe.New(logger, cfg.ProbeTimeout)
	harvester := harvest.New(logger, m, store, cfg.MaxConcurrent, cfg.HarvestTimeout)
	analyzer := analyze.New(linterChain)
	analyzer.MaxDepth = cfg.FieldExtractionMaxDepth
	aggregator := aggregate.New()

	sched := scheduler.New(scheduler.Config{
		Logger:            logger,
		Index:             index,
		Prober:            prober,
		Harvester:         harvester,
		Store:             store,
		Analyzer:          analyzer,
		Aggregator:        aggregator,
		Metrics:           m,
		Namespaces:        cfg.Namespaces,
		LabelSelectors:    cfg.LabelSelectors,
		AnnotationFilters: cfg.AnnotationFilters,
		Interval:          cfg.HarvestInterval,
	})

	var ready bool
	api := httpapi.New(logger, aggregator, schedulerAdapter{sched}, func() bool { return ready }, nil)

	var g run.Group

	// Termination handler.
	{
		term := make(chan os.Signal, 1)
		cancelSig := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)

		g.Add(func() error {
			select {
			case <-term:
				level.Info(logger).Log("msg", "received termination signal, exiting gracefully")
			case <-cancelSig:
			}
			return nil
		}, func(error) {
			close(cancelSig)
		})
	}

	// Metrics server.
	{
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})}
		g.Add(func() error {
			return server.ListenAndServe()
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			_ = server.Shutdown(ctx)
		})
	}

	// REST API server.
	if cfg.HealthCheckEnabled {
		server := &http.Server{Addr: cfg.APIAddr, Handler: api}
		g.Add(func() error {
			return server.ListenAndServe()
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			_ = server.Shutdown(ctx)
		})
	}

	// Scheduler loop.
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			if cfg.RunMode == "one-shot" {
				err := sched.TriggerNow(ctx, true)
				ready = true
				return err
			}
			ready = true
			return sched.Run(ctx)
		}, func(error) {
			cancel()
		})
	}

	if err := g.Run(); err != nil {
		level.Error(logger).Log("msg", "exit with error", "err", err)
		os.Exit(1)
	}
}

func newClusterIndex(cfg config.Config) (discovery.ClusterIndex, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, err
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, err
	}
	return k8sdiscovery.New(client), nil
}

func newLinter(cfg config.Config) (lint.Linter, error) {
	styleCfg := style.DefaultConfig()
	if cfg.LintStyleRulesPath != "" {
		raw, err := os.ReadFile(cfg.LintStyleRulesPath)
		if err != nil {
			return nil, err
		}
		styleCfg, err = style.LoadConfig(raw)
		if err != nil {
			return nil, err
		}
	}
	styleLinter, err := style.New(styleCfg)
	if err != nil {
		return nil, err
	}

	linters := []lint.Linter{styleLinter}
	if cfg.LintFHIRProfileEnabled {
		linters = append(linters, fhir.New())
	}
	return lint.NewChain(linters...), nil
}

// schedulerAdapter narrows *scheduler.Scheduler to httpapi.Trigger.
type schedulerAdapter struct {
	s *scheduler.Scheduler
}

func (a schedulerAdapter) TriggerNow(ctx context.Context, force bool) error {
	return a.s.TriggerNow(ctx, force)
}

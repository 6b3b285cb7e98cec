// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package main is the entry point for the Horadus server.
//
// Horadus ingests news and open-source feeds, filters and classifies items
// with two tiers of LLM inference, clusters items into events, and updates
// per-trend probability estimates through a log-odds engine with evidence
// aggregation, time decay, and calibration tracking.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 loading (defaults, config.yaml, env)
//  2. Logging: zerolog global logger
//  3. Database: PostgreSQL pool with pgvector schema bootstrap
//  4. Key-value store: Redis (queues, semantic cache, dead letters)
//  5. Core services: dedup, embedding, clusterer, classifiers, cost
//     tracker, trend engine, pipeline orchestrator, calibration
//  6. Worker runtime: dispatcher + queue consumers under a suture tree
//  7. HTTP server: chi API with key auth and Prometheus metrics
//
// # Configuration
//
// All settings can be overridden via HORADUS_-prefixed environment
// variables; double underscores separate path segments
// (HORADUS_DATABASE__URL maps to database.url). Secrets may be supplied as
// *_FILE paths. Production mode enforces guardrails: a non-default secret
// key, required auth, an admin API key, and a bootstrap key or key store.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the supervisor tree stops
// its services, in-flight requests drain, and the database and Redis
// connections close.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/s5unanow/horadus/internal/api"
	"github.com/s5unanow/horadus/internal/calibration"
	"github.com/s5unanow/horadus/internal/classify"
	"github.com/s5unanow/horadus/internal/cluster"
	"github.com/s5unanow/horadus/internal/collector"
	"github.com/s5unanow/horadus/internal/config"
	"github.com/s5unanow/horadus/internal/cost"
	"github.com/s5unanow/horadus/internal/database"
	"github.com/s5unanow/horadus/internal/dedup"
	"github.com/s5unanow/horadus/internal/embedding"
	"github.com/s5unanow/horadus/internal/kv"
	"github.com/s5unanow/horadus/internal/llm"
	"github.com/s5unanow/horadus/internal/logging"
	"github.com/s5unanow/horadus/internal/pipeline"
	"github.com/s5unanow/horadus/internal/scheduler"
	"github.com/s5unanow/horadus/internal/supervisor"
	"github.com/s5unanow/horadus/internal/trend"
	"github.com/s5unanow/horadus/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("environment", cfg.Environment).
		Msg("Starting Horadus")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage layer.
	db, err := database.New(ctx, &cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize schema")
	}

	kvClient, err := kv.New(ctx, &cfg.Redis)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer func() {
		if err := kvClient.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing Redis client")
		}
	}()

	// Budget enforcement.
	tracker := cost.NewTracker(db, cfg.Cost)

	// LLM invocation policies per tier.
	semanticCache := kv.NewSemanticCache(kvClient, cfg.LLM)
	tier1Policy, err := buildPolicy("tier1", cfg.LLM.Tier1Primary, cfg.LLM.Tier1Secondary, cfg.LLM, tracker, semanticCache)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build tier1 invocation policy")
	}
	tier2Policy, err := buildPolicy("tier2", cfg.LLM.Tier2Primary, cfg.LLM.Tier2Secondary, cfg.LLM, tracker, semanticCache)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build tier2 invocation policy")
	}

	// Embedding provider.
	provider, err := embedding.NewOpenAIProvider(cfg.Embedding, cfg.LLM.RouteTimeout)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build embedding provider")
	}
	embedder := embedding.New(provider, db, tracker, cfg.Embedding)

	// Pipeline services.
	urlNormalizer := dedup.NewURLNormalizer(dedup.QueryMode(cfg.Processing.URLQueryMode))
	dedupSvc, err := dedup.New(db, cfg.Processing.DedupSimilarityThreshold, cfg.Processing.DedupWindowDays, urlNormalizer)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build deduplication service")
	}
	clusterer := cluster.New(db, cfg.Processing.ClusterSimilarityThreshold, cfg.Processing.ClusterTimeWindowHours)
	tier1 := classify.NewTier1Classifier(tier1Policy, cfg.LLM.Tier1BatchSize, cfg.Processing.Tier1RelevanceThreshold)
	tier2 := classify.NewTier2Classifier(tier2Policy, db)
	engine := trend.NewEngine(db, cfg.Trend.MaxDeltaPerEvent)
	orchestrator := pipeline.New(db, dedupSvc, embedder, clusterer, tier1, tier2, engine, cfg.Processing)

	// Calibration and drift alerting.
	calibrationSvc := calibration.NewService(db)
	driftDetector := calibration.NewDriftDetector(calibrationSvc, trendRefLister{db}, cfg.Calibration)
	driftNotifier := webhook.NewDriftNotifier(cfg.Calibration)

	// Collectors: wire adapters register here; the core ships the runner.
	collectorRegistry := collector.NewRegistry()
	collectorRunner := collector.NewRunner(collectorRegistry, db, cfg.Collection.WindowOverlap)

	// Worker runtime.
	registry := scheduler.NewRegistry()
	scheduler.RegisterStandardTasks(registry, scheduler.TaskDeps{
		Orchestrator: orchestrator,
		Engine:       engine,
		Clusterer:    clusterer,
		Embedder:     embedder,
		Collectors:   collectorRunner,
		Drift:        driftDetector,
		Notifier:     driftNotifier,
		Reaper:       db,
		Client:       kvClient,
		Workers:      cfg.Workers,
		Collection:   cfg.Collection,
	})

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	schedules := scheduler.StandardSchedules(cfg.Workers, cfg.Collection, cfg.Trend)
	tree.AddWorkerService(scheduler.NewDispatcherService(kvClient, schedules))
	for i := 0; i < cfg.Workers.QueueConcurrency; i++ {
		tree.AddWorkerService(scheduler.NewWorkerService(kvClient, scheduler.DefaultQueue,
			registry, cfg.Workers.TaskMaxRetries, cfg.Workers.TaskRetryBackoff))
	}
	tree.AddWorkerService(scheduler.NewHeartbeatService(kvClient, cfg.Workers.HeartbeatInterval))
	logging.Info().
		Int("queue_workers", cfg.Workers.QueueConcurrency).
		Int("schedules", len(schedules)).
		Msg("Worker runtime configured")

	// HTTP surface.
	keys := api.NewKeyManager(cfg.Security.AdminAPIKey, cfg.Security.BootstrapAPIKeys)
	handler := api.NewHandler(db, kvClient, engine, calibrationSvc, tracker)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handler, keys, &cfg.Security),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}
	tree.AddAPIService(&httpService{server: server})
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// Signal handling and supervised run.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
	}
	logging.Info().Msg("Application stopped gracefully")
}

// buildPolicy assembles one tier's failover invoker and invocation policy.
func buildPolicy(stage string, primary, secondary config.LLMRouteConfig, llmCfg config.LLMConfig,
	tracker *cost.Tracker, cache *kv.SemanticCache) (*llm.Policy, error) {

	primaryClient, err := llm.NewClientForRoute(primary, llmCfg.RouteTimeout)
	if err != nil {
		return nil, err
	}
	primaryRoute := llm.Route{Provider: primary.Provider, Model: primary.Model, Client: primaryClient}

	var secondaryRoute *llm.Route
	if secondary.Model != "" && secondary.APIKey != "" {
		secondaryClient, err := llm.NewClientForRoute(secondary, llmCfg.RouteTimeout)
		if err != nil {
			return nil, err
		}
		secondaryRoute = &llm.Route{Provider: secondary.Provider, Model: secondary.Model, Client: secondaryClient}
	}

	invoker, err := llm.NewFailoverInvoker(stage, primaryRoute, secondaryRoute, llm.RetryPolicy{
		MaxAttempts: llmCfg.RetryAttempts,
		Backoff:     llmCfg.RetryBackoff,
		BackoffCap:  30 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return llm.NewPolicy(invoker, tracker, cache), nil
}

// httpService adapts http.Server to suture.Service.
type httpService struct {
	server *http.Server
}

func (s *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// trendRefLister adapts the store to the drift detector's listing surface.
type trendRefLister struct {
	store *database.Store
}

func (l trendRefLister) ListActiveTrendRefs(ctx context.Context) ([]calibration.TrendRef, error) {
	trends, err := l.store.ListActiveTrends(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]calibration.TrendRef, 0, len(trends))
	for i := range trends {
		refs = append(refs, calibration.TrendRef{ID: trends[i].ID, Name: trends[i].Name})
	}
	return refs, nil
}

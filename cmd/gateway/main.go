package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drumcap/hooklabs-elite-sub003/internal/api"
	"github.com/drumcap/hooklabs-elite-sub003/internal/batch"
	"github.com/drumcap/hooklabs-elite-sub003/internal/cache"
	"github.com/drumcap/hooklabs-elite-sub003/internal/database"
	"github.com/drumcap/hooklabs-elite-sub003/internal/events"
	"github.com/drumcap/hooklabs-elite-sub003/internal/gateway"
	"github.com/drumcap/hooklabs-elite-sub003/internal/integrations"
	"github.com/drumcap/hooklabs-elite-sub003/internal/integrations/contentgen"
	"github.com/drumcap/hooklabs-elite-sub003/internal/integrations/social"
	"github.com/drumcap/hooklabs-elite-sub003/internal/monitoring"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/config"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/health"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/logging"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/metrics"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/resilience"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/tracing"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "hooklabs-gateway",
		Version:     version,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Gateway exited with error", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "hooklabs-gateway",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdownTracer(tracer, logger)

	// Metrics
	m := &metrics.Metrics{}
	if cfg.Metrics.Enabled {
		metricsConfig := metrics.DefaultConfig()
		if cfg.Metrics.Namespace != "" {
			metricsConfig.Namespace = cfg.Metrics.Namespace
		}
		m = metrics.NewMetrics(metricsConfig)
	}

	healthService := health.NewService(logger, &health.Config{
		Timeout:  5 * time.Second,
		Metadata: map[string]string{"service": "hooklabs-gateway", "version": version},
	})

	// Cache store
	memoryStore := cache.NewMemoryStore()
	var store cache.Store = memoryStore
	if cfg.Redis.Enabled() {
		redis, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redis.Close()
		store = cache.NewRedisStore(redis)
		logger.Info("Redis cache store connected", "host", cfg.Redis.Host)
	} else {
		logger.Warn("Redis not configured, using in-memory cache store")
		memoryStore.StartJanitor(ctx, time.Minute)
	}
	cacheService := cache.NewService(store, &cache.Config{
		DefaultTTL:     cfg.Gateway.CacheTTL,
		BatchResultTTL: cfg.Gateway.ResultTTL,
	})
	healthService.RegisterChecker("cache", health.NewCacheChecker(cacheService, "cache"))

	// Durable call metrics
	var (
		writer       monitoring.Writer
		summaryStore api.SummaryStore
	)
	if cfg.Database.Enabled() {
		db, err := database.New(&cfg.Database)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()

		repo := database.NewCallMetricsRepository(db)
		writer, summaryStore = repo, repo
		healthService.RegisterChecker("database", health.NewDatabaseChecker(db, "database"))
		logger.Info("Call metrics database connected", "host", cfg.Database.Host)
	} else {
		logger.Warn("Database not configured, call metrics are kept in memory only")
	}

	sinkConfig := monitoring.DefaultConfig()
	if cfg.Gateway.SinkBufferSize > 0 {
		sinkConfig.BufferSize = cfg.Gateway.SinkBufferSize
	}
	sink := monitoring.NewSink(writer, m, sinkConfig)
	if err := sink.Start(ctx); err != nil {
		return fmt.Errorf("metrics sink: %w", err)
	}
	defer stopLogged(logger, "metrics sink", sink.Stop)

	// Breaker events
	var publisher events.Publisher = events.NewLogPublisher()
	if cfg.Events.AMQPURL != "" {
		amqpPublisher, err := events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			logger.Warn("Breaker events fall back to the log", "error", err.Error())
		} else {
			publisher = amqpPublisher
		}
	}
	defer publisher.Close()

	notifier := events.NewBreakerNotifier(publisher, events.DefaultNotifierConfig())
	notifier.Start()
	defer notifier.Stop()

	// Dependency guards
	opts := []resilience.RegistryOption{
		resilience.WithStateChangeHandler(func(name string, from, to resilience.CircuitState) {
			m.RecordBreakerTransition(name, from.String(), to.String())
			notifier.Handle(name, from, to)
		}),
	}
	for name, dep := range cfg.Gateway.Dependencies {
		opts = append(opts, resilience.WithPolicy(name, policyFromConfig(dep)))
	}
	registry := resilience.NewRegistry(policyFromConfig(cfg.Gateway.Defaults), opts...)
	healthService.RegisterChecker("breakers", health.NewBreakerChecker(registry, "breakers"))

	// Upstream clients
	transport := tracer.Transport(http.DefaultTransport)
	content := contentgen.NewClient(contentgen.Config{
		BaseURL:   cfg.Integrations.ContentBaseURL,
		APIKey:    cfg.Integrations.ContentAPIKey,
		Model:     cfg.Integrations.ContentModel,
		Transport: transport,
	})

	platforms := make(map[types.Platform]social.PlatformConfig)
	for name, p := range cfg.Integrations.Platforms {
		if p.BaseURL == "" {
			continue
		}
		platforms[types.Platform(name)] = social.PlatformConfig{
			BaseURL:      p.BaseURL,
			TokenURL:     p.TokenURL,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
		}
	}
	publishers := social.NewClient(ctx, social.Config{Platforms: platforms, Transport: transport})

	// Gateway
	gw := gateway.New(integrations.NewRouter(content, publishers), gateway.Options{
		Config: gateway.Config{
			CacheTTL:       cfg.Gateway.CacheTTL,
			ResultTTL:      cfg.Gateway.ResultTTL,
			BatchSize:      cfg.Gateway.BatchSize,
			MaxConcurrency: cfg.Gateway.MaxConcurrency,
			ChunkDelay:     cfg.Gateway.ChunkDelay,
			MaxQueueSize:   cfg.Gateway.MaxQueueSize,
		},
		Registry: registry,
		Cache:    cacheService,
		Recorder: sink,
		Metrics:  m,
		Tracer:   tracer,
	})

	scheduler := batch.NewScheduler(gw.Processor(), gw.Queues(), batch.SchedulerConfig{
		BatchSize:     cfg.Gateway.BatchSize,
		FlushInterval: cfg.Gateway.FlushInterval,
	})
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("batch scheduler: %w", err)
	}
	defer stopLogged(logger, "batch scheduler", scheduler.Stop)

	collector := metrics.NewMetricsCollector(m, 15*time.Second, func(m *metrics.Metrics) {
		for _, status := range gw.Dependencies() {
			m.UpdateBreakerState(status.Dependency, status.State)
			m.UpdateQueueDepth(status.Dependency, status.QueueDepth)
		}
	})
	go collector.Start(ctx)
	defer collector.Stop()

	router := api.NewRouter(api.Dependencies{
		Config:  cfg,
		Gateway: gw,
		Store:   summaryStore,
		Live:    sink,
		Health:  healthService,
		Metrics: m,
		Tracer:  tracer,
		Logger:  logger,
	})

	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting gateway server", "address", server.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("Shutting down gateway server")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	gw.Cache().Wait()

	logger.Info("Gateway server exited")
	return nil
}

func policyFromConfig(dc config.DependencyConfig) resilience.DependencyPolicy {
	return resilience.DependencyPolicy{
		FailureThreshold:    dc.FailureThreshold,
		ResetTimeout:        dc.ResetTimeout,
		RequestsPerSecond:   dc.RequestsPerSecond,
		BurstLimit:          dc.BurstLimit,
		MaxRetries:          dc.MaxRetries,
		AttemptTimeout:      dc.AttemptTimeout,
		HalfOpenSingleTrial: dc.HalfOpenSingleTrial,
	}
}

func stopLogged(logger *logging.Logger, name string, stop func() error) {
	if err := stop(); err != nil {
		logger.Warn("Failed to stop "+name, "error", err.Error())
	}
}

func shutdownTracer(tracer *tracing.TracingService, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracer.Shutdown(ctx); err != nil {
		logger.Warn("Failed to flush traces", "error", err.Error())
	}
}

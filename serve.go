package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/paygap-engine/pkg/config"
	"github.com/ekaya-inc/paygap-engine/pkg/database"
	"github.com/ekaya-inc/paygap-engine/pkg/handlers"
	"github.com/ekaya-inc/paygap-engine/pkg/llm"
	"github.com/ekaya-inc/paygap-engine/pkg/logging"
	"github.com/ekaya-inc/paygap-engine/pkg/metrics"
	"github.com/ekaya-inc/paygap-engine/pkg/middleware"
	"github.com/ekaya-inc/paygap-engine/pkg/repositories"
	"github.com/ekaya-inc/paygap-engine/pkg/retry"
	"github.com/ekaya-inc/paygap-engine/pkg/services"
	"github.com/ekaya-inc/paygap-engine/pkg/services/workqueue"
	"github.com/ekaya-inc/paygap-engine/pkg/tabular"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run migrations and start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

// connectDatabase opens the pool, waiting for Postgres to accept connections.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.DB, error) {
	connStr := cfg.Database.ConnectionString()
	logger.Info("Connecting to database", zap.String("dsn", logging.SanitizeConnectionString(connStr)))

	retryCfg := retry.StartupConfig()
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("Database not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			logging.ErrorField(err))
	}

	return retry.DoWithResult(ctx, retryCfg, func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            connStr,
			MaxConnections: cfg.Database.MaxConnections,
			MinConnections: cfg.Database.MaxIdleConns,
		})
	})
}

// connectAudit dials NATS when configured. A nil connection means audit
// events are only logged.
func connectAudit(ctx context.Context, cfg *config.Config, logger *zap.Logger) *nats.Conn {
	if cfg.Audit.NATSURL == "" {
		logger.Info("Audit NATS not configured, audit events will be logged only")
		return nil
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("NATS not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			logging.ErrorField(err))
	}

	var nc *nats.Conn
	err := retry.DoIfRetryable(ctx, retryCfg, func() error {
		var err error
		nc, err = services.ConnectAuditNATS(cfg.Audit.NATSURL, logger)
		return err
	})
	if err != nil {
		logger.Warn("Audit NATS unavailable, audit events will be logged only",
			zap.String("url", logging.SanitizeURL(cfg.Audit.NATSURL)),
			logging.ErrorField(err))
		return nil
	}
	logger.Info("Connected to audit NATS", zap.String("url", logging.SanitizeURL(cfg.Audit.NATSURL)))
	return nc
}

func newLLMClient(cfg *config.Config, logger *zap.Logger) llm.LLMClient {
	client, err := llm.NewFromConfig(&llm.Config{
		Provider: cfg.LLM.Provider,
		Endpoint: cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
	}, llm.CircuitBreakerConfig{
		Threshold:  cfg.LLM.BreakerThreshold,
		ResetAfter: cfg.LLM.BreakerReset,
	}, logger)
	if errors.Is(err, llm.ErrNotConfigured) {
		logger.Info("LLM not configured, mapping uses heuristics and reports are disabled")
		return nil
	}
	if err != nil {
		logger.Warn("LLM client unavailable, continuing without it", logging.ErrorField(err))
		return nil
	}
	logger.Info("LLM client ready",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model))
	return client
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to connect to database", logging.ErrorField(err))
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(db.SQLDB(), cfg.Database.MigrationsPath, logger); err != nil {
		logger.Error("Failed to run migrations", zap.Error(err))
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	maxLLM := 1
	if cfg.Workers.MaxConcurrent > 1 {
		maxLLM = cfg.Workers.MaxConcurrent / 2
	}
	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewBoundedStrategy(cfg.Workers.MaxConcurrent, maxLLM)),
		workqueue.WithTaskTimeout(cfg.Workers.TaskTimeout),
		workqueue.WithOnFinish(func(snapshot workqueue.TaskSnapshot, elapsed time.Duration) {
			m.TaskFinished(snapshot.Name, string(snapshot.Status), elapsed)
		}),
	)

	var publisher services.AuditPublisher
	nc := connectAudit(ctx, cfg, logger)
	if nc != nil {
		publisher = nc
	}
	audit := services.NewAuditSink(publisher, cfg.Audit.Subject, cfg.Audit.BufferSize, m, logger)

	llmClient := newLLMClient(cfg, logger)

	// Repositories
	importJobRepo := repositories.NewImportJobRepository()
	employeeRepo := repositories.NewEmployeeRepository()
	riskRunRepo := repositories.NewRiskRunRepository()
	reportRepo := repositories.NewNarrativeReportRepository()

	// Services
	tenantCtx := services.NewTenantContextFunc(db)
	extractor := tabular.NewExtractor()

	riskEngine := services.NewRiskEngine(riskRunRepo, employeeRepo, queue, tenantCtx, audit, m,
		services.RiskEngineConfig{
			PollInterval: cfg.Risk.PollInterval,
			PollAttempts: cfg.Risk.PollAttempts,
		}, logger)

	executor := services.NewImportExecutor(importJobRepo, employeeRepo, extractor, riskEngine, audit, m,
		services.ImportExecutorConfig{MaxRowErrorDetails: cfg.Imports.MaxRowErrorDetails}, logger)

	importService := services.NewImportService(
		importJobRepo,
		extractor,
		services.NewMappingResolver(llmClient, cfg.LLM.MappingTimeout, m, logger),
		services.NewPreviewGenerator(),
		executor,
		queue,
		tenantCtx,
		audit,
		services.ImportServiceConfig{
			UploadDir:  cfg.Imports.UploadDir,
			SampleSize: cfg.Imports.SampleSize,
		},
		logger,
	)

	reportService := services.NewReportService(riskRunRepo, reportRepo,
		services.NewReportBuilder(llmClient, cfg.LLM.ReportTimeout, m, logger),
		audit, logger)

	// Handlers
	mux := http.NewServeMux()
	tenantMiddleware := database.WithTenantContext(db, logger)

	health := handlers.NewHealthHandler(cfg, db, logger)
	if guarded, ok := llmClient.(*llm.GuardedClient); ok {
		health.WithLLMStatus(func() string { return guarded.Breaker().State().String() })
	}
	health.RegisterRoutes(mux)
	handlers.NewImportsHandler(importService, cfg.Imports.MaxUploadBytes(), logger).RegisterRoutes(mux, tenantMiddleware)
	handlers.NewRiskRunsHandler(riskEngine, reportService, logger).RegisterRoutes(mux, tenantMiddleware)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(middleware.Provenance(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting paygap-engine", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Background tasks did not finish before shutdown", zap.Error(err))
	}
	if err := audit.Close(shutdownCtx); err != nil {
		logger.Warn("Audit events dropped during shutdown", zap.Error(err))
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			logger.Warn("Failed to drain NATS connection", zap.Error(err))
		}
	}

	logger.Info("Shutdown complete")
	return nil
}

package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/luminetic/ensemble"
	"github.com/luminetic/ensemble/api/handlers"
	"github.com/luminetic/ensemble/config"
	"github.com/luminetic/ensemble/internal/metrics"
	"github.com/luminetic/ensemble/internal/server"
	"github.com/luminetic/ensemble/internal/telemetry"
	"github.com/luminetic/ensemble/store"
)

// Server assembles the engine, the run store and the HTTP surface.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	providers *telemetry.Providers

	engine      *ensemble.Engine
	runStore    store.Store
	collector   *metrics.Collector
	health      *handlers.HealthHandler
	httpManager *server.Manager

	rateLimiterCancel context.CancelFunc
}

// NewServer creates a server; Start wires and launches it.
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		providers: providers,
	}
}

// Start opens the store, assembles the engine and begins serving. It does
// not block; pair it with WaitForShutdown.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("ensemble", s.logger)

	st, err := store.Open(s.cfg.Store, s.logger, s.collector)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	s.runStore = st

	eng, err := ensemble.New(
		ensemble.WithConfig(s.cfg),
		ensemble.WithLogger(s.logger),
		ensemble.WithStore(st),
		ensemble.WithMetrics(s.collector),
	)
	if err != nil {
		return fmt.Errorf("assemble engine: %w", err)
	}
	s.engine = eng

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}

	s.logger.Info("server started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.String("store_driver", s.cfg.Store.Driver),
		zap.String("backend_kind", s.cfg.Backend.Kind),
		zap.Bool("auth", s.cfg.Auth.Enabled),
	)
	return nil
}

func (s *Server) startHTTPServer() error {
	workflowHandler := handlers.NewWorkflowHandler(s.engine, s.logger)
	coordinateHandler := handlers.NewCoordinateHandler(s.engine, s.logger)
	runsHandler := handlers.NewRunsHandler(s.runStore, s.logger)

	s.health = handlers.NewHealthHandler(s.logger)
	s.health.RegisterCheck(handlers.NewCheck("backend", s.engine.HealthCheck))
	s.health.RegisterCheck(handlers.NewCheck("store", func(ctx context.Context) error {
		_, err := s.runStore.ListRuns(ctx, 1)
		return err
	}))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health.HandleHealthz)
	mux.HandleFunc("GET /readyz", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /v1/workflows/validate", workflowHandler.HandleValidate)
	mux.HandleFunc("POST /v1/workflows/execute", workflowHandler.HandleExecute)
	mux.HandleFunc("POST /v1/workflows/optimize", workflowHandler.HandleOptimize)
	mux.HandleFunc("POST /v1/coordinate", coordinateHandler.HandleCoordinate)
	mux.HandleFunc("GET /v1/runs", runsHandler.HandleListRuns)
	mux.HandleFunc("GET /v1/runs/{id}", runsHandler.HandleGetRun)
	mux.HandleFunc("GET /v1/runs/{id}/snapshots", runsHandler.HandleListSnapshots)

	if s.cfg.Metrics.Enabled && s.cfg.Metrics.Path != "" {
		mux.Handle("GET "+s.cfg.Metrics.Path, promhttp.Handler())
	}

	rlCtx, rlCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rlCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	middlewares = append(middlewares,
		RateLimiter(rlCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	if s.cfg.Auth.Enabled {
		skipAuthPaths := []string{"/healthz", "/readyz", "/version", s.cfg.Metrics.Path}
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth, skipAuthPaths, s.logger))
	}

	s.httpManager = server.NewManager(Chain(mux, middlewares...), server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.httpManager.Start()
}

// WaitForShutdown blocks until SIGINT/SIGTERM or a serve error, then
// releases everything the server owns.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown drains the HTTP server and closes the engine, the store and the
// telemetry providers. Safe to call after WaitForShutdown.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.logger.Error("engine close error", zap.Error(err))
		}
	}
	if s.runStore != nil {
		if err := s.runStore.Close(); err != nil {
			s.logger.Error("store close error", zap.Error(err))
		}
	}
	if s.providers != nil {
		if err := s.providers.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown complete")
}

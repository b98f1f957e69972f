package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/sagaflow/config"
	"github.com/BaSui01/sagaflow/events"
	"github.com/BaSui01/sagaflow/internal/metrics"
	"github.com/BaSui01/sagaflow/internal/telemetry"
	"github.com/BaSui01/sagaflow/store"
	"github.com/BaSui01/sagaflow/workflow"
)

// shutdownTimeout bounds how long a graceful stop waits for running
// executions before cancelling them cooperatively.
const shutdownTimeout = 30 * time.Second

// Server wires the orchestration engine together with its store,
// publisher, telemetry, and the operational HTTP endpoint.
type Server struct {
	cfg            *config.Config
	definitionsDir string
	opsAddr        string
	logger         *zap.Logger

	engine    *workflow.Engine
	execStore workflow.ExecutionStore
	publisher events.Publisher
	otel      *telemetry.Providers
	collector *metrics.Collector

	ops *http.Server
}

// NewServer creates an unstarted server.
func NewServer(cfg *config.Config, definitionsDir, opsAddr string, logger *zap.Logger) *Server {
	return &Server{
		cfg:            cfg,
		definitionsDir: definitionsDir,
		opsAddr:        opsAddr,
		logger:         logger,
	}
}

// Start brings every component up in dependency order.
func (s *Server) Start() error {
	otelProviders, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otel = otelProviders

	execStore, err := store.New(s.cfg.Store, s.logger)
	if err != nil {
		return fmt.Errorf("init execution store: %w", err)
	}
	s.execStore = execStore

	publisher, err := events.New(s.cfg.Events, s.logger)
	if err != nil {
		return fmt.Errorf("init event publisher: %w", err)
	}
	s.publisher = publisher

	s.collector = metrics.NewCollector("sagaflow", prometheus.DefaultRegisterer, s.logger)

	registry := workflow.NewRegistry()
	if err := workflow.RegisterBuiltins(registry, nil); err != nil {
		return fmt.Errorf("register executors: %w", err)
	}

	engine, err := workflow.NewEngine(s.cfg.Engine, workflow.EngineDeps{
		Store:     execStore,
		Registry:  registry,
		Publisher: publisher,
		Collector: s.collector,
		Logger:    s.logger,
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	s.engine = engine

	if s.definitionsDir != "" {
		if err := s.loadDefinitions(s.definitionsDir); err != nil {
			return err
		}
	}

	return s.startOpsServer()
}

// loadDefinitions registers every YAML definition found in dir.
func (s *Server) loadDefinitions(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read definitions dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		def, err := workflow.DecodeDefinition(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := s.engine.RegisterDefinition(def); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		loaded++
	}

	s.logger.Info("definitions loaded", zap.Int("count", loaded), zap.String("dir", dir))
	return nil
}

// startOpsServer serves health checks and Prometheus metrics.
func (s *Server) startOpsServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ready", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)
	mux.Handle("/metrics", promhttp.Handler())

	s.ops = &http.Server{
		Addr:         s.opsAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("ops server failed", zap.Error(err))
		}
	}()

	s.logger.Info("ops server started", zap.String("addr", s.opsAddr))
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then stops everything.
func (s *Server) WaitForShutdown() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	s.logger.Info("shutdown signal received")
	s.Shutdown()
}

// Shutdown stops components in reverse dependency order: no new
// admissions, drain running executions, then release backends.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.engine != nil {
		if err := s.engine.Shutdown(ctx); err != nil {
			s.logger.Error("engine shutdown error", zap.Error(err))
		}
	}
	if s.ops != nil {
		if err := s.ops.Shutdown(ctx); err != nil {
			s.logger.Error("ops server shutdown error", zap.Error(err))
		}
	}
	if closer, ok := s.publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("publisher close error", zap.Error(err))
		}
	}
	if s.execStore != nil {
		if err := s.execStore.Close(); err != nil {
			s.logger.Error("store close error", zap.Error(err))
		}
	}
	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("graceful shutdown completed")
}

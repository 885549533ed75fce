// Package main is the entry point for the audit service API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storeops/auditchain/internal/api"
	"github.com/storeops/auditchain/internal/audit"
	"github.com/storeops/auditchain/internal/config"
	"github.com/storeops/auditchain/internal/health"
	"github.com/storeops/auditchain/internal/middleware"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	metrics := audit.NewMetrics()
	if err := metrics.Register(registry); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	store := audit.NewPostgresStore(db, logger)
	writer, err := audit.NewWriter(audit.WriterConfig{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		logger.Error("failed to create audit writer", "error", err)
		os.Exit(1)
	}

	sequences := audit.NewSequenceChecker(store, audit.NewPostgresContractStates(db))
	verifier, err := audit.NewVerifier(audit.VerifierConfig{
		Store:     store,
		Logger:    logger,
		Metrics:   metrics,
		Sequences: sequences,
		SelfAudit: writer,
	})
	if err != nil {
		logger.Error("failed to create chain verifier", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	verifyJob := audit.NewVerifyJob(audit.VerifyJobConfig{
		Interval: cfg.VerifyInterval,
		Options: audit.BatchOptions{
			Hours:                cfg.VerifyWindowHours,
			Limit:                cfg.VerifyLimit,
			IncludeSequenceCheck: cfg.SequenceCheckEnabled,
		},
		Logger:  logger,
		Metrics: metrics,
	}, verifier)
	verifyJob.Start(ctx)
	defer verifyJob.Stop()

	dbChecker := health.NewDBChecker(db)

	mux := http.NewServeMux()
	api.NewAuditHandlers(writer, verifier, logger).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, checkCancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer checkCancel()
		if err := dbChecker.HealthCheck(checkCtx); err != nil {
			api.WriteError(w, r.Context(), http.StatusServiceUnavailable, api.ErrCodeInternal, "database unreachable")
			return
		}
		api.WriteJSON(w, r.Context(), http.StatusOK, map[string]string{"status": "healthy"})
	})

	handler := middleware.RequestID(middleware.AuditContext(middleware.Logging(logger)(mux)))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

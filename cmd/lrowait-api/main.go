// Package main provides the lrowait outcome API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - pprof is intentionally exposed for debugging, isolated to separate port
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/muaviaUsmani/lrowait/internal/api"
	"github.com/muaviaUsmani/lrowait/internal/config"
	"github.com/muaviaUsmani/lrowait/internal/logger"
	"github.com/muaviaUsmani/lrowait/internal/metrics"
	"github.com/muaviaUsmani/lrowait/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()
	logger.SetDefault(log)

	apiLog := log.WithComponent(logger.ComponentAPI).WithSource(logger.LogSourceInternal)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := store.Connect(ctx, cfg.RedisURL)
	if err != nil {
		apiLog.Error("Failed to connect to outcome store", "redis_url", cfg.RedisURL, "error", err)
		os.Exit(1)
	}
	backend := store.NewRedisBackend(client, cfg.OutcomeTTLSuccess, cfg.OutcomeTTLFailure)
	defer backend.Close()

	srv, err := api.NewServer(backend, metrics.Default(), log)
	if err != nil {
		apiLog.Error("Failed to build API server", "error", err)
		os.Exit(1)
	}

	// pprof listens on its own port when PPROF_PORT is set
	if pprofPort := os.Getenv("PPROF_PORT"); pprofPort != "" {
		go func() {
			apiLog.Info("Starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
			pprofServer := &http.Server{
				Addr:              ":" + pprofPort,
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := pprofServer.ListenAndServe(); err != nil {
				apiLog.Error("pprof server failed", "error", err)
			}
		}()
	}

	server := srv.HTTPServer(":" + cfg.APIPort)
	errCh := make(chan error, 1)
	go func() {
		apiLog.Info("API server listening", "address", server.Addr, "redis_url", cfg.RedisURL)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			apiLog.Error("API server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		apiLog.Info("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			apiLog.Error("Graceful shutdown failed", "error", err)
		}
	}
}

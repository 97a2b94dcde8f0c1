package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/importcsv/importcsv-go/internal/config"
	"github.com/importcsv/importcsv-go/internal/importer"
	"github.com/importcsv/importcsv-go/internal/logging"
	"github.com/importcsv/importcsv-go/internal/schema"
	"github.com/importcsv/importcsv-go/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"schema_dir", cfg.Import.SchemaDir,
		"max_concurrent_sessions", cfg.Import.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	// Load importer definitions from YAML and register them
	defs, err := schema.LoadDir(cfg.Import.SchemaDir)
	if err != nil {
		slog.Error("failed to load importer definitions", "dir", cfg.Import.SchemaDir, "error", err)
		os.Exit(1)
	}
	importer.RegisterAll(defs)

	slog.Info("importers registered", "count", importer.Count())
	for _, key := range importer.Keys() {
		slog.Debug("importer", "key", key)
	}

	// Create the session service
	service := importer.NewService(importer.ServiceOptions{
		InitialWindow: cfg.Import.InitialWindow,
		ChunkSize:     cfg.Import.ChunkSize,
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWaitTime:   cfg.Import.MaxWaitTime,
		SessionTTL:    cfg.Import.SessionTTL,
	}, slog.Default())

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for live sessions to finish (with timeout)
		status := service.Status()
		if status.ActiveSessions > 0 {
			slog.Info("waiting for import sessions to finish", "active", status.ActiveSessions)
			if err := service.Drain(shutdownCtx); err != nil {
				slog.Warn("sessions did not finish in time", "error", err)
			} else {
				slog.Info("all sessions finished")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(cfg.Server.Addr()); err != nil && err != http.ErrServerClosed {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

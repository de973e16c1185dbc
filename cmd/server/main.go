package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/sheetcheck/internal/catalog"
	"github.com/JonMunkholm/sheetcheck/internal/config"
	"github.com/JonMunkholm/sheetcheck/internal/core"
	"github.com/JonMunkholm/sheetcheck/internal/logging"
	"github.com/JonMunkholm/sheetcheck/internal/metrics"
	"github.com/JonMunkholm/sheetcheck/internal/store"
	"github.com/JonMunkholm/sheetcheck/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []core.ServiceOption
	opts = append(opts,
		core.WithLimiter(core.NewUploadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime)),
		core.WithMaxFileSize(cfg.Upload.MaxFileSize),
		core.WithUploadTimeout(cfg.Upload.Timeout),
	)

	if cfg.Database.Enabled() {
		pool, err := store.Connect(ctx, cfg.Database.URL, func(pc *pgxpool.Config) {
			pc.MaxConns = int32(cfg.Database.MaxConns)
			pc.MinConns = int32(cfg.Database.MinConns)
			pc.MaxConnLifetime = cfg.Database.MaxConnLifetime
			pc.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
		})
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		history := store.NewHistoryStore(pool)
		if cfg.Database.AutoMigrate {
			if err := history.EnsureSchema(ctx); err != nil {
				slog.Error("failed to prepare upload history", "error", err)
				os.Exit(1)
			}
		}
		opts = append(opts, core.WithHistory(history))
		slog.Info("upload history enabled")
	} else {
		slog.Info("upload history disabled, DATABASE_URL not set")
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Runtime)
		opts = append(opts, core.WithObserver(m))
	}

	registry, err := core.NewRegistry()
	if err != nil {
		slog.Error("failed to create template registry", "error", err)
		os.Exit(1)
	}
	service := core.NewService(registry, opts...)
	if m != nil {
		m.WatchLimiter(service.UploadLimiterStatus)
	}

	catalogOpts := catalog.Options{FetchTimeout: cfg.Catalog.FetchTimeout}
	var defs []core.TemplateDefinition
	if cfg.Catalog.Watch {
		defs, err = catalog.Watch(ctx, cfg.Catalog.Path, catalogOpts, func(next []core.TemplateDefinition) {
			if err := service.ReloadTemplates(next); err != nil {
				slog.Error("template reload rejected", "error", err)
			}
		})
	} else {
		defs, err = catalog.Load(cfg.Catalog.Path, catalogOpts)
	}
	if err != nil {
		slog.Error("failed to load template catalog", "path", cfg.Catalog.Path, "error", err)
		os.Exit(1)
	}
	if err := service.ReloadTemplates(defs); err != nil {
		slog.Error("invalid template catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("templates registered", "count", registry.Count(), "keys", registry.Keys())

	server := web.NewServer(cfg, service, m)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		uploadStatus := service.UploadLimiterStatus()
		if uploadStatus.Active > 0 {
			slog.Info("waiting for uploads to complete", "active", uploadStatus.Active)
			if err := service.WaitForUploads(shutdownCtx); err != nil {
				slog.Warn("uploads did not complete in time", "error", err)
			} else {
				slog.Info("all uploads completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nebar/barsync/internal/api"
	"github.com/nebar/barsync/internal/config"
	"github.com/nebar/barsync/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "barsync",
	Short: "Barsync - amoCRM to Google Sheets deal export",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	initLogger(cfg)
	slog.Info("configuration loaded")

	// 4. Build the sync pipeline; missing credentials put the service in
	// degraded mode with HTTP up and sync disabled, not a crash.
	var handler *api.Handler
	var p *pipeline

	missing := cfg.MissingCredentials()
	if len(missing) > 0 {
		slog.Warn("starting degraded: sync disabled", "missing", missing)
		handler = api.NewHandler(nil, nil, Version, true)
	} else {
		p, err = buildPipeline(ctx, cfg, nil, true)
		if err != nil {
			return err
		}
		defer p.close()

		// Reference tables are a startup nicety; a failed load costs name
		// resolution until the next full sweep reloads them.
		if err := p.sync.Initialize(ctx); err != nil {
			slog.Error("reference data load failed", "error", err)
		}

		handler = api.NewHandler(p.sync, p.jrnl, Version, false)
		slog.Info("sync pipeline initialized",
			"domain", cfg.AmoCRM.Domain,
			"spreadsheet", cfg.Sheets.SpreadsheetID,
			"target", cfg.Filter.TargetValue)
	}

	router := api.NewRouter(handler)

	// 5. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 6. Worker lifecycle
	var wg sync.WaitGroup
	if p != nil {
		fullSync := worker.NewFullSyncWorker(p.sync,
			time.Duration(cfg.Worker.FullSyncInterval), cfg.Worker.RunOnStart)
		startWorker(ctx, &wg, "full-sync", fullSync.Run)
	}

	// 7. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called
		// gracefully. Any other error is a real failure.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 8. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 9. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 9a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 9b. Wait for workers to complete
	wg.Wait()

	slog.Info("shutdown complete")
	return nil
}

func initLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}
	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context
// cancellation. Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}

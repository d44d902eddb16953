// Package worker runs the background full sweeps that catch deals whose
// webhook notifications were lost.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/nebar/barsync/internal/syncer"
)

// FullSyncer runs one complete sweep of the deal listing.
// Implemented by syncer.Syncer.
type FullSyncer interface {
	FullSync(ctx context.Context) (syncer.Result, error)
}

// FullSyncWorker triggers a full sweep on a fixed interval.
type FullSyncWorker struct {
	sync     FullSyncer
	interval time.Duration

	// runOnStart triggers a sweep immediately instead of waiting for the
	// first tick. Off by default: a sweep pages through the whole deal
	// listing and we avoid spiking the CRM API during server startup.
	runOnStart bool
}

// NewFullSyncWorker creates a worker. interval must be positive.
func NewFullSyncWorker(sync FullSyncer, interval time.Duration, runOnStart bool) *FullSyncWorker {
	return &FullSyncWorker{sync: sync, interval: interval, runOnStart: runOnStart}
}

// Run starts the worker loop. It blocks until ctx is cancelled.
func (w *FullSyncWorker) Run(ctx context.Context) {
	slog.Info("full sync worker started",
		"component", "worker",
		"worker", "full-sync",
		"interval", w.interval.String(),
		"run_on_start", w.runOnStart,
	)

	if w.runOnStart {
		w.sweep(ctx)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("full sync worker stopped",
				"component", "worker",
				"worker", "full-sync",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *FullSyncWorker) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	result, err := w.sync.FullSync(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown, don't log as error
		}
		slog.Error("scheduled full sync failed",
			"component", "worker",
			"worker", "full-sync",
			"error", err,
		)
		return
	}

	slog.Info("scheduled full sync completed",
		"component", "worker",
		"worker", "full-sync",
		"scanned", result.Scanned,
		"matched", result.Matched,
		"upserted", result.Upserted,
		"failed", result.Failed,
		"duration_ms", result.Duration.Milliseconds(),
	)
}

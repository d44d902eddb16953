package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nebar/barsync/internal/config"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full sweep of the deal listing and exit",
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	initLogger(cfg)

	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		return errors.New("missing credentials: " + strings.Join(missing, ", "))
	}

	p, err := buildPipeline(ctx, cfg, nil, true)
	if err != nil {
		return err
	}
	defer p.close()

	result, err := p.sync.FullSync(ctx)
	if err != nil {
		return err
	}

	slog.Info("sweep done")
	fmt.Printf("scanned %d, matched %d, upserted %d, failed %d in %s\n",
		result.Scanned, result.Matched, result.Upserted, result.Failed,
		result.Duration.Round(time.Second))
	return nil
}

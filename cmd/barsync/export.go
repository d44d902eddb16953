package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nebar/barsync/internal/config"
	"github.com/nebar/barsync/internal/export"
)

var exportUpload bool

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Sweep matched deals into a dated CSV file",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().BoolVar(&exportUpload, "upload", false,
		"Upload the CSV to the configured S3 bucket after writing")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	initLogger(cfg)

	// Exports read the CRM only; spreadsheet credentials are not needed.
	var missing []string
	for _, m := range cfg.MissingCredentials() {
		if strings.HasPrefix(m, "AMO") {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		return errors.New("missing credentials: " + strings.Join(missing, ", "))
	}

	// The sweep feeds a row collector instead of the spreadsheet, so an
	// export never writes to the sheet. No journal: exports are ad hoc.
	collector := &export.Collector{}
	p, err := buildPipeline(ctx, cfg, collector, false)
	if err != nil {
		return err
	}
	defer p.close()

	result, err := p.sync.FullSync(ctx)
	if err != nil {
		return err
	}

	writer := export.NewWriter(cfg.Export.Dir)
	path, err := writer.WriteCSV(collector.Rows())
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d deals to %s (scanned %d)\n",
		result.Upserted, path, result.Scanned)

	if exportUpload {
		uploader, err := export.NewUploader(cfg.Export.Storage)
		if err != nil {
			return err
		}
		if err := uploader.Upload(ctx, path); err != nil {
			if errors.Is(err, export.ErrNotConfigured) {
				return errors.New("upload requested but export storage is not configured")
			}
			return err
		}
		fmt.Println("uploaded to bucket", cfg.Export.Storage.Bucket)
	}

	return nil
}

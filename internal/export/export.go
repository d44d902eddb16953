// Package export writes matched deals to a dated CSV file and optionally
// uploads it to S3-compatible storage.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nebar/barsync/internal/mapper"
)

// Collector accumulates mapped rows. It satisfies the syncer's upsert
// dependency, so a full sweep can feed an export instead of a spreadsheet.
type Collector struct {
	mu   sync.Mutex
	rows [][]string
}

// Upsert records the row.
func (c *Collector) Upsert(_ context.Context, row []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, append([]string(nil), row...))
	return nil
}

// Rows returns the collected rows in arrival order.
func (c *Collector) Rows() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.rows...)
}

// Writer writes export files into a directory.
type Writer struct {
	dir string
	// now is overridable in tests.
	now func() time.Time
}

// NewWriter creates a Writer. dir is created on first write.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

// WriteCSV writes the column header and rows to a dated file and returns
// its path. An existing file for the same day is overwritten.
func (w *Writer) WriteCSV(rows [][]string) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	name := fmt.Sprintf("deals-%s.csv", w.now().Format("2006-01-02"))
	path := filepath.Join(w.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(mapper.Columns); err != nil {
		return "", fmt.Errorf("write export header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return "", fmt.Errorf("write export row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("flush export file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}

	return path, nil
}

// Package journal persists sync history in a local SQLite database: one row
// per sync run with its counters, plus a per-deal event log. The stats
// endpoint reads last-run timestamps from here so they survive restarts.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/nebar/barsync/migrations"
)

// ErrRunNotFound is returned when no run of the requested kind exists.
var ErrRunNotFound = errors.New("sync run not found")

// Run kinds.
const (
	KindFull    = "full"
	KindDeal    = "deal"
	KindWebhook = "webhook"
)

// Deal event actions.
const (
	ActionUpserted = "upserted"
	ActionFiltered = "filtered"
	ActionFailed   = "failed"
)

// Counters are the aggregate results of one sync run.
type Counters struct {
	Scanned  int64
	Matched  int64
	Upserted int64
	Failed   int64
}

// Run is one recorded sync run.
type Run struct {
	ID         string
	Kind       string
	StartedAt  time.Time
	FinishedAt *time.Time
	Counters   Counters
}

// Journal is the SQLite-backed sync history store.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at dbPath, enabling WAL mode
// and applying pending migrations.
func Open(dbPath string) (*Journal, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Journal{db: db}, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// StartRun records the beginning of a sync run and returns its ID.
func (j *Journal) StartRun(ctx context.Context, kind string) (string, error) {
	id := ulid.Make().String()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, kind, started_at)
		VALUES (?, ?, ?)
	`, id, kind, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("insert sync run: %w", err)
	}
	return id, nil
}

// FinishRun records the end of a run together with its counters.
func (j *Journal) FinishRun(ctx context.Context, id string, c Counters) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE sync_runs
		SET finished_at = ?, scanned = ?, matched = ?, upserted = ?, failed = ?
		WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339), c.Scanned, c.Matched, c.Upserted, c.Failed, id)
	if err != nil {
		return fmt.Errorf("finish sync run: %w", err)
	}
	return nil
}

// RecordDealEvent logs one per-deal outcome within a run.
func (j *Journal) RecordDealEvent(ctx context.Context, runID string, dealID int64, action string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO deal_events (run_id, deal_id, action, occurred_at)
		VALUES (?, ?, ?, ?)
	`, runID, dealID, action, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record deal event: %w", err)
	}
	return nil
}

// LastRun returns the most recently started run of the given kind.
func (j *Journal) LastRun(ctx context.Context, kind string) (*Run, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, kind, started_at, finished_at, scanned, matched, upserted, failed
		FROM sync_runs
		WHERE kind = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`, kind)
	return scanRun(row)
}

// RunCount returns the number of recorded runs of the given kind.
func (j *Journal) RunCount(ctx context.Context, kind string) (int64, error) {
	var n int64
	err := j.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_runs WHERE kind = ?", kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sync runs: %w", err)
	}
	return n, nil
}

// DealEventCount returns how many events of the given action are recorded.
func (j *Journal) DealEventCount(ctx context.Context, action string) (int64, error) {
	var n int64
	err := j.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM deal_events WHERE action = ?", action).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count deal events: %w", err)
	}
	return n, nil
}

func scanRun(row *sql.Row) (*Run, error) {
	var (
		r          Run
		startedAt  string
		finishedAt sql.NullString
	)
	err := row.Scan(&r.ID, &r.Kind, &startedAt, &finishedAt,
		&r.Counters.Scanned, &r.Counters.Matched, &r.Counters.Upserted, &r.Counters.Failed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan sync run: %w", err)
	}

	r.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		r.FinishedAt = &t
	}
	return &r, nil
}

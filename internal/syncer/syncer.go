// Package syncer coordinates the export pipeline: fetch deals from the CRM,
// filter them against the target rule, enrich with related contacts and
// companies, map to a spreadsheet row and upsert it. One deal is processed
// to completion before the next; there is no parallel fan-out.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nebar/barsync/internal/amocrm"
	"github.com/nebar/barsync/internal/filter"
	"github.com/nebar/barsync/internal/journal"
	"github.com/nebar/barsync/internal/mapper"
	"github.com/nebar/barsync/internal/refdata"
)

// CRM is the read surface of the deal API the syncer depends on.
type CRM interface {
	GetDeal(ctx context.Context, id int64) (*amocrm.Deal, error)
	ListDeals(ctx context.Context, page, limit int, opts amocrm.ListDealsOptions) ([]amocrm.Deal, error)
	GetContacts(ctx context.Context, ids []int64) ([]amocrm.Contact, error)
	GetCompanies(ctx context.Context, ids []int64) ([]amocrm.Company, error)
}

// Upserter writes mapped rows to the spreadsheet store.
type Upserter interface {
	Upsert(ctx context.Context, row []string) error
}

// Recorder persists sync run history. journal.Journal implements it.
type Recorder interface {
	StartRun(ctx context.Context, kind string) (string, error)
	FinishRun(ctx context.Context, id string, c journal.Counters) error
	RecordDealEvent(ctx context.Context, runID string, dealID int64, action string) error
}

// Options tune the full sweep.
type Options struct {
	// PageSize per listing request, capped at the API maximum of 250.
	PageSize int
	// MaxPages bounds a sweep; 0 means the default of 200.
	MaxPages int
	// PauseEvery inserts Pause after this many processed deals.
	PauseEvery int
	// Pause duration between batches, to not overwhelm the API.
	Pause time.Duration
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 || o.PageSize > amocrm.MaxPageSize {
		o.PageSize = amocrm.MaxPageSize
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 200
	}
	if o.PauseEvery <= 0 {
		o.PauseEvery = 10
	}
	if o.Pause == 0 {
		o.Pause = 100 * time.Millisecond
	}
	return o
}

// Result summarizes one full sweep.
type Result struct {
	journal.Counters
	Duration time.Duration
}

// Syncer owns the reference tables and runs the per-deal pipeline.
type Syncer struct {
	crm      CRM
	filter   *filter.Filter
	upserter Upserter
	tables   *refdata.Tables
	recorder Recorder
	stats    *Stats
	loc      *time.Location
	opts     Options

	// sleep is overridable in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// New creates a Syncer. recorder may be nil when no journal is configured.
func New(
	crm CRM,
	f *filter.Filter,
	up Upserter,
	tables *refdata.Tables,
	recorder Recorder,
	stats *Stats,
	loc *time.Location,
	opts Options,
) *Syncer {
	if stats == nil {
		stats = NewStats()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Syncer{
		crm:      crm,
		filter:   f,
		upserter: up,
		tables:   tables,
		recorder: recorder,
		stats:    stats,
		loc:      loc,
		opts:     opts.withDefaults(),
		sleep:    sleepCtx,
	}
}

// Stats exposes the process counters for the HTTP layer.
func (s *Syncer) Stats() *Stats {
	return s.stats
}

// Initialize loads the reference tables. Called once at startup; each full
// sweep reloads them again.
func (s *Syncer) Initialize(ctx context.Context) error {
	if err := s.tables.Reload(ctx); err != nil {
		return fmt.Errorf("initialize syncer: %w", err)
	}
	return nil
}

// ProcessDeal runs the pipeline for a single deal. payload, when non-nil,
// is used instead of fetching (webhook bodies carry a partial deal).
// Returns true when the deal matched the target rule and was written.
func (s *Syncer) ProcessDeal(ctx context.Context, id int64, payload *amocrm.Deal) (bool, error) {
	deal := payload
	if deal == nil {
		fetched, err := s.crm.GetDeal(ctx, id)
		if err != nil {
			return false, fmt.Errorf("fetch deal %d: %w", id, err)
		}
		deal = fetched
	}

	if !s.filter.Matches(deal) {
		return false, nil
	}

	contacts, companies := s.relatedData(ctx, deal)
	row := mapper.MapDealToRow(deal, contacts, companies, s.tables, s.loc)

	if err := s.upserter.Upsert(ctx, row); err != nil {
		return false, fmt.Errorf("upsert deal %d: %w", id, err)
	}

	s.stats.DealProcessed()
	slog.Info("deal exported", "deal_id", deal.ID, "deal_name", deal.Name)
	return true, nil
}

// SyncOne wraps ProcessDeal with a journal run, for webhook- and
// API-triggered single-deal syncs.
func (s *Syncer) SyncOne(ctx context.Context, kind string, id int64, payload *amocrm.Deal) error {
	runID := s.startRun(ctx, kind)
	var c journal.Counters
	c.Scanned = 1

	matched, err := s.ProcessDeal(ctx, id, payload)
	switch {
	case err != nil:
		c.Failed = 1
		s.stats.ErrorOccurred()
		s.recordEvent(ctx, runID, id, journal.ActionFailed)
	case matched:
		c.Matched, c.Upserted = 1, 1
		s.recordEvent(ctx, runID, id, journal.ActionUpserted)
	default:
		s.recordEvent(ctx, runID, id, journal.ActionFiltered)
	}

	s.finishRun(ctx, runID, c)
	s.stats.SyncCompleted()
	return err
}

// FullSync pages through the entire deal listing, all pipelines and all
// stages including closed deals, and runs the pipeline on every page entry.
// Per-deal failures are counted and logged, never abort the sweep; the
// sweep stops on an empty page, the page bound, or context cancellation.
func (s *Syncer) FullSync(ctx context.Context) (Result, error) {
	start := time.Now()
	slog.Info("full sync started", "page_size", s.opts.PageSize, "max_pages", s.opts.MaxPages)

	if err := s.tables.Reload(ctx); err != nil {
		// Stale tables degrade name resolution, not correctness.
		slog.Error("reference data reload failed, using previous tables", "error", err)
	}

	runID := s.startRun(ctx, journal.KindFull)
	var c journal.Counters

	for page := 1; page <= s.opts.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			slog.Warn("full sync cancelled", "page", page)
			break
		}

		deals, err := s.crm.ListDeals(ctx, page, s.opts.PageSize, amocrm.ListDealsOptions{})
		if err != nil {
			slog.Error("deal page fetch failed", "page", page, "error", err)
			s.stats.ErrorOccurred()
			c.Failed++
			break
		}
		if len(deals) == 0 {
			slog.Info("deal listing exhausted", "page", page)
			break
		}

		for i := range deals {
			if err := ctx.Err(); err != nil {
				break
			}
			deal := &deals[i]
			c.Scanned++

			matched, err := s.ProcessDeal(ctx, deal.ID, deal)
			switch {
			case err != nil:
				slog.Error("deal processing failed", "deal_id", deal.ID, "error", err)
				s.stats.ErrorOccurred()
				c.Failed++
				s.recordEvent(ctx, runID, deal.ID, journal.ActionFailed)
			case matched:
				c.Matched++
				c.Upserted++
				s.recordEvent(ctx, runID, deal.ID, journal.ActionUpserted)
				// Pace only the deals that hit the spreadsheet; filtered
				// deals cost one listing read and need no backpressure.
				if c.Upserted%int64(s.opts.PauseEvery) == 0 {
					s.sleep(ctx, s.opts.Pause)
				}
			}
		}

		slog.Info("page processed",
			"page", page,
			"scanned", c.Scanned,
			"matched", c.Matched,
			"failed", c.Failed)
	}

	s.finishRun(ctx, runID, c)
	s.stats.FullSyncCompleted()

	result := Result{Counters: c, Duration: time.Since(start)}
	slog.Info("full sync finished",
		"scanned", c.Scanned,
		"matched", c.Matched,
		"upserted", c.Upserted,
		"failed", c.Failed,
		"duration", result.Duration.Round(time.Second))
	return result, nil
}

// relatedData fetches the contacts and companies a deal references.
// Failures here cost enrichment columns only, so they are logged and the
// deal proceeds with what was fetched.
func (s *Syncer) relatedData(ctx context.Context, deal *amocrm.Deal) ([]amocrm.Contact, []amocrm.Company) {
	var contacts []amocrm.Contact
	if ids := deal.ContactIDs(); len(ids) > 0 {
		fetched, err := s.crm.GetContacts(ctx, ids)
		if err != nil {
			slog.Warn("contact fetch failed", "deal_id", deal.ID, "error", err)
		} else {
			contacts = fetched
		}
	}

	var companies []amocrm.Company
	if ids := deal.CompanyIDs(); len(ids) > 0 {
		fetched, err := s.crm.GetCompanies(ctx, ids)
		if err != nil {
			slog.Warn("company fetch failed", "deal_id", deal.ID, "error", err)
		} else {
			companies = fetched
		}
	}

	return contacts, companies
}

func (s *Syncer) startRun(ctx context.Context, kind string) string {
	if s.recorder == nil {
		return ""
	}
	id, err := s.recorder.StartRun(ctx, kind)
	if err != nil {
		slog.Error("journal start run failed", "kind", kind, "error", err)
		return ""
	}
	return id
}

func (s *Syncer) finishRun(ctx context.Context, runID string, c journal.Counters) {
	if s.recorder == nil || runID == "" {
		return
	}
	if err := s.recorder.FinishRun(ctx, runID, c); err != nil {
		slog.Error("journal finish run failed", "run_id", runID, "error", err)
	}
}

func (s *Syncer) recordEvent(ctx context.Context, runID string, dealID int64, action string) {
	if s.recorder == nil || runID == "" {
		return
	}
	if err := s.recorder.RecordDealEvent(ctx, runID, dealID, action); err != nil {
		slog.Error("journal deal event failed", "deal_id", dealID, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

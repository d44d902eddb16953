package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nebar/barsync/internal/amocrm"
	"github.com/nebar/barsync/internal/config"
	"github.com/nebar/barsync/internal/filter"
	"github.com/nebar/barsync/internal/journal"
	"github.com/nebar/barsync/internal/mapper"
	"github.com/nebar/barsync/internal/refdata"
	"github.com/nebar/barsync/internal/sheets"
	"github.com/nebar/barsync/internal/syncer"
)

// pipeline bundles everything a sync run needs. Built once per command.
type pipeline struct {
	crm    *amocrm.Client
	tables *refdata.Tables
	sync   *syncer.Syncer
	jrnl   *journal.Journal
}

// buildPipeline wires the CRM client, reference tables, filter and syncer.
// upserter may be nil, in which case the Google Sheets upserter is built
// from config; exports pass a row collector instead. withJournal controls
// whether sync runs are recorded.
func buildPipeline(ctx context.Context, cfg *config.Config, upserter syncer.Upserter, withJournal bool) (*pipeline, error) {
	crm := amocrm.NewClient(amocrm.Config{
		Domain:       cfg.AmoCRM.Domain,
		ClientID:     cfg.AmoCRM.ClientID,
		ClientSecret: cfg.AmoCRM.ClientSecret,
		RedirectURI:  cfg.AmoCRM.RedirectURI,
		AccessToken:  cfg.AmoCRM.AccessToken,
		RefreshToken: cfg.AmoCRM.RefreshToken,
		OnTokenRefresh: func(pair amocrm.TokenPair) {
			// The account rotates refresh tokens on every use; an operator
			// who misses this log line ends up with a dead token.
			slog.Warn("access token refreshed, update AMO_TOKEN and AMO_REFRESH_TOKEN in the environment")
		},
	})

	tables := refdata.New(crm)

	mode, err := filter.ParseMatchMode(cfg.Filter.MatchMode)
	if err != nil {
		return nil, err
	}
	filterCfg := filter.Config{
		FieldID:        cfg.Filter.FieldID,
		FieldName:      cfg.Filter.FieldName,
		FallbackLabel:  cfg.Filter.FallbackLabel,
		TargetValue:    cfg.Filter.TargetValue,
		TargetOptionID: cfg.Filter.TargetOptionID,
		Mode:           mode,
		Bypass:         cfg.Filter.Bypass,
	}
	// Pin the field and option IDs from the account's field definitions so
	// matching survives a rename of the field or option text. Best effort:
	// name matching still works without the lookup.
	if resolved, err := filter.ResolveField(ctx, crm, filterCfg); err != nil {
		slog.Warn("custom field resolution failed, matching by name only", "error", err)
	} else {
		filterCfg = resolved
	}
	dealFilter := filter.New(filterCfg, tables)

	if upserter == nil {
		sheet, err := sheets.NewGoogleSheet(ctx, sheets.GoogleSheetConfig{
			SpreadsheetID:   cfg.Sheets.SpreadsheetID,
			SheetName:       cfg.Sheets.SheetName,
			CredentialsJSON: []byte(cfg.Sheets.CredentialsJSON),
			Header:          mapper.Columns,
			KeyColumn:       mapper.KeyColumn,
		})
		if err != nil {
			return nil, err
		}
		if err := sheet.EnsureHeader(ctx); err != nil {
			return nil, fmt.Errorf("ensure sheet header: %w", err)
		}
		upserter = sheets.NewUpserter(sheet, mapper.KeyColumn, len(mapper.Columns))
	}

	var jrnl *journal.Journal
	var recorder syncer.Recorder
	if withJournal {
		jrnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		recorder = jrnl
	}

	loc, err := time.LoadLocation(cfg.Mapper.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	sync := syncer.New(crm, dealFilter, upserter, tables, recorder, syncer.NewStats(), loc, syncer.Options{
		PageSize:   cfg.Sync.PageSize,
		MaxPages:   cfg.Sync.MaxPages,
		PauseEvery: cfg.Sync.PauseEvery,
		Pause:      time.Duration(cfg.Sync.Pause),
	})

	return &pipeline{crm: crm, tables: tables, sync: sync, jrnl: jrnl}, nil
}

// close releases pipeline resources.
func (p *pipeline) close() {
	if p.jrnl != nil {
		if err := p.jrnl.Close(); err != nil {
			slog.Error("journal close error", "error", err)
		}
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nebar/barsync/internal/amocrm"
	"github.com/nebar/barsync/internal/journal"
	"github.com/nebar/barsync/internal/mapper"
	"github.com/nebar/barsync/internal/syncer"
)

// Sync is the part of the syncer the HTTP layer drives.
type Sync interface {
	SyncOne(ctx context.Context, kind string, id int64, payload *amocrm.Deal) error
	FullSync(ctx context.Context) (syncer.Result, error)
	Stats() *syncer.Stats
}

// RunHistory reads recorded sync runs. journal.Journal implements it.
type RunHistory interface {
	LastRun(ctx context.Context, kind string) (*journal.Run, error)
}

// Handler implements the API handlers.
type Handler struct {
	sync     Sync
	history  RunHistory
	version  string
	degraded bool

	// fullRunning guards against overlapping sweeps; the worker and the
	// HTTP trigger share one syncer.
	fullRunning atomic.Bool
}

// NewHandler creates a Handler. sync may be nil when the service started
// degraded; trigger endpoints then refuse with 503. history may be nil
// when no journal is configured.
func NewHandler(sync Sync, history RunHistory, version string, degraded bool) *Handler {
	return &Handler{sync: sync, history: history, version: version, degraded: degraded}
}

// webhookBody is the notification shape the CRM posts on deal changes.
// Payload deals are partial, so only the IDs are used; the full deal is
// fetched before processing.
type webhookBody struct {
	Leads struct {
		Add    []webhookLead `json:"add"`
		Update []webhookLead `json:"update"`
		Status []webhookLead `json:"status"`
	} `json:"leads"`
}

type webhookLead struct {
	ID flexInt64 `json:"id"`
}

// flexInt64 accepts both numeric and quoted-string IDs; the CRM is not
// consistent about which it sends.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt64(n)
	return nil
}

// Webhook handles POST /webhook. The CRM disables endpoints that answer
// slowly or with errors, so the response is always 200 "OK" and the deals
// are processed in the background.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	var body webhookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		slog.Warn("webhook body not parseable", "error", err)
	}

	ids := dedupe(collectIDs(body))
	if h.sync != nil {
		h.sync.Stats().WebhookReceived()
	}

	switch {
	case h.degraded || h.sync == nil:
		slog.Warn("webhook received while degraded, not processed", "deal_ids", ids)
	case len(ids) == 0:
		slog.Warn("webhook carried no deal IDs")
	default:
		slog.Info("webhook received", "deal_ids", ids)
		go h.processWebhook(ids)
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) processWebhook(ids []int64) {
	ctx := context.Background()
	for _, id := range ids {
		if err := h.sync.SyncOne(ctx, journal.KindWebhook, id, nil); err != nil {
			slog.Error("webhook deal sync failed", "deal_id", id, "error", err)
		}
	}
}

// TriggerFullSync handles POST /sync/full. The sweep runs in the
// background; only one sweep runs at a time.
func (h *Handler) TriggerFullSync(w http.ResponseWriter, r *http.Request) {
	if h.degraded || h.sync == nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "Sync is disabled: service is running degraded")
		return
	}
	if !h.fullRunning.CompareAndSwap(false, true) {
		writeJSON(w, map[string]string{"status": "already_running"})
		return
	}

	go func() {
		defer h.fullRunning.Store(false)
		if _, err := h.sync.FullSync(context.Background()); err != nil {
			slog.Error("triggered full sync failed", "error", err)
		}
	}()

	writeJSON(w, map[string]string{"status": "started"})
}

// TriggerDealSync handles POST /sync/deal/{id}.
func (h *Handler) TriggerDealSync(w http.ResponseWriter, r *http.Request) {
	if h.degraded || h.sync == nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "Sync is disabled: service is running degraded")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		WriteProblem(w, r, http.StatusBadRequest, "Deal ID must be a positive integer")
		return
	}

	go func() {
		if err := h.sync.SyncOne(context.Background(), journal.KindDeal, id, nil); err != nil {
			slog.Error("triggered deal sync failed", "deal_id", id, "error", err)
		}
	}()

	writeJSON(w, map[string]string{"status": "started", "dealId": strconv.FormatInt(id, 10)})
}

type statsResponse struct {
	syncer.Snapshot
	Degraded bool `json:"degraded"`
	Columns  int  `json:"columns"`

	// LastRuns comes from the journal, so it survives restarts.
	LastRuns map[string]runSummary `json:"lastRuns,omitempty"`
}

type runSummary struct {
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Scanned    int64      `json:"scanned"`
	Matched    int64      `json:"matched"`
	Upserted   int64      `json:"upserted"`
	Failed     int64      `json:"failed"`
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Degraded: h.degraded, Columns: len(mapper.Columns)}
	if h.sync != nil {
		resp.Snapshot = h.sync.Stats().Snapshot()
	}
	if h.history != nil {
		resp.LastRuns = h.lastRuns(r.Context())
	}
	writeJSON(w, resp)
}

func (h *Handler) lastRuns(ctx context.Context) map[string]runSummary {
	out := make(map[string]runSummary)
	for _, kind := range []string{journal.KindFull, journal.KindDeal, journal.KindWebhook} {
		run, err := h.history.LastRun(ctx, kind)
		if err != nil {
			if !errors.Is(err, journal.ErrRunNotFound) {
				slog.Error("journal last run lookup failed", "kind", kind, "error", err)
			}
			continue
		}
		out[kind] = runSummary{
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
			Scanned:    run.Counters.Scanned,
			Matched:    run.Counters.Matched,
			Upserted:   run.Counters.Upserted,
			Failed:     run.Counters.Failed,
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if h.degraded {
		status = "degraded"
	}
	writeJSON(w, map[string]any{
		"status":   status,
		"version":  h.version,
		"degraded": h.degraded,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func collectIDs(body webhookBody) []int64 {
	var ids []int64
	for _, group := range [][]webhookLead{body.Leads.Add, body.Leads.Update, body.Leads.Status} {
		for _, lead := range group {
			if lead.ID > 0 {
				ids = append(ids, int64(lead.ID))
			}
		}
	}
	return ids
}

// dedupe drops repeated IDs; add and status groups often carry the same
// deal in one notification.
func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

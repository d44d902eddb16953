package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nebar/barsync/internal/amocrm"
	"github.com/nebar/barsync/internal/filter"
	"github.com/nebar/barsync/internal/journal"
	"github.com/nebar/barsync/internal/refdata"
)

const (
	testFieldID   = 1035785
	testFieldName = "Бар (deal)"
	testTarget    = "ЕВГ СПБ"
)

type fakeCRM struct {
	deals map[int64]*amocrm.Deal
	// pages returned by ListDeals, in order; requests past the end get an
	// empty page.
	pages [][]amocrm.Deal

	listCalls    int
	contactCalls int
	companyCalls int

	dealErr    error
	listErr    error
	contactErr error
}

func (f *fakeCRM) GetDeal(_ context.Context, id int64) (*amocrm.Deal, error) {
	if f.dealErr != nil {
		return nil, f.dealErr
	}
	deal, ok := f.deals[id]
	if !ok {
		return nil, fmt.Errorf("deal %d not found", id)
	}
	return deal, nil
}

func (f *fakeCRM) ListDeals(_ context.Context, page, _ int, _ amocrm.ListDealsOptions) ([]amocrm.Deal, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if page < 1 || page > len(f.pages) {
		return nil, nil
	}
	return f.pages[page-1], nil
}

func (f *fakeCRM) GetContacts(_ context.Context, ids []int64) ([]amocrm.Contact, error) {
	f.contactCalls++
	if f.contactErr != nil {
		return nil, f.contactErr
	}
	contacts := make([]amocrm.Contact, 0, len(ids))
	for _, id := range ids {
		contacts = append(contacts, amocrm.Contact{ID: id, Name: fmt.Sprintf("Contact %d", id)})
	}
	return contacts, nil
}

func (f *fakeCRM) GetCompanies(_ context.Context, ids []int64) ([]amocrm.Company, error) {
	f.companyCalls++
	companies := make([]amocrm.Company, 0, len(ids))
	for _, id := range ids {
		companies = append(companies, amocrm.Company{ID: id, Name: fmt.Sprintf("Company %d", id)})
	}
	return companies, nil
}

func (f *fakeCRM) GetUsers(context.Context) ([]amocrm.User, error) {
	return nil, nil
}

func (f *fakeCRM) GetPipelines(context.Context) ([]amocrm.Pipeline, error) {
	return nil, nil
}

type fakeUpserter struct {
	rows [][]string
	err  error
}

func (f *fakeUpserter) Upsert(_ context.Context, row []string) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, row)
	return nil
}

type fakeRecorder struct {
	runs     map[string]string // id -> kind
	finished map[string]journal.Counters
	events   []string // "runID/dealID/action"
	next     int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		runs:     make(map[string]string),
		finished: make(map[string]journal.Counters),
	}
}

func (f *fakeRecorder) StartRun(_ context.Context, kind string) (string, error) {
	f.next++
	id := fmt.Sprintf("run-%d", f.next)
	f.runs[id] = kind
	return id, nil
}

func (f *fakeRecorder) FinishRun(_ context.Context, id string, c journal.Counters) error {
	f.finished[id] = c
	return nil
}

func (f *fakeRecorder) RecordDealEvent(_ context.Context, runID string, dealID int64, action string) error {
	f.events = append(f.events, fmt.Sprintf("%s/%d/%s", runID, dealID, action))
	return nil
}

func matchingDeal(id int64) amocrm.Deal {
	return amocrm.Deal{
		ID:    id,
		Name:  fmt.Sprintf("Deal %d", id),
		Price: 1000,
		CustomFields: []amocrm.CustomFieldValue{
			{
				FieldID:   testFieldID,
				FieldName: testFieldName,
				Values:    []amocrm.FieldValue{{Value: testTarget, EnumID: 1039939}},
			},
		},
	}
}

func otherDeal(id int64) amocrm.Deal {
	return amocrm.Deal{
		ID:   id,
		Name: fmt.Sprintf("Deal %d", id),
		CustomFields: []amocrm.CustomFieldValue{
			{
				FieldID:   testFieldID,
				FieldName: testFieldName,
				Values:    []amocrm.FieldValue{{Value: "ЕВГ МСК"}},
			},
		},
	}
}

func newTestSyncer(crm *fakeCRM, up Upserter, rec Recorder) *Syncer {
	f := filter.New(filter.Config{
		FieldID:     testFieldID,
		FieldName:   testFieldName,
		TargetValue: testTarget,
	}, nil)
	tables := refdata.New(crm)
	return New(crm, f, up, tables, rec, NewStats(), time.UTC, Options{
		PauseEvery: 1000,
		Pause:      time.Microsecond,
	})
}

func TestProcessDealMatching(t *testing.T) {
	deal := matchingDeal(7)
	crm := &fakeCRM{deals: map[int64]*amocrm.Deal{7: &deal}}
	up := &fakeUpserter{}
	s := newTestSyncer(crm, up, nil)

	matched, err := s.ProcessDeal(context.Background(), 7, nil)
	if err != nil {
		t.Fatalf("ProcessDeal returned error: %v", err)
	}
	if !matched {
		t.Fatal("expected deal to match")
	}
	if len(up.rows) != 1 {
		t.Fatalf("expected 1 upserted row, got %d", len(up.rows))
	}
	if got := up.rows[0][3]; got != "7" {
		t.Errorf("key column = %q, want %q", got, "7")
	}
}

func TestProcessDealFiltered(t *testing.T) {
	deal := otherDeal(8)
	crm := &fakeCRM{deals: map[int64]*amocrm.Deal{8: &deal}}
	up := &fakeUpserter{}
	s := newTestSyncer(crm, up, nil)

	matched, err := s.ProcessDeal(context.Background(), 8, nil)
	if err != nil {
		t.Fatalf("ProcessDeal returned error: %v", err)
	}
	if matched {
		t.Fatal("expected deal to be filtered out")
	}
	if len(up.rows) != 0 {
		t.Fatalf("filtered deal must not be upserted, got %d rows", len(up.rows))
	}
}

func TestProcessDealUsesPayloadWithoutFetch(t *testing.T) {
	crm := &fakeCRM{deals: map[int64]*amocrm.Deal{}}
	up := &fakeUpserter{}
	s := newTestSyncer(crm, up, nil)

	deal := matchingDeal(9)
	matched, err := s.ProcessDeal(context.Background(), 9, &deal)
	if err != nil {
		t.Fatalf("ProcessDeal returned error: %v", err)
	}
	if !matched {
		t.Fatal("expected payload deal to match")
	}
}

func TestProcessDealFetchError(t *testing.T) {
	crm := &fakeCRM{dealErr: errors.New("api down")}
	up := &fakeUpserter{}
	s := newTestSyncer(crm, up, nil)

	if _, err := s.ProcessDeal(context.Background(), 1, nil); err == nil {
		t.Fatal("expected fetch error to surface")
	}
}

func TestProcessDealRelatedFetchFailureIsNotFatal(t *testing.T) {
	deal := matchingDeal(10)
	deal.Embedded = &amocrm.DealEmbedded{
		Contacts: []amocrm.EntityRef{{ID: 501}},
	}
	crm := &fakeCRM{
		deals:      map[int64]*amocrm.Deal{10: &deal},
		contactErr: errors.New("contacts unavailable"),
	}
	up := &fakeUpserter{}
	s := newTestSyncer(crm, up, nil)

	matched, err := s.ProcessDeal(context.Background(), 10, nil)
	if err != nil {
		t.Fatalf("related fetch failure must not fail the deal: %v", err)
	}
	if !matched {
		t.Fatal("expected deal to match")
	}
	if len(up.rows) != 1 {
		t.Fatal("deal must still be upserted without contact data")
	}
}

func TestProcessDealUpsertError(t *testing.T) {
	deal := matchingDeal(11)
	crm := &fakeCRM{deals: map[int64]*amocrm.Deal{11: &deal}}
	up := &fakeUpserter{err: errors.New("sheet write failed")}
	s := newTestSyncer(crm, up, nil)

	if _, err := s.ProcessDeal(context.Background(), 11, nil); err == nil {
		t.Fatal("expected upsert error to surface")
	}
}

func TestFullSyncStopsOnEmptyPage(t *testing.T) {
	pages := [][]amocrm.Deal{
		make([]amocrm.Deal, 0, 250),
		make([]amocrm.Deal, 0, 250),
		make([]amocrm.Deal, 0, 37),
	}
	var id int64
	for i, n := range []int{250, 250, 37} {
		for j := 0; j < n; j++ {
			id++
			if id%5 == 0 {
				pages[i] = append(pages[i], matchingDeal(id))
			} else {
				pages[i] = append(pages[i], otherDeal(id))
			}
		}
	}
	crm := &fakeCRM{pages: pages}
	up := &fakeUpserter{}
	s := newTestSyncer(crm, up, nil)

	res, err := s.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync returned error: %v", err)
	}

	if res.Scanned != 537 {
		t.Errorf("scanned = %d, want 537", res.Scanned)
	}
	// Every fifth deal matches.
	if res.Matched != 107 {
		t.Errorf("matched = %d, want 107", res.Matched)
	}
	if res.Upserted != res.Matched {
		t.Errorf("upserted = %d, want %d", res.Upserted, res.Matched)
	}
	// Three data pages plus the empty page that terminates the sweep.
	if crm.listCalls != 4 {
		t.Errorf("list calls = %d, want 4", crm.listCalls)
	}
	if len(up.rows) != 107 {
		t.Errorf("rows written = %d, want 107", len(up.rows))
	}
}

func TestFullSyncPerDealFailureContinues(t *testing.T) {
	page := []amocrm.Deal{matchingDeal(1), matchingDeal(2), matchingDeal(3)}
	crm := &fakeCRM{pages: [][]amocrm.Deal{page}}
	up := &failOnceUpserter{failID: "2"}
	s := newTestSyncer(crm, up, nil)

	res, err := s.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync returned error: %v", err)
	}
	if res.Scanned != 3 {
		t.Errorf("scanned = %d, want 3", res.Scanned)
	}
	if res.Failed != 1 {
		t.Errorf("failed = %d, want 1", res.Failed)
	}
	if res.Upserted != 2 {
		t.Errorf("upserted = %d, want 2", res.Upserted)
	}
}

// failOnceUpserter rejects the row whose key column equals failID.
type failOnceUpserter struct {
	failID string
	rows   [][]string
}

func (f *failOnceUpserter) Upsert(_ context.Context, row []string) error {
	if len(row) > 3 && row[3] == f.failID {
		return errors.New("write rejected")
	}
	f.rows = append(f.rows, row)
	return nil
}

func TestFullSyncPausesOnlyAfterUpserts(t *testing.T) {
	// Two matching deals up front, then a long tail of filtered ones.
	// With PauseEvery=2 the pair earns exactly one pause; the tail
	// must not retrigger it on every iteration.
	page := []amocrm.Deal{matchingDeal(1), matchingDeal(2)}
	for i := int64(3); i <= 102; i++ {
		page = append(page, otherDeal(i))
	}
	crm := &fakeCRM{pages: [][]amocrm.Deal{page}}
	up := &fakeUpserter{}

	f := filter.New(filter.Config{
		FieldID:     testFieldID,
		FieldName:   testFieldName,
		TargetValue: testTarget,
	}, nil)
	s := New(crm, f, up, refdata.New(crm), nil, NewStats(), time.UTC, Options{
		PauseEvery: 2,
		Pause:      time.Millisecond,
	})
	var pauses int
	s.sleep = func(context.Context, time.Duration) { pauses++ }

	res, err := s.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync returned error: %v", err)
	}
	if res.Upserted != 2 {
		t.Fatalf("upserted = %d, want 2", res.Upserted)
	}
	if pauses != 1 {
		t.Errorf("paused %d times, want 1", pauses)
	}
}

func TestFullSyncHonorsPageBound(t *testing.T) {
	// Every page is full, so only the bound stops the sweep.
	full := make([]amocrm.Deal, 5)
	for i := range full {
		full[i] = otherDeal(int64(i + 1))
	}
	crm := &fakeCRM{pages: [][]amocrm.Deal{full, full, full, full, full}}
	up := &fakeUpserter{}

	f := filter.New(filter.Config{
		FieldID:     testFieldID,
		TargetValue: testTarget,
	}, nil)
	s := New(crm, f, up, refdata.New(crm), nil, NewStats(), time.UTC, Options{
		MaxPages:   3,
		PauseEvery: 1000,
		Pause:      time.Microsecond,
	})

	res, err := s.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync returned error: %v", err)
	}
	if crm.listCalls != 3 {
		t.Errorf("list calls = %d, want 3", crm.listCalls)
	}
	if res.Scanned != 15 {
		t.Errorf("scanned = %d, want 15", res.Scanned)
	}
}

func TestFullSyncCancellation(t *testing.T) {
	full := make([]amocrm.Deal, 5)
	for i := range full {
		full[i] = otherDeal(int64(i + 1))
	}
	crm := &fakeCRM{pages: [][]amocrm.Deal{full, full, full}}
	up := &fakeUpserter{}
	s := newTestSyncer(crm, up, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := s.FullSync(ctx)
	if err != nil {
		t.Fatalf("FullSync returned error: %v", err)
	}
	if res.Scanned != 0 {
		t.Errorf("cancelled sweep scanned %d deals, want 0", res.Scanned)
	}
}

func TestFullSyncRecordsJournalRun(t *testing.T) {
	page := []amocrm.Deal{matchingDeal(1), otherDeal(2)}
	crm := &fakeCRM{pages: [][]amocrm.Deal{page}}
	up := &fakeUpserter{}
	rec := newFakeRecorder()
	s := newTestSyncer(crm, up, rec)

	if _, err := s.FullSync(context.Background()); err != nil {
		t.Fatalf("FullSync returned error: %v", err)
	}

	if got := rec.runs["run-1"]; got != journal.KindFull {
		t.Errorf("run kind = %q, want %q", got, journal.KindFull)
	}
	c, ok := rec.finished["run-1"]
	if !ok {
		t.Fatal("run was never finished")
	}
	if c.Scanned != 2 || c.Matched != 1 || c.Upserted != 1 {
		t.Errorf("counters = %+v, want scanned=2 matched=1 upserted=1", c)
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected 1 deal event, got %d", len(rec.events))
	}
	if rec.events[0] != "run-1/1/upserted" {
		t.Errorf("event = %q, want %q", rec.events[0], "run-1/1/upserted")
	}
}

func TestSyncOne(t *testing.T) {
	deal := matchingDeal(33)
	crm := &fakeCRM{deals: map[int64]*amocrm.Deal{33: &deal}}
	up := &fakeUpserter{}
	rec := newFakeRecorder()
	s := newTestSyncer(crm, up, rec)

	if err := s.SyncOne(context.Background(), journal.KindWebhook, 33, nil); err != nil {
		t.Fatalf("SyncOne returned error: %v", err)
	}

	if got := rec.runs["run-1"]; got != journal.KindWebhook {
		t.Errorf("run kind = %q, want %q", got, journal.KindWebhook)
	}
	c := rec.finished["run-1"]
	if c.Scanned != 1 || c.Matched != 1 || c.Upserted != 1 || c.Failed != 0 {
		t.Errorf("counters = %+v, want scanned=1 matched=1 upserted=1", c)
	}
}

func TestSyncOneFilteredRecordsEvent(t *testing.T) {
	deal := otherDeal(34)
	crm := &fakeCRM{deals: map[int64]*amocrm.Deal{34: &deal}}
	rec := newFakeRecorder()
	s := newTestSyncer(crm, &fakeUpserter{}, rec)

	if err := s.SyncOne(context.Background(), journal.KindDeal, 34, nil); err != nil {
		t.Fatalf("SyncOne returned error: %v", err)
	}
	if len(rec.events) != 1 || rec.events[0] != "run-1/34/filtered" {
		t.Errorf("events = %v, want one filtered event", rec.events)
	}
}

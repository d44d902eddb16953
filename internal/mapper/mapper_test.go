package mapper

import (
	"testing"
	"time"

	"github.com/nebar/barsync/internal/amocrm"
)

var moscow = mustLoadMoscow()

func mustLoadMoscow() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		panic(err)
	}
	return loc
}

// staticLookups is a fixed Lookups table for tests.
type staticLookups struct {
	users     map[int64]string
	pipelines map[int64]string
	stages    map[[2]int64]string
}

func (l staticLookups) UserName(id int64) string     { return l.users[id] }
func (l staticLookups) PipelineName(id int64) string { return l.pipelines[id] }
func (l staticLookups) StageName(pipelineID, statusID int64) string {
	return l.stages[[2]int64{pipelineID, statusID}]
}

func emptyLookups() staticLookups {
	return staticLookups{
		users:     map[int64]string{},
		pipelines: map[int64]string{},
		stages:    map[[2]int64]string{},
	}
}

func field(name, value string) amocrm.CustomFieldValue {
	return amocrm.CustomFieldValue{
		FieldName: name,
		Values:    []amocrm.FieldValue{{Value: value}},
	}
}

func TestMapDealToRow_LengthInvariant(t *testing.T) {
	deals := []*amocrm.Deal{
		{ID: 1},
		{ID: 2, CustomFields: []amocrm.CustomFieldValue{field("UTM_SOURCE", "yandex")}},
		{ID: 3, CustomFields: make([]amocrm.CustomFieldValue, 100)},
	}
	for _, deal := range deals {
		row := MapDealToRow(deal, nil, nil, emptyLookups(), moscow)
		if len(row) != len(Columns) {
			t.Errorf("deal %d: row length %d, want %d", deal.ID, len(row), len(Columns))
		}
	}
}

func TestMapDealToRow_NoCustomFields(t *testing.T) {
	deal := &amocrm.Deal{ID: 42, Name: "Corporate party", Price: 15000}
	row := MapDealToRow(deal, nil, nil, emptyLookups(), moscow)

	if row[KeyColumn] != "42" {
		t.Errorf("ID column = %q, want 42", row[KeyColumn])
	}
	if row[4] != "Corporate party" {
		t.Errorf("name column = %q", row[4])
	}
	if row[18] != "15000" {
		t.Errorf("budget column = %q, want 15000", row[18])
	}
	// Every custom-field-derived column must be empty, not null, not absent.
	for _, i := range []int{12, 19, 24, 35, 39, 56, 63} {
		if row[i] != "" {
			t.Errorf("column %d (%s) = %q, want empty", i, Columns[i], row[i])
		}
	}
}

func TestMapDealToRow_PipelineStageResolution(t *testing.T) {
	lookups := staticLookups{
		users:     map[int64]string{},
		pipelines: map[int64]string{10: "Sales"},
		stages:    map[[2]int64]string{{10, 6}: "Won"},
	}

	row := MapDealToRow(&amocrm.Deal{ID: 1, PipelineID: 10, StatusID: 6}, nil, nil, lookups, moscow)
	if row[9] != "Sales" || row[10] != "Won" {
		t.Errorf("pipeline/stage = %q/%q, want Sales/Won", row[9], row[10])
	}

	row = MapDealToRow(&amocrm.Deal{ID: 2, PipelineID: 99, StatusID: 6}, nil, nil, lookups, moscow)
	if row[9] != "" || row[10] != "" {
		t.Errorf("unknown pipeline should yield empty strings, got %q/%q", row[9], row[10])
	}
}

func TestMapDealToRow_DateDerivation(t *testing.T) {
	// 2024-03-15 12:00:00 MSK
	created := time.Date(2024, 3, 15, 12, 0, 0, 0, moscow).Unix()
	row := MapDealToRow(&amocrm.Deal{ID: 1, CreatedAt: created}, nil, nil, emptyLookups(), moscow)

	if row[0] != "15.03.2024" {
		t.Errorf("request date = %q, want 15.03.2024", row[0])
	}
	if row[1] != "Март" {
		t.Errorf("month = %q, want Март", row[1])
	}
	if row[2] != "2024" {
		t.Errorf("year = %q, want 2024", row[2])
	}
	if row[13] != "15.03.2024, 12:00:00" {
		t.Errorf("created datetime = %q", row[13])
	}
}

func TestMapDealToRow_ZeroTimestampsEmpty(t *testing.T) {
	row := MapDealToRow(&amocrm.Deal{ID: 1}, nil, nil, emptyLookups(), moscow)
	for _, i := range []int{0, 1, 2, 13, 15, 17} {
		if row[i] != "" {
			t.Errorf("column %d = %q, want empty for zero timestamp", i, row[i])
		}
	}
}

func TestMapDealToRow_ContactAndCompany(t *testing.T) {
	contact := amocrm.Contact{
		ID:   7,
		Name: "Ivan Petrov",
		CustomFields: []amocrm.CustomFieldValue{
			{
				FieldName: "Телефон",
				Values: []amocrm.FieldValue{
					{Value: "+7 812 000-00-01", EnumCode: "WORK"},
					{Value: "+7 921 000-00-02", EnumCode: "MOB"},
				},
			},
			{
				FieldName: "Email",
				Values: []amocrm.FieldValue{
					{Value: "ivan@example.com", EnumCode: "WORK"},
				},
			},
		},
	}
	secondContact := amocrm.Contact{ID: 8, Name: "Ignored"}
	company := amocrm.Company{ID: 3, Name: "ООО Ромашка"}

	deal := &amocrm.Deal{ID: 1}
	row := MapDealToRow(deal, []amocrm.Contact{contact, secondContact}, []amocrm.Company{company}, emptyLookups(), moscow)

	if row[5] != "ООО Ромашка" {
		t.Errorf("company = %q", row[5])
	}
	if row[6] != "Ivan Petrov" {
		t.Errorf("main contact = %q; only the first contact is used", row[6])
	}
	if row[51] != "+7 812 000-00-01" {
		t.Errorf("work phone = %q", row[51])
	}
	if row[52] != "+7 921 000-00-02" {
		t.Errorf("mobile phone = %q", row[52])
	}
	// No OTHER email: falls back to the first email value.
	if row[53] != "ivan@example.com" {
		t.Errorf("email = %q, want first-value fallback", row[53])
	}
}

func TestMapDealToRow_Tags(t *testing.T) {
	deal := &amocrm.Deal{
		ID:   1,
		Tags: []amocrm.Tag{{Name: "vip"}, {Name: "repeat"}},
	}
	row := MapDealToRow(deal, nil, nil, emptyLookups(), moscow)
	if row[11] != "vip, repeat" {
		t.Errorf("tags = %q, want joined list", row[11])
	}

	embedded := &amocrm.Deal{ID: 2, Embedded: &amocrm.DealEmbedded{Tags: []amocrm.Tag{{Name: "bar"}}}}
	row = MapDealToRow(embedded, nil, nil, emptyLookups(), moscow)
	if row[11] != "bar" {
		t.Errorf("embedded tags = %q, want bar", row[11])
	}
}

func TestCustomField(t *testing.T) {
	fields := []amocrm.CustomFieldValue{
		field("UTM_SOURCE", "yandex"),
		{FieldName: "FORMID"}, // no values
		{
			FieldName: "QUANTITY",
			Values:    []amocrm.FieldValue{{Value: float64(2)}, {Value: float64(3)}},
		},
	}

	if got := CustomField(fields, "UTM_SOURCE"); got != "yandex" {
		t.Errorf("UTM_SOURCE = %q", got)
	}
	if got := CustomField(fields, "QUANTITY"); got != "2" {
		t.Errorf("QUANTITY = %q, want first value only", got)
	}
	if got := CustomField(fields, "FORMID"); got != "" {
		t.Errorf("field with no values = %q, want empty", got)
	}
	if got := CustomField(fields, "UTM_SOUR"); got != "" {
		t.Errorf("partial name must not match, got %q", got)
	}
	if got := CustomField(nil, "UTM_SOURCE"); got != "" {
		t.Errorf("nil fields = %q, want empty", got)
	}
}

func TestColumns_SchemaSize(t *testing.T) {
	if len(Columns) != 64 {
		t.Fatalf("schema has %d columns, want 64", len(Columns))
	}
	if Columns[KeyColumn] != "ID" {
		t.Errorf("key column header = %q, want ID", Columns[KeyColumn])
	}
}

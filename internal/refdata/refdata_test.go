package refdata

import (
	"context"
	"errors"
	"testing"

	"github.com/nebar/barsync/internal/amocrm"
)

type fakeSource struct {
	users        []amocrm.User
	pipelines    []amocrm.Pipeline
	usersErr     error
	pipelinesErr error
}

func (f *fakeSource) GetUsers(ctx context.Context) ([]amocrm.User, error) {
	return f.users, f.usersErr
}

func (f *fakeSource) GetPipelines(ctx context.Context) ([]amocrm.Pipeline, error) {
	return f.pipelines, f.pipelinesErr
}

func salesPipeline() amocrm.Pipeline {
	p := amocrm.Pipeline{ID: 10, Name: "Sales"}
	p.Embedded.Statuses = []amocrm.Status{
		{ID: 5, Name: "New"},
		{ID: 6, Name: "Won"},
	}
	return p
}

func TestTables_Lookups(t *testing.T) {
	src := &fakeSource{
		users:     []amocrm.User{{ID: 1, Name: "Anna"}},
		pipelines: []amocrm.Pipeline{salesPipeline()},
	}
	tables := New(src)
	if err := tables.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := tables.UserName(1); got != "Anna" {
		t.Errorf("UserName(1) = %q, want Anna", got)
	}
	if got := tables.UserName(99); got != "" {
		t.Errorf("UserName(99) = %q, want empty", got)
	}
	if got := tables.PipelineName(10); got != "Sales" {
		t.Errorf("PipelineName(10) = %q, want Sales", got)
	}
	if got := tables.StageName(10, 6); got != "Won" {
		t.Errorf("StageName(10,6) = %q, want Won", got)
	}
	if got := tables.StageName(10, 777); got != "" {
		t.Errorf("StageName unknown stage = %q, want empty", got)
	}
	if got := tables.StageName(99, 6); got != "" {
		t.Errorf("StageName unknown pipeline = %q, want empty", got)
	}
}

func TestTables_EmptyBeforeReload(t *testing.T) {
	tables := New(&fakeSource{})
	if got := tables.UserName(1); got != "" {
		t.Errorf("expected empty lookup before reload, got %q", got)
	}
	if got := tables.PipelineName(10); got != "" {
		t.Errorf("expected empty lookup before reload, got %q", got)
	}
}

func TestTables_ReloadFailureKeepsOldTables(t *testing.T) {
	src := &fakeSource{
		users:     []amocrm.User{{ID: 1, Name: "Anna"}},
		pipelines: []amocrm.Pipeline{salesPipeline()},
	}
	tables := New(src)
	if err := tables.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	src.usersErr = errors.New("boom")
	if err := tables.Reload(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}
	if got := tables.UserName(1); got != "Anna" {
		t.Errorf("expected previous tables to survive failed reload, got %q", got)
	}
}

func TestTables_ReloadReplacesWholesale(t *testing.T) {
	src := &fakeSource{users: []amocrm.User{{ID: 1, Name: "Anna"}}}
	tables := New(src)
	if err := tables.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	src.users = []amocrm.User{{ID: 2, Name: "Boris"}}
	if err := tables.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := tables.UserName(1); got != "" {
		t.Errorf("expected user 1 gone after reload, got %q", got)
	}
	if got := tables.UserName(2); got != "Boris" {
		t.Errorf("UserName(2) = %q, want Boris", got)
	}
}

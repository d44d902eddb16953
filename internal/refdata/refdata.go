// Package refdata holds the reference tables (users, pipelines with their
// stages) the mapper and filter resolve display names against. The tables
// are owned by the orchestrator and rebuilt from scratch on Reload; there
// is no incremental invalidation.
package refdata

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nebar/barsync/internal/amocrm"
)

// Source is the CRM read surface the tables are loaded from.
type Source interface {
	GetUsers(ctx context.Context) ([]amocrm.User, error)
	GetPipelines(ctx context.Context) ([]amocrm.Pipeline, error)
}

// Tables maps user IDs to names and pipeline IDs to pipelines. Reads are
// safe concurrently with a Reload: lookups run against the generation of
// caches current when they start.
type Tables struct {
	source Source

	mu        sync.RWMutex
	users     *gocache.Cache
	pipelines *gocache.Cache
}

// New creates empty Tables backed by source.
func New(source Source) *Tables {
	return &Tables{
		source:    source,
		users:     gocache.New(gocache.NoExpiration, 0),
		pipelines: gocache.New(gocache.NoExpiration, 0),
	}
}

// Reload fetches the full user and pipeline lists and replaces both tables
// wholesale. On error the previous tables stay in place.
func (t *Tables) Reload(ctx context.Context) error {
	users, err := t.source.GetUsers(ctx)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	pipelines, err := t.source.GetPipelines(ctx)
	if err != nil {
		return fmt.Errorf("load pipelines: %w", err)
	}

	freshUsers := gocache.New(gocache.NoExpiration, 0)
	for _, u := range users {
		freshUsers.Set(key(u.ID), u, gocache.NoExpiration)
	}
	freshPipelines := gocache.New(gocache.NoExpiration, 0)
	for _, p := range pipelines {
		freshPipelines.Set(key(p.ID), p, gocache.NoExpiration)
	}

	t.mu.Lock()
	t.users = freshUsers
	t.pipelines = freshPipelines
	t.mu.Unlock()

	slog.Info("reference data reloaded", "users", len(users), "pipelines", len(pipelines))
	return nil
}

// UserName resolves a user ID to a display name, "" when unknown.
func (t *Tables) UserName(id int64) string {
	if id == 0 {
		return ""
	}
	t.mu.RLock()
	users := t.users
	t.mu.RUnlock()
	if v, ok := users.Get(key(id)); ok {
		return v.(amocrm.User).Name
	}
	return ""
}

// PipelineName resolves a pipeline ID to its name, "" when unknown.
func (t *Tables) PipelineName(id int64) string {
	if p, ok := t.pipeline(id); ok {
		return p.Name
	}
	return ""
}

// StageName resolves a stage within a pipeline, "" when either is unknown.
func (t *Tables) StageName(pipelineID, statusID int64) string {
	p, ok := t.pipeline(pipelineID)
	if !ok {
		return ""
	}
	for _, s := range p.Embedded.Statuses {
		if s.ID == statusID {
			return s.Name
		}
	}
	return ""
}

func (t *Tables) pipeline(id int64) (amocrm.Pipeline, bool) {
	t.mu.RLock()
	pipelines := t.pipelines
	t.mu.RUnlock()
	if v, ok := pipelines.Get(key(id)); ok {
		return v.(amocrm.Pipeline), true
	}
	return amocrm.Pipeline{}, false
}

func key(id int64) string {
	return strconv.FormatInt(id, 10)
}

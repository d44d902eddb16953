package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Upserter writes rows keyed by the deal ID column. Find-then-write is not
// atomic against a remote spreadsheet, so upserts for the same key are
// serialized through a per-key mutex; concurrent upserts for different keys
// proceed independently.
type Upserter struct {
	store     RowStore
	keyColumn int
	width     int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewUpserter creates an Upserter over store. keyColumn is the zero-based
// index of the primary-key column; width is the schema length every written
// row is padded or truncated to.
func NewUpserter(store RowStore, keyColumn, width int) *Upserter {
	return &Upserter{
		store:     store,
		keyColumn: keyColumn,
		width:     width,
		locks:     make(map[string]*sync.Mutex),
	}
}

// FindRow scans the key column top to bottom and returns the index of the
// first row whose key equals key, or ErrRowNotFound.
func (u *Upserter) FindRow(ctx context.Context, key string) (int, error) {
	keys, err := u.store.ReadKeyColumn(ctx)
	if err != nil {
		return 0, fmt.Errorf("read key column: %w", err)
	}
	for i, k := range keys {
		if k != "" && k == key {
			return i, nil
		}
	}
	return 0, ErrRowNotFound
}

// Upsert writes row into the store: the existing row with the same key is
// overwritten in place, otherwise the row is appended. Sequentially
// idempotent for a given key.
func (u *Upserter) Upsert(ctx context.Context, row []string) error {
	row = u.normalize(row)
	key := row[u.keyColumn]
	if key == "" {
		return fmt.Errorf("upsert: empty key column %d", u.keyColumn)
	}

	lock := u.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	index, err := u.FindRow(ctx, key)
	switch {
	case err == nil:
		if err := u.store.UpdateRow(ctx, index, row); err != nil {
			return fmt.Errorf("update row %d for key %s: %w", index, key, err)
		}
		slog.Debug("row updated", "key", key, "row", index)
		return nil
	case errors.Is(err, ErrRowNotFound):
		if err := u.store.AppendRow(ctx, row); err != nil {
			return fmt.Errorf("append row for key %s: %w", key, err)
		}
		slog.Debug("row appended", "key", key)
		return nil
	default:
		return err
	}
}

// normalize pads or truncates the row to the schema width; absent cells
// become empty strings, never omitted.
func (u *Upserter) normalize(row []string) []string {
	if len(row) == u.width {
		return row
	}
	out := make([]string, u.width)
	copy(out, row)
	return out
}

func (u *Upserter) keyLock(key string) *sync.Mutex {
	u.mu.Lock()
	defer u.mu.Unlock()
	if l, ok := u.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	u.locks[key] = l
	return l
}

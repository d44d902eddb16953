// Package sheets writes mapped deal rows to a spreadsheet: a RowStore
// abstraction over the vendor API and an Upserter implementing
// find-by-key-then-update-or-append on top of it.
package sheets

import (
	"context"
	"errors"
)

// ErrRowNotFound is returned by FindRow when no row carries the key.
var ErrRowNotFound = errors.New("row not found")

// RowStore is the minimal spreadsheet surface the upsert engine needs.
// Row indices are zero-based data rows; the header row is not addressable.
type RowStore interface {
	// EnsureHeader verifies the header row matches the schema exactly and
	// rewrites it when it does not.
	EnsureHeader(ctx context.Context) error

	// ReadKeyColumn returns the key-column cell of every data row, in
	// sheet order. Blank trailing rows may appear as empty strings.
	ReadKeyColumn(ctx context.Context) ([]string, error)

	// UpdateRow overwrites every cell of the data row at index.
	UpdateRow(ctx context.Context, index int, row []string) error

	// AppendRow appends a new data row after the last one.
	AppendRow(ctx context.Context, row []string) error
}

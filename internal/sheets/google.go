package sheets

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// GoogleSheet implements RowStore against one worksheet of a Google
// spreadsheet, authorized with a service-account JSON key.
type GoogleSheet struct {
	svc           *sheetsapi.Service
	spreadsheetID string
	sheetName     string
	header        []string
	keyColumn     int
	lastColumn    string // A1 letter of the last schema column
}

// GoogleSheetConfig configures NewGoogleSheet.
type GoogleSheetConfig struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON []byte
	Header          []string
	KeyColumn       int
}

// NewGoogleSheet builds a Sheets API service authorized with the service
// account's JWT flow and binds it to one worksheet.
func NewGoogleSheet(ctx context.Context, cfg GoogleSheetConfig) (*GoogleSheet, error) {
	jwt, err := google.JWTConfigFromJSON(cfg.CredentialsJSON, sheetsapi.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	svc, err := sheetsapi.NewService(ctx, option.WithTokenSource(jwt.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return newGoogleSheet(svc, cfg), nil
}

// newGoogleSheet wires a pre-built service; used by tests with a service
// pointed at a local HTTP server.
func newGoogleSheet(svc *sheetsapi.Service, cfg GoogleSheetConfig) *GoogleSheet {
	return &GoogleSheet{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		header:        cfg.Header,
		keyColumn:     cfg.KeyColumn,
		lastColumn:    columnLetter(len(cfg.Header)),
	}
}

// EnsureHeader compares the first sheet row with the schema and rewrites it
// on any mismatch, including a missing or short header.
func (g *GoogleSheet) EnsureHeader(ctx context.Context) error {
	rng := fmt.Sprintf("%s!A1:%s1", g.sheetName, g.lastColumn)
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header row: %w", err)
	}

	if len(resp.Values) > 0 && headerMatches(resp.Values[0], g.header) {
		return nil
	}

	slog.Info("header row missing or stale, rewriting", "sheet", g.sheetName, "columns", len(g.header))
	values := make([]any, len(g.header))
	for i, h := range g.header {
		values[i] = h
	}
	_, err = g.svc.Spreadsheets.Values.Update(g.spreadsheetID, rng, &sheetsapi.ValueRange{
		Values: [][]any{values},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header row: %w", err)
	}
	return nil
}

// ReadKeyColumn reads the key column of all data rows (row 2 downward).
func (g *GoogleSheet) ReadKeyColumn(ctx context.Context) ([]string, error) {
	col := columnLetter(g.keyColumn + 1)
	rng := fmt.Sprintf("%s!%s2:%s", g.sheetName, col, col)
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read key column: %w", err)
	}

	keys := make([]string, len(resp.Values))
	for i, cells := range resp.Values {
		if len(cells) > 0 {
			keys[i] = fmt.Sprint(cells[0])
		}
	}
	return keys, nil
}

// UpdateRow overwrites the data row at index (zero-based; sheet row index+2).
func (g *GoogleSheet) UpdateRow(ctx context.Context, index int, row []string) error {
	sheetRow := index + 2
	rng := fmt.Sprintf("%s!A%d:%s%d", g.sheetName, sheetRow, g.lastColumn, sheetRow)
	_, err := g.svc.Spreadsheets.Values.Update(g.spreadsheetID, rng, &sheetsapi.ValueRange{
		Values: [][]any{toCells(row)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update row %d: %w", sheetRow, err)
	}
	return nil
}

// AppendRow appends a data row after the last non-empty one.
func (g *GoogleSheet) AppendRow(ctx context.Context, row []string) error {
	rng := fmt.Sprintf("%s!A1:%s1", g.sheetName, g.lastColumn)
	_, err := g.svc.Spreadsheets.Values.Append(g.spreadsheetID, rng, &sheetsapi.ValueRange{
		Values: [][]any{toCells(row)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	return nil
}

func headerMatches(got []any, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i, cell := range got {
		if fmt.Sprint(cell) != want[i] {
			return false
		}
	}
	return true
}

func toCells(row []string) []any {
	cells := make([]any, len(row))
	for i, v := range row {
		cells[i] = v
	}
	return cells
}

// columnLetter converts a one-based column number to its A1 letter
// ("D" for 4, "BL" for 64).
func columnLetter(n int) string {
	var s string
	for n > 0 {
		n--
		s = string(rune('A'+n%26)) + s
		n /= 26
	}
	return s
}

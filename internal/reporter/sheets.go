// Package reporter delivers the daily summary to its sinks.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/telhawk-systems/gradersync/internal/config"
	"github.com/telhawk-systems/gradersync/internal/model"
)

// ErrNoSheets is returned when the spreadsheet has no worksheet to append to.
var ErrNoSheets = errors.New("spreadsheet has no sheets")

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// SpreadsheetID extracts the document id from a Google Sheets URL.
func SpreadsheetID(documentURL string) (string, error) {
	m := spreadsheetIDPattern.FindStringSubmatch(documentURL)
	if m == nil {
		return "", fmt.Errorf("no spreadsheet id in %q", documentURL)
	}
	return m[1], nil
}

// SheetsReporter appends the summary as one row to the first worksheet of a
// spreadsheet, authenticating with a service-account credentials file.
type SheetsReporter struct {
	spreadsheetID string
	opts          []option.ClientOption
}

// NewSheetsReporter validates the document URL. Authentication is deferred
// to Report so credential problems surface as a report failure.
// Extra client options replace the credentials file option.
func NewSheetsReporter(cfg config.SheetsConfig, opts ...option.ClientOption) (*SheetsReporter, error) {
	id, err := SpreadsheetID(cfg.DocumentURL)
	if err != nil {
		return nil, err
	}

	if len(opts) == 0 {
		opts = []option.ClientOption{
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(sheets.SpreadsheetsScope),
		}
	}

	return &SheetsReporter{spreadsheetID: id, opts: opts}, nil
}

func (r *SheetsReporter) Name() string { return "sheets" }

// Report appends summary.Row() below the existing data of the first sheet.
func (r *SheetsReporter) Report(ctx context.Context, summary model.DailySummary) error {
	svc, err := sheets.NewService(ctx, r.opts...)
	if err != nil {
		return fmt.Errorf("failed to create sheets client: %w", err)
	}

	doc, err := svc.Spreadsheets.Get(r.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	if len(doc.Sheets) == 0 || doc.Sheets[0].Properties == nil {
		return ErrNoSheets
	}

	rng := quoteSheetTitle(doc.Sheets[0].Properties.Title)
	values := &sheets.ValueRange{Values: [][]any{summary.Row()}}

	_, err = svc.Spreadsheets.Values.Append(r.spreadsheetID, rng, values).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to append row: %w", err)
	}
	return nil
}

// quoteSheetTitle renders a title as an A1 range that covers the whole sheet.
func quoteSheetTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// Package gsheets inspects the spreadsheet behind an Apps Script endpoint
// directly through the Google Sheets API. It is an optional setup aid; the
// wallet itself only talks to the endpoint.
package gsheets

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Tab names the backend reads and writes.
const (
	TransactionsTab = "Transactions"
	CategoriesTab   = "Categories"
)

// transactionColumns is the header row the backend expects, in order.
var transactionColumns = []string{"Date", "Description", "Amount", "Type", "Category", "Remarks"}

// Report describes a spreadsheet as seen by Probe.
type Report struct {
	SpreadsheetID   string   `json:"spreadsheetId"`
	Title           string   `json:"title"`
	Tabs            []string `json:"tabs"`
	HasTransactions bool     `json:"hasTransactions"`
	HasCategories   bool     `json:"hasCategories"`
	// TransactionRows counts data rows below the header.
	TransactionRows int `json:"transactionRows"`
	// Problems lists layout issues that will break the backend.
	Problems []string `json:"problems,omitempty"`
}

// OK reports whether the spreadsheet has the layout the backend needs.
func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

// Prober reads spreadsheet metadata.
type Prober struct {
	srv *sheets.Service
}

// NewProber creates a Prober. Pass option.WithCredentialsFile for a service
// account key; with no options Application Default Credentials are used.
func NewProber(ctx context.Context, opts ...option.ClientOption) (*Prober, error) {
	opts = append([]option.ClientOption{option.WithScopes(sheets.SpreadsheetsReadonlyScope)}, opts...)
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewProber: create sheets service: %w", err)
	}
	return &Prober{srv: srv}, nil
}

// Probe fetches the spreadsheet's tabs and checks the Transactions header.
func (p *Prober) Probe(ctx context.Context, spreadsheetID string) (*Report, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, fmt.Errorf("Probe: spreadsheet ID is required")
	}

	sp, err := p.srv.Spreadsheets.Get(spreadsheetID).
		Fields("properties.title", "sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("Probe: get spreadsheet %s: %w", spreadsheetID, err)
	}

	report := &Report{SpreadsheetID: spreadsheetID, Tabs: []string{}}
	if sp.Properties != nil {
		report.Title = sp.Properties.Title
	}
	for _, s := range sp.Sheets {
		if s.Properties == nil {
			continue
		}
		report.Tabs = append(report.Tabs, s.Properties.Title)
		switch s.Properties.Title {
		case TransactionsTab:
			report.HasTransactions = true
		case CategoriesTab:
			report.HasCategories = true
		}
	}

	if !report.HasTransactions {
		report.Problems = append(report.Problems, fmt.Sprintf("missing %q tab", TransactionsTab))
		return report, nil
	}
	if !report.HasCategories {
		// The backend creates it on the first addCategory.
		report.Problems = append(report.Problems, fmt.Sprintf("missing %q tab", CategoriesTab))
	}

	vr, err := p.srv.Spreadsheets.Values.Get(spreadsheetID, TransactionsTab+"!A:F").
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("Probe: read %s: %w", TransactionsTab, err)
	}

	if len(vr.Values) == 0 {
		report.Problems = append(report.Problems, fmt.Sprintf("%q tab has no header row", TransactionsTab))
		return report, nil
	}
	report.Problems = append(report.Problems, checkHeader(vr.Values[0])...)
	for _, row := range vr.Values[1:] {
		// The backend skips rows without a date.
		if len(row) > 0 && strings.TrimSpace(fmt.Sprint(row[0])) != "" {
			report.TransactionRows++
		}
	}
	return report, nil
}

func checkHeader(row []any) []string {
	var problems []string
	for i, want := range transactionColumns {
		got := ""
		if i < len(row) {
			got = strings.TrimSpace(fmt.Sprint(row[i]))
		}
		if !strings.EqualFold(got, want) {
			problems = append(problems, fmt.Sprintf("column %c: want %q, got %q", 'A'+i, want, got))
		}
	}
	return problems
}

package gsheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// fakeSheetsAPI serves the two Sheets API calls Probe makes.
func fakeSheetsAPI(t *testing.T, tabs []string, rows [][]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/v4/spreadsheets/sheet-1"):
			sheetList := make([]map[string]any, 0, len(tabs))
			for _, tab := range tabs {
				sheetList = append(sheetList, map[string]any{"properties": map[string]any{"title": tab}})
			}
			json.NewEncoder(w).Encode(map[string]any{
				"spreadsheetId": "sheet-1",
				"properties":    map[string]any{"title": "Family budget"},
				"sheets":        sheetList,
			})
		case strings.Contains(r.URL.Path, "/v4/spreadsheets/sheet-1/values/"):
			json.NewEncoder(w).Encode(map[string]any{
				"range":          "Transactions!A1:F100",
				"majorDimension": "ROWS",
				"values":         rows,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": 404, "message": "Requested entity was not found."},
			})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProber(t *testing.T, srv *httptest.Server) *Prober {
	t.Helper()
	p, err := NewProber(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return p
}

func TestProbe_ValidLayout(t *testing.T) {
	srv := fakeSheetsAPI(t, []string{"Transactions", "Categories"}, [][]any{
		{"Date", "Description", "Amount", "Type", "Category", "Remarks"},
		{"2024-03-01", "Salary", 5000, "Income", "Salary"},
		{"", "", "", "", ""},
		{"2024-03-02", "Coffee", 4.5, "Expense", "Food"},
	})

	report, err := newTestProber(t, srv).Probe(context.Background(), "sheet-1")
	require.NoError(t, err)
	assert.Equal(t, "Family budget", report.Title)
	assert.Equal(t, []string{"Transactions", "Categories"}, report.Tabs)
	assert.True(t, report.HasTransactions)
	assert.True(t, report.HasCategories)
	assert.Equal(t, 2, report.TransactionRows)
	assert.True(t, report.OK(), report.Problems)
}

func TestProbe_LayoutProblems(t *testing.T) {
	srv := fakeSheetsAPI(t, []string{"Transactions"}, [][]any{
		{"Date", "Memo", "Amount"},
	})

	report, err := newTestProber(t, srv).Probe(context.Background(), "sheet-1")
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.False(t, report.HasCategories)
	assert.Contains(t, report.Problems, `missing "Categories" tab`)
	assert.Contains(t, report.Problems, `column B: want "Description", got "Memo"`)
	assert.Contains(t, report.Problems, `column F: want "Remarks", got ""`)
}

func TestProbe_MissingTransactionsTab(t *testing.T) {
	srv := fakeSheetsAPI(t, []string{"Sheet1"}, nil)

	report, err := newTestProber(t, srv).Probe(context.Background(), "sheet-1")
	require.NoError(t, err)
	assert.False(t, report.HasTransactions)
	assert.Equal(t, []string{`missing "Transactions" tab`}, report.Problems)
}

func TestProbe_Errors(t *testing.T) {
	srv := fakeSheetsAPI(t, nil, nil)
	p := newTestProber(t, srv)

	_, err := p.Probe(context.Background(), "unknown")
	assert.Error(t, err)

	_, err = p.Probe(context.Background(), " ")
	assert.Error(t, err)
}

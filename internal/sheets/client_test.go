package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/dvloznov/sheets-wallet/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScript mimics a deployed Apps Script backend keeping rows in memory.
type fakeScript struct {
	mu       sync.Mutex
	rows     []map[string]any
	lastPost map[string]any
	lastGet  map[string]string
	summary  map[string]any
}

func (f *fakeScript) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	reply := func(data any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": data})
	}

	if r.Method == http.MethodGet {
		f.lastGet = map[string]string{}
		for k := range r.URL.Query() {
			f.lastGet[k] = r.URL.Query().Get(k)
		}
		switch r.URL.Query().Get("action") {
		case ActionTest:
			reply(map[string]any{"status": "success", "message": "Connection successful"})
		case ActionGetTransactions:
			reply(f.rows)
		case ActionGetBalanceSummary:
			reply(f.summary)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "data": map[string]any{"error": "Invalid action"}})
		}
		return
	}

	body, _ := io.ReadAll(r.Body)
	var req map[string]any
	_ = json.Unmarshal(body, &req)
	f.lastPost = req

	switch req["action"] {
	case ActionAddTransaction:
		row := req["data"].(map[string]any)
		f.rows = append(f.rows, row)
		reply(map[string]any{"success": true, "message": "Transaction added successfully", "data": row})
	case ActionDeleteTransaction:
		reply(map[string]any{"success": false, "message": "Transaction not found"})
	case ActionGetFilteredTransactions:
		filters, _ := req["filters"].(map[string]any)
		matched := []map[string]any{}
		for _, row := range f.rows {
			if cat, ok := filters["category"]; ok && row["category"] != cat {
				continue
			}
			matched = append(matched, row)
		}
		reply(matched)
	default:
		reply(map[string]any{"success": true})
	}
}

func newConnectedClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClient(WithHTTPClient(srv.Client()), WithTimeout(5*time.Second))
	c.Configure(domain.ConnectionConfig{EndpointURL: srv.URL + "/exec", SpreadsheetID: "abc123"})
	ok, err := c.TestConnection(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	return c, srv
}

func TestClient_BalanceSummaryScenario(t *testing.T) {
	fake := &fakeScript{summary: map[string]any{
		"totalBalance":     1250.5,
		"totalIncome":      3000,
		"totalExpenses":    1749.5,
		"transactionCount": 12,
	}}
	c, _ := newConnectedClient(t, fake)

	assert.True(t, c.IsConnected())

	summary, err := c.BalanceSummary(context.Background())
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("1250.5").Equal(summary.TotalBalance))
	assert.True(t, decimal.NewFromInt(3000).Equal(summary.TotalIncome))
	assert.True(t, decimal.RequireFromString("1749.5").Equal(summary.TotalExpenses))
	assert.Equal(t, 12, summary.TransactionCount)

	assert.Equal(t, ActionGetBalanceSummary, fake.lastGet["action"])
	assert.Equal(t, "abc123", fake.lastGet["spreadsheetId"])
}

func TestClient_AddThenList(t *testing.T) {
	fake := &fakeScript{}
	c, _ := newConnectedClient(t, fake)
	c.newID = func() string { return "fixed-id" }
	ctx := context.Background()

	in := domain.Transaction{
		Date:        domain.NewDate(2024, time.March, 5),
		Description: "Groceries",
		Amount:      decimal.RequireFromString("42.10"),
		Type:        domain.TransactionTypeExpense,
		Category:    "Food",
	}

	written, err := c.AddTransaction(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", written.ID)
	assert.Equal(t, ActionAddTransaction, fake.lastPost["action"])
	assert.Equal(t, "abc123", fake.lastPost["spreadsheetId"])

	data := fake.lastPost["data"].(map[string]any)
	assert.Equal(t, "2024-03-05", data["date"])
	assert.Equal(t, 42.1, data["amount"])

	txs, err := c.ListTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	got := txs[0]
	assert.Equal(t, "fixed-id", got.ID)
	assert.Equal(t, in.Description, got.Description)
	assert.True(t, in.Amount.Equal(got.Amount))
	assert.Equal(t, in.Type, got.Type)
	assert.Equal(t, in.Category, got.Category)
	assert.Equal(t, in.Date, got.Date)
}

func TestClient_FilterAndUpdate(t *testing.T) {
	fake := &fakeScript{rows: []map[string]any{
		{"id": "a", "date": "2024-03-01", "description": "Rent", "amount": 900, "type": "Expense", "category": "Housing"},
		{"id": "b", "date": "2024-03-02", "description": "Lunch", "amount": 12.5, "type": "Expense", "category": "Food"},
	}}
	c, _ := newConnectedClient(t, fake)
	ctx := context.Background()

	txs, err := c.FilterTransactions(ctx, Filter{
		Category: "Food",
		From:     domain.NewDate(2024, time.March, 1),
	})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "b", txs[0].ID)

	filters := fake.lastPost["filters"].(map[string]any)
	assert.Equal(t, "Food", filters["category"])
	assert.Equal(t, "2024-03-01", filters["startDate"])
	assert.NotContains(t, filters, "endDate")
	assert.NotContains(t, filters, "type")

	err = c.UpdateTransaction(ctx, "b", domain.Transaction{
		Date:        domain.NewDate(2024, time.March, 2),
		Description: "Lunch with team",
		Amount:      decimal.RequireFromString("30"),
		Type:        domain.TransactionTypeExpense,
		Category:    "Food",
	})
	require.NoError(t, err)
	assert.Equal(t, ActionUpdateTransaction, fake.lastPost["action"])
	assert.Equal(t, "b", fake.lastPost["id"])
	data := fake.lastPost["data"].(map[string]any)
	assert.Equal(t, "Lunch with team", data["description"])
	assert.Equal(t, "b", data["id"])
}

func TestClient_ListEmpty(t *testing.T) {
	c, _ := newConnectedClient(t, &fakeScript{})

	txs, err := c.ListTransactions(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, txs)
	assert.Empty(t, txs)
}

func TestClient_LegacyRowsAndEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") == ActionTest {
			_, _ = io.WriteString(w, `{"success":true,"message":"ok"}`)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"message":"","data":[
			{"id":2,"date":"05-03-2024","description":"Salary","amount":"1500","type":"income","category":"Work"},
			{"id":"3","date":"2024-03-06T03:00:00.000Z","description":"Bus","amount":-2.5,"type":"Expense","category":"Transport"}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(WithHTTPClient(srv.Client()))
	c.Configure(domain.ConnectionConfig{EndpointURL: srv.URL, SpreadsheetID: "abc123"})
	ok, err := c.TestConnection(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	txs, err := c.ListTransactions(context.Background())
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, "2", txs[0].ID)
	assert.Equal(t, domain.NewDate(2024, time.March, 5), txs[0].Date)
	assert.Equal(t, domain.TransactionTypeIncome, txs[0].Type)
	assert.True(t, decimal.NewFromInt(1500).Equal(txs[0].Amount))

	assert.Equal(t, "3", txs[1].ID)
	assert.Equal(t, domain.NewDate(2024, time.March, 6), txs[1].Date)
	assert.True(t, decimal.RequireFromString("-2.5").Equal(txs[1].Amount))
}

func TestClient_UnreachableThenNotConnected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(WithTimeout(2 * time.Second))
	c.Configure(domain.ConnectionConfig{EndpointURL: url, SpreadsheetID: "abc123"})

	ok, err := c.TestConnection(context.Background())
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrNetworkFailure), "got %v", err)
	assert.Equal(t, KindNetworkFailure, KindOf(err))
	assert.False(t, c.IsConnected())

	_, err = c.ListTransactions(context.Background())
	assert.True(t, errors.Is(err, ErrNotConnected), "got %v", err)
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient()

	_, err := c.TestConnection(context.Background())
	assert.True(t, errors.Is(err, ErrNotConfigured))

	c.Configure(domain.ConnectionConfig{EndpointURL: "https://example.test/exec"})
	_, err = c.BalanceSummary(context.Background())
	assert.True(t, errors.Is(err, ErrNotConfigured), "missing spreadsheet id should count as not configured")
}

func TestClient_TestConnectionOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantOK    bool
		wantKind  Kind
		connected bool
	}{
		{name: "success", status: 200, body: `{"status":"success","data":{"status":"success"}}`, wantOK: true, connected: true},
		{name: "error envelope", status: 200, body: `{"status":"error","data":{"error":"boom"}}`},
		{name: "nested error envelope", status: 200, body: `{"status":"success","data":{"success":false,"message":"no sheet"}}`},
		{name: "not json", status: 200, body: `<html>login</html>`},
		{name: "server error", status: 500, body: `oops`, wantKind: KindServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient(WithHTTPClient(srv.Client()))
			c.Configure(domain.ConnectionConfig{EndpointURL: srv.URL, SpreadsheetID: "abc123"})

			ok, err := c.TestConnection(context.Background())
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKind, KindOf(err))
			if tt.wantKind == KindUnknown {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.connected, c.IsConnected())
		})
	}
}

func TestClient_ErrorResponses(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   Kind
		wantStatus int
		wantMsg    string
	}{
		{name: "non-2xx", status: 503, body: `unavailable`, wantKind: KindServerError, wantStatus: 503, wantMsg: "unavailable"},
		{name: "error envelope", status: 200, body: `{"status":"error","data":{"error":"Sheet missing"}}`, wantKind: KindServerError, wantMsg: "Sheet missing"},
		{name: "missing status", status: 200, body: `{"data":{}}`, wantKind: KindMalformedResponse},
		{name: "wrong payload shape", status: 200, body: `{"status":"success","data":"nope"}`, wantKind: KindMalformedResponse},
		{name: "truncated json", status: 200, body: `{"status":"succ`, wantKind: KindMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("action") == ActionTest {
					_, _ = io.WriteString(w, `{"status":"success"}`)
					return
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient(WithHTTPClient(srv.Client()))
			c.Configure(domain.ConnectionConfig{EndpointURL: srv.URL, SpreadsheetID: "abc123"})
			_, err := c.TestConnection(context.Background())
			require.NoError(t, err)

			_, err = c.BalanceSummary(context.Background())
			require.Error(t, err)

			var serr *Error
			require.True(t, errors.As(err, &serr))
			assert.Equal(t, tt.wantKind, serr.Kind)
			assert.Equal(t, ActionGetBalanceSummary, serr.Op)
			assert.Equal(t, tt.wantStatus, serr.StatusCode)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, serr.Message)
			}
		})
	}
}

func TestClient_NestedWriteFailure(t *testing.T) {
	c, _ := newConnectedClient(t, &fakeScript{})

	err := c.DeleteTransaction(context.Background(), "42")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrServerError))
	assert.Contains(t, err.Error(), "Transaction not found")
}

func TestClient_Canceled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") == ActionTest {
			_, _ = io.WriteString(w, `{"status":"success"}`)
			return
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(WithHTTPClient(srv.Client()))
	c.Configure(domain.ConnectionConfig{EndpointURL: srv.URL, SpreadsheetID: "abc123"})
	_, err := c.TestConnection(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = c.ListTransactions(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetworkFailure))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, c.IsConnected(), "a canceled call must not change connection state")
}

func TestClient_ConfigureResetsConnection(t *testing.T) {
	c, srv := newConnectedClient(t, &fakeScript{})

	c.Configure(domain.ConnectionConfig{EndpointURL: srv.URL + "/exec", SpreadsheetID: "other"})
	assert.True(t, c.IsConnected(), "same URL keeps the connection")

	c.Configure(domain.ConnectionConfig{EndpointURL: srv.URL + "/v2", SpreadsheetID: "other"})
	assert.False(t, c.IsConnected())

	_, err := c.Categories(context.Background())
	assert.True(t, errors.Is(err, ErrNotConnected))

	c.Reset()
	assert.Equal(t, domain.ConnectionConfig{}, c.Connection())
}

func TestClient_AnalyticsPeriod(t *testing.T) {
	var gotPeriod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") == ActionTest {
			_, _ = io.WriteString(w, `{"status":"success"}`)
			return
		}
		gotPeriod = r.URL.Query().Get("period")
		_, _ = io.WriteString(w, `{"status":"success","data":{
			"categoryData":[{"name":"Food","population":60,"color":"#FF6B6B"}],
			"monthlyTrends":{"labels":["2024-01"],"datasets":[{"data":[100]},{"data":[60]}],"legend":["Income","Expenses"]}
		}}`)
	}))
	defer srv.Close()

	c := NewClient(WithHTTPClient(srv.Client()))
	c.Configure(domain.ConnectionConfig{EndpointURL: srv.URL, SpreadsheetID: "abc123"})
	_, err := c.TestConnection(context.Background())
	require.NoError(t, err)

	a, err := c.Analytics(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "monthly", gotPeriod)
	require.Len(t, a.Categories, 1)
	assert.Equal(t, 60, a.Categories[0].Percent)
	assert.Equal(t, []string{"2024-01"}, a.MonthlyTrends.Labels)
	assert.Len(t, a.MonthlyTrends.Datasets, 2)
}

func TestError_Is(t *testing.T) {
	err := &Error{Kind: KindServerError, Op: ActionAddCategory, StatusCode: 500}
	assert.True(t, errors.Is(err, ErrServerError))
	assert.False(t, errors.Is(err, ErrNetworkFailure))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, "sheets: addCategory: server error (status 500)", err.Error())
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "error", n: 10, want: "error"},
		{name: "ascii", in: "abcdef", n: 3, want: "abc..."},
		{name: "cut inside rune", in: "ação", n: 2, want: "a..."},
		{name: "cut after rune", in: "ação", n: 3, want: "aç..."},
		{name: "first rune too wide", in: "日本", n: 2, want: "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestClient_ServerErrorBodyIsValidUTF8(t *testing.T) {
	body := "x" + strings.Repeat("é", 150)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	c := NewClient(WithHTTPClient(srv.Client()))
	c.Configure(domain.ConnectionConfig{EndpointURL: srv.URL, SpreadsheetID: "abc123"})
	_, err := c.TestConnection(context.Background())

	var se *Error
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, KindServerError, se.Kind)
	assert.True(t, utf8.ValidString(se.Message))
	assert.True(t, strings.HasSuffix(se.Message, "..."))
}

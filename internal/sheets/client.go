package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dvloznov/sheets-wallet/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 10 << 20
	maxEnvelopes    = 3
)

// Backend actions
const (
	ActionTest                    = "test"
	ActionGetTransactions         = "getTransactions"
	ActionGetFilteredTransactions = "getFilteredTransactions"
	ActionAddTransaction          = "addTransaction"
	ActionUpdateTransaction       = "updateTransaction"
	ActionDeleteTransaction       = "deleteTransaction"
	ActionGetBalanceSummary       = "getBalanceSummary"
	ActionGetAnalytics            = "getAnalytics"
	ActionGetCategories           = "getCategories"
	ActionAddCategory             = "addCategory"
)

// Client talks to a deployed Apps Script web app. It holds the connection
// settings and whether the last connection test succeeded; it never retries.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	log        zerolog.Logger
	newID      func() string

	mu        sync.RWMutex
	conn      domain.ConnectionConfig
	connected bool
	// generation changes whenever the URL changes or the client is reset, so
	// a connection test that finishes late cannot mark a newer URL connected.
	generation uint64
}

// Ensure Client implements API interface
var _ API = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each request. Zero disables the per-request bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates an unconfigured client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
		log:        zerolog.Nop(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configure sets the endpoint and spreadsheet. Changing the URL clears the
// connected state.
func (c *Client) Configure(cfg domain.ConnectionConfig) {
	cfg.EndpointURL = strings.TrimSpace(cfg.EndpointURL)
	cfg.SpreadsheetID = strings.TrimSpace(cfg.SpreadsheetID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.EndpointURL != c.conn.EndpointURL {
		c.connected = false
		c.generation++
	}
	c.conn = cfg
}

// Connection returns the current settings.
func (c *Client) Connection() domain.ConnectionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// IsConnected reports whether the last connection test succeeded.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Reset forgets the settings and the connected state.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = domain.ConnectionConfig{}
	c.connected = false
	c.generation++
}

// TestConnection probes the endpoint. A reachable backend that answers with
// an error envelope yields (false, nil); transport failures and non-2xx
// statuses are returned as errors. The connected state follows the outcome.
func (c *Client) TestConnection(ctx context.Context) (bool, error) {
	c.mu.RLock()
	conn, gen := c.conn, c.generation
	c.mu.RUnlock()

	if conn.EndpointURL == "" {
		return false, newError(KindNotConfigured, ActionTest, nil)
	}

	err := c.get(ctx, conn, ActionTest, nil, nil)
	ok := err == nil

	var serr *Error
	if errors.As(err, &serr) && serr.StatusCode == 0 &&
		(serr.Kind == KindServerError || serr.Kind == KindMalformedResponse) {
		err = nil
	}

	// A probe abandoned by the caller says nothing about the endpoint.
	if ctx.Err() == nil {
		c.mu.Lock()
		if c.generation == gen {
			c.connected = ok
		}
		c.mu.Unlock()
	}

	if err != nil {
		return false, err
	}
	return ok, nil
}

// ListTransactions returns every transaction in sheet order.
func (c *Client) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	conn, err := c.ready(ActionGetTransactions)
	if err != nil {
		return nil, err
	}

	var rows []transactionRow
	if err := c.get(ctx, conn, ActionGetTransactions, nil, &rows); err != nil {
		return nil, err
	}
	return rowsToDomain(ActionGetTransactions, rows)
}

// FilterTransactions returns the transactions matching f, filtered by the
// backend.
func (c *Client) FilterTransactions(ctx context.Context, f Filter) ([]domain.Transaction, error) {
	conn, err := c.ready(ActionGetFilteredTransactions)
	if err != nil {
		return nil, err
	}

	var rows []transactionRow
	req := request{Action: ActionGetFilteredTransactions, Filters: f.payload()}
	if err := c.post(ctx, conn, req, &rows); err != nil {
		return nil, err
	}
	return rowsToDomain(ActionGetFilteredTransactions, rows)
}

// AddTransaction appends tx to the sheet. A transaction without an ID is
// given a new UUID. The backend's echo is returned when it carries a
// transaction, otherwise tx with its ID.
func (c *Client) AddTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	conn, err := c.ready(ActionAddTransaction)
	if err != nil {
		return domain.Transaction{}, err
	}

	if tx.ID == "" {
		tx.ID = c.newID()
	}

	var echo json.RawMessage
	req := request{Action: ActionAddTransaction, Data: toPayload(tx)}
	if err := c.post(ctx, conn, req, &echo); err != nil {
		return domain.Transaction{}, err
	}

	var row transactionRow
	if len(bytes.TrimSpace(echo)) > 0 && echo[0] == '{' && json.Unmarshal(echo, &row) == nil {
		if written, err := row.toDomain(); err == nil && written.Description != "" {
			if written.ID == "" {
				written.ID = tx.ID
			}
			return written, nil
		}
	}
	return tx, nil
}

// UpdateTransaction replaces the transaction identified by id.
func (c *Client) UpdateTransaction(ctx context.Context, id string, tx domain.Transaction) error {
	conn, err := c.ready(ActionUpdateTransaction)
	if err != nil {
		return err
	}
	tx.ID = id
	return c.post(ctx, conn, request{Action: ActionUpdateTransaction, ID: id, Data: toPayload(tx)}, nil)
}

// DeleteTransaction removes the transaction identified by id.
func (c *Client) DeleteTransaction(ctx context.Context, id string) error {
	conn, err := c.ready(ActionDeleteTransaction)
	if err != nil {
		return err
	}
	return c.post(ctx, conn, request{Action: ActionDeleteTransaction, ID: id}, nil)
}

// BalanceSummary returns the backend's totals.
func (c *Client) BalanceSummary(ctx context.Context) (domain.BalanceSummary, error) {
	conn, err := c.ready(ActionGetBalanceSummary)
	if err != nil {
		return domain.BalanceSummary{}, err
	}

	var summary domain.BalanceSummary
	if err := c.get(ctx, conn, ActionGetBalanceSummary, nil, &summary); err != nil {
		return domain.BalanceSummary{}, err
	}
	return summary, nil
}

// Analytics returns the chart data for period.
func (c *Client) Analytics(ctx context.Context, period domain.Period) (domain.Analytics, error) {
	conn, err := c.ready(ActionGetAnalytics)
	if err != nil {
		return domain.Analytics{}, err
	}
	if period == "" {
		period = domain.DefaultPeriod
	}

	var analytics domain.Analytics
	params := url.Values{"period": {string(period)}}
	if err := c.get(ctx, conn, ActionGetAnalytics, params, &analytics); err != nil {
		return domain.Analytics{}, err
	}
	return analytics, nil
}

// Categories returns the configured categories.
func (c *Client) Categories(ctx context.Context) ([]domain.Category, error) {
	conn, err := c.ready(ActionGetCategories)
	if err != nil {
		return nil, err
	}

	var categories []domain.Category
	if err := c.get(ctx, conn, ActionGetCategories, nil, &categories); err != nil {
		return nil, err
	}
	if categories == nil {
		categories = []domain.Category{}
	}
	return categories, nil
}

// AddCategory creates a category.
func (c *Client) AddCategory(ctx context.Context, cat domain.Category) error {
	conn, err := c.ready(ActionAddCategory)
	if err != nil {
		return err
	}
	return c.post(ctx, conn, request{Action: ActionAddCategory, Data: cat}, nil)
}

// ready returns the connection for a data operation, or NotConfigured /
// NotConnected.
func (c *Client) ready(op string) (domain.ConnectionConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.conn.Complete() {
		return domain.ConnectionConfig{}, newError(KindNotConfigured, op, nil)
	}
	if !c.connected {
		return domain.ConnectionConfig{}, newError(KindNotConnected, op, nil)
	}
	return c.conn, nil
}

func (c *Client) get(ctx context.Context, conn domain.ConnectionConfig, action string, params url.Values, dst any) error {
	u, err := url.Parse(conn.EndpointURL)
	if err != nil {
		return newError(KindNotConfigured, action, fmt.Errorf("parse endpoint URL: %w", err))
	}

	q := u.Query()
	q.Set("action", action)
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if conn.SpreadsheetID != "" {
		q.Set("spreadsheetId", conn.SpreadsheetID)
	}
	u.RawQuery = q.Encode()

	return c.do(ctx, action, http.MethodGet, u.String(), nil, dst)
}

func (c *Client) post(ctx context.Context, conn domain.ConnectionConfig, req request, dst any) error {
	req.SpreadsheetID = conn.SpreadsheetID
	body, err := json.Marshal(req)
	if err != nil {
		return newError(KindMalformedResponse, req.Action, fmt.Errorf("encode request: %w", err))
	}
	return c.do(ctx, req.Action, http.MethodPost, conn.EndpointURL, body, dst)
}

func (c *Client) do(ctx context.Context, action, method, target string, body []byte, dst any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return newError(KindNotConfigured, action, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("action", action).Dur("duration", time.Since(start)).Msg("Request failed")
		return newError(KindNetworkFailure, action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return newError(KindNetworkFailure, action, fmt.Errorf("read response body: %w", err))
	}
	// The caller may have gone away while the body was in flight.
	if err := ctx.Err(); err != nil {
		return newError(KindNetworkFailure, action, err)
	}

	c.log.Debug().
		Str("action", action).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &Error{Kind: KindServerError, Op: action, StatusCode: resp.StatusCode}
		var env envelope
		if json.Unmarshal(raw, &env) == nil {
			e.Message = env.errorMessage()
		}
		if e.Message == "" {
			e.Message = truncate(strings.TrimSpace(string(raw)), 200)
		}
		return e
	}

	return decode(action, raw, dst)
}

// decode unwraps envelopes, nested ones included, and stores the payload in
// dst when dst is non-nil.
func decode(action string, raw []byte, dst any) error {
	payload := json.RawMessage(raw)
	for depth := 0; ; depth++ {
		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return newError(KindMalformedResponse, action, fmt.Errorf("decode envelope: %w", err))
		}

		switch env.state() {
		case envelopeFailed:
			return &Error{Kind: KindServerError, Op: action, Message: env.errorMessage()}
		case envelopeInvalid:
			return newError(KindMalformedResponse, action, errors.New("missing status"))
		}

		payload = env.Data
		if depth+1 >= maxEnvelopes || !looksLikeEnvelope(payload) {
			break
		}
	}

	if dst == nil {
		return nil
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage("null")
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return newError(KindMalformedResponse, action, fmt.Errorf("decode data: %w", err))
	}
	return nil
}

func rowsToDomain(action string, rows []transactionRow) ([]domain.Transaction, error) {
	txs := make([]domain.Transaction, 0, len(rows))
	for i, r := range rows {
		tx, err := r.toDomain()
		if err != nil {
			return nil, newError(KindMalformedResponse, action, fmt.Errorf("row %d: %w", i, err))
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dvloznov/sheets-wallet/internal/api/middleware"
	"github.com/dvloznov/sheets-wallet/internal/domain"
	"github.com/dvloznov/sheets-wallet/internal/jobs"
	"github.com/dvloznov/sheets-wallet/internal/logger"
	"github.com/dvloznov/sheets-wallet/internal/sheets"
	"github.com/dvloznov/sheets-wallet/internal/wallet"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// Wallet is the session the handlers serve. *wallet.Service implements it.
type Wallet interface {
	Transactions(ctx context.Context, force bool) (*wallet.TransactionsResult, error)
	Filter(ctx context.Context, f sheets.Filter) ([]domain.Transaction, error)
	AddTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)
	UpdateTransaction(ctx context.Context, id string, tx domain.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error

	Summary(ctx context.Context, force bool) (*wallet.SummaryResult, error)
	Dashboard(ctx context.Context, force bool) (*wallet.Dashboard, error)
	Analytics(ctx context.Context, period domain.Period, force bool) (*wallet.AnalyticsResult, error)

	Categories(ctx context.Context) ([]domain.Category, error)
	AddCategory(ctx context.Context, cat domain.Category) error

	AppConfig(ctx context.Context) (domain.AppConfig, error)
	UpdateAppConfig(ctx context.Context, cfg domain.AppConfig) error
	Connect(ctx context.Context, conn domain.ConnectionConfig) (bool, error)
	TestConnection(ctx context.Context) (bool, error)
	Connection() (domain.ConnectionConfig, bool)
	SupportedCurrencies() []domain.Currency

	ClearCache(ctx context.Context) error
	Reset(ctx context.Context) error
}

var _ Wallet = (*wallet.Service)(nil)

// statusFor maps an error to the HTTP status reported to the caller.
func statusFor(err error) int {
	switch {
	case errors.Is(err, wallet.ErrInvalidTransaction),
		errors.Is(err, wallet.ErrInvalidCategory),
		errors.Is(err, wallet.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrQueueClosed):
		return http.StatusServiceUnavailable
	}

	switch sheets.KindOf(err) {
	case sheets.KindNotConfigured, sheets.KindNotConnected:
		return http.StatusConflict
	case sheets.KindNetworkFailure, sheets.KindServerError, sheets.KindMalformedResponse:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeFailure logs err and writes it with the mapped status. Internal
// errors are reported with msg only.
func writeFailure(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := statusFor(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg(msg)
	} else {
		log.Warn().Err(err).Int("status", status).Msg(msg)
	}

	if status == http.StatusInternalServerError {
		middleware.WriteError(w, status, msg)
		return
	}
	middleware.WriteError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// decodeOptionalBody is decodeBody for endpoints whose body may be empty.
// present reports whether a body was decoded into dst.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) (present, ok bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return false, true
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false, false
	}
	return true, true
}

func methodNotAllowed(w http.ResponseWriter) {
	middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// forceParam reads the "force" query parameter.
func forceParam(r *http.Request) bool {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	return force
}

// pathID returns the path segment after prefix, or "" when there is none or
// it has further segments.
func pathID(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	if id == path || strings.Contains(id, "/") {
		return ""
	}
	return id
}

// syncError renders the refresh failure behind a stale result.
func syncError(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

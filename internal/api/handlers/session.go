package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dvloznov/sheets-wallet/internal/api/middleware"
	"github.com/dvloznov/sheets-wallet/internal/domain"
	"github.com/dvloznov/sheets-wallet/internal/jobs"
	"github.com/dvloznov/sheets-wallet/internal/logger"
	"github.com/dvloznov/sheets-wallet/internal/wallet"
)

// ReportsHandler serves the aggregate views computed by the backend.
type ReportsHandler struct {
	wallet Wallet
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(w Wallet) *ReportsHandler {
	return &ReportsHandler{wallet: w}
}

type summaryResponse struct {
	*wallet.SummaryResult
	SyncError string `json:"syncError,omitempty"`
}

// Summary handles GET /api/summary.
func (h *ReportsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	res, err := h.wallet.Summary(r.Context(), forceParam(r))
	if err != nil {
		writeFailure(w, r, err, "Failed to load balance summary")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, summaryResponse{SummaryResult: res, SyncError: syncError(res.SyncErr)})
}

type analyticsResponse struct {
	*wallet.AnalyticsResult
	SyncError string `json:"syncError,omitempty"`
}

// Analytics handles GET /api/analytics?period=weekly|monthly|yearly.
func (h *ReportsHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	period, err := domain.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.wallet.Analytics(r.Context(), period, forceParam(r))
	if err != nil {
		writeFailure(w, r, err, "Failed to load analytics")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, analyticsResponse{AnalyticsResult: res, SyncError: syncError(res.SyncErr)})
}

type dashboardResponse struct {
	*wallet.Dashboard
	SyncError string `json:"syncError,omitempty"`
}

// Dashboard handles GET /api/dashboard.
func (h *ReportsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.wallet.Dashboard(r.Context(), forceParam(r))
	if err != nil {
		writeFailure(w, r, err, "Failed to load dashboard")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, dashboardResponse{Dashboard: d, SyncError: syncError(d.SyncErr)})
}

// SettingsHandler handles app configuration and the backend connection.
type SettingsHandler struct {
	wallet Wallet
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(w Wallet) *SettingsHandler {
	return &SettingsHandler{wallet: w}
}

type settingsResponse struct {
	AppConfig  domain.AppConfig        `json:"appConfig"`
	Connection domain.ConnectionConfig `json:"connection"`
	Connected  bool                    `json:"connected"`
	Currencies []domain.Currency       `json:"currencies"`
}

// GetConfig handles GET /api/config.
func (h *SettingsHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	app, err := h.wallet.AppConfig(r.Context())
	if err != nil {
		writeFailure(w, r, err, "Failed to load configuration")
		return
	}
	conn, connected := h.wallet.Connection()

	middleware.WriteJSON(w, http.StatusOK, settingsResponse{
		AppConfig:  app,
		Connection: conn,
		Connected:  connected,
		Currencies: h.wallet.SupportedCurrencies(),
	})
}

// UpdateConfig handles PUT /api/config.
func (h *SettingsHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.AppConfig
	if !decodeBody(w, r, &cfg) {
		return
	}

	if err := h.wallet.UpdateAppConfig(r.Context(), cfg); err != nil {
		writeFailure(w, r, err, "Failed to save configuration")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cfg)
}

// TestConnection handles POST /api/connection/test. With a connection in
// the body the session switches to it, and keeps it only if the test
// passes; with an empty body the current connection is probed.
func (h *SettingsHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		conn domain.ConnectionConfig
		ok   bool
		err  error
	)
	present, valid := decodeOptionalBody(w, r, &conn)
	if !valid {
		return
	}
	if present {
		ok, err = h.wallet.Connect(ctx, conn)
	} else {
		ok, err = h.wallet.TestConnection(ctx)
	}
	if err != nil {
		writeFailure(w, r, err, "Connection test failed")
		return
	}

	current, _ := h.wallet.Connection()
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"connected":  ok,
		"connection": current,
	})
}

// ClearCache handles DELETE /api/cache.
func (h *SettingsHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.wallet.ClearCache(r.Context()); err != nil {
		writeFailure(w, r, err, "Failed to clear cache")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reset handles POST /api/reset.
func (h *SettingsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.wallet.Reset(r.Context()); err != nil {
		writeFailure(w, r, err, "Failed to reset")
		return
	}
	log := logger.FromContext(r.Context())
	log.Info().Msg("Local data wiped")
	w.WriteHeader(http.StatusNoContent)
}

// JobsHandler handles sync job endpoints.
type JobsHandler struct {
	publisher jobs.Publisher
	store     jobs.JobStore
	period    domain.Period
}

// NewJobsHandler creates a new jobs handler. period is used for analytics
// syncs that do not name one.
func NewJobsHandler(publisher jobs.Publisher, store jobs.JobStore, period domain.Period) *JobsHandler {
	return &JobsHandler{
		publisher: publisher,
		store:     store,
		period:    period,
	}
}

// EnqueueSync handles POST /api/sync. The body may name the kinds to
// refresh; by default both caches are refreshed.
func (h *JobsHandler) EnqueueSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kinds  []string `json:"kinds"`
		Period string   `json:"period"`
	}
	if _, ok := decodeOptionalBody(w, r, &req); !ok {
		return
	}

	period := h.period
	if req.Period != "" {
		p, err := domain.ParsePeriod(req.Period)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		period = p
	}

	kinds := []jobs.JobKind{jobs.JobKindTransactions, jobs.JobKindAnalytics}
	if len(req.Kinds) > 0 {
		kinds = kinds[:0]
		for _, s := range req.Kinds {
			k, ok := jobs.ParseJobKind(s)
			if !ok {
				middleware.WriteError(w, http.StatusBadRequest, "Unknown sync kind: "+strconv.Quote(s))
				return
			}
			kinds = append(kinds, k)
		}
	}

	log := logger.FromContext(r.Context())
	queued := make([]*jobs.SyncJob, 0, len(kinds))
	for _, kind := range kinds {
		job := &jobs.SyncJob{Kind: kind}
		if kind == jobs.JobKindAnalytics {
			job.Period = period
		}
		if err := h.publisher.Publish(r.Context(), job); err != nil {
			writeFailure(w, r, err, "Failed to enqueue sync job")
			return
		}
		log.Info().Str("job_id", job.JobID).Str("kind", string(kind)).Msg("Sync job enqueued")
		queued = append(queued, job)
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]any{
		"jobs":  queued,
		"count": len(queued),
	})
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeFailure(w, r, err, "Failed to get job")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Status: jobs.JobStatus(query.Get("status")),
	}
	if s := query.Get("kind"); s != "" {
		kind, ok := jobs.ParseJobKind(s)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, "Unknown job kind: "+strconv.Quote(s))
			return
		}
		filter.Kind = kind
	}

	var err error
	if filter.Limit, err = intParam(query.Get("limit")); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	if filter.Offset, err = intParam(query.Get("offset")); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeFailure(w, r, err, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("must not be negative")
	}
	return n, nil
}

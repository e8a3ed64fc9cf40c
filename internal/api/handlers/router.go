package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/sheets-wallet/internal/api/middleware"
	"github.com/dvloznov/sheets-wallet/internal/domain"
	"github.com/dvloznov/sheets-wallet/internal/jobs"
)

// Deps are the collaborators NewRouter wires into the handlers.
type Deps struct {
	Wallet    Wallet
	Publisher jobs.Publisher
	Jobs      jobs.JobStore
	// SyncPeriod is the analytics period for sync requests that omit one.
	SyncPeriod domain.Period
	Now        func() time.Time
}

// NewRouter registers every API route on a new mux.
func NewRouter(d Deps) *http.ServeMux {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.SyncPeriod == "" {
		d.SyncPeriod = domain.DefaultPeriod
	}

	txHandler := NewTransactionsHandler(d.Wallet)
	catHandler := NewCategoriesHandler(d.Wallet)
	reportsHandler := NewReportsHandler(d.Wallet)
	settingsHandler := NewSettingsHandler(d.Wallet)
	jobsHandler := NewJobsHandler(d.Publisher, d.Jobs, d.SyncPeriod)

	mux := http.NewServeMux()

	// Transactions
	mux.HandleFunc("/api/transactions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			txHandler.ListTransactions(w, r)
		case http.MethodPost:
			txHandler.CreateTransaction(w, r)
		default:
			methodNotAllowed(w)
		}
	})
	mux.HandleFunc("/api/transactions/", func(w http.ResponseWriter, r *http.Request) {
		id := pathID(r.URL.Path, "/api/transactions/")
		if id == "" {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		switch r.Method {
		case http.MethodPut:
			txHandler.UpdateTransaction(w, r, id)
		case http.MethodDelete:
			txHandler.DeleteTransaction(w, r, id)
		default:
			methodNotAllowed(w)
		}
	})

	// Reports
	mux.HandleFunc("/api/summary", getOnly(reportsHandler.Summary))
	mux.HandleFunc("/api/analytics", getOnly(reportsHandler.Analytics))
	mux.HandleFunc("/api/dashboard", getOnly(reportsHandler.Dashboard))

	// Categories
	mux.HandleFunc("/api/categories", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			catHandler.ListCategories(w, r)
		case http.MethodPost:
			catHandler.CreateCategory(w, r)
		default:
			methodNotAllowed(w)
		}
	})

	// Settings
	mux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			settingsHandler.GetConfig(w, r)
		case http.MethodPut:
			settingsHandler.UpdateConfig(w, r)
		default:
			methodNotAllowed(w)
		}
	})
	mux.HandleFunc("/api/connection/test", postOnly(settingsHandler.TestConnection))
	mux.HandleFunc("/api/cache", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		settingsHandler.ClearCache(w, r)
	})
	mux.HandleFunc("/api/reset", postOnly(settingsHandler.Reset))

	// Sync jobs
	mux.HandleFunc("/api/sync", postOnly(jobsHandler.EnqueueSync))
	mux.HandleFunc("/api/jobs", getOnly(jobsHandler.ListJobs))
	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		id := pathID(r.URL.Path, "/api/jobs/")
		if id == "" {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		jobsHandler.GetJob(w, r, id)
	})

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, connected := d.Wallet.Connection()
		lastSync := map[jobs.JobKind]*jobs.SyncJob{}
		for _, kind := range []jobs.JobKind{jobs.JobKindTransactions, jobs.JobKindAnalytics} {
			if job, err := d.Jobs.LastRun(r.Context(), kind); err == nil {
				lastSync[kind] = job
			}
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"connected": connected,
			"lastSync":  lastSync,
			"time":      d.Now().UTC().Format(time.RFC3339),
		})
	})

	return mux
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h(w, r)
	}
}

func postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h(w, r)
	}
}

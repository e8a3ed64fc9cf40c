package handlers

import (
	"net/http"

	"github.com/dvloznov/sheets-wallet/internal/api/middleware"
	"github.com/dvloznov/sheets-wallet/internal/domain"
	"github.com/dvloznov/sheets-wallet/internal/sheets"
	"github.com/dvloznov/sheets-wallet/internal/wallet"
)

// TransactionsHandler handles transaction endpoints.
type TransactionsHandler struct {
	wallet Wallet
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(w Wallet) *TransactionsHandler {
	return &TransactionsHandler{wallet: w}
}

type transactionsResponse struct {
	*wallet.TransactionsResult
	Count     int    `json:"count"`
	SyncError string `json:"syncError,omitempty"`
}

// ListTransactions handles GET /api/transactions.
// With any of type, category, from or to set the backend filters the list
// and the cache is bypassed.
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	if query.Has("type") || query.Has("category") || query.Has("from") || query.Has("to") {
		f, err := parseFilter(query.Get("type"), query.Get("category"), query.Get("from"), query.Get("to"))
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		txs, err := h.wallet.Filter(ctx, f)
		if err != nil {
			writeFailure(w, r, err, "Failed to filter transactions")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, transactionsResponse{
			TransactionsResult: &wallet.TransactionsResult{Transactions: txs},
			Count:              len(txs),
		})
		return
	}

	res, err := h.wallet.Transactions(ctx, forceParam(r))
	if err != nil {
		writeFailure(w, r, err, "Failed to list transactions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, transactionsResponse{
		TransactionsResult: res,
		Count:              len(res.Transactions),
		SyncError:          syncError(res.SyncErr),
	})
}

// CreateTransaction handles POST /api/transactions.
func (h *TransactionsHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var tx domain.Transaction
	if !decodeBody(w, r, &tx) {
		return
	}

	written, err := h.wallet.AddTransaction(r.Context(), tx)
	if err != nil {
		writeFailure(w, r, err, "Failed to add transaction")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, written)
}

// UpdateTransaction handles PUT /api/transactions/{id}.
func (h *TransactionsHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request, id string) {
	var tx domain.Transaction
	if !decodeBody(w, r, &tx) {
		return
	}

	if err := h.wallet.UpdateTransaction(r.Context(), id, tx); err != nil {
		writeFailure(w, r, err, "Failed to update transaction")
		return
	}
	tx.ID = id
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// DeleteTransaction handles DELETE /api/transactions/{id}.
func (h *TransactionsHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.wallet.DeleteTransaction(r.Context(), id); err != nil {
		writeFailure(w, r, err, "Failed to delete transaction")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseFilter(typ, category, from, to string) (sheets.Filter, error) {
	var (
		f   = sheets.Filter{Category: category}
		err error
	)
	if typ != "" {
		if f.Type, err = domain.ParseTransactionType(typ); err != nil {
			return f, err
		}
	}
	if f.From, err = domain.ParseDate(from); err != nil {
		return f, err
	}
	if f.To, err = domain.ParseDate(to); err != nil {
		return f, err
	}
	return f, nil
}

// CategoriesHandler handles category endpoints.
type CategoriesHandler struct {
	wallet Wallet
}

// NewCategoriesHandler creates a new categories handler.
func NewCategoriesHandler(w Wallet) *CategoriesHandler {
	return &CategoriesHandler{wallet: w}
}

// ListCategories handles GET /api/categories.
func (h *CategoriesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.wallet.Categories(r.Context())
	if err != nil {
		writeFailure(w, r, err, "Failed to list categories")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"categories": cats,
		"count":      len(cats),
	})
}

// CreateCategory handles POST /api/categories.
func (h *CategoriesHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var cat domain.Category
	if !decodeBody(w, r, &cat) {
		return
	}

	if err := h.wallet.AddCategory(r.Context(), cat); err != nil {
		writeFailure(w, r, err, "Failed to add category")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, cat)
}

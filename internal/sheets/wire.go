package sheets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dvloznov/sheets-wallet/internal/domain"
	"github.com/shopspring/decimal"
)

// envelope covers both response shapes seen from deployed scripts:
// {status, data} and {success, message, data}. Error details show up in
// message, in a top-level error, or in data.error.
type envelope struct {
	Status  string          `json:"status"`
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type envelopeState int

const (
	envelopeInvalid envelopeState = iota
	envelopeOK
	envelopeFailed
)

func (e envelope) state() envelopeState {
	switch strings.ToLower(e.Status) {
	case "success", "ok":
		return envelopeOK
	case "error":
		return envelopeFailed
	}
	if e.Success != nil {
		if *e.Success {
			return envelopeOK
		}
		return envelopeFailed
	}
	return envelopeInvalid
}

func (e envelope) errorMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Error != "" {
		return e.Error
	}
	var inner struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(e.Data, &inner) == nil {
		if inner.Error != "" {
			return inner.Error
		}
		return inner.Message
	}
	return ""
}

// looksLikeEnvelope reports whether raw is an object carrying an envelope
// discriminator. Write responses wrap a second envelope inside data.
func looksLikeEnvelope(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return false
	}
	var probe map[string]json.RawMessage
	if json.Unmarshal(raw, &probe) != nil {
		return false
	}
	_, hasStatus := probe["status"]
	_, hasSuccess := probe["success"]
	return hasStatus || hasSuccess
}

// request is the POST body for write actions.
type request struct {
	Action        string `json:"action"`
	ID            string `json:"id,omitempty"`
	Data          any    `json:"data,omitempty"`
	Filters       any    `json:"filters,omitempty"`
	SpreadsheetID string `json:"spreadsheetId,omitempty"`
}

// transactionPayload is a transaction as sent to the backend. Amount goes
// out as a JSON number.
type transactionPayload struct {
	ID          string      `json:"id,omitempty"`
	Date        string      `json:"date"`
	Description string      `json:"description"`
	Amount      json.Number `json:"amount"`
	Type        string      `json:"type"`
	Category    string      `json:"category"`
	Remarks     string      `json:"remarks"`
}

func toPayload(tx domain.Transaction) transactionPayload {
	return transactionPayload{
		ID:          tx.ID,
		Date:        tx.Date.String(),
		Description: tx.Description,
		Amount:      json.Number(tx.Amount.String()),
		Type:        string(tx.Type),
		Category:    tx.Category,
		Remarks:     tx.Remarks,
	}
}

// transactionRow is a transaction as returned by the backend. IDs may be
// strings or positional row numbers; amounts may be numbers or strings.
type transactionRow struct {
	ID          json.RawMessage `json:"id"`
	Date        domain.Date     `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Category    string          `json:"category"`
	Remarks     string          `json:"remarks"`
}

func (r transactionRow) toDomain() (domain.Transaction, error) {
	id, err := decodeID(r.ID)
	if err != nil {
		return domain.Transaction{}, err
	}

	tx := domain.Transaction{
		ID:          id,
		Date:        r.Date,
		Description: r.Description,
		Amount:      r.Amount,
		Type:        domain.TransactionType(r.Type),
		Category:    r.Category,
		Remarks:     r.Remarks,
	}
	if t, err := domain.ParseTransactionType(r.Type); err == nil {
		tx.Type = t
	}
	return tx, nil
}

func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode id: %w", err)
		}
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("decode id %s: %w", raw, err)
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}

// Filter narrows FilterTransactions. Zero fields are not sent.
type Filter struct {
	Type     domain.TransactionType
	Category string
	From     domain.Date
	To       domain.Date
}

type filterPayload struct {
	Type      string `json:"type,omitempty"`
	Category  string `json:"category,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

func (f Filter) payload() filterPayload {
	return filterPayload{
		Type:      string(f.Type),
		Category:  f.Category,
		StartDate: f.From.String(),
		EndDate:   f.To.String(),
	}
}

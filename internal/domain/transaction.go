package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a transaction as stored in the sheet's
// "Type" column.
type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "Income"
	TransactionTypeExpense TransactionType = "Expense"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	return t == TransactionTypeIncome || t == TransactionTypeExpense
}

// ParseTransactionType parses a type name case-insensitively.
func ParseTransactionType(s string) (TransactionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income":
		return TransactionTypeIncome, nil
	case "expense":
		return TransactionTypeExpense, nil
	}
	return "", fmt.Errorf("invalid transaction type: %q", s)
}

// Transaction is one row of the remote "Transactions" sheet.
// ID is an opaque identifier. Transactions written by this client carry a
// UUID; rows created elsewhere may only have the backend's positional row
// number, which is kept in its decimal string form.
type Transaction struct {
	ID          string          `json:"id,omitempty"`
	Date        Date            `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"type"`
	Category    string          `json:"category"`
	Remarks     string          `json:"remarks,omitempty"`
}

// Category is an entry of the remote "Categories" sheet.
type Category struct {
	Name string          `json:"name"`
	Type TransactionType `json:"type"`
}

// SortByDateDesc orders transactions newest first. Transactions on the same
// day keep their relative order.
func SortByDateDesc(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[j].Date.Before(txs[i].Date)
	})
}

// Latest returns up to n transactions, newest first, without modifying txs.
func Latest(txs []Transaction, n int) []Transaction {
	out := make([]Transaction, len(txs))
	copy(out, txs)
	SortByDateDesc(out)
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

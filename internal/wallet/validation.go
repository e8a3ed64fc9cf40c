package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/sheets-wallet/internal/domain"
)

var (
	// ErrInvalidTransaction is wrapped by every transaction validation failure.
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrInvalidCategory is wrapped by category validation failures.
	ErrInvalidCategory = errors.New("invalid category")
	// ErrInvalidConfig is wrapped by app and connection config failures.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ValidateTransaction checks the fields a user must supply. The date is not
// checked; callers default it to today.
func ValidateTransaction(tx domain.Transaction) error {
	if strings.TrimSpace(tx.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidTransaction)
	}
	if tx.Amount.IsZero() {
		return fmt.Errorf("%w: amount must be non-zero", ErrInvalidTransaction)
	}
	if !tx.Type.Valid() {
		return fmt.Errorf("%w: type must be %s or %s, got %q",
			ErrInvalidTransaction, domain.TransactionTypeIncome, domain.TransactionTypeExpense, tx.Type)
	}
	if strings.TrimSpace(tx.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidTransaction)
	}
	return nil
}

// ValidateCategory checks a new category.
func ValidateCategory(cat domain.Category) error {
	if strings.TrimSpace(cat.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCategory)
	}
	if !cat.Type.Valid() {
		return fmt.Errorf("%w: type must be %s or %s, got %q",
			ErrInvalidCategory, domain.TransactionTypeIncome, domain.TransactionTypeExpense, cat.Type)
	}
	return nil
}

// CategoryValidator checks transaction categories against the sheet's
// category list.
type CategoryValidator struct {
	types map[string]map[domain.TransactionType]bool // normalized name -> allowed types
}

// NewCategoryValidator builds a validator from the remote category list.
func NewCategoryValidator(categories []domain.Category) *CategoryValidator {
	v := &CategoryValidator{types: make(map[string]map[domain.TransactionType]bool)}
	for _, c := range categories {
		v.add(c)
	}
	return v
}

func (v *CategoryValidator) add(c domain.Category) {
	name := normalizeCategory(c.Name)
	if name == "" {
		return
	}
	if v.types[name] == nil {
		v.types[name] = make(map[domain.TransactionType]bool)
	}
	if c.Type.Valid() {
		v.types[name][c.Type] = true
	}
}

// ValidateCategory returns nil if category exists for the transaction type.
// Categories listed without a type accept both.
func (v *CategoryValidator) ValidateCategory(category string, t domain.TransactionType) error {
	allowed, ok := v.types[normalizeCategory(category)]
	if !ok {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidTransaction, category)
	}
	if len(allowed) > 0 && !allowed[t] {
		return fmt.Errorf("%w: category %q is not an %s category", ErrInvalidTransaction, category, strings.ToLower(string(t)))
	}
	return nil
}

// normalizeCategory makes category comparison case- and space-insensitive.
func normalizeCategory(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

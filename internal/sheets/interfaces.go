package sheets

import (
	"context"

	"github.com/dvloznov/sheets-wallet/internal/domain"
)

// API is the set of backend operations used by the wallet session.
type API interface {
	Configure(cfg domain.ConnectionConfig)
	Connection() domain.ConnectionConfig
	IsConnected() bool
	Reset()

	TestConnection(ctx context.Context) (bool, error)

	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
	FilterTransactions(ctx context.Context, f Filter) ([]domain.Transaction, error)
	AddTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)
	UpdateTransaction(ctx context.Context, id string, tx domain.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error

	BalanceSummary(ctx context.Context) (domain.BalanceSummary, error)
	Analytics(ctx context.Context, period domain.Period) (domain.Analytics, error)

	Categories(ctx context.Context) ([]domain.Category, error)
	AddCategory(ctx context.Context, cat domain.Category) error
}

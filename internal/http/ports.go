package http

import (
	"context"

	"expensetracker/internal/amqp"
	"expensetracker/internal/core"
	"expensetracker/internal/gateway"
	"expensetracker/internal/reconcile"
	"expensetracker/internal/services"
	"expensetracker/internal/storage"
)

// LinkService drives the bank link lifecycle.
type LinkService interface {
	StartLink(ctx context.Context, userID string, req services.StartLinkRequest) (string, error)
	CompleteLink(ctx context.Context, requisitionID string) (*core.BankLink, error)
	RefreshLink(ctx context.Context, userID string) (*core.BankLink, error)
	GetLink(ctx context.Context, userID string) (*core.BankLink, error)
	ListInstitutions(ctx context.Context, country string) ([]gateway.Institution, error)
}

type ImportService interface {
	Import(ctx context.Context, userID string, from, to *core.Date) (services.ImportResult, error)
}

type TransactionService interface {
	AddTransaction(ctx context.Context, userID string, e reconcile.ManualEntry) (*core.Transaction, error)
	EditTransaction(ctx context.Context, userID, key string, p reconcile.Patch) (*core.Transaction, error)
	DeleteTransaction(ctx context.Context, userID, key string) (bool, error)
	ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error)
}

type CategoryService interface {
	ListCategories(ctx context.Context) ([]core.Category, error)
	SubCategories(ctx context.Context, name string) ([]string, error)
}

// ImportPublisher queues an import for the worker.
type ImportPublisher interface {
	PublishImportRequest(ctx context.Context, msg *amqp.ImportRequestMessage) error
}

// Services are the collaborators behind the routes. Publisher may be nil,
// in which case queued imports are refused.
type Services struct {
	Links        LinkService
	Importer     ImportService
	Transactions TransactionService
	Categories   CategoryService
	Users        storage.UserStore
	Publisher    ImportPublisher
}

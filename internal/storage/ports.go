package storage

import (
	"context"

	"expensetracker/internal/core"
)

// Ports implemented by every backend (sqlite, mongo, memory).
type (
	UserStore interface {
		GetUser(ctx context.Context, id string) (*core.User, error)
		SaveUser(ctx context.Context, u core.User) error
	}

	// LinkStore holds at most one bank link per user.
	LinkStore interface {
		GetLink(ctx context.Context, userID string) (*core.BankLink, error)
		FindLinkByRequisition(ctx context.Context, requisitionID string) (*core.BankLink, error)
		// SaveLink replaces the user's link in one write.
		SaveLink(ctx context.Context, link core.BankLink) error
	}

	TransactionStore interface {
		// UpsertTransaction writes tx under tx.Key in one atomic operation.
		// Every field is overwritten except CreatedAt, which is only
		// written on insert. A key owned by another user fails with
		// core.ErrUnauthorized and is left untouched.
		UpsertTransaction(ctx context.Context, tx core.Transaction) (inserted bool, err error)
		GetTransaction(ctx context.Context, key string) (*core.Transaction, error)
		// UpdateTransaction replaces an existing record owned by tx.UserID.
		UpdateTransaction(ctx context.Context, tx core.Transaction) error
		DeleteTransaction(ctx context.Context, userID, key string) error
		// ListTransactions decodes leniently: a stored record that no
		// longer parses comes back with zero values so callers can skip it.
		ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error)
	}

	CategoryStore interface {
		CountCategories(ctx context.Context) (int, error)
		InsertCategories(ctx context.Context, cats []core.Category) error
		ListCategories(ctx context.Context) ([]core.Category, error)
		GetCategory(ctx context.Context, name string) (*core.Category, error)
	}

	Store interface {
		UserStore
		LinkStore
		TransactionStore
		CategoryStore
		Close() error
	}
)

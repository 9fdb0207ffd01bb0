package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"expensetracker/internal/core"
	"expensetracker/internal/log"
	"expensetracker/internal/reconcile"
	"expensetracker/internal/storage"
)

// TransactionService handles manual entries and the user's view of stored
// transactions. Concurrent edits of one record are last-write-wins.
type TransactionService struct {
	store storage.TransactionStore
	now   func() time.Time
}

func NewTransactionService(store storage.TransactionStore) *TransactionService {
	return &TransactionService{store: store, now: time.Now}
}

// AddTransaction stores a manual entry under its derived key. Resubmitting
// an identical entry overwrites the earlier one.
func (s *TransactionService) AddTransaction(ctx context.Context, userID string, e reconcile.ManualEntry) (*core.Transaction, error) {
	now := s.now()
	tx, err := reconcile.NormalizeManual(e, userID, core.DateOf(now))
	if err != nil {
		return nil, err
	}
	tx.CreatedAt, tx.UpdatedAt = now.UTC(), now.UTC()

	inserted, err := s.store.UpsertTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("add transaction %s: %w", tx.Key, err)
	}
	slog.InfoContext(ctx, "Manual transaction saved",
		log.FieldComponent, log.ComponentTransaction,
		log.FieldUserID, userID,
		log.FieldTxKey, tx.Key,
		"inserted", inserted)
	return s.store.GetTransaction(ctx, tx.Key)
}

// EditTransaction applies p to the user's transaction. The key is kept even
// when fields it was derived from change.
func (s *TransactionService) EditTransaction(ctx context.Context, userID, key string, p reconcile.Patch) (*core.Transaction, error) {
	current, err := s.store.GetTransaction(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("edit transaction %s: %w", key, err)
	}
	if !current.OwnedBy(userID) {
		return nil, fmt.Errorf("edit transaction %s: %w", key, core.ErrUnauthorized)
	}

	now := s.now()
	updated, err := reconcile.ApplyPatch(*current, p, core.DateOf(now))
	if err != nil {
		return nil, err
	}
	updated.UpdatedAt = now.UTC()

	if err := s.store.UpdateTransaction(ctx, updated); err != nil {
		return nil, fmt.Errorf("edit transaction %s: %w", key, err)
	}
	return &updated, nil
}

// DeleteTransaction removes the user's transaction. It fails with
// core.ErrTransactionNotFound or core.ErrUnauthorized and then deletes
// nothing.
func (s *TransactionService) DeleteTransaction(ctx context.Context, userID, key string) (bool, error) {
	if err := s.store.DeleteTransaction(ctx, userID, key); err != nil {
		return false, fmt.Errorf("delete transaction %s: %w", key, err)
	}
	slog.InfoContext(ctx, "Transaction deleted",
		log.FieldComponent, log.ComponentTransaction,
		log.FieldUserID, userID,
		log.FieldTxKey, key)
	return true, nil
}

// ListTransactions returns the user's valid records, pending first. Stored
// records that no longer validate are skipped with a warning.
func (s *TransactionService) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	all, err := s.store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]core.Transaction, 0, len(all))
	for _, tx := range all {
		if err := tx.Validate(); err != nil {
			slog.WarnContext(ctx, "Skipping malformed transaction",
				log.FieldComponent, log.ComponentTransaction,
				log.FieldUserID, userID,
				log.FieldTxKey, tx.Key,
				log.FieldError, err)
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

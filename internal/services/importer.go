package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"expensetracker/internal/core"
	"expensetracker/internal/gateway"
	"expensetracker/internal/log"
	"expensetracker/internal/reconcile"
	"expensetracker/internal/storage"
)

// ImportResult counts what one import did. Imported is every booked and
// pending record processed; it equals Inserted + Updated on success.
type ImportResult struct {
	Imported int      `json:"imported"`
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Accounts []string `json:"accounts"`
}

type importStore interface {
	storage.LinkStore
	storage.TransactionStore
}

// Importer pulls transactions for a linked user and upserts them by
// reconciliation key, so running it again updates instead of duplicating.
type Importer struct {
	store       importStore
	gw          BankGateway
	allAccounts bool
	events      *log.StructuredLogger

	now func() time.Time
}

// NewImporter returns an importer reading the primary account only, or every
// linked account when allAccounts is set.
func NewImporter(store importStore, gw BankGateway, allAccounts bool, logger *log.Logger) *Importer {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Importer{
		store:       store,
		gw:          gw,
		allAccounts: allAccounts,
		events:      log.NewStructuredLogger(logger.WithComponent(log.ComponentImport)),
		now:         time.Now,
	}
}

// Import fetches and stores the user's transactions. dateFrom and dateTo are
// both set or both nil.
//
// A record that fails normalization stops the import with its validation
// error before anything is written.
func (im *Importer) Import(ctx context.Context, userID string, dateFrom, dateTo *core.Date) (ImportResult, error) {
	var result ImportResult
	now := im.now()
	today := core.DateOf(now)

	if err := checkWindow(dateFrom, dateTo, today); err != nil {
		return result, err
	}

	accounts, err := im.accounts(ctx, userID, now)
	if err != nil {
		return result, err
	}
	result.Accounts = accounts

	feeds := make([]*gateway.TransactionsResponse, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	for i, accountID := range accounts {
		g.Go(func() error {
			resp, err := im.gw.GetTransactions(gctx, accountID, dateFrom, dateTo)
			if err != nil {
				return fmt.Errorf("fetch transactions of account %s: %w", accountID, err)
			}
			feeds[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	// Every record is normalized before the first write, so one bad record
	// leaves storage untouched.
	var txs []core.Transaction
	for i, feed := range feeds {
		if feed == nil {
			continue
		}
		for _, batch := range [][]gateway.RawTransaction{feed.Transactions.Booked, feed.Transactions.Pending} {
			for n, raw := range batch {
				tx, err := reconcile.NormalizeBank(raw, userID, today)
				if err != nil {
					return result, fmt.Errorf("record %d of account %s: %w", n, accounts[i], err)
				}
				txs = append(txs, tx)
			}
		}
	}

	for _, tx := range txs {
		stamp := im.now().UTC()
		tx.CreatedAt, tx.UpdatedAt = stamp, stamp

		inserted, err := im.store.UpsertTransaction(ctx, tx)
		if err != nil {
			return result, fmt.Errorf("upsert transaction %s: %w", tx.Key, err)
		}
		result.Imported++
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}

	im.events.LogImportCompleted(ctx, userID, result.Imported, result.Inserted, result.Updated)
	return result, nil
}

// accounts resolves which accounts to read, expiring the link if due.
func (im *Importer) accounts(ctx context.Context, userID string, now time.Time) ([]string, error) {
	link, err := im.store.GetLink(ctx, userID)
	if errors.Is(err, core.ErrLinkNotFound) {
		return nil, fmt.Errorf("import for %s: %w", userID, core.ErrNoLinkedAccount)
	}
	if err != nil {
		return nil, fmt.Errorf("load link: %w", err)
	}

	if link.ExpireIfDue(now) {
		link.UpdatedAt = now.UTC()
		if err := im.store.SaveLink(ctx, *link); err != nil {
			return nil, fmt.Errorf("save expired link: %w", err)
		}
		slog.InfoContext(ctx, "Bank link expired",
			log.FieldUserID, userID,
			log.FieldRequisitionID, link.RequisitionID)
	}
	if link.Status == core.LinkExpired {
		return nil, fmt.Errorf("import for %s: %w", userID, core.ErrLinkExpired)
	}

	primary, ok := link.PrimaryAccount()
	if !ok {
		return nil, fmt.Errorf("import for %s: %w", userID, core.ErrNoLinkedAccount)
	}
	if !im.allAccounts {
		return []string{primary}, nil
	}
	return append([]string(nil), link.LinkedAccountIDs...), nil
}

func checkWindow(from, to *core.Date, today core.Date) error {
	if (from == nil) != (to == nil) {
		return fmt.Errorf("%w: dateFrom and dateTo go together", core.ErrInvalidDate)
	}
	if from == nil {
		return nil
	}
	if from.AfterDate(*to) {
		return fmt.Errorf("%w: dateFrom %s is after dateTo %s", core.ErrInvalidDate, from, to)
	}
	if to.AfterDate(today) {
		return fmt.Errorf("%w: dateTo %s is in the future", core.ErrInvalidDate, to)
	}
	return nil
}

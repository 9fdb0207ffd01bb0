// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expensetracker/internal/core"
	"expensetracker/internal/storage"
)

// Run exercises a backend. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("links", func(t *testing.T) { testLinks(t, newStore(t)) })
	t.Run("upsert", func(t *testing.T) { testUpsert(t, newStore(t)) })
	t.Run("upsert foreign key", func(t *testing.T) { testUpsertForeign(t, newStore(t)) })
	t.Run("concurrent upsert", func(t *testing.T) { testConcurrentUpsert(t, newStore(t)) })
	t.Run("concurrent upsert owners", func(t *testing.T) { testConcurrentUpsertOwners(t, newStore(t)) })
	t.Run("update and delete", func(t *testing.T) { testUpdateDelete(t, newStore(t)) })
	t.Run("list", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("categories", func(t *testing.T) { testCategories(t, newStore(t)) })
}

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// Transaction builds a valid bank transaction for tests.
func Transaction(key, userID, amount string, booking *core.Date, at time.Time) core.Transaction {
	return core.Transaction{
		Key:           key,
		UserID:        userID,
		Type:          core.Expense,
		Amount:        decimal.RequireFromString(amount),
		Currency:      "EUR",
		BookingDate:   booking,
		Description:   "Coffee",
		Category:      core.DefaultCategory,
		TransactionID: key,
		Source:        core.SourceBank,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func date(y, m, d int) *core.Date {
	v := core.NewDate(y, m, d)
	return &v
}

func testUsers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.GetUser(ctx, "alice")
	require.ErrorIs(t, err, core.ErrUserNotFound)

	require.NoError(t, s.SaveUser(ctx, core.User{ID: "alice", Name: "Alice", Email: "alice@example.com"}))
	require.NoError(t, s.SaveUser(ctx, core.User{ID: "alice", Name: "Alice B", Email: "alice@example.com"}))

	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice B", u.Name)
}

func testLinks(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.GetLink(ctx, "alice")
	require.ErrorIs(t, err, core.ErrLinkNotFound)
	_, err = s.FindLinkByRequisition(ctx, "")
	require.ErrorIs(t, err, core.ErrLinkNotFound)

	link := core.BankLink{
		UserID:             "alice",
		AgreementID:        "agr-1",
		RequisitionID:      "req-1",
		InstitutionID:      "ING_INGBNL2A",
		AccessScope:        core.DefaultAccessScope,
		MaxHistoricalDays:  90,
		AccessValidForDays: 180,
		Status:             core.LinkAwaitingUserConsent,
		ConsentURL:         "https://ob.example.com/psd2/start/req-1",
		AgreementStart:     base,
		CreatedAt:          base,
		UpdatedAt:          base,
	}
	require.NoError(t, s.SaveLink(ctx, link))

	got, err := s.FindLinkByRequisition(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "agr-1", got.AgreementID)
	assert.Equal(t, core.LinkAwaitingUserConsent, got.Status)
	assert.Empty(t, got.LinkedAccountIDs)
	assert.Equal(t, core.DefaultAccessScope, got.AccessScope)
	assert.WithinDuration(t, base, got.AgreementStart, time.Second)

	link.RequisitionID = "req-2"
	link.AgreementID = "agr-2"
	link.Status = core.LinkLinked
	link.LinkedAccountIDs = []string{"acct-1", "acct-2"}
	link.UpdatedAt = base.Add(time.Hour)
	require.NoError(t, s.SaveLink(ctx, link))

	_, err = s.FindLinkByRequisition(ctx, "req-1")
	require.ErrorIs(t, err, core.ErrLinkNotFound)

	got, err = s.GetLink(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "req-2", got.RequisitionID)
	assert.Equal(t, []string{"acct-1", "acct-2"}, got.LinkedAccountIDs)
	assert.WithinDuration(t, base, got.CreatedAt, time.Second)
	require.NoError(t, got.Validate())
}

func testUpsert(t *testing.T, s storage.Store) {
	ctx := context.Background()
	first := Transaction("T1", "alice", "12.50", date(2024, 3, 1), base)

	inserted, err := s.UpsertTransaction(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	second := Transaction("T1", "alice", "13.75", date(2024, 3, 2), base.Add(time.Hour))
	second.Description = "Coffee and cake"
	inserted, err = s.UpsertTransaction(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.GetTransaction(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("13.75").Equal(got.Amount), "amount %s", got.Amount)
	assert.Equal(t, "Coffee and cake", got.Description)
	assert.Equal(t, "2024-03-02", got.BookingDate.String())
	assert.WithinDuration(t, base, got.CreatedAt, time.Second)
	assert.WithinDuration(t, base.Add(time.Hour), got.UpdatedAt, time.Second)

	all, err := s.ListTransactions(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testUpsertForeign(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.UpsertTransaction(ctx, Transaction("T1", "alice", "12.50", date(2024, 3, 1), base))
	require.NoError(t, err)

	_, err = s.UpsertTransaction(ctx, Transaction("T1", "mallory", "99.00", date(2024, 3, 1), base))
	require.ErrorIs(t, err, core.ErrUnauthorized)

	got, err := s.GetTransaction(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
	assert.True(t, decimal.RequireFromString("12.50").Equal(got.Amount))
}

// testConcurrentUpsert races one owner's writers on the same fresh keys:
// every write must succeed and exactly one per key inserts.
func testConcurrentUpsert(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const (
		keys    = 5
		writers = 8
	)

	for k := 0; k < keys; k++ {
		key := fmt.Sprintf("RACE-%d", k)
		var (
			wg       sync.WaitGroup
			start    = make(chan struct{})
			mu       sync.Mutex
			inserted int
			errs     []error
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				tx := Transaction(key, "alice", fmt.Sprintf("%d.00", i+1), date(2024, 3, 1), base)
				ok, err := s.UpsertTransaction(ctx, tx)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				if ok {
					inserted++
				}
			}(i)
		}
		close(start)
		wg.Wait()

		require.Empty(t, errs, key)
		assert.Equal(t, 1, inserted, key)
	}

	all, err := s.ListTransactions(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, all, keys)
}

// testConcurrentUpsertOwners races two owners on one key: one owner wins
// every write, the other is refused every time.
func testConcurrentUpsertOwners(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const writers = 8

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		mu    sync.Mutex
		errs  = map[string][]error{}
		oks   = map[string]int{}
	)
	for i := 0; i < writers; i++ {
		user := "alice"
		if i%2 == 1 {
			user = "bob"
		}
		wg.Add(1)
		go func(user string, i int) {
			defer wg.Done()
			<-start
			tx := Transaction("SHARED", user, fmt.Sprintf("%d.00", i+1), date(2024, 3, 1), base)
			_, err := s.UpsertTransaction(ctx, tx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[user] = append(errs[user], err)
				return
			}
			oks[user]++
		}(user, i)
	}
	close(start)
	wg.Wait()

	stored, err := s.GetTransaction(ctx, "SHARED")
	require.NoError(t, err)
	winner, loser := stored.UserID, "bob"
	if winner == "bob" {
		loser = "alice"
	}
	assert.Equal(t, writers/2, oks[winner])
	assert.Empty(t, errs[winner])
	assert.Zero(t, oks[loser])
	require.Len(t, errs[loser], writers/2)
	for _, err := range errs[loser] {
		assert.ErrorIs(t, err, core.ErrUnauthorized)
	}
}

func testUpdateDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := Transaction("T1", "alice", "12.50", date(2024, 3, 1), base)
	_, err := s.UpsertTransaction(ctx, tx)
	require.NoError(t, err)

	missing := Transaction("nope", "alice", "1", nil, base)
	require.ErrorIs(t, s.UpdateTransaction(ctx, missing), core.ErrTransactionNotFound)
	require.ErrorIs(t, s.DeleteTransaction(ctx, "alice", "nope"), core.ErrTransactionNotFound)

	foreign := tx
	foreign.UserID = "mallory"
	foreign.Description = "hijacked"
	require.ErrorIs(t, s.UpdateTransaction(ctx, foreign), core.ErrUnauthorized)
	require.ErrorIs(t, s.DeleteTransaction(ctx, "mallory", "T1"), core.ErrUnauthorized)

	got, err := s.GetTransaction(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "Coffee", got.Description)

	tx.Description = "Espresso"
	tx.UpdatedAt = base.Add(time.Minute)
	tx.CreatedAt = base.Add(time.Hour)
	require.NoError(t, s.UpdateTransaction(ctx, tx))
	got, err = s.GetTransaction(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "Espresso", got.Description)
	assert.WithinDuration(t, base, got.CreatedAt, time.Second)

	require.NoError(t, s.DeleteTransaction(ctx, "alice", "T1"))
	_, err = s.GetTransaction(ctx, "T1")
	require.True(t, errors.Is(err, core.ErrTransactionNotFound))
}

func testList(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for _, tx := range []core.Transaction{
		Transaction("old", "alice", "1", date(2024, 1, 5), base),
		Transaction("new", "alice", "2", date(2024, 3, 5), base),
		Transaction("pending", "alice", "3", nil, base),
		Transaction("other", "bob", "4", date(2024, 3, 5), base),
	} {
		_, err := s.UpsertTransaction(ctx, tx)
		require.NoError(t, err)
	}

	all, err := s.ListTransactions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "pending", all[0].Key)
	assert.True(t, all[0].IsPending())
	assert.Equal(t, "new", all[1].Key)
	assert.Equal(t, "old", all[2].Key)

	none, err := s.ListTransactions(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testCategories(t *testing.T, s storage.Store) {
	ctx := context.Background()
	n, err := s.CountCategories(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.GetCategory(ctx, "Food")
	require.ErrorIs(t, err, core.ErrCategoryNotFound)

	cats := []core.Category{
		{Name: "Housing", SubCategories: []string{"Rent", "Utilities"}},
		{Name: "Food", SubCategories: []string{"Groceries", "Restaurants"}},
	}
	require.NoError(t, s.InsertCategories(ctx, cats))
	require.NoError(t, s.InsertCategories(ctx, cats))

	n, err = s.CountCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := s.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Food", list[0].Name)

	food, err := s.GetCategory(ctx, "Food")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Groceries", "Restaurants"}, food.SubCategories)
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"expensetracker/internal/core"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; concurrent imports queue here instead of
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Users

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (*core.User, error) {
	var u core.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, email FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (r *SQLiteRepository) SaveUser(ctx context.Context, u core.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email`,
		u.ID, u.Name, u.Email, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// Bank links

const linkColumns = `user_id, agreement_id, requisition_id, institution_id, access_scope,
	max_historical_days, access_valid_for_days, linked_account_ids, status,
	consent_url, agreement_start, created_at, updated_at`

func (r *SQLiteRepository) GetLink(ctx context.Context, userID string) (*core.BankLink, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM bank_links WHERE user_id = ?`, userID)
	return scanLink(row)
}

func (r *SQLiteRepository) FindLinkByRequisition(ctx context.Context, requisitionID string) (*core.BankLink, error) {
	if requisitionID == "" {
		return nil, core.ErrLinkNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM bank_links WHERE requisition_id = ?`, requisitionID)
	return scanLink(row)
}

func (r *SQLiteRepository) SaveLink(ctx context.Context, l core.BankLink) error {
	scope, err := json.Marshal(nonNil(l.AccessScope))
	if err != nil {
		return fmt.Errorf("encode access scope: %w", err)
	}
	accounts, err := json.Marshal(nonNil(l.LinkedAccountIDs))
	if err != nil {
		return fmt.Errorf("encode linked accounts: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO bank_links (`+linkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			agreement_id = excluded.agreement_id,
			requisition_id = excluded.requisition_id,
			institution_id = excluded.institution_id,
			access_scope = excluded.access_scope,
			max_historical_days = excluded.max_historical_days,
			access_valid_for_days = excluded.access_valid_for_days,
			linked_account_ids = excluded.linked_account_ids,
			status = excluded.status,
			consent_url = excluded.consent_url,
			agreement_start = excluded.agreement_start,
			updated_at = excluded.updated_at`,
		l.UserID, l.AgreementID, l.RequisitionID, l.InstitutionID, string(scope),
		l.MaxHistoricalDays, l.AccessValidForDays, string(accounts), string(l.Status),
		l.ConsentURL, formatTime(l.AgreementStart), formatTime(l.CreatedAt), formatTime(l.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save bank link: %w", err)
	}

	slog.InfoContext(ctx, "Bank link saved to SQLite",
		"user_id", l.UserID,
		"status", l.Status,
		"requisition_id", l.RequisitionID)
	return nil
}

func scanLink(row *sql.Row) (*core.BankLink, error) {
	var (
		l                       core.BankLink
		scope, accounts, status string
		start, created, updated string
	)
	err := row.Scan(&l.UserID, &l.AgreementID, &l.RequisitionID, &l.InstitutionID, &scope,
		&l.MaxHistoricalDays, &l.AccessValidForDays, &accounts, &status,
		&l.ConsentURL, &start, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bank link: %w", err)
	}
	if err := json.Unmarshal([]byte(scope), &l.AccessScope); err != nil {
		return nil, fmt.Errorf("decode access scope: %w", err)
	}
	if err := json.Unmarshal([]byte(accounts), &l.LinkedAccountIDs); err != nil {
		return nil, fmt.Errorf("decode linked accounts: %w", err)
	}
	if len(l.LinkedAccountIDs) == 0 {
		l.LinkedAccountIDs = nil
	}
	l.Status = core.LinkStatus(status)
	l.AgreementStart = parseTime(start)
	l.CreatedAt = parseTime(created)
	l.UpdatedAt = parseTime(updated)
	return &l, nil
}

// Transactions

const txColumns = `tx_key, user_id, transaction_type, amount, currency, booking_date,
	counterpart_name, counterpart_iban, description, category, sub_category,
	transaction_id, end_to_end_id, internal_transaction_id, bank_code, source,
	group_name, paid_by, split, created_at, updated_at`

func (r *SQLiteRepository) UpsertTransaction(ctx context.Context, tx core.Transaction) (bool, error) {
	args, err := txArgs(tx)
	if err != nil {
		return false, err
	}

	// The DO UPDATE only applies when the stored owner matches; otherwise
	// no row is returned and nothing changes.
	var revision int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_key) DO UPDATE SET
			transaction_type = excluded.transaction_type,
			amount = excluded.amount,
			currency = excluded.currency,
			booking_date = excluded.booking_date,
			counterpart_name = excluded.counterpart_name,
			counterpart_iban = excluded.counterpart_iban,
			description = excluded.description,
			category = excluded.category,
			sub_category = excluded.sub_category,
			transaction_id = excluded.transaction_id,
			end_to_end_id = excluded.end_to_end_id,
			internal_transaction_id = excluded.internal_transaction_id,
			bank_code = excluded.bank_code,
			source = excluded.source,
			group_name = excluded.group_name,
			paid_by = excluded.paid_by,
			split = excluded.split,
			revision = transactions.revision + 1,
			updated_at = excluded.updated_at
		WHERE transactions.user_id = excluded.user_id
		RETURNING revision`, args...).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("upsert transaction %s: %w", tx.Key, core.ErrUnauthorized)
	}
	if err != nil {
		return false, fmt.Errorf("upsert transaction: %w", err)
	}
	return revision == 1, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, key string) (*core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE tx_key = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get transaction: %w", err)
		}
		return nil, core.ErrTransactionNotFound
	}
	tx, err := scanTransaction(rows)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	args, err := txArgs(tx)
	if err != nil {
		return err
	}
	// Same order as the insert list, minus key, owner and created_at.
	params := append([]any{}, args[2:len(args)-2]...)
	params = append(params, args[len(args)-1], tx.Key, tx.UserID)

	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET
			transaction_type = ?, amount = ?, currency = ?, booking_date = ?,
			counterpart_name = ?, counterpart_iban = ?, description = ?,
			category = ?, sub_category = ?, transaction_id = ?, end_to_end_id = ?,
			internal_transaction_id = ?, bank_code = ?, source = ?, group_name = ?,
			paid_by = ?, split = ?, revision = revision + 1, updated_at = ?
		WHERE tx_key = ? AND user_id = ?`,
		params...)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return r.ownedChange(ctx, res, tx.Key)
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, userID, key string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE tx_key = ? AND user_id = ?`, key, userID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return r.ownedChange(ctx, res, key)
}

// ownedChange tells a missing key from one owned by someone else after an
// owner-conditioned write touched no row.
func (r *SQLiteRepository) ownedChange(ctx context.Context, res sql.Result, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM transactions WHERE tx_key = ?`, key).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrTransactionNotFound
	}
	if err != nil {
		return fmt.Errorf("check transaction: %w", err)
	}
	return core.ErrUnauthorized
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE user_id = ?
		ORDER BY booking_date IS NULL DESC, booking_date DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

func txArgs(tx core.Transaction) ([]any, error) {
	split, err := json.Marshal(tx.Split)
	if err != nil {
		return nil, fmt.Errorf("encode split: %w", err)
	}
	if tx.Split == nil {
		split = []byte("{}")
	}
	var booking any
	if tx.BookingDate != nil {
		booking = tx.BookingDate.String()
	}
	return []any{
		tx.Key, tx.UserID, string(tx.Type), tx.Amount.String(), tx.Currency, booking,
		tx.CounterpartName, tx.CounterpartIBAN, tx.Description, tx.Category, tx.SubCategory,
		tx.TransactionID, tx.EndToEndID, tx.InternalTransactionID, tx.BankCode, string(tx.Source),
		tx.Group, tx.PaidBy, string(split), formatTime(tx.CreatedAt), formatTime(tx.UpdatedAt),
	}, nil
}

// scanTransaction is lenient on content: an unparsable amount or date leaves
// the field zero, and an unreadable split zeroes the amount, so the record
// fails validation upstream.
func scanTransaction(rows *sql.Rows) (core.Transaction, error) {
	var (
		tx                            core.Transaction
		txType, amount, source, split string
		booking                       sql.NullString
		created, updated              string
	)
	err := rows.Scan(&tx.Key, &tx.UserID, &txType, &amount, &tx.Currency, &booking,
		&tx.CounterpartName, &tx.CounterpartIBAN, &tx.Description, &tx.Category, &tx.SubCategory,
		&tx.TransactionID, &tx.EndToEndID, &tx.InternalTransactionID, &tx.BankCode, &source,
		&tx.Group, &tx.PaidBy, &split, &created, &updated)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}

	tx.Type = core.TransactionType(txType)
	tx.Source = core.TransactionSource(source)
	if d, err := decimal.NewFromString(amount); err == nil {
		tx.Amount = d
	}
	if booking.Valid && booking.String != "" {
		d, err := core.ParseDate(booking.String)
		if err != nil {
			d = core.Date{}
		}
		tx.BookingDate = &d
	}
	if strings.TrimSpace(split) != "" && split != "{}" && split != "null" {
		if err := json.Unmarshal([]byte(split), &tx.Split); err != nil {
			slog.Warn("Unreadable split in stored transaction",
				"tx_key", tx.Key,
				"error", err)
			tx.Split = nil
			tx.Amount = decimal.Zero
		}
	}
	tx.CreatedAt = parseTime(created)
	tx.UpdatedAt = parseTime(updated)
	return tx, nil
}

// Categories

func (r *SQLiteRepository) CountCategories(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count categories: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) InsertCategories(ctx context.Context, cats []core.Category) error {
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	for _, c := range cats {
		subs, err := json.Marshal(nonNil(c.SubCategories))
		if err != nil {
			return fmt.Errorf("encode subcategories: %w", err)
		}
		if _, err := dbtx.ExecContext(ctx,
			`INSERT INTO categories (name, sub_categories) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
			c.Name, string(subs)); err != nil {
			return fmt.Errorf("insert category %s: %w", c.Name, err)
		}
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit categories: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, sub_categories FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		var subs string
		if err := rows.Scan(&c.Name, &subs); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		if err := json.Unmarshal([]byte(subs), &c.SubCategories); err != nil {
			return nil, fmt.Errorf("decode subcategories of %s: %w", c.Name, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, name string) (*core.Category, error) {
	c := core.Category{Name: name}
	var subs string
	err := r.db.QueryRowContext(ctx, `SELECT sub_categories FROM categories WHERE name = ?`, name).Scan(&subs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrCategoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	if err := json.Unmarshal([]byte(subs), &c.SubCategories); err != nil {
		return nil, fmt.Errorf("decode subcategories of %s: %w", name, err)
	}
	return &c, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/orang2bejo/Nakes-Link-sub000/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a conditional update that matched no row:
	// the record moved to another state first.
	ErrConflict = errors.New("state conflict")
)

type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(dsn string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA foreign_keys = ON;")
	db.Exec("PRAGMA journal_mode = WAL;")
	db.Exec("PRAGMA busy_timeout = 5000;")

	r := &SQLiteRepo{db: db}
	if err := r.migrate(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepo) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS transactions(
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			order_json TEXT NOT NULL,
			gateway TEXT NOT NULL,
			method TEXT NOT NULL,
			amount_minor INTEGER NOT NULL,
			fee_minor INTEGER NOT NULL,
			status TEXT NOT NULL,
			external_id TEXT NOT NULL DEFAULT '',
			refs_json TEXT NOT NULL DEFAULT '{}',
			retry_count INTEGER NOT NULL DEFAULT 0,
			retried_by TEXT NOT NULL DEFAULT '',
			wallet_account_id TEXT NOT NULL DEFAULT '',
			failure_code TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			expires_at TEXT,
			paid_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_tx_order ON transactions(order_id);
		CREATE INDEX IF NOT EXISTS idx_tx_status ON transactions(status);
		CREATE INDEX IF NOT EXISTS idx_tx_external ON transactions(external_id);

		CREATE TABLE IF NOT EXISTS wallet_accounts(
			owner_id TEXT PRIMARY KEY,
			balance_minor INTEGER NOT NULL DEFAULT 0 CHECK(balance_minor >= 0),
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS wallet_ledger(
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES wallet_accounts(owner_id),
			type TEXT NOT NULL,
			amount_minor INTEGER NOT NULL,
			fee_minor INTEGER NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			reference TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_ledger_account ON wallet_ledger(account_id);
	`
	_, err := r.db.Exec(schema)
	return err
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- transactions ---

func (r *SQLiteRepo) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	orderJSON, err := json.Marshal(t.Order)
	if err != nil {
		return err
	}
	refsJSON, err := json.Marshal(t.Refs)
	if err != nil {
		return err
	}

	q := `
		INSERT INTO transactions(
			id, order_id, order_json, gateway, method,
			amount_minor, fee_minor, status, external_id, refs_json,
			retry_count, retried_by, wallet_account_id, failure_code, created_at, expires_at, paid_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`
	_, err = r.db.ExecContext(
		ctx, q,
		t.ID, t.OrderID, string(orderJSON), string(t.Gateway), string(t.Method),
		t.AmountMinor, t.FeeMinor, string(t.Status), t.ExternalID, string(refsJSON),
		t.RetryCount, t.RetriedBy, t.WalletAccountID, t.FailureCode, fmtTime(t.CreatedAt),
		fmtTimePtr(t.ExpiresAt), fmtTimePtr(t.PaidAt),
	)
	return err
}

const txColumns = `
	id, order_id, order_json, gateway, method,
	amount_minor, fee_minor, status, external_id, refs_json,
	retry_count, retried_by, wallet_account_id, failure_code, created_at, expires_at, paid_at
`

func (r *SQLiteRepo) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+txColumns+" FROM transactions WHERE id = ?", id)
	return scanTx(row)
}

func (r *SQLiteRepo) GetTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+txColumns+" FROM transactions WHERE external_id = ?", externalID)
	return scanTx(row)
}

type TxFilter struct {
	OrderID string
	Gateway domain.GatewayID
	Status  domain.TxStatus
}

func (r *SQLiteRepo) ListTransactions(ctx context.Context, f TxFilter, limit, offset int) ([]domain.Transaction, error) {
	q := "SELECT " + txColumns + " FROM transactions WHERE 1 = 1"
	args := []any{}

	if f.OrderID != "" {
		q += " AND order_id = ?"
		args = append(args, f.OrderID)
	}
	if f.Gateway != "" {
		q += " AND gateway = ?"
		args = append(args, string(f.Gateway))
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, string(f.Status))
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *t)
	}
	return res, rows.Err()
}

// HasOpenTransaction reports whether the order still has a non-terminal
// attempt in flight.
func (r *SQLiteRepo) HasOpenTransaction(ctx context.Context, orderID string) (bool, error) {
	q := `
		SELECT COUNT(1) FROM transactions
		WHERE order_id = ? AND status IN (?, ?, ?)
	`
	var n int
	err := r.db.QueryRowContext(ctx, q, orderID,
		string(domain.StatusCreated),
		string(domain.StatusAwaitingMethod),
		string(domain.StatusPendingConfirm),
	).Scan(&n)
	return n > 0, err
}

// TransitionStatus moves a transaction to a new status only while it is
// still in one of the expected states. ErrConflict means another writer
// got there first; terminal states stay put.
func (r *SQLiteRepo) TransitionStatus(ctx context.Context, id string, from []domain.TxStatus, to domain.TxStatus, paidAt *time.Time, failureCode string) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	q := fmt.Sprintf(
		"UPDATE transactions SET status = ?, paid_at = COALESCE(?, paid_at), failure_code = ? WHERE id = ? AND status IN (%s)",
		placeholders,
	)

	args := []any{string(to), fmtTimePtr(paidAt), failureCode, id}
	for _, s := range from {
		args = append(args, string(s))
	}

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		cur, err := r.GetTransaction(ctx, id)
		if err != nil {
			return ErrNotFound
		}
		if cur.Status == to {
			return nil
		}
		return ErrConflict
	}
	return nil
}

// SetExternalRefs records the provider's create response.
func (r *SQLiteRepo) SetExternalRefs(ctx context.Context, id, externalID string, refs domain.ExternalRefs, expiresAt *time.Time) error {
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return err
	}

	q := `UPDATE transactions SET external_id = ?, refs_json = ?, expires_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, externalID, string(refsJSON), fmtTimePtr(expiresAt), id)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMethodAndFee records the method choice made after creation on a
// multi-method gateway, along with the recomputed fee and total.
func (r *SQLiteRepo) SetMethodAndFee(ctx context.Context, id string, method domain.MethodID, feeMinor, amountMinor int64) error {
	q := `UPDATE transactions SET method = ?, fee_minor = ?, amount_minor = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, string(method), feeMinor, amountMinor, id)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRetried stamps a failed/expired transaction with the id of its
// replacement. At most one caller wins; the rest observe ErrConflict
// and should read the recorded replacement instead.
func (r *SQLiteRepo) MarkRetried(ctx context.Context, id, retriedBy string) error {
	q := `
		UPDATE transactions SET status = ?, retried_by = ?
		WHERE id = ? AND status IN (?, ?)
	`
	res, err := r.db.ExecContext(ctx, q,
		string(domain.StatusRetried), retriedBy, id,
		string(domain.StatusFailed), string(domain.StatusExpired),
	)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return ErrConflict
	}
	return nil
}

func scanTx(scanner interface{ Scan(dest ...any) error }) (*domain.Transaction, error) {
	var t domain.Transaction
	var orderJSON, refsJSON, gw, method, status, createdStr string
	var expiresStr, paidStr *string

	if err := scanner.Scan(
		&t.ID, &t.OrderID, &orderJSON, &gw, &method,
		&t.AmountMinor, &t.FeeMinor, &status, &t.ExternalID, &refsJSON,
		&t.RetryCount, &t.RetriedBy, &t.WalletAccountID, &t.FailureCode, &createdStr, &expiresStr, &paidStr,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(orderJSON), &t.Order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if err := json.Unmarshal([]byte(refsJSON), &t.Refs); err != nil {
		return nil, fmt.Errorf("decode refs: %w", err)
	}

	t.Gateway = domain.GatewayID(gw)
	t.Method = domain.MethodID(method)
	t.Status = domain.TxStatus(status)

	created, err := time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	t.CreatedAt = created

	if t.ExpiresAt, err = parseTimePtr(expiresStr); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if t.PaidAt, err = parseTimePtr(paidStr); err != nil {
		return nil, fmt.Errorf("parse paid_at: %w", err)
	}
	return &t, nil
}

// --- wallet ---

func (r *SQLiteRepo) GetAccount(ctx context.Context, ownerID string) (*domain.WalletAccount, error) {
	q := `SELECT owner_id, balance_minor, created_at, updated_at FROM wallet_accounts WHERE owner_id = ?`
	var a domain.WalletAccount
	var createdStr, updatedStr string
	err := r.db.QueryRowContext(ctx, q, ownerID).Scan(&a.OwnerID, &a.BalanceMinor, &createdStr, &updatedStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedStr); err != nil {
		return nil, err
	}
	return &a, nil
}

// EnsureAccount creates the account row if it does not exist yet.
func (r *SQLiteRepo) EnsureAccount(ctx context.Context, ownerID string) error {
	now := fmtTime(time.Now())
	q := `INSERT INTO wallet_accounts(owner_id, balance_minor, created_at, updated_at) VALUES(?, 0, ?, ?)
	      ON CONFLICT(owner_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, q, ownerID, now, now)
	return err
}

// BalanceChange is one leg of a ledger application: the balance delta
// plus the entry recording it.
type BalanceChange struct {
	AccountID string
	Delta     int64
	Entry     domain.WalletLedgerEntry
}

// ApplyLedger applies one or more balance changes and their ledger
// entries in a single database transaction. A change that would drive a
// balance negative aborts the whole batch with ErrInsufficientBalance,
// leaving nothing recorded.
func (r *SQLiteRepo) ApplyLedger(ctx context.Context, changes []BalanceChange) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := fmtTime(time.Now())
	for _, c := range changes {
		res, err := tx.ExecContext(ctx,
			`UPDATE wallet_accounts SET balance_minor = balance_minor + ?, updated_at = ?
			 WHERE owner_id = ? AND balance_minor + ? >= 0`,
			c.Delta, now, c.AccountID, c.Delta,
		)
		if err != nil {
			return err
		}
		aff, _ := res.RowsAffected()
		if aff == 0 {
			if _, gerr := r.GetAccount(ctx, c.AccountID); gerr != nil {
				return gerr
			}
			return domain.ErrInsufficientBalance
		}

		e := c.Entry
		_, err = tx.ExecContext(ctx,
			`INSERT INTO wallet_ledger(id, account_id, type, amount_minor, fee_minor, description, reference, status, created_at)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.AccountID, string(e.Type), e.AmountMinor, e.FeeMinor,
			e.Description, e.Reference, string(e.Status), fmtTime(e.CreatedAt),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepo) ListLedger(ctx context.Context, accountID string, limit, offset int) ([]domain.WalletLedgerEntry, error) {
	q := `
		SELECT id, account_id, type, amount_minor, fee_minor, description, reference, status, created_at
		FROM wallet_ledger WHERE account_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, q, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.WalletLedgerEntry
	for rows.Next() {
		var e domain.WalletLedgerEntry
		var typ, status, createdStr string
		if err := rows.Scan(&e.ID, &e.AccountID, &typ, &e.AmountMinor, &e.FeeMinor, &e.Description, &e.Reference, &status, &createdStr); err != nil {
			return nil, err
		}
		e.Type = domain.LedgerType(typ)
		e.Status = domain.LedgerStatus(status)
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

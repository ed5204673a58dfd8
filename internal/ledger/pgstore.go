package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/corebank/ledger/internal/models"
)

// Postgres error codes the retry policy treats as transient contention.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgQueryCanceled        = "57014" // statement/lock timeout surfaces as a cancel

	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PgStore is the relational ledger backend. Units of work run as
// serializable transactions; the locked read uses SELECT ... FOR UPDATE, so
// row locking takes over the serialization duty from the in-process gate.
//
// Expected layout: accounts(id, person_id, balance, daily_withdrawal_limit,
// active, account_type, created_at) and transactions(id, account_id, value,
// transaction_date, balance_after, idempotency_key unique nullable), with
// indexes on (account_id, transaction_date) and on idempotency_key.
type PgStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewPgStore(db *sql.DB, lockTimeout time.Duration) *PgStore {
	return &PgStore{db: db, lockTimeout: lockTimeout}
}

// IsRetryable classifies driver failures worth another attempt: serialization
// conflicts, deadlocks, and lock waits that hit the configured bound.
func (s *PgStore) IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch string(pqErr.Code) {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgQueryCanceled:
		return true
	}
	return false
}

const accountColumns = "id, person_id, balance, daily_withdrawal_limit, active, account_type, created_at"

func scanAccount(row *sql.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.PersonID, &a.Balance, &a.DailyWithdrawalLimit, &a.Active, &a.AccountType, &a.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *PgStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

// filterClause builds the WHERE fragment for reporting reads, numbering
// placeholders from argIndex.
func filterClause(f TransactionFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if f.AccountID != "" {
		conditions = append(conditions, fmt.Sprintf("account_id = $%d", argIndex))
		args = append(args, f.AccountID)
		argIndex++
	}
	if !f.From.IsZero() {
		conditions = append(conditions, fmt.Sprintf("transaction_date >= $%d", argIndex))
		args = append(args, f.From)
		argIndex++
	}
	if !f.To.IsZero() {
		conditions = append(conditions, fmt.Sprintf("transaction_date < $%d", argIndex))
		args = append(args, f.To)
		argIndex++
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (s *PgStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]models.Transaction, error) {
	where, args := filterClause(f)
	query := `SELECT id, account_id, value, transaction_date, balance_after, COALESCE(idempotency_key, '')
		FROM transactions` + where + ` ORDER BY transaction_date DESC, id DESC`

	argIndex := len(args) + 1
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, f.Limit)
		argIndex++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Value, &t.TransactionDate, &t.BalanceAfter, &t.IdempotencyKey); err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

func (s *PgStore) CountTransactions(ctx context.Context, f TransactionFilter) (int64, error) {
	where, args := filterClause(f)
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&n)
	return n, err
}

func (s *PgStore) SumByRange(ctx context.Context, f TransactionFilter) (int64, error) {
	where, args := filterClause(f)
	var sum int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(value), 0) FROM transactions`+where, args...).Scan(&sum)
	return sum, err
}

func (s *PgStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	if s.lockTimeout > 0 {
		// Bound every lock wait inside this unit of work; a timeout comes
		// back as a retryable contention error.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockAccountForUpdate(ctx context.Context, accountID string) (*models.Account, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, accountID)
	return scanAccount(row)
}

func (t *pgTx) FindTransactionByKey(ctx context.Context, key string) (*models.Transaction, error) {
	if key == "" {
		return nil, nil
	}
	var e models.Transaction
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, account_id, value, transaction_date, balance_after, idempotency_key
		 FROM transactions WHERE idempotency_key = $1`, key).
		Scan(&e.ID, &e.AccountID, &e.Value, &e.TransactionDate, &e.BalanceAfter, &e.IdempotencyKey)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (t *pgTx) InsertAccount(ctx context.Context, acct *models.Account) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO accounts (id, person_id, balance, daily_withdrawal_limit, active, account_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		acct.ID, acct.PersonID, acct.Balance, acct.DailyWithdrawalLimit, acct.Active, acct.AccountType, acct.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgForeignKeyViolation {
		return ErrPersonNotFound
	}
	return err
}

func (t *pgTx) InsertTransaction(ctx context.Context, entry *models.Transaction) error {
	var key interface{}
	if entry.IdempotencyKey != "" {
		key = entry.IdempotencyKey
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, value, transaction_date, balance_after, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.AccountID, entry.Value, entry.TransactionDate, entry.BalanceAfter, key)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return ErrDuplicateIdempotencyKey
	}
	return err
}

func (t *pgTx) SetBalance(ctx context.Context, accountID string, balance int64) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $1 WHERE id = $2`, balance, accountID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (t *pgTx) SetActiveFlag(ctx context.Context, accountID string, active bool) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET active = $1 WHERE id = $2`, active, accountID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) SumAbsoluteDebitsForDay(ctx context.Context, accountID string, day time.Time) (int64, error) {
	start := debitDay(day)
	end := start.Add(24 * time.Hour)
	var sum int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(-value), 0) FROM transactions
		WHERE account_id = $1 AND value < 0
		  AND transaction_date >= $2 AND transaction_date < $3`,
		accountID, start, end).Scan(&sum)
	return sum, err
}

func (t *pgTx) Commit() error   { return t.tx.Commit() }
func (t *pgTx) Rollback() error { return t.tx.Rollback() }

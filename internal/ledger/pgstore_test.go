package ledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebank/ledger/internal/models"
)

func TestPgStoreIsRetryable(t *testing.T) {
	store := NewPgStore(nil, 0)

	retryable := []string{pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgQueryCanceled}
	for _, code := range retryable {
		assert.True(t, store.IsRetryable(&pq.Error{Code: pq.ErrorCode(code)}), "code %s", code)
	}

	assert.False(t, store.IsRetryable(&pq.Error{Code: pq.ErrorCode(pgUniqueViolation)}))
	assert.False(t, store.IsRetryable(errors.New("connection refused")))
	assert.False(t, store.IsRetryable(nil))

	// Wrapped driver errors still classify.
	wrapped := pqWrap(&pq.Error{Code: pq.ErrorCode(pgDeadlockDetected)})
	assert.True(t, store.IsRetryable(wrapped))
}

func pqWrap(err error) error {
	return &Error{Code: "INTERNAL", Message: "internal error", cause: err}
}

func TestPgStoreMutationUnitOfWork(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPgStore(db, 3*time.Second)
	ctx := context.Background()
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout = '3000ms'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery("SELECT id, person_id, balance, daily_withdrawal_limit, active, account_type, created_at FROM accounts WHERE id = \\$1 FOR UPDATE").
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "person_id", "balance", "daily_withdrawal_limit", "active", "account_type", "created_at"}).
			AddRow("acct-1", "person-1", 5000, 1000, true, "CHECKING", now))

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs("tx-1", "acct-1", int64(-300), now, int64(4700), "k1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectExec("UPDATE accounts SET balance = \\$1 WHERE id = \\$2").
		WithArgs(int64(4700), "acct-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectCommit()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	acct, err := tx.LockAccountForUpdate(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), acct.Balance)
	assert.Equal(t, int64(1000), acct.DailyWithdrawalLimit)

	err = tx.InsertTransaction(ctx, &models.Transaction{
		ID: "tx-1", AccountID: "acct-1", Value: -300,
		TransactionDate: now, BalanceAfter: 4700, IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	require.NoError(t, tx.SetBalance(ctx, "acct-1", 4700))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreLockAccountNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPgStore(db, 0)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM accounts WHERE id = \\$1 FOR UPDATE").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.LockAccountForUpdate(ctx, "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestPgStoreInsertTransactionDuplicateKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPgStore(db, 0)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnError(&pq.Error{Code: pq.ErrorCode(pgUniqueViolation), Constraint: "transactions_idempotency_key_key"})
	mock.ExpectRollback()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	err = tx.InsertTransaction(ctx, &models.Transaction{ID: "tx-1", AccountID: "a", Value: 1, IdempotencyKey: "dup"})
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
}

func TestPgStoreInsertAccountPersonNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPgStore(db, 0)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO accounts").
		WillReturnError(&pq.Error{Code: pq.ErrorCode(pgForeignKeyViolation), Constraint: "accounts_person_id_fkey"})
	mock.ExpectRollback()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	err = tx.InsertAccount(ctx, &models.Account{ID: "a", PersonID: "nobody"})
	assert.ErrorIs(t, err, ErrPersonNotFound)
}

func TestPgStoreSumAbsoluteDebitsForDay(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPgStore(db, 0)
	ctx := context.Background()

	// A local-zone timestamp must aggregate over the UTC day it falls on.
	local := time.Date(2024, 3, 15, 22, 30, 0, 0, time.FixedZone("UTC+4", 4*3600))
	dayStart := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(-value\\), 0\\) FROM transactions").
		WithArgs("acct-1", dayStart, dayEnd).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(700))
	mock.ExpectRollback()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	sum, err := tx.SumAbsoluteDebitsForDay(ctx, "acct-1", local)
	require.NoError(t, err)
	assert.Equal(t, int64(700), sum)

	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreSetBalanceMissingAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPgStore(db, 0)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET balance = \\$1 WHERE id = \\$2").
		WithArgs(int64(100), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	err = tx.SetBalance(ctx, "missing", 100)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestPgStoreListTransactionsFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPgStore(db, 0)
	ctx := context.Background()
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := from.Add(time.Hour)

	mock.ExpectQuery("SELECT id, account_id, value, transaction_date, balance_after, COALESCE\\(idempotency_key, ''\\)").
		WithArgs("acct-1", from, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "value", "transaction_date", "balance_after", "idempotency_key"}).
			AddRow("tx-1", "acct-1", 500, now, 1500, ""))

	entries, err := store.ListTransactions(ctx, TransactionFilter{AccountID: "acct-1", From: from, Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(500), entries[0].Value)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM transactions WHERE account_id = \\$1").
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := store.CountTransactions(ctx, TransactionFilter{AccountID: "acct-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(value\\), 0\\) FROM transactions WHERE account_id = \\$1").
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(-200))

	sum, err := store.SumByRange(ctx, TransactionFilter{AccountID: "acct-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(-200), sum)

	assert.NoError(t, mock.ExpectationsWereMet())
}

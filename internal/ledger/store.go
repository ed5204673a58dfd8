package ledger

import (
	"context"
	"time"

	"github.com/corebank/ledger/internal/models"
)

// TransactionFilter narrows reporting reads. From/To are half-open bounds on
// transaction_date; zero values mean unbounded. Limit/Offset paginate List
// calls only.
type TransactionFilter struct {
	AccountID string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// Store is the durable ledger backend. Reporting reads run outside any unit
// of work; every mutation runs inside a Tx so a partial failure rolls back as
// one piece.
type Store interface {
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]models.Transaction, error)
	CountTransactions(ctx context.Context, f TransactionFilter) (int64, error)
	// SumByRange returns the sum of signed values over the filtered entries.
	SumByRange(ctx context.Context, f TransactionFilter) (int64, error)

	Begin(ctx context.Context) (Tx, error)

	// IsRetryable classifies a failure from this backend as transient
	// contention (serialization failure, deadlock, lock timeout). The codes
	// are backend specific, so the adapter owns the predicate.
	IsRetryable(err error) bool
}

// Tx is one unit of work. Commit makes every write visible atomically;
// Rollback discards all of them. Rollback after Commit is a no-op, which
// allows the deferred-rollback idiom.
type Tx interface {
	// LockAccountForUpdate reads the account row and makes it unavailable to
	// concurrent locked reads until this unit of work ends.
	LockAccountForUpdate(ctx context.Context, accountID string) (*models.Account, error)

	// FindTransactionByKey looks up a journal entry by idempotency key.
	// Returns (nil, nil) when no entry carries the key.
	FindTransactionByKey(ctx context.Context, key string) (*models.Transaction, error)

	// InsertAccount persists a new account row. Fails with ErrPersonNotFound
	// when the owner reference does not exist.
	InsertAccount(ctx context.Context, acct *models.Account) error

	// InsertTransaction appends a journal entry. Fails with
	// ErrDuplicateIdempotencyKey when the entry carries a key that already
	// exists; the key is unique globally, across accounts.
	InsertTransaction(ctx context.Context, entry *models.Transaction) error

	SetBalance(ctx context.Context, accountID string, balance int64) error
	SetActiveFlag(ctx context.Context, accountID string, active bool) error

	// SumAbsoluteDebitsForDay sums |value| over the account's debit entries
	// whose transaction_date falls on the given UTC calendar day.
	SumAbsoluteDebitsForDay(ctx context.Context, accountID string, day time.Time) (int64, error)

	Commit() error
	Rollback() error
}

// debitDay truncates t to the UTC calendar day used for daily-limit
// accounting. Limits reset at UTC midnight regardless of caller timezone.
func debitDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Package ledger implements the atomic balance-mutation core: per-account
// serialization, idempotent retry semantics, daily withdrawal limits, and a
// journal that stays exactly consistent with the balance column.
package ledger

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/corebank/ledger/internal/models"
)

// MaxSafeAmount is the default ceiling on any single amount and on a
// balance. 2^53-1 keeps every value exactly representable by JSON consumers.
const MaxSafeAmount = int64(1)<<53 - 1

type CreateAccountInput struct {
	PersonID             string
	AccountType          string
	DailyWithdrawalLimit int64
}

// MutationResult is what deposit and withdraw hand back: the journal entry id
// and the balance right after it applied. A replayed request returns the
// historical pair, not the current balance.
type MutationResult struct {
	TransactionID string `json:"transaction_id"`
	Balance       int64  `json:"balance"`
}

// Service executes every money movement as one indivisible unit of work:
// serialize on the account, resolve idempotency, check invariants, append the
// journal entry, write the balance, commit. Transient backend contention is
// retried; domain errors are returned as-is.
type Service struct {
	store     Store
	retry     RetryPolicy
	maxAmount int64
	now       func() time.Time
}

type Option func(*Service)

// WithClock injects the time source. Tests use this to pin transaction dates
// to a known day.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

func WithMaxAmount(max int64) Option {
	return func(s *Service) { s.maxAmount = max }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		retry:     DefaultRetryPolicy(),
		maxAmount: MaxSafeAmount,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAccount creates an account with a zero opening balance.
func (s *Service) CreateAccount(ctx context.Context, in CreateAccountInput) (*models.Account, error) {
	return s.CreateWithInitialBalance(ctx, in, 0, s.now())
}

// CreateWithInitialBalance creates the account row and, when amount > 0, its
// opening journal entry in the same unit of work: either both become visible
// or neither does.
func (s *Service) CreateWithInitialBalance(ctx context.Context, in CreateAccountInput, amount int64, date time.Time) (*models.Account, error) {
	if amount < 0 || amount > s.maxAmount {
		return nil, ErrInvalidAmount
	}
	if in.DailyWithdrawalLimit < 0 {
		return nil, ErrInvalidAmount
	}

	acct := &models.Account{
		ID:                   uuid.NewString(),
		PersonID:             in.PersonID,
		Balance:              amount,
		DailyWithdrawalLimit: in.DailyWithdrawalLimit,
		Active:               true,
		AccountType:          in.AccountType,
		CreatedAt:            date,
	}

	err := s.retry.Do(ctx, s.store.IsRetryable, func() error {
		tx, err := s.store.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := tx.InsertAccount(ctx, acct); err != nil {
			return err
		}
		if amount > 0 {
			entry := &models.Transaction{
				ID:              uuid.NewString(),
				AccountID:       acct.ID,
				Value:           amount,
				TransactionDate: date,
				BalanceAfter:    amount,
			}
			if err := tx.InsertTransaction(ctx, entry); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[LEDGER] Account %s created for person %s (opening balance %d)", acct.ID, acct.PersonID, amount)
	return acct, nil
}

// Deposit credits amount to the account. With an idempotency key, a retried
// request replays the original result instead of applying twice.
func (s *Service) Deposit(ctx context.Context, accountID string, amount int64, idempotencyKey string) (*MutationResult, error) {
	if amount <= 0 || amount > s.maxAmount {
		return nil, ErrInvalidAmount
	}
	return s.mutate(ctx, accountID, amount, idempotencyKey)
}

// Withdraw debits amount from the account, enforcing the balance floor and
// the account's daily withdrawal limit.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount int64, idempotencyKey string) (*MutationResult, error) {
	if amount <= 0 || amount > s.maxAmount {
		return nil, ErrInvalidAmount
	}
	return s.mutate(ctx, accountID, -amount, idempotencyKey)
}

func (s *Service) mutate(ctx context.Context, accountID string, value int64, key string) (*MutationResult, error) {
	var res *MutationResult
	err := s.retry.Do(ctx, s.store.IsRetryable, func() error {
		r, err := s.mutateOnce(ctx, accountID, value, key)
		if errors.Is(err, ErrDuplicateIdempotencyKey) && key != "" {
			// Lost a concurrent race on the key. The winner has committed (or
			// rolled back); resolve by lookup instead of surfacing the race.
			r, err = s.replayCommitted(ctx, accountID, key)
		}
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// mutateOnce is one full attempt: everything between Begin and Commit runs
// against state as of lock acquisition, so no check can observe a
// concurrently-committing mutation on the same account.
func (s *Service) mutateOnce(ctx context.Context, accountID string, value int64, key string) (*MutationResult, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if key != "" {
		prior, err := tx.FindTransactionByKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			if prior.AccountID != accountID {
				return nil, ErrIdempotencyKeyConflict
			}
			log.Printf("[LEDGER] Idempotent replay for key on account %s (transaction %s)", accountID, prior.ID)
			return &MutationResult{TransactionID: prior.ID, Balance: prior.BalanceAfter}, nil
		}
	}

	acct, err := tx.LockAccountForUpdate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acct.Active {
		return nil, ErrAccountBlocked
	}

	now := s.now()
	newBalance := acct.Balance + value

	if value > 0 {
		if newBalance > s.maxAmount {
			return nil, ErrInvalidAmount
		}
	} else {
		amount := -value
		if acct.Balance < amount {
			return nil, ErrInsufficientFunds
		}
		dailyTotal, err := tx.SumAbsoluteDebitsForDay(ctx, accountID, now)
		if err != nil {
			return nil, err
		}
		// Inclusive boundary: landing exactly on the limit succeeds.
		if dailyTotal+amount > acct.DailyWithdrawalLimit {
			return nil, ErrDailyLimitExceeded
		}
		if newBalance < 0 {
			return nil, ErrInsufficientFunds
		}
	}

	entry := &models.Transaction{
		ID:              uuid.NewString(),
		AccountID:       accountID,
		Value:           value,
		TransactionDate: now,
		BalanceAfter:    newBalance,
		IdempotencyKey:  key,
	}
	if err := tx.InsertTransaction(ctx, entry); err != nil {
		return nil, err
	}
	if err := tx.SetBalance(ctx, accountID, newBalance); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &MutationResult{TransactionID: entry.ID, Balance: newBalance}, nil
}

// replayCommitted resolves the losing side of a duplicate-key race by reading
// the winner's committed entry. If the winner rolled back there is nothing to
// replay and the race signal stands; the caller should retry.
func (s *Service) replayCommitted(ctx context.Context, accountID, key string) (*MutationResult, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	prior, err := tx.FindTransactionByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, ErrDuplicateIdempotencyKey
	}
	if prior.AccountID != accountID {
		return nil, ErrIdempotencyKeyConflict
	}
	log.Printf("[LEDGER] Converted duplicate-key race into replay on account %s (transaction %s)", accountID, prior.ID)
	return &MutationResult{TransactionID: prior.ID, Balance: prior.BalanceAfter}, nil
}

// SetActiveFlag toggles blocked state. Toggling to the state the account is
// already in is an error, not a no-op.
func (s *Service) SetActiveFlag(ctx context.Context, accountID string, active bool) (*models.Account, error) {
	var out *models.Account
	err := s.retry.Do(ctx, s.store.IsRetryable, func() error {
		tx, err := s.store.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		acct, err := tx.LockAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if acct.Active == active {
			if active {
				return ErrAlreadyUnblocked
			}
			return ErrAlreadyBlocked
		}
		if err := tx.SetActiveFlag(ctx, accountID, active); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		acct.Active = active
		out = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[LEDGER] Account %s active flag set to %t", accountID, active)
	return out, nil
}

func (s *Service) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

func (s *Service) ListTransactions(ctx context.Context, f TransactionFilter) ([]models.Transaction, error) {
	return s.store.ListTransactions(ctx, f)
}

func (s *Service) CountTransactions(ctx context.Context, f TransactionFilter) (int64, error) {
	return s.store.CountTransactions(ctx, f)
}

func (s *Service) SumByRange(ctx context.Context, f TransactionFilter) (int64, error) {
	return s.store.SumByRange(ctx, f)
}

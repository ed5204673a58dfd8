package models

import (
	"time"
)

// Transaction is one immutable journal entry. Value is signed: positive for
// credits, negative for debits, never zero. BalanceAfter snapshots the
// account balance immediately after the entry was applied so that an
// idempotent replay can return the historical result instead of the current
// balance.
type Transaction struct {
	ID              string    `json:"id" db:"id"`
	AccountID       string    `json:"account_id" db:"account_id"`
	Value           int64     `json:"value" db:"value"` // in cents
	TransactionDate time.Time `json:"transaction_date" db:"transaction_date"`
	BalanceAfter    int64     `json:"balance_after" db:"balance_after"`
	IdempotencyKey  string    `json:"idempotency_key,omitempty" db:"idempotency_key"` // empty = none
}

package models

import (
	"time"
)

// Account types understood by the API layer. The ledger core treats the
// type as an opaque tag; none of its invariants depend on it.
const (
	AccountTypeChecking   = "CHECKING"
	AccountTypeSavings    = "SAVINGS"
	AccountTypeInvestment = "INVESTMENT"
)

type Account struct {
	ID                   string    `json:"id" db:"id"`
	PersonID             string    `json:"person_id" db:"person_id"`
	Balance              int64     `json:"balance" db:"balance"` // in cents
	DailyWithdrawalLimit int64     `json:"daily_withdrawal_limit" db:"daily_withdrawal_limit"`
	Active               bool      `json:"active" db:"active"`
	AccountType          string    `json:"account_type" db:"account_type"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
}

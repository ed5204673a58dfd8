package services

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/corebank/ledger/internal/ledger"
)

// timeNow stamps opening entries; overridable in tests.
var timeNow = func() time.Time { return time.Now().UTC() }

type AccountService struct {
	ledger    *ledger.Service
	validator *ValidationHelper
}

func NewAccountService(ledgerService *ledger.Service) *AccountService {
	return &AccountService{
		ledger:    ledgerService,
		validator: NewValidationHelper(),
	}
}

type createAccountRequest struct {
	PersonID             string `json:"personId" validate:"required"`
	AccountType          string `json:"accountType" validate:"required,oneof=CHECKING SAVINGS INVESTMENT"`
	DailyWithdrawalLimit int64  `json:"dailyWithdrawalLimit" validate:"gte=0"`
	InitialBalance       int64  `json:"initialBalance" validate:"gte=0"`
}

// CreateAccount creates a new account, optionally with an opening balance
// @Summary Create account
// @Description Create an account for a person, with an optional initial balance applied atomically
// @Tags accounts
// @Accept json
// @Produce json
// @Param account body createAccountRequest true "Account data"
// @Success 201 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts [post]
func (as *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	input := ledger.CreateAccountInput{
		PersonID:             req.PersonID,
		AccountType:          req.AccountType,
		DailyWithdrawalLimit: req.DailyWithdrawalLimit,
	}

	acct, err := as.ledger.CreateWithInitialBalance(r.Context(), input, req.InitialBalance, timeNow())
	if err != nil {
		log.Printf("[ACCOUNT] Create failed for person %s: %v", req.PersonID, err)
		SendLedgerError(w, err)
		return
	}

	log.Printf("[ACCOUNT] Created account %s for person %s", acct.ID, acct.PersonID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(acct)
}

// GetAccount retrieves an account by id
// @Summary Get account
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} models.Account
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId} [get]
func (as *AccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	acct, err := as.ledger.GetAccount(r.Context(), accountID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(acct)
}

// GetBalance retrieves the current balance for an account
// @Summary Get account balance
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} object{accountId=string,balance=int64}
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/balance [get]
func (as *AccountService) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	acct, err := as.ledger.GetAccount(r.Context(), accountID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accountId": acct.ID,
		"balance":   acct.Balance,
	})
}

// BlockAccount deactivates an account
// @Summary Block account
// @Description Block an active account; blocking an already blocked account fails
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} models.Account
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /accounts/{accountId}/block [put]
func (as *AccountService) BlockAccount(w http.ResponseWriter, r *http.Request) {
	as.setActiveFlag(w, r, false)
}

// UnblockAccount reactivates an account
// @Summary Unblock account
// @Description Unblock a blocked account; unblocking an already active account fails
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} models.Account
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /accounts/{accountId}/unblock [put]
func (as *AccountService) UnblockAccount(w http.ResponseWriter, r *http.Request) {
	as.setActiveFlag(w, r, true)
}

func (as *AccountService) setActiveFlag(w http.ResponseWriter, r *http.Request, active bool) {
	accountID := chi.URLParam(r, "accountId")

	acct, err := as.ledger.SetActiveFlag(r.Context(), accountID, active)
	if err != nil {
		log.Printf("[ACCOUNT] Set active=%t failed for account %s: %v", active, accountID, err)
		SendLedgerError(w, err)
		return
	}

	log.Printf("[ACCOUNT] Account %s active flag set to %t", accountID, active)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(acct)
}

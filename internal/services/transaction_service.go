package services

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	"github.com/corebank/ledger/internal/ledger"
)

// eventQueue is the redis list committed journal entries are pushed onto for
// downstream consumers (statements, notifications). Publishing happens after
// commit and is never part of the unit of work.
const eventQueue = "ledger_events"

type TransactionService struct {
	ledger    *ledger.Service
	redis     *redis.Client
	validator *ValidationHelper
}

func NewTransactionService(ledgerService *ledger.Service, redisClient *redis.Client) *TransactionService {
	return &TransactionService{
		ledger:    ledgerService,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

type mutationRequest struct {
	Amount         int64  `json:"amount" validate:"required,gt=0"`
	IdempotencyKey string `json:"idempotencyKey,omitempty" validate:"omitempty,max=128"`
}

type ledgerEvent struct {
	AccountID     string `json:"accountId"`
	TransactionID string `json:"transactionId"`
	Operation     string `json:"operation"`
	Amount        int64  `json:"amount"`
	Balance       int64  `json:"balance"`
	OccurredAt    string `json:"occurredAt"`
}

// Deposit credits an account
// @Summary Deposit into an account
// @Description Apply a credit; safe to retry verbatim with an Idempotency-Key header
// @Tags transactions
// @Accept json
// @Produce json
// @Param accountId path string true "Account ID"
// @Param deposit body mutationRequest true "Deposit data"
// @Success 200 {object} ledger.MutationResult
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/deposit [post]
func (ts *TransactionService) Deposit(w http.ResponseWriter, r *http.Request) {
	ts.mutate(w, r, "deposit")
}

// Withdraw debits an account
// @Summary Withdraw from an account
// @Description Apply a debit, bounded by balance and the daily withdrawal limit
// @Tags transactions
// @Accept json
// @Produce json
// @Param accountId path string true "Account ID"
// @Param withdrawal body mutationRequest true "Withdrawal data"
// @Success 200 {object} ledger.MutationResult
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/withdraw [post]
func (ts *TransactionService) Withdraw(w http.ResponseWriter, r *http.Request) {
	ts.mutate(w, r, "withdraw")
}

func (ts *TransactionService) mutate(w http.ResponseWriter, r *http.Request, operation string) {
	accountID := chi.URLParam(r, "accountId")

	var req mutationRequest

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

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	// Header takes precedence over the body field.
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = req.IdempotencyKey
	}

	var result *ledger.MutationResult
	var err error
	if operation == "deposit" {
		result, err = ts.ledger.Deposit(r.Context(), accountID, req.Amount, key)
	} else {
		result, err = ts.ledger.Withdraw(r.Context(), accountID, req.Amount, key)
	}
	if err != nil {
		log.Printf("[TRANSACTION] %s failed for account %s: %v", operation, accountID, err)
		SendLedgerError(w, err)
		return
	}

	ts.publishEvent(r.Context(), ledgerEvent{
		AccountID:     accountID,
		TransactionID: result.TransactionID,
		Operation:     operation,
		Amount:        req.Amount,
		Balance:       result.Balance,
		OccurredAt:    timeNow().Format(time.RFC3339),
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// ListTransactions retrieves journal entries for an account
// @Summary List account transactions
// @Tags transactions
// @Produce json
// @Param accountId path string true "Account ID"
// @Param from query string false "Start of date range (RFC 3339, inclusive)"
// @Param to query string false "End of date range (RFC 3339, exclusive)"
// @Param limit query int false "Page size (default: 50, max: 100)"
// @Param offset query int false "Page offset"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 400 {object} ErrorResponse
// @Router /accounts/{accountId}/transactions [get]
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	f, ok := ts.parseFilter(w, r)
	if !ok {
		return
	}

	transactions, err := ts.ledger.ListTransactions(r.Context(), f)
	if err != nil {
		log.Printf("[TRANSACTION] List failed for account %s: %v", f.AccountID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// CountTransactions counts journal entries matching the filters
// @Summary Count account transactions
// @Tags transactions
// @Produce json
// @Param accountId path string true "Account ID"
// @Param from query string false "Start of date range (RFC 3339, inclusive)"
// @Param to query string false "End of date range (RFC 3339, exclusive)"
// @Success 200 {object} object{count=int64}
// @Failure 400 {object} ErrorResponse
// @Router /accounts/{accountId}/transactions/count [get]
func (ts *TransactionService) CountTransactions(w http.ResponseWriter, r *http.Request) {
	f, ok := ts.parseFilter(w, r)
	if !ok {
		return
	}

	count, err := ts.ledger.CountTransactions(r.Context(), f)
	if err != nil {
		log.Printf("[TRANSACTION] Count failed for account %s: %v", f.AccountID, err)
		SendErrorResponse(w, "Failed to count transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"count": count})
}

// SumTransactions sums signed values over the filtered range
// @Summary Sum account transactions
// @Tags transactions
// @Produce json
// @Param accountId path string true "Account ID"
// @Param from query string false "Start of date range (RFC 3339, inclusive)"
// @Param to query string false "End of date range (RFC 3339, exclusive)"
// @Success 200 {object} object{sum=int64}
// @Failure 400 {object} ErrorResponse
// @Router /accounts/{accountId}/transactions/sum [get]
func (ts *TransactionService) SumTransactions(w http.ResponseWriter, r *http.Request) {
	f, ok := ts.parseFilter(w, r)
	if !ok {
		return
	}

	sum, err := ts.ledger.SumByRange(r.Context(), f)
	if err != nil {
		log.Printf("[TRANSACTION] Sum failed for account %s: %v", f.AccountID, err)
		SendErrorResponse(w, "Failed to sum transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"sum": sum})
}

func (ts *TransactionService) parseFilter(w http.ResponseWriter, r *http.Request) (ledger.TransactionFilter, bool) {
	f := ledger.TransactionFilter{
		AccountID: chi.URLParam(r, "accountId"),
		Limit:     50,
	}

	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			SendErrorResponse(w, "Invalid 'from' date", http.StatusBadRequest, nil)
			return f, false
		}
		f.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			SendErrorResponse(w, "Invalid 'to' date", http.StatusBadRequest, nil)
			return f, false
		}
		f.To = t
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			f.Limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			f.Offset = o
		}
	}
	return f, true
}

func (ts *TransactionService) publishEvent(ctx context.Context, event ledgerEvent) {
	if ts.redis == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := ts.redis.RPush(ctx, eventQueue, data).Err(); err != nil {
		log.Printf("[TRANSACTION] Failed to publish ledger event for %s: %v", event.TransactionID, err)
	}
}

package services

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/corebank/ledger/internal/ledger"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid request", func(t *testing.T) {
		valid := mutationRequest{Amount: 500, IdempotencyKey: "retry-1"}

		err := vh.ValidateStruct(&valid)
		assert.NoError(t, err)
	})

	t.Run("missing amount", func(t *testing.T) {
		err := vh.ValidateStruct(&mutationRequest{})
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 1)
		assert.Equal(t, "Amount", validationErrors[0].Field())
	})

	t.Run("oversized idempotency key", func(t *testing.T) {
		key := make([]byte, 129)
		for i := range key {
			key[i] = 'k'
		}

		err := vh.ValidateStruct(&mutationRequest{Amount: 1, IdempotencyKey: string(key)})
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Equal(t, "max", validationErrors[0].Tag())
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("error response without validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("error response with validation errors", func(t *testing.T) {
		vh := NewValidationHelper()
		validationErr := vh.ValidateStruct(&createAccountRequest{AccountType: "CRYPTO"})
		assert.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Validation failed", response.Error)
		assert.Contains(t, response.Details, "PersonID")
		assert.Contains(t, response.Details, "AccountType")
	})
}

func TestSendLedgerError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"account not found", ledger.ErrAccountNotFound, http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
		{"person not found", ledger.ErrPersonNotFound, http.StatusNotFound, "PERSON_NOT_FOUND"},
		{"blocked", ledger.ErrAccountBlocked, http.StatusForbidden, "ACCOUNT_BLOCKED"},
		{"already blocked", ledger.ErrAlreadyBlocked, http.StatusConflict, "ALREADY_BLOCKED"},
		{"already unblocked", ledger.ErrAlreadyUnblocked, http.StatusConflict, "ALREADY_UNBLOCKED"},
		{"key conflict", ledger.ErrIdempotencyKeyConflict, http.StatusConflict, "IDEMPOTENCY_KEY_CONFLICT"},
		{"invalid amount", ledger.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
		{"insufficient funds", ledger.ErrInsufficientFunds, http.StatusBadRequest, "INSUFFICIENT_FUNDS"},
		{"daily limit", ledger.ErrDailyLimitExceeded, http.StatusBadRequest, "DAILY_LIMIT_EXCEEDED"},
		{"internal", ledger.ErrInternal, http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SendLedgerError(w, tc.err)

			assert.Equal(t, tc.status, w.Code)

			var response ErrorResponse
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, tc.code, response.Code)
			assert.NotEmpty(t, response.Error)
		})
	}

	t.Run("wrapped internal cause stays hidden", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendLedgerError(w, ledger.Internal(errors.New("pq: deadlock on relation accounts")))

		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.NotContains(t, response.Error, "deadlock")
	})

	t.Run("plain error maps to internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendLedgerError(w, errors.New("boom"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

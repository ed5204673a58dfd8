package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/corebank/ledger/internal/ledger"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Code    string            `json:"code,omitempty"`    // Stable machine-readable code
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		errorResp.Details = make(map[string]string)
		for _, err := range validationErr.(validator.ValidationErrors) {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// statusForCode maps a domain error code to its HTTP status.
func statusForCode(code string) int {
	switch code {
	case ledger.ErrAccountNotFound.Code, ledger.ErrPersonNotFound.Code:
		return http.StatusNotFound
	case ledger.ErrAccountBlocked.Code:
		return http.StatusForbidden
	case ledger.ErrAlreadyBlocked.Code, ledger.ErrAlreadyUnblocked.Code,
		ledger.ErrIdempotencyKeyConflict.Code, ledger.ErrDuplicateIdempotencyKey.Code:
		return http.StatusConflict
	case ledger.ErrInvalidAmount.Code, ledger.ErrInsufficientFunds.Code,
		ledger.ErrDailyLimitExceeded.Code:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// SendLedgerError maps a ledger error to its status and stable code. The
// message is the error's own generic one; internals never leak.
func SendLedgerError(w http.ResponseWriter, err error) {
	var le *ledger.Error
	if !errors.As(err, &le) {
		SendErrorResponse(w, "internal error", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForCode(le.Code))
	json.NewEncoder(w).Encode(ErrorResponse{Error: le.Message, Code: le.Code})
}

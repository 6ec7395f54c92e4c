package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	AccountNotFound      ErrorCode = "account_not_found"
	AccountDisabled      ErrorCode = "account_disabled"
	AccountLocked        ErrorCode = "account_locked"
	DuplicateAccount     ErrorCode = "duplicate_account"
	DuplicateReference   ErrorCode = "duplicate_reference"
	RecipientNotFound    ErrorCode = "recipient_not_found"
	RecordNotFound       ErrorCode = "record_not_found"
	OrderNotFound        ErrorCode = "order_not_found"
	InsufficientFunds    ErrorCode = "insufficient_funds"
	AuthorizationDenied  ErrorCode = "authorization_denied"
	StoreConflict        ErrorCode = "store_conflict"
	InvalidTransition    ErrorCode = "invalid_transition"
	InvalidAmount        ErrorCode = "invalid_amount"
	InvalidInput         ErrorCode = "invalid_input"
	InternalError        ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *AppError) WithDetails(details string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
	}
}

// HTTPStatus maps the error code to the status the HTTP layer responds with.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case AccountNotFound, RecipientNotFound, RecordNotFound, OrderNotFound:
		return http.StatusNotFound
	case DuplicateAccount, DuplicateReference:
		return http.StatusConflict
	case InsufficientFunds, InvalidTransition:
		return http.StatusUnprocessableEntity
	case AuthorizationDenied:
		return http.StatusForbidden
	case AccountLocked:
		return http.StatusLocked
	case AccountDisabled:
		return http.StatusForbidden
	case StoreConflict:
		return http.StatusServiceUnavailable
	case InvalidAmount, InvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Is lets errors.Is match AppErrors by code, so sentinel comparisons survive
// WithDetails copies.
func (e *AppError) Is(target error) bool {
	var appErr *AppError
	if !errors.As(target, &appErr) {
		return false
	}
	return e.Code == appErr.Code
}

// CodeOf extracts the ErrorCode from any error, defaulting to InternalError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return InternalError
}

// Predefined errors for common cases
var (
	ErrAccountNotFound     = NewAppError(AccountNotFound, "account not found")
	ErrAccountDisabled     = NewAppError(AccountDisabled, "account is disabled")
	ErrAccountLocked       = NewAppError(AccountLocked, "account is locked after repeated failed attempts")
	ErrDuplicateAccount    = NewAppError(DuplicateAccount, "account already exists")
	ErrDuplicateReference  = NewAppError(DuplicateReference, "reference already applied")
	ErrRecipientNotFound   = NewAppError(RecipientNotFound, "recipient could not be resolved")
	ErrRecordNotFound      = NewAppError(RecordNotFound, "transaction record not found")
	ErrOrderNotFound       = NewAppError(OrderNotFound, "order not found")
	ErrInsufficientFunds   = NewAppError(InsufficientFunds, "insufficient funds")
	ErrInvalidTransition   = NewAppError(InvalidTransition, "order status no longer permits this transition")
	ErrAuthorizationDenied = NewAppError(AuthorizationDenied, "authorization denied")
	ErrStoreConflict       = NewAppError(StoreConflict, "storage conflict, retry later")
	ErrInvalidAmount       = NewAppError(InvalidAmount, "amount must be greater than zero")
	ErrSameAccountTransfer = NewAppError(InvalidInput, "sender and receiver must differ")
)

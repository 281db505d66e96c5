package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and retry decisions.
type Kind string

const (
	KindValidation          Kind = "VALIDATION"
	KindAuthorization       Kind = "AUTHORIZATION"
	KindNotFound            Kind = "NOT_FOUND"
	KindConflict            Kind = "CONFLICT"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindLimitExceeded       Kind = "LIMIT_EXCEEDED"
	KindTransient           Kind = "TRANSIENT"
	KindTerminal            Kind = "TERMINAL"
	KindInternal            Kind = "INTERNAL"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Kind       Kind   `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another *AppError by code, so errors.Is(err, ErrLimitExceeded()) works.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string, httpStatus int, kind Kind) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Kind:       kind,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, kind Kind, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Kind:       kind,
		Err:        err,
	}
}

// KindOf returns the Kind of the first AppError in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsRetryable reports whether err is a transient infrastructure failure.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// IsPermanent reports whether retrying err cannot change the result. Transient and
// unclassified errors are not permanent.
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindInternal:
		return false
	}
	return true
}

// ---- Validation ----

func ErrInvalidAmount() *AppError {
	return New("INVALID_AMOUNT", "Invalid amount", http.StatusBadRequest, KindValidation)
}

func ErrSelfTransfer() *AppError {
	return New("SELF_TRANSFER", "Source and destination must differ", http.StatusBadRequest, KindValidation)
}

func ErrBatchTooLarge(max int) *AppError {
	return New("BATCH_TOO_LARGE", fmt.Sprintf("Batch exceeds %d transfers", max), http.StatusBadRequest, KindValidation)
}

// Validation returns a generic validation error.
func Validation(message string) *AppError {
	return New("VALIDATION_ERROR", message, http.StatusBadRequest, KindValidation)
}

// ---- Authorization ----

func ErrInvalidToken() *AppError {
	return New("UNAUTHORIZED", "Invalid or expired token", http.StatusUnauthorized, KindAuthorization)
}

func ErrRateLimitExceeded() *AppError {
	return New("RATE_LIMIT_EXCEEDED", "Too many requests", http.StatusTooManyRequests, KindValidation)
}

func ErrForbidden() *AppError {
	return New("FORBIDDEN", "Caller is not allowed to perform this operation", http.StatusForbidden, KindAuthorization)
}

// ---- Ledger ----

func ErrWalletNotFound() *AppError {
	return New("WALLET_NOT_FOUND", "Wallet not found", http.StatusNotFound, KindNotFound)
}

func ErrWalletInactive() *AppError {
	return New("WALLET_INACTIVE", "Wallet is not active", http.StatusUnprocessableEntity, KindValidation)
}

func ErrWalletFrozen() *AppError {
	return New("WALLET_FROZEN", "Wallet is frozen", http.StatusUnprocessableEntity, KindTerminal)
}

func ErrWalletExists() *AppError {
	return New("WALLET_EXISTS", "Wallet already exists", http.StatusConflict, KindConflict)
}

func ErrInsufficientBalance() *AppError {
	return New("INSUFFICIENT_BALANCE", "Insufficient balance in wallet", http.StatusPaymentRequired, KindInsufficientBalance)
}

// ---- Limits ----

func ErrLimitExceeded() *AppError {
	return New("LIMIT_EXCEEDED", "Spending limit exceeded", http.StatusUnprocessableEntity, KindLimitExceeded)
}

func ErrLimitInactive() *AppError {
	return New("LIMIT_INACTIVE", "Spending is disabled for this owner", http.StatusForbidden, KindLimitExceeded)
}

// ---- Transactions ----

func ErrTransactionNotFound() *AppError {
	return New("TRANSACTION_NOT_FOUND", "Transaction not found", http.StatusNotFound, KindNotFound)
}

func ErrCouldNotCancel() *AppError {
	return New("COULD_NOT_CANCEL", "Transaction processing has already started", http.StatusConflict, KindConflict)
}

func ErrDuplicateRequest() *AppError {
	return New("DUPLICATE_REQUEST", "Idempotency key already used", http.StatusConflict, KindConflict)
}

func ErrNotFound(entity string) *AppError {
	return New("NOT_FOUND", fmt.Sprintf("%s not found", entity), http.StatusNotFound, KindNotFound)
}

// ---- Settlement ----

// ErrTransient marks a failure that the settlement pipeline retries with backoff.
func ErrTransient(err error) *AppError {
	return Wrap("TRANSIENT_FAILURE", "Temporary infrastructure failure", http.StatusServiceUnavailable, KindTransient, err)
}

func ErrProcessingTimeout(err error) *AppError {
	return Wrap("PROCESSING_TIMEOUT", "Settlement attempt timed out", http.StatusServiceUnavailable, KindTransient, err)
}

// ErrReleasePending marks a dead-lettered settlement whose limit reservation is still held.
func ErrReleasePending(err error) *AppError {
	return Wrap("RESERVATION_RELEASE_PENDING", "Limit reservation not yet released", http.StatusServiceUnavailable, KindTransient, err)
}

func ErrRetriesExhausted(err error) *AppError {
	return Wrap("RETRIES_EXHAUSTED", "Settlement retries exhausted", http.StatusInternalServerError, KindTerminal, err)
}

// ---- System & Infrastructure ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, KindInternal, err)
}

func ErrLockTimeout(err error) *AppError {
	return Wrap("SYS_002", "Lock acquisition timeout", http.StatusServiceUnavailable, KindTransient, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, KindInternal, err)
}

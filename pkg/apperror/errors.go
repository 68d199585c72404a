package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
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

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Key Derivation (KEY) ----

func ErrInvalidKeyMaterial(err error) *AppError {
	return Wrap("KEY_001", "Extended public key is malformed", http.StatusUnprocessableEntity, err)
}

func ErrIndexOutOfRange(index uint32) *AppError {
	return New("KEY_002", fmt.Sprintf("Derivation index %d exceeds the non-hardened domain", index), http.StatusUnprocessableEntity)
}

func ErrDerivationFailed(err error) *AppError {
	return Wrap("KEY_003", "Address derivation failed", http.StatusInternalServerError, err)
}

// ---- Address Allocation (ALLOC) ----

func ErrWalletInactive() *AppError {
	return New("ALLOC_001", "Wallet is not active", http.StatusConflict)
}

func ErrAllocationConflict() *AppError {
	return New("ALLOC_002", "Address allocation lost the index race, retry later", http.StatusConflict)
}

func ErrNoActiveWallet(currency string) *AppError {
	return New("ALLOC_003", fmt.Sprintf("No active wallet available for %s", currency), http.StatusServiceUnavailable)
}

// ---- Escrow Lifecycle (ESC) ----

func ErrInvalidTransition(from, event string) *AppError {
	return New("ESC_001", fmt.Sprintf("Escrow in state %s cannot accept event %s", from, event), http.StatusConflict)
}

func ErrEscrowNotFound() *AppError {
	return New("ESC_002", "Escrow not found", http.StatusNotFound)
}

func ErrInvalidAmount() *AppError {
	return New("ESC_006", "Invalid amount", http.StatusBadRequest)
}

func ErrDuplicateOrder() *AppError {
	return New("ESC_007", "An escrow already exists for this order", http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New("ESC_008", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Security & Authentication (SEC / AUTH) ----

func ErrInvalidAccessKey() *AppError {
	return New("SEC_001", "Invalid access key", http.StatusUnauthorized)
}

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid signature", http.StatusUnauthorized)
}

func ErrTimestampExpired() *AppError {
	return New("SEC_003", "Request timestamp expired", http.StatusForbidden)
}

func ErrNonceUsed() *AppError {
	return New("SEC_004", "Nonce has already been used", http.StatusForbidden)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden(action string) *AppError {
	return New("AUTH_002", fmt.Sprintf("Actor is not allowed to %s", action), http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_002", "Encryption service failure", http.StatusInternalServerError, err)
}

func ErrChainProviderUnavailable(err error) *AppError {
	return Wrap("SYS_003", "Chain data provider unavailable", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a request validation error.
func Validation(message string) *AppError {
	return New("ESC_006", message, http.StatusBadRequest)
}

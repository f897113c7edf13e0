package errors

import (
	"errors"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrOrderIDRequired       = errors.New("order id required")
	ErrInvalidAmount         = errors.New("missing amount or credits")
	ErrInvalidCredits        = errors.New("credits must be positive")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrEmailExists           = errors.New("email already exists")
	ErrUserNotFound          = errors.New("user not found")
	ErrNilUser               = errors.New("user is nil")
	ErrNilOrderMapping       = errors.New("order mapping is nil")
	ErrOrderMappingNotFound  = errors.New("order mapping not found")
	ErrOrderAlreadyCredited  = errors.New("order already credited")
	ErrCreditNotFound        = errors.New("credit transaction not found")
	ErrCaptureInProgress     = errors.New("capture already in progress")
	ErrProviderUnavailable   = errors.New("payment provider unavailable")
	ErrProviderNotConfigured = errors.New("paypal credentials not configured")
	ErrProviderRejected      = errors.New("payment provider rejected request")
	ErrOrderAlreadyCaptured  = errors.New("order already captured by provider")
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrInternal              = errors.New("internal error")
)

// IsRecoverableProviderError reports whether a capture may fall back to the
// order mapping. That holds when the provider could not serve the call at all
// or when it reports the order as already captured. A business refusal such as
// ORDER_NOT_APPROVED is final.
func IsRecoverableProviderError(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrProviderNotConfigured) ||
		errors.Is(err, ErrOrderAlreadyCaptured)
}

package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Adapter-level failures are translated to one of these
// before they reach the orchestrator; provider-specific shapes never
// leak upward.
var (
	ErrGatewayUnavailable   = errors.New("gateway unavailable")
	ErrGatewayTimeout       = errors.New("gateway timeout")
	ErrNetwork              = errors.New("network error")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrPaymentExpired       = errors.New("payment expired")
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	ErrRetryNotAllowed      = errors.New("retry only allowed from FAILED or EXPIRED")
	ErrOrderHasOpenAttempt  = errors.New("order already has a non-terminal transaction")
)

// ValidationError rejects a request before any external call is made.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// IsValidation reports whether err is a ValidationError anywhere in its
// chain.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

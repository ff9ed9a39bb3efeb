package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrAuth                 = errors.New("authentication failed")
	ErrNotFound             = errors.New("order not found")
	ErrDuplicateOrder       = errors.New("order already exists")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrAmountMismatch       = errors.New("amount mismatch")
	ErrCryptoConfig         = errors.New("invalid key material")
	ErrUnsupportedOperation = errors.New("operation not supported by active gateway scheme")
	ErrInvalidTransition    = errors.New("invalid order status transition")
	ErrPaymentMethod        = errors.New("payment method not available")
)

// ValidationError reports a user-correctable problem with one input field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// CryptoConfigError reports unusable key material. It is fatal for the
// operation that needed the key and nothing else.
type CryptoConfigError struct {
	Key string
	Err error
}

func (e *CryptoConfigError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid %s", e.Key)
	}
	return fmt.Sprintf("invalid %s: %v", e.Key, e.Err)
}

func (e *CryptoConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCryptoConfig}
	}
	return []error{ErrCryptoConfig, e.Err}
}

// AmountMismatchError carries both sides of a failed amount comparison so the
// anomaly can be logged with full context.
type AmountMismatchError struct {
	OrderNo  string
	Expected string
	Notified string
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch for order %s: expected %s, notified %s", e.OrderNo, e.Expected, e.Notified)
}

func (e *AmountMismatchError) Unwrap() error { return ErrAmountMismatch }

package service

import (
	"errors"
	"fmt"
)

// Business failures the handler layer maps onto HTTP responses. All of
// these are user-correctable; none leave side effects.
var (
	ErrServiceNotFound     = errors.New("service not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// ValidationError reports malformed or missing request input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalidInput(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// QuantityRangeError reports a requested quantity outside the service
// bounds. Order placement rejects rather than clamps, so the caller sees
// the allowed range.
type QuantityRangeError struct {
	Min int
	Max int
}

func (e *QuantityRangeError) Error() string {
	return fmt.Sprintf("quantity must be between %d and %d", e.Min, e.Max)
}

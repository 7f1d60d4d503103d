package utils

import "fmt"

// ValidationError represents an error occurring during data validation.
// Validation failures are terminal; the order is never submitted.
type ValidationError struct {
	Message string
}

// Error returns the error message string.
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError with a specific message.
//
// Parameters:
//   - message: The validation error message.
//
// Returns:
//   - An error interface wrapping the ValidationError.
func NewValidationError(message string) error {
	return &ValidationError{
		Message: message,
	}
}

// NewValidationErrorf creates a new ValidationError with a formatted message.
//
// Parameters:
//   - format: The format string.
//   - args: Arguments for the format string.
//
// Returns:
//   - An error interface wrapping the ValidationError.
func NewValidationErrorf(format string, args ...interface{}) error {
	return &ValidationError{
		Message: fmt.Sprintf(format, args...),
	}
}

// InsufficientFundsError indicates the pre-placement balance check failed.
// Terminal for the order being placed.
type InsufficientFundsError struct {
	Required  string
	Available string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %s, have %s", e.Required, e.Available)
}

// ExchangeRejectionError indicates the exchange returned a business-level
// rejection for an order. The raw reason is preserved for the audit log.
type ExchangeRejectionError struct {
	CorrelationID string
	Reason        string
}

func (e *ExchangeRejectionError) Error() string {
	return fmt.Sprintf("exchange rejected order %s: %s", e.CorrelationID, e.Reason)
}

// NetworkError wraps a transport failure on an outbound exchange call.
// Not retried within a cycle; the next cycle re-derives the need.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// PartialArbitrageFailure is raised when leg one of an arbitrage pair placed
// but leg two failed. It carries whether the rollback of leg one succeeded
// so the caller can tell a clean abort from a stranded single leg.
type PartialArbitrageFailure struct {
	Leg1CorrelationID string
	Leg2Error         string
	RollbackSucceeded bool
}

func (e *PartialArbitrageFailure) Error() string {
	if e.RollbackSucceeded {
		return fmt.Sprintf("pair placement failed (leg 2: %s); leg 1 %s rolled back", e.Leg2Error, e.Leg1CorrelationID)
	}
	return fmt.Sprintf("pair placement failed (leg 2: %s); rollback of leg 1 %s failed, manual intervention required", e.Leg2Error, e.Leg1CorrelationID)
}

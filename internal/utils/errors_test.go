package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Message: "test error message",
	}

	assert.Equal(t, "test error message", err.Error())
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("validation failed")

	assert.Error(t, err)
	assert.Equal(t, "validation failed", err.Error())

	// Check that it's the correct type
	validationErr, ok := err.(*ValidationError)
	assert.True(t, ok)
	assert.Equal(t, "validation failed", validationErr.Message)
}

func TestNewValidationErrorf(t *testing.T) {
	err := NewValidationErrorf("stake %s exceeds cap %s", "1500", "1000")

	assert.Error(t, err)
	assert.Equal(t, "stake 1500 exceeds cap 1000", err.Error())

	validationErr, ok := err.(*ValidationError)
	assert.True(t, ok)
	assert.Equal(t, "stake 1500 exceeds cap 1000", validationErr.Message)
}

func TestInsufficientFundsError(t *testing.T) {
	err := &InsufficientFundsError{Required: "150.00", Available: "75.50"}

	assert.Equal(t, "insufficient funds: need 150.00, have 75.50", err.Error())

	var target *InsufficientFundsError
	assert.True(t, errors.As(fmt.Errorf("placement: %w", err), &target))
}

func TestExchangeRejectionError(t *testing.T) {
	err := &ExchangeRejectionError{CorrelationID: "mb-123", Reason: "line suspended"}

	assert.Contains(t, err.Error(), "mb-123")
	assert.Contains(t, err.Error(), "line suspended")
}

func TestNetworkError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := &NetworkError{Op: "PlaceOrder", Err: inner}

	assert.Contains(t, err.Error(), "PlaceOrder")
	assert.ErrorIs(t, err, inner)
}

func TestPartialArbitrageFailure(t *testing.T) {
	rolledBack := &PartialArbitrageFailure{
		Leg1CorrelationID: "mb-abc",
		Leg2Error:         "odds moved",
		RollbackSucceeded: true,
	}
	assert.Contains(t, rolledBack.Error(), "rolled back")

	stranded := &PartialArbitrageFailure{
		Leg1CorrelationID: "mb-abc",
		Leg2Error:         "odds moved",
		RollbackSucceeded: false,
	}
	assert.Contains(t, stranded.Error(), "manual intervention")
}

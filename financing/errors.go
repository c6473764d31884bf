/*
errors.go - Centralized error types for the financing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is / errors.As; the HTTP layer maps them to
  status codes via the classification helpers at the bottom.

ERROR CATEGORIES:
  1. Validation errors - rejected before any mutation
  2. Overpayment - amount exceeds the targeted outstanding pool
  3. Not-found errors - unknown financing/installment/payment
  4. Storage errors are NOT defined here; they propagate unwrapped so the
     caller's transaction manager can retry the whole operation (safe:
     no partial state is ever persisted)
*/
package financing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when a payment amount is zero or negative.
	ErrInvalidAmount = errors.New("payment amount must be positive")

	// ErrNoPayableInstallments is returned when nothing in the targeted
	// pool has an outstanding balance.
	ErrNoPayableInstallments = errors.New("no installments with outstanding balance")

	// ErrOverpayment is returned when the amount exceeds the outstanding
	// pool. Checked upfront against a running total so a rejected request
	// never partially applies.
	ErrOverpayment = errors.New("amount exceeds outstanding balance")

	// ErrFinancingNotFound is returned for an unknown financing id.
	ErrFinancingNotFound = errors.New("financing not found")

	// ErrInstallmentNotFound is returned for an unknown installment id.
	ErrInstallmentNotFound = errors.New("installment not found")

	// ErrPaymentNotFound is returned for an unknown payment id.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrUnsortedInstallments is returned when the allocator receives a
	// slice that violates its due-date/number ordering precondition.
	ErrUnsortedInstallments = errors.New("installments not sorted by due date")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OverpaymentError reports how far a payment exceeded the pool it targeted.
// The computed pool total is part of the message because support staff
// resolve these by quoting the exact outstanding figure back to the buyer.
type OverpaymentError struct {
	Pool        Pool
	Requested   decimal.Decimal
	Outstanding decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("amount %s exceeds outstanding %s balance %s",
		e.Requested.StringFixed(2), e.Pool, e.Outstanding.StringFixed(2))
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input
// rather than a system failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrNoPayableInstallments) ||
		errors.Is(err, ErrOverpayment) ||
		errors.Is(err, ErrUnsortedInstallments)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFinancingNotFound) ||
		errors.Is(err, ErrInstallmentNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}

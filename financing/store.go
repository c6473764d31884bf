/*
store.go - Persistence interface between the ledger and the database

PURPOSE:
  Defines the storage collaborator the engine runs against. The engine
  does not provide durable storage itself; it names the operations that
  must execute atomically and leaves the rest to the implementation.

TRANSACTION CONTRACT:
  Every payment-allocation or reconciliation operation runs inside ONE
  WithTx scope that also writes the payment record. If fn returns an
  error the scope rolls back and installment balances are exactly as
  they were before: no partial waterfall application survives.

  Concurrent payments against the same financing must be serialized by
  the implementation (row-level locking or equivalent) so two requests
  cannot allocate against overlapping outstanding snapshots.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite with real transactions
  - financing/store: in-memory, snapshot-rollback, for tests/dev
*/
package financing

import (
	"context"
	"time"
)

// StatusFilter narrows which installments a read returns.
type StatusFilter string

const (
	FilterAll    StatusFilter = "all"
	FilterUnpaid StatusFilter = "unpaid" // PENDING or EXPIRED
)

// Scope is a unit of work. All reads see the transaction's own writes;
// Installments always returns due-date ascending, number ascending -
// the allocator's required ordering.
type Scope interface {
	Financing(id string) (*Financing, error)
	InsertFinancing(f *Financing, installments []*Installment) error

	Installments(financingID string, filter StatusFilter) ([]*Installment, error)
	SaveInstallment(inst *Installment) error

	InsertPayment(p *Payment) error
	// Payments returns payments with any of the given statuses, ordered
	// by creation time ascending. Empty statuses means all.
	Payments(financingID string, statuses ...PaymentStatus) ([]*Payment, error)
	Payment(id string) (*Payment, error)
	UpdatePaymentStatus(id string, status PaymentStatus) error

	// OverdueInstallments returns installments in PENDING or EXPIRED
	// whose due date is strictly before the cutoff, across financings.
	OverdueInstallments(before time.Time) ([]*Installment, error)
}

// Store supplies transaction scopes.
type Store interface {
	// WithTx executes fn within a transaction. Error from fn rolls the
	// transaction back; nil commits it.
	WithTx(ctx context.Context, fn func(Scope) error) error
}

// PolicyProvider is the sales-policy collaborator: whether late fees
// apply to a financing at all.
type PolicyProvider interface {
	LateFeeEnabled(financingID string) (bool, error)
}

// LateFeesAlwaysOn is the default policy when no collaborator is wired.
type LateFeesAlwaysOn struct{}

func (LateFeesAlwaysOn) LateFeeEnabled(string) (bool, error) { return true, nil }

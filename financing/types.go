/*
Package financing provides the core installment ledger engine for
lot-financing contracts.

PURPOSE:
  This package contains the domain types and algorithms for tracking a
  schedule of fixed installments (principal) plus an independently tracked
  late-fee balance per installment, and for applying incoming payments
  against outstanding balances with strict ordering and rounding rules.

KEY CONCEPTS IN THIS FILE (types.go):
  - Financing: A loan contract over a real-estate lot
  - Installment: One scheduled payment line with two balance ledgers
    (principal and late fee), each with amount/paid/pending
  - Payment: A money movement with a typed breakdown and an undo snapshot
  - InstallmentBackup: Pre-payment state of a touched installment

DESIGN PRINCIPLES:
  1. Precision: All money uses decimal.Decimal, rounded to 2 decimals at
     every arithmetic step so drift never accumulates across installments
  2. Two independent ledgers per installment: principal and late fee are
     never mixed within one live payment
  3. Reversibility: Every payment carries the pre-payment snapshot of
     every installment it touched
  4. Status is derived: recompute after every mutation, never set ad hoc

SEE ALSO:
  - schedule.go:  Amortization schedule generation
  - allocator.go: Waterfall distribution of a payment
  - ledger.go:    Transactional operations over a Store
  - replay.go:    Reset-and-replay reconciliation
  - accrual.go:   Late-fee accrual sweep
*/
package financing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY HELPERS
// =============================================================================

// BalanceTolerance is the maximum acceptable drift between paid+pending
// and the fixed amount of a ledger. Anything beyond this is a defect.
var BalanceTolerance = decimal.NewFromFloat(0.01)

// round2 rounds to 2 decimal places. Every intermediate arithmetic step in
// this package goes through it; rounding only at the end lets float drift
// accumulate across long schedules and breaks reconciliation.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MustDecimal parses a decimal literal, returning zero on malformed input.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// FINANCING - The loan contract
// =============================================================================

type Kind string

const (
	KindCash   Kind = "cash"
	KindCredit Kind = "credit"
)

// Financing is a loan contract sold against a lot. It is the sole owner of
// its installments: deleting a financing cascades to them.
type Financing struct {
	ID             string
	Kind           Kind
	InitialAmount  decimal.Decimal // principal of the contract
	Rate           decimal.Decimal // periodic interest rate, percent
	Count          int             // number of installments
	LateFeeEnabled bool
	CreatedAt      time.Time
}

// =============================================================================
// INSTALLMENT - One scheduled payment line
// =============================================================================

type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusExpired Status = "EXPIRED"
)

// Installment is one scheduled payment line of a financing. It carries two
// independent ledgers: principal (Amount/Paid/Pending) and late fee
// (LateFeeAmount/LateFeePaid/LateFeePending). Invariant on each ledger:
// paid + pending == amount, within BalanceTolerance.
type Installment struct {
	ID          string
	FinancingID string
	Number      int // 1..N, tie-break ordering key when due dates collide
	DueDate     time.Time
	Status      Status

	// Principal ledger. Amount is fixed at creation, immutable thereafter.
	Amount  decimal.Decimal
	Paid    decimal.Decimal
	Pending decimal.Decimal

	// Late fee ledger. LateFeeAmount only grows, via the accrual sweep.
	LateFeeAmount  decimal.Decimal
	LateFeePaid    decimal.Decimal
	LateFeePending decimal.Decimal

	// LastAccruedAt guards the accrual sweep against double-charging an
	// installment when the job fires more than once in a day.
	LastAccruedAt *time.Time
}

// RecomputeStatus applies the state machine after a mutation:
// both ledgers settled -> PAID; late fee outstanding -> EXPIRED;
// otherwise PENDING. An installment re-enters PENDING only through a
// reconciliation reset.
func (i *Installment) RecomputeStatus() {
	switch {
	case !i.Pending.IsPositive() && !i.LateFeePending.IsPositive():
		i.Status = StatusPaid
	case i.LateFeePending.IsPositive():
		i.Status = StatusExpired
	default:
		i.Status = StatusPending
	}
}

// Outstanding returns the unpaid balance of the given pool.
func (i *Installment) Outstanding(pool Pool) decimal.Decimal {
	switch pool {
	case PoolPrincipal:
		return i.Pending
	case PoolLateFee:
		return i.LateFeePending
	default:
		return round2(i.Pending.Add(i.LateFeePending))
	}
}

// Reset returns the installment to its pristine state: nothing paid,
// everything pending, status re-derived. Used only by reconciliation.
func (i *Installment) Reset() {
	i.Paid = decimal.Zero
	i.Pending = i.Amount
	i.LateFeePaid = decimal.Zero
	i.LateFeePending = i.LateFeeAmount
	i.RecomputeStatus()
}

// CheckBalances verifies the additive invariant of both ledgers.
func (i *Installment) CheckBalances() bool {
	principal := i.Paid.Add(i.Pending).Sub(i.Amount).Abs()
	lateFee := i.LateFeePaid.Add(i.LateFeePending).Sub(i.LateFeeAmount).Abs()
	return principal.LessThanOrEqual(BalanceTolerance) && lateFee.LessThanOrEqual(BalanceTolerance)
}

// Snapshot captures the pre-mutation state used as the undo log for
// administrative reversal after a payment is cancelled.
func (i *Installment) Snapshot() InstallmentBackup {
	return InstallmentBackup{
		ID:                 i.ID,
		Number:             i.Number,
		PrevPaid:           i.Paid,
		PrevPending:        i.Pending,
		PrevLateFeePaid:    i.LateFeePaid,
		PrevLateFeePending: i.LateFeePending,
		PrevStatus:         i.Status,
	}
}

// InstallmentBackup is the exact per-installment undo snapshot persisted
// inside a payment's breakdown. Tools that manually resolve discrepancies
// depend on this shape; do not rename fields casually.
type InstallmentBackup struct {
	ID                 string          `json:"id"`
	Number             int             `json:"numberCuote"`
	PrevPaid           decimal.Decimal `json:"previousCoutePaid"`
	PrevPending        decimal.Decimal `json:"previousCoutePending"`
	PrevLateFeePaid    decimal.Decimal `json:"previousLateFeeAmountPaid"`
	PrevLateFeePending decimal.Decimal `json:"previousLateFeeAmountPending"`
	PrevStatus         Status          `json:"previousStatus"`
}

// Restore applies the backup onto the installment.
func (b InstallmentBackup) Restore(i *Installment) {
	i.Paid = b.PrevPaid
	i.Pending = b.PrevPending
	i.LateFeePaid = b.PrevLateFeePaid
	i.LateFeePending = b.PrevLateFeePending
	i.Status = b.PrevStatus
}

// =============================================================================
// PAYMENT - Money movement against a financing
// =============================================================================

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentApproved  PaymentStatus = "APPROVED"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// Payment records one money movement. Only APPROVED/COMPLETED payments
// participate in reconciliation replay.
type Payment struct {
	ID          string
	FinancingID string
	Amount      decimal.Decimal
	Status      PaymentStatus
	CreatedAt   time.Time
	Breakdown   Breakdown
}

// Replayable reports whether the payment counts toward ledger state.
func (p Payment) Replayable() bool {
	return p.Status == PaymentApproved || p.Status == PaymentCompleted
}

// =============================================================================
// BREAKDOWN - Typed per-installment record of what a payment touched
// =============================================================================

type BreakdownKind string

const (
	BreakdownPrincipal BreakdownKind = "principal"
	BreakdownLateFee   BreakdownKind = "late_fee"
	// BreakdownLegacy marks payments imported from the old free-form
	// metadata bag. Raw holds the original string; Entries and Backups
	// are empty. Kept only as a migration path.
	BreakdownLegacy BreakdownKind = "legacy"
)

type Mode string

const (
	ModeTotal   Mode = "Total"   // the pool being paid reached zero
	ModePartial Mode = "Parcial" // funds ran out mid-installment
)

// AllocationEntry records what a payment did to one installment.
type AllocationEntry struct {
	Number       int             `json:"numberCuote"`
	Mode         Mode            `json:"mode"`
	Applied      decimal.Decimal `json:"amountApplied"`
	PendingAfter decimal.Decimal `json:"pendingAfterPayment"`
}

// Breakdown is the versioned replacement for the ad-hoc JSON metadata bag:
// one discriminated shape instead of sometimes-a-string, sometimes-a-map.
type Breakdown struct {
	Kind    BreakdownKind       `json:"kind"`
	Entries []AllocationEntry   `json:"entries,omitempty"`
	Backups []InstallmentBackup `json:"installmentsBackup,omitempty"`
	Raw     string              `json:"raw,omitempty"`
}

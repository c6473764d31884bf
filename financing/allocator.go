/*
allocator.go - Waterfall distribution of a payment across installments

PURPOSE:
  Given a payment amount and the ordered unpaid installments of a
  financing, distribute the amount using late-fee-first, then-principal,
  oldest-due-first semantics.

POOLS:
  PoolPrincipal - live "regular" payment, touches principal only
  PoolLateFee   - live penalty payment, touches late fees only
  PoolFull      - reconciliation replay: fee then principal per
                  installment, in one pass

  The split pools are intentional: live payments are sold as distinct
  products, while historical replay must account for fees that accrued
  after the original payment was made.

CONTRACT:
  - Input slice MUST be ordered by due date ascending, ties broken by
    installment number ascending. The allocator validates this rather
    than trusting it as a side effect of a database query.
  - Rejection happens upfront against a running total: a rejected request
    never partially mutates anything.
  - Mutates installment balances/status in place; the caller persists.
    No storage or network calls here - pure given the installment list.
  - All intermediate arithmetic is rounded to 2 decimals at each step.
*/
package financing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Pool selects which outstanding balance a payment targets.
type Pool string

const (
	PoolPrincipal Pool = "principal"
	PoolLateFee   Pool = "late_fee"
	PoolFull      Pool = "full"
)

// AllocationResult is what one waterfall run produced: the per-installment
// entries, the total actually applied, and the pre-mutation snapshots of
// every touched installment (the undo log carried on the payment record).
type AllocationResult struct {
	Pool         Pool
	TotalApplied decimal.Decimal
	Entries      []AllocationEntry
	Backups      []InstallmentBackup
}

// Allocate distributes amount across installments following the waterfall.
// On error nothing has been mutated.
func Allocate(installments []*Installment, amount decimal.Decimal, pool Pool) (*AllocationResult, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	// Sub-cent amounts cannot survive the per-step rounding: the ledger
	// would record more (or less) than was actually paid.
	if !amount.Equal(round2(amount)) {
		return nil, ErrInvalidAmount
	}
	if err := checkSorted(installments); err != nil {
		return nil, err
	}

	// All-or-nothing check before touching anything.
	outstanding := decimal.Zero
	payable := 0
	for _, inst := range installments {
		o := inst.Outstanding(pool)
		if o.IsPositive() {
			payable++
			outstanding = round2(outstanding.Add(o))
		}
	}
	if payable == 0 {
		return nil, ErrNoPayableInstallments
	}
	if amount.GreaterThan(outstanding) {
		return nil, &OverpaymentError{Pool: pool, Requested: amount, Outstanding: outstanding}
	}

	result := &AllocationResult{Pool: pool}
	remaining := amount
	for _, inst := range installments {
		if !remaining.IsPositive() {
			break
		}
		if !inst.Outstanding(pool).IsPositive() {
			continue
		}

		backup := inst.Snapshot()
		applied := decimal.Zero

		// Late fee drains before principal.
		if (pool == PoolLateFee || pool == PoolFull) && inst.LateFeePending.IsPositive() {
			step := decimal.Min(remaining, inst.LateFeePending)
			inst.LateFeePaid = round2(inst.LateFeePaid.Add(step))
			inst.LateFeePending = round2(inst.LateFeePending.Sub(step))
			remaining = round2(remaining.Sub(step))
			applied = round2(applied.Add(step))
		}
		if (pool == PoolPrincipal || pool == PoolFull) && remaining.IsPositive() && inst.Pending.IsPositive() {
			step := decimal.Min(remaining, inst.Pending)
			inst.Paid = round2(inst.Paid.Add(step))
			inst.Pending = round2(inst.Pending.Sub(step))
			remaining = round2(remaining.Sub(step))
			applied = round2(applied.Add(step))
		}

		inst.RecomputeStatus()

		pendingAfter := inst.Outstanding(pool)
		mode := ModePartial
		if !pendingAfter.IsPositive() {
			mode = ModeTotal
		}
		result.Entries = append(result.Entries, AllocationEntry{
			Number:       inst.Number,
			Mode:         mode,
			Applied:      applied,
			PendingAfter: pendingAfter,
		})
		result.Backups = append(result.Backups, backup)
		result.TotalApplied = round2(result.TotalApplied.Add(applied))
	}

	return result, nil
}

// checkSorted enforces the ordering precondition: due date ascending,
// installment number ascending on equal dates.
func checkSorted(installments []*Installment) error {
	for i := 1; i < len(installments); i++ {
		prev, cur := installments[i-1], installments[i]
		if cur.DueDate.Before(prev.DueDate) {
			return ErrUnsortedInstallments
		}
		if cur.DueDate.Equal(prev.DueDate) && cur.Number < prev.Number {
			return ErrUnsortedInstallments
		}
	}
	return nil
}

// SortInstallments orders a slice by the allocator's required ordering.
func SortInstallments(installments []*Installment) {
	sort.SliceStable(installments, func(i, j int) bool {
		a, b := installments[i], installments[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		return a.Number < b.Number
	})
}

/*
replay.go - Reset-and-replay reconciliation

PURPOSE:
  Recover from any drift between the ledger and the true payment history:
  after an external cancellation, or to render an as-of-now view without
  trusting cached balance fields.

ALGORITHM:
  1. Reset every installment of the financing to pristine state.
  2. Fetch all APPROVED/COMPLETED payments, creation time ascending.
     Cancelled payments are excluded by construction.
  3. Replay each through the same waterfall as live payments, but against
     the FULL pool (late fee then principal per installment), because by
     replay time fees may have accrued that the original payment predates.
  4. The final state is authoritative. Replay is idempotent: no hidden
     counters, no wall-clock dependence.

FAILURE POLICY:
  A payment that cannot be replayed (bad amount, legacy breakdown whose
  sum exceeds the outstanding pool) is logged and skipped, and the result
  is flagged Incomplete for manual review. Money is involved; a
  conservative partial rebuild beats an aborted one.

OPERATIONAL NOTE:
  The offline "resolve discrepancies" tool is a thin driver over
  RebuildLedger, not a second implementation of this algorithm.
*/
package financing

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
)

// RebuildResult is the outcome of a reset-and-replay run.
type RebuildResult struct {
	Installments []*Installment
	// Incomplete is set when one or more payments could not be replayed;
	// the final state then needs manual review.
	Incomplete bool
	// SkippedPayments lists ids of payments excluded from the replay.
	SkippedPayments []string
}

// RebuildLedger resets every installment of the financing and replays the
// full valid payment history, persisting the re-derived balances. The
// whole operation runs in one transaction.
func (l *Ledger) RebuildLedger(ctx context.Context, financingID string) (*RebuildResult, error) {
	var result *RebuildResult
	err := l.store.WithTx(ctx, func(s Scope) error {
		var err error
		result, err = l.rebuildInScope(s, financingID)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"financing":  financingID,
		"incomplete": result.Incomplete,
		"skipped":    len(result.SkippedPayments),
	}).Info("ledger rebuilt")
	return result, nil
}

// rebuildInScope runs the reset-and-replay inside an existing transaction
// scope and persists the result.
func (l *Ledger) rebuildInScope(s Scope, financingID string) (*RebuildResult, error) {
	installments, payments, err := l.loadForReplay(s, financingID)
	if err != nil {
		return nil, err
	}

	result := l.replay(installments, payments)

	for _, inst := range result.Installments {
		if err := s.SaveInstallment(inst); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// loadForReplay fetches the financing's installments and its replayable
// payment history.
func (l *Ledger) loadForReplay(s Scope, financingID string) ([]*Installment, []*Payment, error) {
	if _, err := s.Financing(financingID); err != nil {
		return nil, nil, err
	}
	installments, err := s.Installments(financingID, FilterAll)
	if err != nil {
		return nil, nil, err
	}
	payments, err := s.Payments(financingID, PaymentApproved, PaymentCompleted)
	if err != nil {
		return nil, nil, err
	}
	return installments, payments, nil
}

// replay is the pure core: reset, then re-apply each payment through the
// full-pool waterfall in chronological order. Mutates and returns the
// given installments.
func (l *Ledger) replay(installments []*Installment, payments []*Payment) *RebuildResult {
	for _, inst := range installments {
		inst.Reset()
	}
	SortInstallments(installments)

	sort.SliceStable(payments, func(i, j int) bool {
		return payments[i].CreatedAt.Before(payments[j].CreatedAt)
	})

	result := &RebuildResult{Installments: installments}
	for _, p := range payments {
		if !p.Replayable() {
			continue
		}
		if _, err := Allocate(installments, p.Amount, PoolFull); err != nil {
			l.log.WithFields(logrus.Fields{
				"payment": p.ID,
				"amount":  p.Amount.StringFixed(2),
			}).WithError(err).Warn("payment skipped during replay, state flagged for review")
			result.Incomplete = true
			result.SkippedPayments = append(result.SkippedPayments, p.ID)
		}
	}
	return result
}

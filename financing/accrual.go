/*
accrual.go - Late-fee accrual sweep

PURPOSE:
  Periodic batch job: find installments overdue past the grace period
  whose financing has the late-fee policy enabled, charge each a fixed
  penalty unit, and flip PENDING -> EXPIRED.

GUARANTEES:
  - Each installment's update is its own transaction: a failure on one
    row never partially applies and never aborts the sweep.
  - Idempotent per calendar day: an installment already accrued today is
    skipped, so the job can safely fire more than once a day.
  - The job is the ONLY way the total owed on a financing increases.

  Note the intended window: an installment overdue less than one sweep
  ago is not yet EXPIRED because status reflects fee accrual, not a raw
  date comparison.
*/
package financing

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// AccrualReport summarizes one sweep.
type AccrualReport struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// AccrueOverdueLateFees runs one sweep. The returned error covers only the
// initial candidate query; per-installment failures are counted in the
// report and logged.
func (l *Ledger) AccrueOverdueLateFees(ctx context.Context) (AccrualReport, error) {
	now := l.Now()
	cutoff := now.Add(-l.GracePeriod)

	var candidates []*Installment
	err := l.store.WithTx(ctx, func(s Scope) error {
		var err error
		candidates, err = s.OverdueInstallments(cutoff)
		return err
	})
	if err != nil {
		return AccrualReport{}, err
	}

	report := AccrualReport{}
	policyByFinancing := make(map[string]bool)

	for _, candidate := range candidates {
		enabled, ok := policyByFinancing[candidate.FinancingID]
		if !ok {
			var err error
			enabled, err = l.policy.LateFeeEnabled(candidate.FinancingID)
			if err != nil {
				l.log.WithError(err).WithField("financing", candidate.FinancingID).
					Warn("policy lookup failed, skipping financing")
				report.Processed++
				report.Failed++
				continue
			}
			policyByFinancing[candidate.FinancingID] = enabled
		}
		if !enabled {
			continue
		}

		// Same-day idempotence guard.
		if candidate.LastAccruedAt != nil && sameDay(*candidate.LastAccruedAt, now) {
			continue
		}

		report.Processed++
		id := candidate.ID

		// One transaction per installment: re-read inside the scope so a
		// stale candidate snapshot cannot clobber a concurrent payment.
		err := l.store.WithTx(ctx, func(s Scope) error {
			installments, err := s.Installments(candidate.FinancingID, FilterUnpaid)
			if err != nil {
				return err
			}
			for _, inst := range installments {
				if inst.ID != id {
					continue
				}
				inst.LateFeeAmount = round2(inst.LateFeeAmount.Add(l.PenaltyUnit))
				inst.LateFeePending = round2(inst.LateFeePending.Add(l.PenaltyUnit))
				accruedAt := now
				inst.LastAccruedAt = &accruedAt
				inst.RecomputeStatus()
				return s.SaveInstallment(inst)
			}
			// Paid off between query and update; nothing to do.
			return nil
		})
		if err != nil {
			report.Failed++
			l.log.WithError(err).WithField("installment", id).Warn("late fee accrual failed")
			continue
		}
		report.Successful++
	}

	l.log.WithFields(logrus.Fields{
		"processed":  report.Processed,
		"successful": report.Successful,
		"failed":     report.Failed,
	}).Info("late fee sweep complete")
	return report, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

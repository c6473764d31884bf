package financing_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terralot/financing-engine/financing"
	"github.com/terralot/financing-engine/financing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type policyFunc func(financingID string) (bool, error)

func (f policyFunc) LateFeeEnabled(financingID string) (bool, error) { return f(financingID) }

func newAccrualLedger(t *testing.T, policy financing.PolicyProvider) (*financing.Ledger, *store.Memory) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	mem := store.NewMemory()
	return financing.NewLedger(mem, policy, logger), mem
}

// =============================================================================
// SWEEP BEHAVIOR
// =============================================================================

func TestAccrue_ChargesOverdueAndFlipsStatus(t *testing.T) {
	// GIVEN: installment 1 due Jan 1, installment 2 due Feb 1, today Jan 10
	// WHEN: running the sweep (grace 3 days)
	// THEN: only installment 1 accrues, and flips PENDING -> EXPIRED

	ledger, _ := newAccrualLedger(t, nil)
	f := newFinancing(t, ledger, 2, "100", date(2026, time.January, 1))
	ledger.Now = func() time.Time { return date(2026, time.January, 10) }

	report, err := ledger.AccrueOverdueLateFees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, financing.AccrualReport{Processed: 1, Successful: 1, Failed: 0}, report)

	installments := installmentsOf(t, ledger, f.ID)
	assert.True(t, installments[0].LateFeeAmount.Equal(d("10")))
	assert.True(t, installments[0].LateFeePending.Equal(d("10")))
	assert.Equal(t, financing.StatusExpired, installments[0].Status)

	assert.True(t, installments[1].LateFeeAmount.IsZero())
	assert.Equal(t, financing.StatusPending, installments[1].Status)
	checkInvariants(t, installments)
}

func TestAccrue_GraceWindow(t *testing.T) {
	// Due Jan 1, today Jan 3: inside the 3-day grace window, no charge.
	ledger, _ := newAccrualLedger(t, nil)
	f := newFinancing(t, ledger, 1, "100", date(2026, time.January, 1))
	ledger.Now = func() time.Time { return date(2026, time.January, 3) }

	report, err := ledger.AccrueOverdueLateFees(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Processed)

	installments := installmentsOf(t, ledger, f.ID)
	assert.Equal(t, financing.StatusPending, installments[0].Status,
		"overdue but unaccrued stays PENDING: status reflects fee accrual, not raw dates")
}

func TestAccrue_SameDayRunIsIdempotent(t *testing.T) {
	// Two sweeps on the same calendar day charge once.
	ledger, _ := newAccrualLedger(t, nil)
	f := newFinancing(t, ledger, 1, "100", date(2026, time.January, 1))
	ledger.Now = func() time.Time { return date(2026, time.January, 10) }

	_, err := ledger.AccrueOverdueLateFees(context.Background())
	require.NoError(t, err)
	report, err := ledger.AccrueOverdueLateFees(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Processed, "second run same day must skip")

	installments := installmentsOf(t, ledger, f.ID)
	assert.True(t, installments[0].LateFeeAmount.Equal(d("10")))
}

func TestAccrue_NextDayChargesAgain(t *testing.T) {
	ledger, _ := newAccrualLedger(t, nil)
	f := newFinancing(t, ledger, 1, "100", date(2026, time.January, 1))

	ledger.Now = func() time.Time { return date(2026, time.January, 10) }
	_, err := ledger.AccrueOverdueLateFees(context.Background())
	require.NoError(t, err)

	ledger.Now = func() time.Time { return date(2026, time.January, 11) }
	_, err = ledger.AccrueOverdueLateFees(context.Background())
	require.NoError(t, err)

	installments := installmentsOf(t, ledger, f.ID)
	assert.True(t, installments[0].LateFeeAmount.Equal(d("20")))
	assert.True(t, installments[0].LateFeePending.Equal(d("20")))
}

func TestAccrue_PolicyDisabled_Skipped(t *testing.T) {
	ledger, _ := newAccrualLedger(t, policyFunc(func(string) (bool, error) { return false, nil }))
	f := newFinancing(t, ledger, 1, "100", date(2026, time.January, 1))
	ledger.Now = func() time.Time { return date(2026, time.January, 10) }

	report, err := ledger.AccrueOverdueLateFees(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Processed)

	installments := installmentsOf(t, ledger, f.ID)
	assert.True(t, installments[0].LateFeeAmount.IsZero())
}

func TestAccrue_PolicyFailure_CountedNotFatal(t *testing.T) {
	// A failing policy lookup counts as a failure but never aborts the
	// sweep for other financings.
	boom := errors.New("policy service down")
	failFor := make(map[string]bool)
	ledger, _ := newAccrualLedger(t, policyFunc(func(id string) (bool, error) {
		if failFor[id] {
			return false, boom
		}
		return true, nil
	}))

	bad := newFinancing(t, ledger, 1, "100", date(2026, time.January, 1))
	good := newFinancing(t, ledger, 1, "100", date(2026, time.January, 1))
	failFor[bad.ID] = true
	ledger.Now = func() time.Time { return date(2026, time.January, 10) }

	report, err := ledger.AccrueOverdueLateFees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 1, report.Failed)

	installments := installmentsOf(t, ledger, good.ID)
	assert.True(t, installments[0].LateFeeAmount.Equal(d("10")), "healthy financing still accrues")
}

func TestAccrue_PaidInstallmentsNeverCharged(t *testing.T) {
	ledger, _ := newAccrualLedger(t, nil)
	f := newFinancing(t, ledger, 1, "100", date(2026, time.January, 1))
	_, err := ledger.PayPrincipal(context.Background(), f.ID, d("100"))
	require.NoError(t, err)

	ledger.Now = func() time.Time { return date(2026, time.January, 10) }
	report, err := ledger.AccrueOverdueLateFees(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Processed)
}

func TestAccrue_ExpiredKeepsAccruing(t *testing.T) {
	// An installment already EXPIRED picks up another penalty unit on the
	// next eligible day; the total owed only ever grows through this job.
	ledger, _ := newAccrualLedger(t, nil)
	f := newFinancing(t, ledger, 1, "100", date(2026, time.January, 1))

	for day := 10; day <= 12; day++ {
		captured := date(2026, time.January, day)
		ledger.Now = func() time.Time { return captured }
		_, err := ledger.AccrueOverdueLateFees(context.Background())
		require.NoError(t, err)
	}

	installments := installmentsOf(t, ledger, f.ID)
	assert.True(t, installments[0].LateFeeAmount.Equal(d("30")))
	assert.Equal(t, financing.StatusExpired, installments[0].Status)
}

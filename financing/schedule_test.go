package financing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terralot/financing-engine/financing"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(s string) decimal.Decimal {
	return financing.MustDecimal(s)
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func scheduleSum(drafts []financing.InstallmentDraft) decimal.Decimal {
	sum := decimal.Zero
	for _, draft := range drafts {
		sum = sum.Add(draft.Amount)
	}
	return sum
}

// =============================================================================
// ROUNDING
// =============================================================================

func TestGenerateSchedule_ZeroRate_LastInstallmentAbsorbsResidue(t *testing.T) {
	// GIVEN: principal 1000, no interest, 3 installments
	// WHEN: generating the schedule
	// THEN: amounts sum to exactly 1000.00, with the residue on the last line

	drafts := financing.GenerateSchedule(financing.ScheduleParams{
		TotalPrice:    d("1000"),
		Count:         3,
		FirstDueDate:  date(2026, time.January, 15),
		AllowDecimals: true,
	})

	require.Len(t, drafts, 3)
	assert.True(t, drafts[0].Amount.Equal(d("333.33")))
	assert.True(t, drafts[1].Amount.Equal(d("333.33")))
	assert.True(t, drafts[2].Amount.Equal(d("333.34")), "last installment absorbs the residue, got %s", drafts[2].Amount)
	assert.True(t, scheduleSum(drafts).Equal(d("1000")))
}

func TestGenerateSchedule_SumMatchesTheoreticalWithinTolerance(t *testing.T) {
	drafts := financing.GenerateSchedule(financing.ScheduleParams{
		TotalPrice:    d("77777.77"),
		InitialAmount: d("7777.77"),
		Rate:          d("1.5"),
		Count:         36,
		FirstDueDate:  date(2026, time.March, 1),
		AllowDecimals: true,
	})
	require.Len(t, drafts, 36)

	// theoretical = installment * N; the last line corrects per-line
	// rounding, so the schedule can sit at most half a cent away
	principal := d("70000")
	r := d("1.5").Div(d("100"))
	compound := decimal.NewFromInt(1).Add(r).Pow(decimal.NewFromInt(36))
	installment := principal.Mul(r).Div(decimal.NewFromInt(1).Sub(decimal.NewFromInt(1).Div(compound)))

	diff := scheduleSum(drafts).Sub(installment.Mul(decimal.NewFromInt(36))).Abs()
	assert.True(t, diff.LessThanOrEqual(d("0.005")), "drift %s exceeds tolerance", diff)
}

func TestGenerateSchedule_WholeUnitsWhenDecimalsDisallowed(t *testing.T) {
	// GIVEN: decimals disallowed
	// THEN: every line but the last is a whole amount; the last still
	//       corrects the sum

	drafts := financing.GenerateSchedule(financing.ScheduleParams{
		TotalPrice:    d("1000"),
		Count:         3,
		FirstDueDate:  date(2026, time.January, 1),
		AllowDecimals: false,
	})

	require.Len(t, drafts, 3)
	assert.True(t, drafts[0].Amount.Equal(d("333")))
	assert.True(t, drafts[1].Amount.Equal(d("333")))
	assert.True(t, drafts[2].Amount.Equal(d("334")))
}

func TestGenerateSchedule_AnnuityFormula(t *testing.T) {
	// GIVEN: 12000 at 1% per period over 12 installments
	// WHEN: generating the schedule
	// THEN: each payment matches the fixed-payment annuity formula

	drafts := financing.GenerateSchedule(financing.ScheduleParams{
		TotalPrice:    d("12000"),
		Rate:          d("1"),
		Count:         12,
		FirstDueDate:  date(2026, time.January, 1),
		AllowDecimals: true,
	})
	require.Len(t, drafts, 12)

	// 12000 * 0.01 / (1 - 1.01^-12) = 1066.18...
	assert.True(t, drafts[0].Amount.Equal(d("1066.19")), "got %s", drafts[0].Amount)
	for i := 1; i < 11; i++ {
		assert.True(t, drafts[i].Amount.Equal(drafts[0].Amount))
	}
}

func TestGenerateSchedule_InvalidCount_ReturnsNil(t *testing.T) {
	assert.Nil(t, financing.GenerateSchedule(financing.ScheduleParams{TotalPrice: d("100"), Count: 0}))
}

// =============================================================================
// DUE DATES
// =============================================================================

func TestGenerateSchedule_DueDates_PreserveDayOfMonth(t *testing.T) {
	drafts := financing.GenerateSchedule(financing.ScheduleParams{
		TotalPrice:    d("300"),
		Count:         3,
		FirstDueDate:  date(2026, time.January, 15),
		AllowDecimals: true,
	})

	require.Len(t, drafts, 3)
	assert.Equal(t, date(2026, time.January, 15), drafts[0].DueDate)
	assert.Equal(t, date(2026, time.February, 15), drafts[1].DueDate)
	assert.Equal(t, date(2026, time.March, 15), drafts[2].DueDate)
}

func TestGenerateSchedule_DueDates_ClampToShortMonths(t *testing.T) {
	// GIVEN: a schedule anchored on the 31st
	// THEN: short months clamp to their last day, and the day snaps back
	//       to the 31st where the month allows it (no 30-day drift)

	drafts := financing.GenerateSchedule(financing.ScheduleParams{
		TotalPrice:    d("500"),
		Count:         5,
		FirstDueDate:  date(2026, time.January, 31),
		AllowDecimals: true,
	})

	require.Len(t, drafts, 5)
	assert.Equal(t, date(2026, time.January, 31), drafts[0].DueDate)
	assert.Equal(t, date(2026, time.February, 28), drafts[1].DueDate)
	assert.Equal(t, date(2026, time.March, 31), drafts[2].DueDate)
	assert.Equal(t, date(2026, time.April, 30), drafts[3].DueDate)
	assert.Equal(t, date(2026, time.May, 31), drafts[4].DueDate)
}

func TestGenerateSchedule_DueDates_LeapFebruary(t *testing.T) {
	drafts := financing.GenerateSchedule(financing.ScheduleParams{
		TotalPrice:    d("200"),
		Count:         2,
		FirstDueDate:  date(2028, time.January, 30),
		AllowDecimals: true,
	})

	require.Len(t, drafts, 2)
	assert.Equal(t, date(2028, time.February, 29), drafts[1].DueDate)
}

func TestGenerateSchedule_DueDates_YearRollover(t *testing.T) {
	drafts := financing.GenerateSchedule(financing.ScheduleParams{
		TotalPrice:    d("300"),
		Count:         3,
		FirstDueDate:  date(2026, time.November, 10),
		AllowDecimals: true,
	})

	require.Len(t, drafts, 3)
	assert.Equal(t, date(2026, time.December, 10), drafts[1].DueDate)
	assert.Equal(t, date(2027, time.January, 10), drafts[2].DueDate)
}

// =============================================================================
// COMBINED SCHEDULE
// =============================================================================

func TestMergeSchedules_SameDateSums_OtherSideNil(t *testing.T) {
	// GIVEN: a lot schedule and an urban schedule sharing one date
	lot := []financing.InstallmentDraft{
		{Number: 1, Amount: d("100"), DueDate: date(2026, time.January, 1)},
		{Number: 2, Amount: d("100"), DueDate: date(2026, time.February, 1)},
	}
	urban := []financing.InstallmentDraft{
		{Number: 1, Amount: d("40"), DueDate: date(2026, time.February, 1)},
		{Number: 2, Amount: d("40"), DueDate: date(2026, time.March, 1)},
	}

	combined := financing.MergeSchedules(lot, urban)

	require.Len(t, combined.Lines, 3)

	// January: lot only
	assert.NotNil(t, combined.Lines[0].Lot)
	assert.Nil(t, combined.Lines[0].Urban)
	assert.True(t, combined.Lines[0].Total.Equal(d("100")))

	// February: both sides summed
	require.NotNil(t, combined.Lines[1].Lot)
	require.NotNil(t, combined.Lines[1].Urban)
	assert.True(t, combined.Lines[1].Total.Equal(d("140")))

	// March: urban only
	assert.Nil(t, combined.Lines[2].Lot)
	assert.True(t, combined.Lines[2].Total.Equal(d("40")))

	assert.Equal(t, 2, combined.LotCount)
	assert.Equal(t, 2, combined.UrbanCount)
	assert.True(t, combined.LotTotal.Equal(d("200")))
	assert.True(t, combined.UrbanTotal.Equal(d("80")))
	assert.True(t, combined.GrandTotal.Equal(d("280")))
}

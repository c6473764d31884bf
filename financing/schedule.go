/*
schedule.go - Amortization schedule generation

PURPOSE:
  Pure functions producing an installment schedule from loan parameters.
  No storage, no clock, no dependencies beyond decimal arithmetic.

COMPUTATION:
  principal = total - initialAmount - reservationAmount
  rate == 0:  installment = principal / N
  rate  > 0:  installment = principal * r / (1 - (1+r)^-N), r = rate/100

ROUNDING:
  Each installment is rounded to 2 decimals (whole units when decimals are
  disallowed). The LAST installment absorbs the residual rounding error so
  the schedule sums to the theoretical installment*N within 0.001. This is
  a deliberate correction step, not a bug.

DUE DATES:
  One calendar month at a time from the first due date, preserving the
  original day-of-month. When the target month is shorter than that day
  (the 31st in February), the date clamps to the last day of the target
  month. Every date is built against its intended (month, year) pair;
  "add 30 days" drifts as month lengths compound.
*/
package financing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ScheduleParams are the inputs to schedule generation. Callers are
// responsible for validating Count > 0 and a non-negative principal.
type ScheduleParams struct {
	TotalPrice        decimal.Decimal
	InitialAmount     decimal.Decimal // down payment
	ReservationAmount decimal.Decimal // already paid at reservation
	Rate              decimal.Decimal // periodic interest rate, percent
	Count             int
	FirstDueDate      time.Time // calendar date, no time component
	AllowDecimals     bool
}

// Principal returns the financed amount.
func (p ScheduleParams) Principal() decimal.Decimal {
	return p.TotalPrice.Sub(p.InitialAmount).Sub(p.ReservationAmount)
}

// InstallmentDraft is one line of a generated schedule, ready to be turned
// into a persisted installment.
type InstallmentDraft struct {
	Number  int
	Amount  decimal.Decimal
	DueDate time.Time
}

// GenerateSchedule produces the ordered amortization schedule.
func GenerateSchedule(p ScheduleParams) []InstallmentDraft {
	if p.Count <= 0 {
		return nil
	}

	principal := p.Principal()
	n := decimal.NewFromInt(int64(p.Count))

	var installment decimal.Decimal
	if p.Rate.IsZero() {
		installment = principal.Div(n)
	} else {
		// Fixed-payment annuity: P * r / (1 - (1+r)^-N)
		r := p.Rate.Div(decimal.NewFromInt(100))
		compound := decimal.NewFromInt(1).Add(r).Pow(n)
		denominator := decimal.NewFromInt(1).Sub(decimal.NewFromInt(1).Div(compound))
		installment = principal.Mul(r).Div(denominator)
	}

	places := int32(2)
	if !p.AllowDecimals {
		places = 0
	}

	theoretical := installment.Mul(n)
	rounded := installment.Round(places)

	drafts := make([]InstallmentDraft, 0, p.Count)
	sum := decimal.Zero
	for i := 0; i < p.Count; i++ {
		amount := rounded
		if i == p.Count-1 {
			// Last installment absorbs the rounding residue.
			amount = round2(theoretical.Sub(sum))
		}
		sum = round2(sum.Add(amount))
		drafts = append(drafts, InstallmentDraft{
			Number:  i + 1,
			Amount:  amount,
			DueDate: monthlyDueDate(p.FirstDueDate, i),
		})
	}
	return drafts
}

// monthlyDueDate computes the due date `offset` months after first,
// preserving first's day-of-month and clamping to the end of shorter
// months. The target (month, year) pair is resolved before the day so a
// clamp in one month never shifts the next.
func monthlyDueDate(first time.Time, offset int) time.Time {
	year, month, day := first.Date()

	// Anchor on day 1 of the intended month; time.Date normalizes the
	// month overflow into the year for us.
	anchor := time.Date(year, month+time.Month(offset), 1, 0, 0, 0, 0, time.UTC)
	if last := daysInMonth(anchor.Year(), anchor.Month()); day > last {
		day = last
	}
	return time.Date(anchor.Year(), anchor.Month(), day, 0, 0, 0, 0, time.UTC)
}

// daysInMonth returns the number of days in the given month.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// =============================================================================
// COMBINED SCHEDULE - Lot + urban development merged into one calendar
// =============================================================================

// CombinedLine is one date of the merged calendar. Lot/Urban are nil when
// that side has no installment on the date.
type CombinedLine struct {
	DueDate time.Time
	Lot     *decimal.Decimal
	Urban   *decimal.Decimal
	Total   decimal.Decimal
}

// CombinedSchedule is the merged calendar plus totals metadata.
type CombinedSchedule struct {
	Lines      []CombinedLine
	LotCount   int
	UrbanCount int
	LotTotal   decimal.Decimal
	UrbanTotal decimal.Decimal
	GrandTotal decimal.Decimal
}

// MergeSchedules merges a lot schedule and an independent urban-development
// schedule into one calendar ordered by date, summing amounts that land on
// the same date.
func MergeSchedules(lot, urban []InstallmentDraft) CombinedSchedule {
	byDate := make(map[time.Time]*CombinedLine)
	dates := make([]time.Time, 0, len(lot)+len(urban))

	line := func(d time.Time) *CombinedLine {
		if l, ok := byDate[d]; ok {
			return l
		}
		l := &CombinedLine{DueDate: d}
		byDate[d] = l
		dates = append(dates, d)
		return l
	}

	out := CombinedSchedule{}
	for _, d := range lot {
		amount := d.Amount
		l := line(d.DueDate)
		l.Lot = &amount
		l.Total = round2(l.Total.Add(amount))
		out.LotCount++
		out.LotTotal = round2(out.LotTotal.Add(amount))
	}
	for _, d := range urban {
		amount := d.Amount
		l := line(d.DueDate)
		l.Urban = &amount
		l.Total = round2(l.Total.Add(amount))
		out.UrbanCount++
		out.UrbanTotal = round2(out.UrbanTotal.Add(amount))
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	for _, d := range dates {
		out.Lines = append(out.Lines, *byDate[d])
	}
	out.GrandTotal = round2(out.LotTotal.Add(out.UrbanTotal))
	return out
}

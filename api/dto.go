/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the domain model from
  the external contract. Money renders as fixed-2 strings; clients never
  see raw decimal internals.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/terralot/financing-engine/financing"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateFinancingRequest creates a contract with a generated schedule.
type CreateFinancingRequest struct {
	Kind              string  `json:"kind"` // "cash" or "credit"
	LateFeeEnabled    bool    `json:"lateFeeEnabled"`
	TotalPrice        string  `json:"totalPrice"`
	InitialAmount     string  `json:"initialAmount"`
	ReservationAmount string  `json:"reservationAmount"`
	Rate              string  `json:"rate"`
	Count             int     `json:"numberOfInstallments"`
	FirstDueDate      string  `json:"firstDueDate"` // YYYY-MM-DD
	AllowDecimals     *bool   `json:"allowDecimals,omitempty"`
}

// PaymentRequest applies a payment against one pool.
type PaymentRequest struct {
	Amount string `json:"amount"`
}

// SchedulePreviewRequest previews an amortization schedule, optionally
// merged with an urban-development schedule.
type SchedulePreviewRequest struct {
	Lot   ScheduleParamsDTO  `json:"lot"`
	Urban *ScheduleParamsDTO `json:"urban,omitempty"`
}

type ScheduleParamsDTO struct {
	TotalPrice        string `json:"totalPrice"`
	InitialAmount     string `json:"initialAmount"`
	ReservationAmount string `json:"reservationAmount"`
	Rate              string `json:"rate"`
	Count             int    `json:"numberOfInstallments"`
	FirstDueDate      string `json:"firstDueDate"`
	AllowDecimals     *bool  `json:"allowDecimals,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type FinancingDTO struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	InitialAmount  string `json:"initialAmount"`
	Rate           string `json:"rate"`
	Count          int    `json:"numberOfInstallments"`
	LateFeeEnabled bool   `json:"lateFeeEnabled"`
	CreatedAt      string `json:"createdAt"`
}

type InstallmentDTO struct {
	ID             string `json:"id"`
	Number         int    `json:"numberCuote"`
	DueDate        string `json:"expectedPaymentDate"`
	Status         string `json:"status"`
	Amount         string `json:"couteAmount"`
	Paid           string `json:"coutePaid"`
	Pending        string `json:"coutePending"`
	LateFeeAmount  string `json:"lateFeeAmount"`
	LateFeePaid    string `json:"lateFeeAmountPaid"`
	LateFeePending string `json:"lateFeeAmountPending"`
}

type AllocationEntryDTO struct {
	Number       int    `json:"numberCuote"`
	Mode         string `json:"mode"`
	Applied      string `json:"amountApplied"`
	PendingAfter string `json:"pendingAfterPayment"`
}

type AllocationResultDTO struct {
	Pool         string               `json:"pool"`
	TotalApplied string               `json:"totalApplied"`
	Entries      []AllocationEntryDTO `json:"entries"`
}

type RebuildResultDTO struct {
	Installments    []InstallmentDTO `json:"installments"`
	Incomplete      bool             `json:"incomplete"`
	SkippedPayments []string         `json:"skippedPayments,omitempty"`
}

type ScheduleLineDTO struct {
	Number  int    `json:"number"`
	Amount  string `json:"amount"`
	DueDate string `json:"dueDate"`
}

type CombinedLineDTO struct {
	DueDate string  `json:"dueDate"`
	Lot     *string `json:"lot"`
	Urban   *string `json:"urban"`
	Total   string  `json:"total"`
}

type CombinedScheduleDTO struct {
	Lines      []CombinedLineDTO `json:"lines"`
	LotCount   int               `json:"lotCount"`
	UrbanCount int               `json:"urbanDevelopmentCount"`
	LotTotal   string            `json:"lotTotal"`
	UrbanTotal string            `json:"urbanDevelopmentTotal"`
	GrandTotal string            `json:"grandTotal"`
}

type ErrorDTO struct {
	Error string `json:"error"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

const dateLayout = "2006-01-02"

func toFinancingDTO(f *financing.Financing) FinancingDTO {
	return FinancingDTO{
		ID:             f.ID,
		Kind:           string(f.Kind),
		InitialAmount:  f.InitialAmount.StringFixed(2),
		Rate:           f.Rate.String(),
		Count:          f.Count,
		LateFeeEnabled: f.LateFeeEnabled,
		CreatedAt:      f.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toInstallmentDTO(i *financing.Installment) InstallmentDTO {
	return InstallmentDTO{
		ID:             i.ID,
		Number:         i.Number,
		DueDate:        i.DueDate.UTC().Format(dateLayout),
		Status:         string(i.Status),
		Amount:         i.Amount.StringFixed(2),
		Paid:           i.Paid.StringFixed(2),
		Pending:        i.Pending.StringFixed(2),
		LateFeeAmount:  i.LateFeeAmount.StringFixed(2),
		LateFeePaid:    i.LateFeePaid.StringFixed(2),
		LateFeePending: i.LateFeePending.StringFixed(2),
	}
}

func toInstallmentDTOs(installments []*financing.Installment) []InstallmentDTO {
	out := make([]InstallmentDTO, 0, len(installments))
	for _, inst := range installments {
		out = append(out, toInstallmentDTO(inst))
	}
	return out
}

func toAllocationResultDTO(r *financing.AllocationResult) AllocationResultDTO {
	dto := AllocationResultDTO{
		Pool:         string(r.Pool),
		TotalApplied: r.TotalApplied.StringFixed(2),
		Entries:      make([]AllocationEntryDTO, 0, len(r.Entries)),
	}
	for _, e := range r.Entries {
		dto.Entries = append(dto.Entries, AllocationEntryDTO{
			Number:       e.Number,
			Mode:         string(e.Mode),
			Applied:      e.Applied.StringFixed(2),
			PendingAfter: e.PendingAfter.StringFixed(2),
		})
	}
	return dto
}

func toRebuildResultDTO(r *financing.RebuildResult) RebuildResultDTO {
	return RebuildResultDTO{
		Installments:    toInstallmentDTOs(r.Installments),
		Incomplete:      r.Incomplete,
		SkippedPayments: r.SkippedPayments,
	}
}

func toCombinedScheduleDTO(c financing.CombinedSchedule) CombinedScheduleDTO {
	dto := CombinedScheduleDTO{
		LotCount:   c.LotCount,
		UrbanCount: c.UrbanCount,
		LotTotal:   c.LotTotal.StringFixed(2),
		UrbanTotal: c.UrbanTotal.StringFixed(2),
		GrandTotal: c.GrandTotal.StringFixed(2),
	}
	for _, line := range c.Lines {
		dto.Lines = append(dto.Lines, CombinedLineDTO{
			DueDate: line.DueDate.UTC().Format(dateLayout),
			Lot:     fixedOrNil(line.Lot),
			Urban:   fixedOrNil(line.Urban),
			Total:   line.Total.StringFixed(2),
		})
	}
	return dto
}

func fixedOrNil(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}

func (p ScheduleParamsDTO) toParams() (financing.ScheduleParams, error) {
	first, err := time.Parse(dateLayout, p.FirstDueDate)
	if err != nil {
		return financing.ScheduleParams{}, err
	}
	total, err := decimal.NewFromString(p.TotalPrice)
	if err != nil {
		return financing.ScheduleParams{}, err
	}
	initial, err := parseOptionalDecimal(p.InitialAmount)
	if err != nil {
		return financing.ScheduleParams{}, err
	}
	reservation, err := parseOptionalDecimal(p.ReservationAmount)
	if err != nil {
		return financing.ScheduleParams{}, err
	}
	rate, err := parseOptionalDecimal(p.Rate)
	if err != nil {
		return financing.ScheduleParams{}, err
	}
	allowDecimals := true
	if p.AllowDecimals != nil {
		allowDecimals = *p.AllowDecimals
	}
	return financing.ScheduleParams{
		TotalPrice:        total,
		InitialAmount:     initial,
		ReservationAmount: reservation,
		Rate:              rate,
		Count:             p.Count,
		FirstDueDate:      first,
		AllowDecimals:     allowDecimals,
	}, nil
}

func parseOptionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

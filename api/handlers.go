/*
handlers.go - HTTP API handlers for the financing ledger

PURPOSE:
  Exposes the ledger engine via REST. Handles HTTP request/response and
  JSON serialization, delegating everything else to the domain logic.

ENDPOINTS:
  Financings:
    POST   /api/financings                         Create contract + schedule
    GET    /api/financings/{id}/installments       Ordered installments
    GET    /api/financings/{id}/installments/history  Replay view (simulation)
    POST   /api/financings/{id}/payments/principal Regular payment
    POST   /api/financings/{id}/payments/late-fees Penalty payment
    POST   /api/financings/{id}/rebuild            Persisted reset-and-replay

  Payments:
    POST   /api/payments/{id}/cancel               Cancel + rebuild

  Schedule:
    POST   /api/schedule/preview                   Calculator (lot, or lot+urban)

  Admin:
    POST   /api/admin/accrue                       Run the late-fee sweep now

ERROR HANDLING:
  - 400: Validation errors (amount <= 0, overpayment, unsorted input)
  - 404: Unknown financing/payment
  - 500: Storage failures (safe to retry: nothing partial persists)

SECURITY NOTE:
  No authentication here; route/role authorization is an external
  collaborator layered on top of this service.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/terralot/financing-engine/financing"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *financing.Ledger
	Log    *logrus.Logger
}

// NewHandler creates a handler around the ledger.
func NewHandler(ledger *financing.Ledger, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{Ledger: ledger, Log: log}
}

// =============================================================================
// FINANCINGS
// =============================================================================

func (h *Handler) CreateFinancing(w http.ResponseWriter, r *http.Request) {
	var req CreateFinancingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	params, err := ScheduleParamsDTO{
		TotalPrice:        req.TotalPrice,
		InitialAmount:     req.InitialAmount,
		ReservationAmount: req.ReservationAmount,
		Rate:              req.Rate,
		Count:             req.Count,
		FirstDueDate:      req.FirstDueDate,
		AllowDecimals:     req.AllowDecimals,
	}.toParams()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if params.Count <= 0 || params.Principal().IsNegative() {
		h.writeJSON(w, http.StatusBadRequest, ErrorDTO{Error: "number of installments and principal must be positive"})
		return
	}

	kind := financing.Kind(req.Kind)
	if kind != financing.KindCash && kind != financing.KindCredit {
		h.writeJSON(w, http.StatusBadRequest, ErrorDTO{Error: "kind must be cash or credit"})
		return
	}

	f, installments, err := h.Ledger.CreateFinancing(r.Context(), financing.CreateFinancingParams{
		Kind:           kind,
		LateFeeEnabled: req.LateFeeEnabled,
		Schedule:       params,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, struct {
		Financing    FinancingDTO     `json:"financing"`
		Installments []InstallmentDTO `json:"installments"`
	}{toFinancingDTO(f), toInstallmentDTOs(installments)})
}

func (h *Handler) ListInstallments(w http.ResponseWriter, r *http.Request) {
	installments, err := h.Ledger.Installments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toInstallmentDTOs(installments))
}

func (h *Handler) InstallmentsWithHistory(w http.ResponseWriter, r *http.Request) {
	result, err := h.Ledger.InstallmentsWithHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRebuildResultDTO(result))
}

// =============================================================================
// PAYMENTS
// =============================================================================

type payFn func(ctx context.Context, financingID string, amount decimal.Decimal) (*financing.AllocationResult, error)

func (h *Handler) PayPrincipal(w http.ResponseWriter, r *http.Request) {
	h.pay(w, r, h.Ledger.PayPrincipal)
}

func (h *Handler) PayLateFees(w http.ResponseWriter, r *http.Request) {
	h.pay(w, r, h.Ledger.PayLateFees)
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request, apply payFn) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := apply(r.Context(), chi.URLParam(r, "id"), amount)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toAllocationResultDTO(result))
}

func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	result, err := h.Ledger.CancelPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRebuildResultDTO(result))
}

// =============================================================================
// RECONCILIATION / ADMIN
// =============================================================================

func (h *Handler) RebuildLedger(w http.ResponseWriter, r *http.Request) {
	result, err := h.Ledger.RebuildLedger(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRebuildResultDTO(result))
}

func (h *Handler) AccrueLateFees(w http.ResponseWriter, r *http.Request) {
	report, err := h.Ledger.AccrueOverdueLateFees(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// SCHEDULE CALCULATOR
// =============================================================================

func (h *Handler) PreviewSchedule(w http.ResponseWriter, r *http.Request) {
	var req SchedulePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	lotParams, err := req.Lot.toParams()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	lot := financing.GenerateSchedule(lotParams)

	if req.Urban == nil {
		lines := make([]ScheduleLineDTO, 0, len(lot))
		for _, d := range lot {
			lines = append(lines, ScheduleLineDTO{
				Number:  d.Number,
				Amount:  d.Amount.StringFixed(2),
				DueDate: d.DueDate.UTC().Format(dateLayout),
			})
		}
		h.writeJSON(w, http.StatusOK, lines)
		return
	}

	urbanParams, err := req.Urban.toParams()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	urban := financing.GenerateSchedule(urbanParams)
	h.writeJSON(w, http.StatusOK, toCombinedScheduleDTO(financing.MergeSchedules(lot, urban)))
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.Log.WithError(err).Error("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, ErrorDTO{Error: err.Error()})
}

// writeDomainError maps domain errors to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case financing.IsClientError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case financing.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, err)
	default:
		h.Log.WithError(err).Error("internal error")
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

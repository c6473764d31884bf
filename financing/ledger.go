/*
ledger.go - Transactional operations over the installment ledger

PURPOSE:
  The Ledger is the single writer of installment rows. It wires the pure
  pieces (schedule generation, waterfall allocation, replay) to a Store,
  keeping each exposed operation inside one transaction scope.

EXPOSED OPERATIONS (the calls a controller, CLI or job makes):
  CreateFinancing     - schedule generation + bulk installment insert
  PayPrincipal        - regular payment, principal pool only
  PayLateFees         - penalty payment, late-fee pool only
  Installments        - ordered read
  InstallmentsWithHistory - as-of-now view rebuilt from payment history,
                            without trusting or touching cached balances
  RebuildLedger       - persisted reset-and-replay (replay.go)
  CancelPayment       - mark cancelled, then rebuild
  AccrueOverdueLateFees - batch sweep (accrual.go)
*/
package financing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultGracePeriod is how long past the due date an installment may sit
// before the accrual sweep starts charging it.
const DefaultGracePeriod = 3 * 24 * time.Hour

// DefaultPenaltyUnit is the fixed late-fee increment per accrual run.
var DefaultPenaltyUnit = decimal.NewFromInt(10)

// Ledger owns per-installment balances and status.
type Ledger struct {
	store  Store
	policy PolicyProvider
	log    *logrus.Logger

	// GracePeriod and PenaltyUnit parameterize the accrual sweep.
	GracePeriod time.Duration
	PenaltyUnit decimal.Decimal

	// Now is the clock; tests pin it.
	Now func() time.Time
}

// NewLedger creates a Ledger. policy may be nil, in which case late fees
// are considered enabled for every financing.
func NewLedger(store Store, policy PolicyProvider, log *logrus.Logger) *Ledger {
	if policy == nil {
		policy = LateFeesAlwaysOn{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Ledger{
		store:       store,
		policy:      policy,
		log:         log,
		GracePeriod: DefaultGracePeriod,
		PenaltyUnit: DefaultPenaltyUnit,
		Now:         time.Now,
	}
}

// =============================================================================
// FINANCING CREATION
// =============================================================================

// CreateFinancingParams describes a new contract. When Drafts is non-nil
// the supplied schedule is used verbatim; otherwise one is generated from
// Schedule.
type CreateFinancingParams struct {
	Kind           Kind
	LateFeeEnabled bool
	Schedule       ScheduleParams
	Drafts         []InstallmentDraft
}

// CreateFinancing creates the contract and its installments in bulk,
// inside one transaction.
func (l *Ledger) CreateFinancing(ctx context.Context, p CreateFinancingParams) (*Financing, []*Installment, error) {
	drafts := p.Drafts
	principal := p.Schedule.Principal()
	if drafts == nil {
		drafts = GenerateSchedule(p.Schedule)
	} else {
		// An explicit schedule carries no params; the contract principal
		// is what the lines sum to.
		principal = decimal.Zero
		for _, d := range drafts {
			principal = round2(principal.Add(d.Amount))
		}
	}

	f := &Financing{
		ID:             uuid.NewString(),
		Kind:           p.Kind,
		InitialAmount:  principal,
		Rate:           p.Schedule.Rate,
		Count:          len(drafts),
		LateFeeEnabled: p.LateFeeEnabled,
		CreatedAt:      l.Now(),
	}

	installments := make([]*Installment, 0, len(drafts))
	for _, d := range drafts {
		installments = append(installments, &Installment{
			ID:          uuid.NewString(),
			FinancingID: f.ID,
			Number:      d.Number,
			DueDate:     d.DueDate,
			Status:      StatusPending,
			Amount:      d.Amount,
			Paid:        decimal.Zero,
			Pending:     d.Amount,
		})
	}

	err := l.store.WithTx(ctx, func(s Scope) error {
		return s.InsertFinancing(f, installments)
	})
	if err != nil {
		return nil, nil, err
	}

	l.log.WithFields(logrus.Fields{
		"financing":    f.ID,
		"installments": len(installments),
	}).Info("financing created")
	return f, installments, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PayPrincipal applies a regular payment against the principal pool.
func (l *Ledger) PayPrincipal(ctx context.Context, financingID string, amount decimal.Decimal) (*AllocationResult, error) {
	return l.pay(ctx, financingID, amount, PoolPrincipal)
}

// PayLateFees applies a penalty payment against the late-fee pool.
func (l *Ledger) PayLateFees(ctx context.Context, financingID string, amount decimal.Decimal) (*AllocationResult, error) {
	return l.pay(ctx, financingID, amount, PoolLateFee)
}

// pay runs the waterfall and persists deltas, breakdown and undo snapshot
// in one transaction. A validation failure surfaces before the scope has
// written anything, so rollback always restores the pre-payment state.
func (l *Ledger) pay(ctx context.Context, financingID string, amount decimal.Decimal, pool Pool) (*AllocationResult, error) {
	var result *AllocationResult

	err := l.store.WithTx(ctx, func(s Scope) error {
		if _, err := s.Financing(financingID); err != nil {
			return err
		}
		installments, err := s.Installments(financingID, FilterUnpaid)
		if err != nil {
			return err
		}

		result, err = Allocate(installments, amount, pool)
		if err != nil {
			return err
		}

		for _, inst := range installments {
			if err := s.SaveInstallment(inst); err != nil {
				return err
			}
		}

		kind := BreakdownPrincipal
		if pool == PoolLateFee {
			kind = BreakdownLateFee
		}
		return s.InsertPayment(&Payment{
			ID:          uuid.NewString(),
			FinancingID: financingID,
			Amount:      amount,
			Status:      PaymentApproved,
			CreatedAt:   l.Now(),
			Breakdown: Breakdown{
				Kind:    kind,
				Entries: result.Entries,
				Backups: result.Backups,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"financing": financingID,
		"pool":      pool,
		"amount":    amount.StringFixed(2),
		"touched":   len(result.Entries),
	}).Info("payment allocated")
	return result, nil
}

// =============================================================================
// READS
// =============================================================================

// Installments returns the financing's installments in allocation order.
func (l *Ledger) Installments(ctx context.Context, financingID string) ([]*Installment, error) {
	var out []*Installment
	err := l.store.WithTx(ctx, func(s Scope) error {
		if _, err := s.Financing(financingID); err != nil {
			return err
		}
		var err error
		out, err = s.Installments(financingID, FilterAll)
		return err
	})
	return out, err
}

// InstallmentsWithHistory rebuilds the financing's state from its payment
// history in simulation: the stored balances are ignored, nothing is
// persisted. This is the view to trust when cached fields are suspect.
func (l *Ledger) InstallmentsWithHistory(ctx context.Context, financingID string) (*RebuildResult, error) {
	var result *RebuildResult
	err := l.store.WithTx(ctx, func(s Scope) error {
		installments, payments, err := l.loadForReplay(s, financingID)
		if err != nil {
			return err
		}
		result = l.replay(installments, payments)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelPayment marks a payment CANCELLED and rebuilds the ledger from the
// remaining valid history, all in one transaction.
func (l *Ledger) CancelPayment(ctx context.Context, paymentID string) (*RebuildResult, error) {
	var result *RebuildResult
	err := l.store.WithTx(ctx, func(s Scope) error {
		p, err := s.Payment(paymentID)
		if err != nil {
			return err
		}
		if err := s.UpdatePaymentStatus(paymentID, PaymentCancelled); err != nil {
			return err
		}
		result, err = l.rebuildInScope(s, p.FinancingID)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.log.WithField("payment", paymentID).Info("payment cancelled, ledger rebuilt")
	return result, nil
}

// Package store provides an in-memory financing.Store implementation
// (for tests/dev). Transaction scopes run against a deep copy of the
// state which is swapped in only on commit, so a rollback really does
// leave balances untouched.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/terralot/financing-engine/financing"
)

// Memory is the in-memory store. A single mutex serializes transactions,
// which also serializes concurrent payments against the same financing -
// the same guarantee row locks give the SQL implementation.
type Memory struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	financings   map[string]financing.Financing
	installments map[string][]financing.Installment // keyed by financing id
	payments     map[string][]financing.Payment     // keyed by financing id, created asc
}

func NewMemory() *Memory {
	return &Memory{state: memState{
		financings:   make(map[string]financing.Financing),
		installments: make(map[string][]financing.Installment),
		payments:     make(map[string][]financing.Payment),
	}}
}

// WithTx executes fn against a copy of the state; the copy becomes the
// state only when fn returns nil.
func (m *Memory) WithTx(_ context.Context, fn func(financing.Scope) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scope := &memScope{state: m.state.clone()}
	if err := fn(scope); err != nil {
		return err
	}
	m.state = scope.state
	return nil
}

func (s memState) clone() memState {
	out := memState{
		financings:   make(map[string]financing.Financing, len(s.financings)),
		installments: make(map[string][]financing.Installment, len(s.installments)),
		payments:     make(map[string][]financing.Payment, len(s.payments)),
	}
	for id, f := range s.financings {
		out.financings[id] = f
	}
	for id, insts := range s.installments {
		out.installments[id] = append([]financing.Installment(nil), insts...)
	}
	for id, ps := range s.payments {
		out.payments[id] = append([]financing.Payment(nil), ps...)
	}
	return out
}

// =============================================================================
// SCOPE
// =============================================================================

type memScope struct {
	state memState
}

func (sc *memScope) Financing(id string) (*financing.Financing, error) {
	f, ok := sc.state.financings[id]
	if !ok {
		return nil, financing.ErrFinancingNotFound
	}
	out := f
	return &out, nil
}

func (sc *memScope) InsertFinancing(f *financing.Financing, installments []*financing.Installment) error {
	sc.state.financings[f.ID] = *f
	rows := make([]financing.Installment, 0, len(installments))
	for _, inst := range installments {
		rows = append(rows, *inst)
	}
	sortInstallmentRows(rows)
	sc.state.installments[f.ID] = rows
	return nil
}

func (sc *memScope) Installments(financingID string, filter financing.StatusFilter) ([]*financing.Installment, error) {
	rows := sc.state.installments[financingID]
	out := make([]*financing.Installment, 0, len(rows))
	for _, row := range rows {
		if filter == financing.FilterUnpaid && row.Status == financing.StatusPaid {
			continue
		}
		copied := row
		out = append(out, &copied)
	}
	return out, nil
}

func (sc *memScope) SaveInstallment(inst *financing.Installment) error {
	rows := sc.state.installments[inst.FinancingID]
	for i := range rows {
		if rows[i].ID == inst.ID {
			rows[i] = *inst
			return nil
		}
	}
	return financing.ErrInstallmentNotFound
}

func (sc *memScope) InsertPayment(p *financing.Payment) error {
	sc.state.payments[p.FinancingID] = append(sc.state.payments[p.FinancingID], *p)
	return nil
}

func (sc *memScope) Payments(financingID string, statuses ...financing.PaymentStatus) ([]*financing.Payment, error) {
	rows := append([]financing.Payment(nil), sc.state.payments[financingID]...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })

	out := make([]*financing.Payment, 0, len(rows))
	for _, row := range rows {
		if len(statuses) > 0 && !containsStatus(statuses, row.Status) {
			continue
		}
		copied := row
		out = append(out, &copied)
	}
	return out, nil
}

func (sc *memScope) Payment(id string) (*financing.Payment, error) {
	for _, rows := range sc.state.payments {
		for _, row := range rows {
			if row.ID == id {
				copied := row
				return &copied, nil
			}
		}
	}
	return nil, financing.ErrPaymentNotFound
}

func (sc *memScope) UpdatePaymentStatus(id string, status financing.PaymentStatus) error {
	for _, rows := range sc.state.payments {
		for i := range rows {
			if rows[i].ID == id {
				rows[i].Status = status
				return nil
			}
		}
	}
	return financing.ErrPaymentNotFound
}

func (sc *memScope) OverdueInstallments(before time.Time) ([]*financing.Installment, error) {
	var out []*financing.Installment
	for _, rows := range sc.state.installments {
		for _, row := range rows {
			if row.Status == financing.StatusPaid {
				continue
			}
			if row.DueDate.Before(before) {
				copied := row
				out = append(out, &copied)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func containsStatus(statuses []financing.PaymentStatus, s financing.PaymentStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func sortInstallmentRows(rows []financing.Installment) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].DueDate.Equal(rows[j].DueDate) {
			return rows[i].DueDate.Before(rows[j].DueDate)
		}
		return rows[i].Number < rows[j].Number
	})
}

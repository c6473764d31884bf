/*
Package sqlite provides a SQLite-backed implementation of the financing
storage interfaces.

PURPOSE:
  Implements financing.Store (transaction scopes over financings,
  installments and payments) and financing.PolicyProvider. In production
  the same patterns apply to PostgreSQL - only minor dialect differences.

TRANSACTIONS:
  WithTx maps directly onto BEGIN/COMMIT/ROLLBACK. An error from the
  scope function rolls everything back, so a failed payment allocation
  leaves installment rows exactly as they were.

CONCURRENCY:
  A single writer mutex serializes transactions. SQLite has one writer
  at a time anyway; the mutex turns "database is locked" errors into
  queueing. With PostgreSQL, SELECT ... FOR UPDATE on the financing's
  installment rows replaces it.

KEY TABLES:
  financings:   contract records with the late-fee policy flag
  installments: the six balance fields, status, due date per line
  payments:     amount/status plus the typed breakdown as JSON, carrying
                the installmentsBackup undo snapshot

WAL MODE:
  Opened with WAL so readers don't block behind the writer, and with
  foreign keys on so deleting a financing cascades to its installments.

USAGE:
  st, err := sqlite.New("./data/financing.db")  // or ":memory:"
  defer st.Close()
  ledger := financing.NewLedger(st, st, logger)
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/terralot/financing-engine/financing"
)

// Store implements financing.Store and financing.PolicyProvider.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (and migrates) a store at the given path. Use ":memory:" for
// an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A scope's reads must see its own writes; pooling extra connections
	// against a :memory: database would split the state.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS financings (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		initial_amount TEXT NOT NULL,
		rate TEXT NOT NULL,
		installment_count INTEGER NOT NULL,
		late_fee_enabled INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		financing_id TEXT NOT NULL REFERENCES financings(id) ON DELETE CASCADE,
		number INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL,
		amount TEXT NOT NULL,
		paid TEXT NOT NULL,
		pending TEXT NOT NULL,
		late_fee_amount TEXT NOT NULL,
		late_fee_paid TEXT NOT NULL,
		late_fee_pending TEXT NOT NULL,
		last_accrued_at TEXT
	);

	-- Allocation order read (hot path)
	CREATE INDEX IF NOT EXISTS idx_installments_financing_due
		ON installments(financing_id, due_date, number);
	-- Overdue sweep
	CREATE INDEX IF NOT EXISTS idx_installments_status_due
		ON installments(status, due_date);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		financing_id TEXT NOT NULL REFERENCES financings(id) ON DELETE CASCADE,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		breakdown_json TEXT NOT NULL
	);

	-- Replay order read
	CREATE INDEX IF NOT EXISTS idx_payments_financing_created
		ON payments(financing_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx runs fn inside one database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(financing.Scope) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&txScope{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// LateFeeEnabled implements financing.PolicyProvider from the flag stored
// on the financing row.
func (s *Store) LateFeeEnabled(financingID string) (bool, error) {
	var enabled bool
	err := s.db.QueryRow(
		`SELECT late_fee_enabled FROM financings WHERE id = ?`, financingID,
	).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, financing.ErrFinancingNotFound
	}
	return enabled, err
}

// =============================================================================
// SCOPE
// =============================================================================

type txScope struct {
	tx *sql.Tx
}

func (sc *txScope) Financing(id string) (*financing.Financing, error) {
	row := sc.tx.QueryRow(`
		SELECT id, kind, initial_amount, rate, installment_count, late_fee_enabled, created_at
		FROM financings WHERE id = ?`, id)

	var f financing.Financing
	var initial, rate, createdAt string
	err := row.Scan(&f.ID, &f.Kind, &initial, &rate, &f.Count, &f.LateFeeEnabled, &createdAt)
	if err == sql.ErrNoRows {
		return nil, financing.ErrFinancingNotFound
	}
	if err != nil {
		return nil, err
	}
	if f.InitialAmount, err = decimal.NewFromString(initial); err != nil {
		return nil, fmt.Errorf("financing %s: bad initial_amount: %w", id, err)
	}
	if f.Rate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("financing %s: bad rate: %w", id, err)
	}
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (sc *txScope) InsertFinancing(f *financing.Financing, installments []*financing.Installment) error {
	_, err := sc.tx.Exec(`
		INSERT INTO financings (id, kind, initial_amount, rate, installment_count, late_fee_enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, string(f.Kind), f.InitialAmount.String(), f.Rate.String(),
		f.Count, f.LateFeeEnabled, formatTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert financing: %w", err)
	}

	stmt, err := sc.tx.Prepare(`
		INSERT INTO installments
			(id, financing_id, number, due_date, status,
			 amount, paid, pending, late_fee_amount, late_fee_paid, late_fee_pending, last_accrued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, inst := range installments {
		_, err := stmt.Exec(
			inst.ID, inst.FinancingID, inst.Number, formatTime(inst.DueDate), string(inst.Status),
			inst.Amount.String(), inst.Paid.String(), inst.Pending.String(),
			inst.LateFeeAmount.String(), inst.LateFeePaid.String(), inst.LateFeePending.String(),
			nullableTime(inst.LastAccruedAt))
		if err != nil {
			return fmt.Errorf("insert installment %d: %w", inst.Number, err)
		}
	}
	return nil
}

const installmentColumns = `
	id, financing_id, number, due_date, status,
	amount, paid, pending, late_fee_amount, late_fee_paid, late_fee_pending, last_accrued_at`

func (sc *txScope) Installments(financingID string, filter financing.StatusFilter) ([]*financing.Installment, error) {
	query := `SELECT ` + installmentColumns + ` FROM installments WHERE financing_id = ?`
	if filter == financing.FilterUnpaid {
		query += ` AND status != 'PAID'`
	}
	query += ` ORDER BY due_date ASC, number ASC`

	rows, err := sc.tx.Query(query, financingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInstallments(rows)
}

func (sc *txScope) SaveInstallment(inst *financing.Installment) error {
	// Amount is immutable after creation; it is deliberately not updated.
	res, err := sc.tx.Exec(`
		UPDATE installments SET
			status = ?, paid = ?, pending = ?,
			late_fee_amount = ?, late_fee_paid = ?, late_fee_pending = ?, last_accrued_at = ?
		WHERE id = ?`,
		string(inst.Status), inst.Paid.String(), inst.Pending.String(),
		inst.LateFeeAmount.String(), inst.LateFeePaid.String(), inst.LateFeePending.String(),
		nullableTime(inst.LastAccruedAt), inst.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return financing.ErrInstallmentNotFound
	}
	return nil
}

func (sc *txScope) InsertPayment(p *financing.Payment) error {
	breakdown, err := json.Marshal(p.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}
	_, err = sc.tx.Exec(`
		INSERT INTO payments (id, financing_id, amount, status, created_at, breakdown_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.FinancingID, p.Amount.String(), string(p.Status), formatTime(p.CreatedAt), string(breakdown))
	return err
}

func (sc *txScope) Payments(financingID string, statuses ...financing.PaymentStatus) ([]*financing.Payment, error) {
	query := `SELECT id, financing_id, amount, status, created_at, breakdown_json
		FROM payments WHERE financing_id = ?`
	args := []any{financingID}
	if len(statuses) > 0 {
		placeholders := strings.Repeat("?,", len(statuses))
		query += ` AND status IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := sc.tx.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*financing.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (sc *txScope) Payment(id string) (*financing.Payment, error) {
	rows, err := sc.tx.Query(`SELECT id, financing_id, amount, status, created_at, breakdown_json
		FROM payments WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, financing.ErrPaymentNotFound
	}
	return scanPayment(rows)
}

func (sc *txScope) UpdatePaymentStatus(id string, status financing.PaymentStatus) error {
	res, err := sc.tx.Exec(`UPDATE payments SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return financing.ErrPaymentNotFound
	}
	return nil
}

func (sc *txScope) OverdueInstallments(before time.Time) ([]*financing.Installment, error) {
	rows, err := sc.tx.Query(`SELECT `+installmentColumns+`
		FROM installments
		WHERE status IN ('PENDING', 'EXPIRED') AND due_date < ?
		ORDER BY due_date ASC, number ASC`, formatTime(before))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInstallments(rows)
}

// =============================================================================
// ROW SCANNING
// =============================================================================

func scanInstallments(rows *sql.Rows) ([]*financing.Installment, error) {
	var out []*financing.Installment
	for rows.Next() {
		var inst financing.Installment
		var dueDate string
		var amount, paid, pending, feeAmount, feePaid, feePending string
		var lastAccrued sql.NullString

		err := rows.Scan(&inst.ID, &inst.FinancingID, &inst.Number, &dueDate, &inst.Status,
			&amount, &paid, &pending, &feeAmount, &feePaid, &feePending, &lastAccrued)
		if err != nil {
			return nil, err
		}

		if inst.DueDate, err = parseTime(dueDate); err != nil {
			return nil, err
		}
		for _, field := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&inst.Amount, amount}, {&inst.Paid, paid}, {&inst.Pending, pending},
			{&inst.LateFeeAmount, feeAmount}, {&inst.LateFeePaid, feePaid}, {&inst.LateFeePending, feePending},
		} {
			if *field.dst, err = decimal.NewFromString(field.src); err != nil {
				return nil, fmt.Errorf("installment %s: bad decimal %q: %w", inst.ID, field.src, err)
			}
		}
		if lastAccrued.Valid {
			t, err := parseTime(lastAccrued.String)
			if err != nil {
				return nil, err
			}
			inst.LastAccruedAt = &t
		}
		out = append(out, &inst)
	}
	return out, rows.Err()
}

func scanPayment(rows *sql.Rows) (*financing.Payment, error) {
	var p financing.Payment
	var amount, createdAt, breakdown string
	if err := rows.Scan(&p.ID, &p.FinancingID, &amount, &p.Status, &createdAt, &breakdown); err != nil {
		return nil, err
	}
	var err error
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("payment %s: bad amount: %w", p.ID, err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(breakdown), &p.Breakdown); err != nil {
		// Old rows stored free-form metadata; keep the raw string so the
		// replay engine can decide what to do with it.
		p.Breakdown = financing.Breakdown{Kind: financing.BreakdownLegacy, Raw: breakdown}
	}
	return &p, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

/*
Package sqlite provides a SQLite-backed implementation of rental.Store.

PURPOSE:
  Persists contracts, violations and expenses. The engines never see this
  package; services read plain records through it and write the closeout
  result back with one guarded statement.

KEY TABLES:
  contracts:  One row per lease, closeout columns NULL until closed
  violations: Penalties, FK to contracts(code)
  expenses:   Operating expenses for the expenses report

GUARDED WRITES:
  Every write that depends on a contract being open carries the condition in
  the statement itself:

    UPDATE contracts SET is_closed = 1, ... WHERE code = ? AND is_closed = 0
    INSERT INTO violations ... SELECT ... WHERE EXISTS (open contract)
    DELETE FROM violations WHERE id = ? AND contract_code IN (open contracts)

  Zero rows affected is then diagnosed with a follow-up read: unknown code
  (ErrContractNotFound / ErrViolationNotFound) or closed contract
  (*generic.ContractClosedError). The condition, not the follow-up read, is
  what keeps two concurrent closeouts from both succeeding.

MONEY AND DATES:
  Contract amounts are INTEGER. Expense amounts are decimal TEXT. Dates are
  TEXT YYYY-MM-DD so ORDER BY on them is chronological.

CONCURRENCY:
  sync.RWMutex around every statement. ":memory:" databases are
  pinned to one connection because each pooled connection would otherwise
  open its own empty database.

USAGE:
  store, err := sqlite.New("./data/stay.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - rental/store.go: Interface definitions
  - rental/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/stay-engine/generic"
	"github.com/warp/stay-engine/rental"
)

// Store implements rental.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ rental.Store = (*Store)(nil)

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

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

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contracts (
		code TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL,
		client_name TEXT NOT NULL DEFAULT '',
		client_document TEXT NOT NULL DEFAULT '',
		client_address TEXT NOT NULL DEFAULT '',
		client_email TEXT NOT NULL DEFAULT '',
		client_phone TEXT NOT NULL DEFAULT '',
		checkout_time TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		planned_end_date TEXT NOT NULL,
		actual_end_date TEXT,
		total_nights INTEGER NOT NULL,
		price_per_night INTEGER NOT NULL,
		total_price INTEGER NOT NULL,
		deposit INTEGER NOT NULL,
		is_closed INTEGER NOT NULL DEFAULT 0,
		early_checkout INTEGER NOT NULL DEFAULT 0,
		initiator TEXT NOT NULL DEFAULT '',
		early_reason TEXT NOT NULL DEFAULT '',
		manual_refund INTEGER,
		refund_amount INTEGER NOT NULL DEFAULT 0,
		extra_due_amount INTEGER NOT NULL DEFAULT 0,
		closed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_unit ON contracts(unit_id);
	CREATE INDEX IF NOT EXISTS idx_contracts_open_end
		ON contracts(planned_end_date) WHERE is_closed = 0;

	CREATE TABLE IF NOT EXISTS violations (
		id TEXT PRIMARY KEY,
		contract_code TEXT NOT NULL REFERENCES contracts(code),
		type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		amount INTEGER NOT NULL CHECK (amount >= 0),
		resolved INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_violations_contract
		ON violations(contract_code, created_at);

	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		description TEXT NOT NULL,
		amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_date ON expenses(date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CONTRACT STORE
// =============================================================================

const contractColumns = `
	code, unit_id, client_name, client_document, client_address, client_email,
	client_phone, checkout_time, start_date, planned_end_date, actual_end_date,
	total_nights, price_per_night, total_price, deposit, is_closed,
	early_checkout, initiator, early_reason, manual_refund, refund_amount,
	extra_due_amount, closed_at, created_at`

// CreateContract inserts a new contract.
func (s *Store) CreateContract(ctx context.Context, c rental.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `INSERT INTO contracts (` + contractColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		c.Code, c.UnitID, c.ClientName, c.ClientDocument, c.ClientAddress, c.ClientEmail,
		c.ClientPhone, c.CheckoutTime, c.StartDate, c.PlannedEndDate, nullDate(c.ActualEndDate),
		c.TotalNights, c.PricePerNight, c.TotalPrice, c.Deposit, c.IsClosed,
		c.EarlyCheckout, string(c.Initiator), c.EarlyReason, nullInt(c.ManualRefund), c.RefundAmount,
		c.ExtraDueAmount, nullTime(c.ClosedAt), createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", generic.ErrDuplicateContract, c.Code)
		}
		return fmt.Errorf("failed to insert contract: %w", err)
	}
	return nil
}

// GetContract retrieves a contract by code.
func (s *Store) GetContract(ctx context.Context, code string) (rental.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+contractColumns+" FROM contracts WHERE code = ?", code)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rental.Contract{}, generic.ErrContractNotFound
	}
	if err != nil {
		return rental.Contract{}, fmt.Errorf("failed to load contract: %w", err)
	}
	return c, nil
}

// ListContracts returns all contracts, newest start date first.
func (s *Store) ListContracts(ctx context.Context) ([]rental.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+contractColumns+" FROM contracts ORDER BY start_date DESC, code",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	defer rows.Close()

	var contracts []rental.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

// CloseContract writes the closeout result if, and only if, the contract is
// still open and its unresolved violations are the ones the settlement saw.
func (s *Store) CloseContract(ctx context.Context, code string, rec rental.CloseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE contracts SET
			is_closed = 1,
			actual_end_date = ?,
			early_checkout = ?,
			initiator = ?,
			early_reason = ?,
			manual_refund = ?,
			refund_amount = ?,
			extra_due_amount = ?,
			closed_at = ?
		WHERE code = ? AND is_closed = 0
		  AND (SELECT COUNT(*) FROM violations WHERE contract_code = ? AND resolved = 0) = ?
		  AND (SELECT COALESCE(SUM(amount), 0) FROM violations WHERE contract_code = ? AND resolved = 0) = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		rec.ActualEnd, rec.EarlyCheckout, string(rec.Initiator), rec.EarlyReason,
		nullInt(rec.ManualRefund), rec.RefundAmount, rec.ExtraDueAmount,
		rec.ClosedAt.UTC().Format(time.RFC3339), code,
		code, rec.OpenViolations, code, rec.PenaltiesTotal,
	)
	if err != nil {
		return fmt.Errorf("failed to close contract: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return s.contractStateLocked(ctx, code, generic.ErrViolationsChanged)
	}
	return nil
}

// contractStateLocked explains why a guarded write matched nothing. ifOpen is
// returned when the contract exists and is still open.
func (s *Store) contractStateLocked(ctx context.Context, code string, ifOpen error) error {
	var closed bool
	err := s.db.QueryRowContext(ctx, "SELECT is_closed FROM contracts WHERE code = ?", code).Scan(&closed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return generic.ErrContractNotFound
	case err != nil:
		return err
	case closed:
		return &generic.ContractClosedError{Code: code}
	}
	return ifOpen
}

// violationTimeLayout is fixed width so created_at sorts as text.
const violationTimeLayout = "2006-01-02T15:04:05.000000000Z"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (rental.Contract, error) {
	var (
		c            rental.Contract
		actualEnd    generic.Date
		initiator    string
		manualRefund sql.NullInt64
		closedAt     sql.NullString
		createdAt    string
	)
	err := row.Scan(
		&c.Code, &c.UnitID, &c.ClientName, &c.ClientDocument, &c.ClientAddress, &c.ClientEmail,
		&c.ClientPhone, &c.CheckoutTime, &c.StartDate, &c.PlannedEndDate, &actualEnd,
		&c.TotalNights, &c.PricePerNight, &c.TotalPrice, &c.Deposit, &c.IsClosed,
		&c.EarlyCheckout, &initiator, &c.EarlyReason, &manualRefund, &c.RefundAmount,
		&c.ExtraDueAmount, &closedAt, &createdAt,
	)
	if err != nil {
		return rental.Contract{}, err
	}

	c.Initiator = rental.Initiator(initiator)
	if !actualEnd.IsZero() {
		c.ActualEndDate = &actualEnd
	}
	if manualRefund.Valid {
		v := manualRefund.Int64
		c.ManualRefund = &v
	}
	if closedAt.Valid {
		t, _ := time.Parse(time.RFC3339, closedAt.String)
		c.ClosedAt = &t
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return c, nil
}

// =============================================================================
// VIOLATION STORE
// =============================================================================

// AddViolation records a violation against an open contract.
func (s *Store) AddViolation(ctx context.Context, v rental.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO violations (id, contract_code, type, description, amount, resolved, created_at)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM contracts WHERE code = ? AND is_closed = 0)
	`
	res, err := s.db.ExecContext(ctx, query,
		v.ID, v.ContractCode, v.Type, v.Description, v.Amount, v.Resolved,
		v.CreatedAt.UTC().Format(violationTimeLayout), v.ContractCode,
	)
	if err != nil {
		return fmt.Errorf("failed to insert violation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return s.contractStateLocked(ctx, v.ContractCode, errNoMatch(v.ContractCode))
	}
	return nil
}

// GetViolation retrieves a violation by ID.
func (s *Store) GetViolation(ctx context.Context, id string) (rental.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, err := s.getViolationLocked(ctx, id)
	if err != nil {
		return rental.Violation{}, err
	}
	return v, nil
}

func (s *Store) getViolationLocked(ctx context.Context, id string) (rental.Violation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, contract_code, type, description, amount, resolved, created_at FROM violations WHERE id = ?",
		id,
	)
	v, err := scanViolation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rental.Violation{}, generic.ErrViolationNotFound
	}
	return v, err
}

// ListViolations returns all violations of a contract, oldest first.
func (s *Store) ListViolations(ctx context.Context, contractCode string) ([]rental.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contract_code, type, description, amount, resolved, created_at
		 FROM violations WHERE contract_code = ? ORDER BY created_at, rowid`,
		contractCode,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	var violations []rental.Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// DeleteViolation rescinds a violation of an open contract.
func (s *Store) DeleteViolation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM violations
		WHERE id = ? AND contract_code IN (SELECT code FROM contracts WHERE is_closed = 0)`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete violation: %w", err)
	}
	return s.violationWriteResultLocked(ctx, id, res)
}

// ResolveViolation marks a violation of an open contract as resolved.
func (s *Store) ResolveViolation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE violations SET resolved = 1
		WHERE id = ? AND contract_code IN (SELECT code FROM contracts WHERE is_closed = 0)`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve violation: %w", err)
	}
	return s.violationWriteResultLocked(ctx, id, res)
}

func (s *Store) violationWriteResultLocked(ctx context.Context, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	v, err := s.getViolationLocked(ctx, id)
	if err != nil {
		return err
	}
	return s.contractStateLocked(ctx, v.ContractCode, errNoMatch(v.ContractCode))
}

func errNoMatch(code string) error {
	return fmt.Errorf("contract %s: guarded write matched no rows", code)
}

func scanViolation(row rowScanner) (rental.Violation, error) {
	var v rental.Violation
	var createdAt string
	if err := row.Scan(&v.ID, &v.ContractCode, &v.Type, &v.Description, &v.Amount, &v.Resolved, &createdAt); err != nil {
		return rental.Violation{}, err
	}
	v.CreatedAt, _ = time.Parse(violationTimeLayout, createdAt)
	return v, nil
}

// =============================================================================
// EXPENSE STORE
// =============================================================================

// AddExpense records an operating expense.
func (s *Store) AddExpense(ctx context.Context, e rental.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO expenses (id, date, description, amount, payment_method, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Date, e.Description, e.Amount.String(), string(e.PaymentMethod),
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	return nil
}

// ListExpenses returns all expenses, newest first.
func (s *Store) ListExpenses(ctx context.Context) ([]rental.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, date, description, amount, payment_method, created_at FROM expenses ORDER BY date DESC, rowid",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []rental.Expense
	for rows.Next() {
		var e rental.Expense
		var amount, method, createdAt string
		if err := rows.Scan(&e.ID, &e.Date, &e.Description, &amount, &method, &createdAt); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("expense %s: bad amount %q: %w", e.ID, amount, err)
		}
		e.PaymentMethod = rental.PaymentMethod(method)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullDate(d *generic.Date) any {
	if d == nil || d.IsZero() {
		return nil
	}
	return d.String()
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

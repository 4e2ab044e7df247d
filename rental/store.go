/*
store.go - Persistence interfaces for contracts, violations and expenses

PURPOSE:
  Defines the boundary between the domain and the database. The engines
  never touch a Store; services load plain records through it, hand them to
  the pure engines, and write results back.

KEY INTERFACES:
  ContractStore:  Contract intake, lookup and the guarded closeout write
  ViolationStore: Penalties recorded against a contract
  ExpenseStore:   Operating expenses for the expenses report
  Store:          All of the above

GUARDED CLOSE:
  CloseContract is the only write that touches a contract after intake. It
  must be a single conditional update:

    UPDATE contracts SET is_closed = 1, ... WHERE code = ? AND is_closed = 0

  If no row matched because the contract is already closed, the store returns
  *generic.ContractClosedError. Two concurrent closeouts therefore cannot
  both succeed, and a stored settlement is never overwritten.

  The same statement also requires the contract's unresolved violations to
  match rec.OpenViolations / rec.PenaltiesTotal. A violation added, rescinded
  or resolved between the settlement read and the close makes the write
  match nothing and the store returns generic.ErrViolationsChanged; the
  caller recomputes and tries again.

VIOLATION GUARD:
  AddViolation, DeleteViolation and ResolveViolation refuse to touch a
  closed contract's violations for the same reason: the settlement was
  computed from them.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - rental/store/memory.go: In-memory for tests

SEE ALSO:
  - closeout/service.go: Uses CloseContract
  - violation.go: Uses ViolationStore
*/
package rental

import (
	"context"
	"time"

	"github.com/warp/stay-engine/generic"
)

// CloseRecord is the settlement written onto a contract at closeout.
type CloseRecord struct {
	ActualEnd      generic.Date
	EarlyCheckout  bool
	Initiator      Initiator
	EarlyReason    string
	ManualRefund   *int64
	RefundAmount   int64
	ExtraDueAmount int64
	ClosedAt       time.Time

	// The open violations the settlement was computed from. The close only
	// commits if the store still sees the same count and total.
	OpenViolations int
	PenaltiesTotal int64
}

// Apply copies the record onto c, as the store does on commit.
func (r CloseRecord) Apply(c *Contract) {
	end := r.ActualEnd
	closedAt := r.ClosedAt
	c.IsClosed = true
	c.ActualEndDate = &end
	c.EarlyCheckout = r.EarlyCheckout
	c.Initiator = r.Initiator
	c.EarlyReason = r.EarlyReason
	c.ManualRefund = r.ManualRefund
	c.RefundAmount = r.RefundAmount
	c.ExtraDueAmount = r.ExtraDueAmount
	c.ClosedAt = &closedAt
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

type ContractStore interface {
	// CreateContract inserts a new contract. Returns ErrDuplicateContract if
	// the code is taken.
	CreateContract(ctx context.Context, c Contract) error

	// GetContract returns ErrContractNotFound for unknown codes.
	GetContract(ctx context.Context, code string) (Contract, error)

	// ListContracts returns every contract, newest start date first.
	ListContracts(ctx context.Context) ([]Contract, error)

	// CloseContract is the guarded one-shot open -> closed transition.
	CloseContract(ctx context.Context, code string, rec CloseRecord) error
}

type ViolationStore interface {
	AddViolation(ctx context.Context, v Violation) error
	GetViolation(ctx context.Context, id string) (Violation, error)

	// ListViolations returns all violations of a contract, oldest first.
	ListViolations(ctx context.Context, contractCode string) ([]Violation, error)

	DeleteViolation(ctx context.Context, id string) error
	ResolveViolation(ctx context.Context, id string) error
}

type ExpenseStore interface {
	AddExpense(ctx context.Context, e Expense) error

	// ListExpenses returns expenses, newest first.
	ListExpenses(ctx context.Context) ([]Expense, error)
}

type Store interface {
	ContractStore
	ViolationStore
	ExpenseStore
}

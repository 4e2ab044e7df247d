// Package rental holds the records the stay engine reads and writes:
// contracts, violations and expenses, plus the lifecycle rules around them.
// Computation lives in the settlement and revenue packages; this package only
// knows what a valid record looks like and how it may change.
package rental

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stay-engine/generic"
)

// =============================================================================
// CONTRACT
// =============================================================================

// Contract is one lease of one unit. TotalNights and TotalPrice are fixed at
// creation; TotalPrice may diverge from TotalNights*PricePerNight for manual
// contracts and is trusted as stored.
type Contract struct {
	Code   string
	UnitID string

	// Tenant details from the intake form. Not used by any computation.
	ClientName     string
	ClientDocument string
	ClientAddress  string
	ClientEmail    string
	ClientPhone    string
	CheckoutTime   string

	StartDate      generic.Date
	PlannedEndDate generic.Date
	ActualEndDate  *generic.Date

	TotalNights   int
	PricePerNight int64
	TotalPrice    int64
	Deposit       int64

	// Closeout. Set once by the guarded close write.
	IsClosed       bool
	EarlyCheckout  bool
	Initiator      Initiator
	EarlyReason    string
	ManualRefund   *int64
	RefundAmount   int64
	ExtraDueAmount int64
	ClosedAt       *time.Time

	CreatedAt time.Time
}

// Stay returns the planned occupancy interval.
func (c Contract) Stay() generic.Period {
	return generic.Period{Start: c.StartDate, End: c.PlannedEndDate}
}

// IsActiveOn reports whether the tenant is expected in the unit on d.
func (c Contract) IsActiveOn(d generic.Date) bool {
	return !c.IsClosed && c.Stay().Contains(d)
}

// IsOverdue reports an open contract whose planned checkout has passed.
func (c Contract) IsOverdue(d generic.Date) bool {
	return !c.IsClosed && c.PlannedEndDate.Before(d)
}

// =============================================================================
// VIOLATION
// =============================================================================

// Violation is a penalty recorded against a contract. Once inserted it is
// only ever deleted (rescinded) or marked resolved.
type Violation struct {
	ID           string
	ContractCode string
	Type         string
	Description  string
	Amount       int64
	Resolved     bool
	CreatedAt    time.Time
}

// =============================================================================
// CLOSEOUT DECISION
// =============================================================================

// Initiator is the party responsible for an early checkout.
type Initiator string

const (
	InitiatorNone     Initiator = ""
	InitiatorTenant   Initiator = "tenant"
	InitiatorLandlord Initiator = "landlord"
)

func (i Initiator) Valid() bool {
	switch i {
	case InitiatorNone, InitiatorTenant, InitiatorLandlord:
		return true
	}
	return false
}

// CloseoutDecision is everything the operator decides at checkout.
type CloseoutDecision struct {
	EarlyCheckout bool
	Initiator     Initiator
	ManualRefund  *int64
	ActualEnd     *generic.Date
	Reason        string
}

// =============================================================================
// EXPENSE
// =============================================================================

// PaymentMethod says who paid an expense.
type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "cash"
	PaymentCompany PaymentMethod = "company"
)

// Expense is an operating cost, reported by month.
type Expense struct {
	ID            string
	Date          generic.Date
	Description   string
	Amount        decimal.Decimal
	PaymentMethod PaymentMethod
	CreatedAt     time.Time
}

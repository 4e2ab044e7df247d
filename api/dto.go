/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  rental records so column and field names can evolve independently.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (required, formats, ranges). Domain rules that span fields (dates in
  order, initiator vs manual refund) stay in the rental package so the CLI
  gets them too.

SEE ALSO:
  - handlers.go: Uses these types
  - rental/types.go: The records behind them
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stay-engine/closeout"
	"github.com/warp/stay-engine/generic"
	"github.com/warp/stay-engine/rental"
	"github.com/warp/stay-engine/settlement"
)

// =============================================================================
// CONTRACTS
// =============================================================================

// CreateContractRequest is the intake form.
type CreateContractRequest struct {
	Code           string `json:"code" validate:"required,max=64"`
	UnitID         string `json:"unit_id" validate:"required,max=64"`
	ClientName     string `json:"client_name" validate:"max=200"`
	ClientDocument string `json:"client_document" validate:"max=100"`
	ClientAddress  string `json:"client_address" validate:"max=300"`
	ClientEmail    string `json:"client_email" validate:"omitempty,email"`
	ClientPhone    string `json:"client_phone" validate:"max=40"`
	CheckoutTime   string `json:"checkout_time" validate:"omitempty,datetime=15:04"`
	StartDate      string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate        string `json:"end_date" validate:"required,datetime=2006-01-02"`
	PricePerNight  int64  `json:"price_per_night" validate:"gte=0"`
	TotalPrice     *int64 `json:"total_price,omitempty" validate:"omitempty,gte=0"`
	Deposit        int64  `json:"deposit" validate:"gte=0"`
}

// ContractDTO represents a contract in API responses.
type ContractDTO struct {
	Code           string `json:"code"`
	UnitID         string `json:"unit_id"`
	ClientName     string `json:"client_name,omitempty"`
	ClientDocument string `json:"client_document,omitempty"`
	ClientAddress  string `json:"client_address,omitempty"`
	ClientEmail    string `json:"client_email,omitempty"`
	ClientPhone    string `json:"client_phone,omitempty"`
	CheckoutTime   string `json:"checkout_time,omitempty"`

	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	ActualEndDate string `json:"actual_end_date,omitempty"`
	TotalNights   int    `json:"total_nights"`
	PricePerNight int64  `json:"price_per_night"`
	TotalPrice    int64  `json:"total_price"`
	Deposit       int64  `json:"deposit"`

	IsClosed       bool   `json:"is_closed"`
	EarlyCheckout  bool   `json:"early_checkout,omitempty"`
	Initiator      string `json:"initiator,omitempty"`
	EarlyReason    string `json:"early_reason,omitempty"`
	ManualRefund   *int64 `json:"manual_refund,omitempty"`
	RefundAmount   int64  `json:"refund_amount"`
	ExtraDueAmount int64  `json:"extra_due_amount"`
	ClosedAt       string `json:"closed_at,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

func toContractDTO(c rental.Contract) ContractDTO {
	dto := ContractDTO{
		Code:           c.Code,
		UnitID:         c.UnitID,
		ClientName:     c.ClientName,
		ClientDocument: c.ClientDocument,
		ClientAddress:  c.ClientAddress,
		ClientEmail:    c.ClientEmail,
		ClientPhone:    c.ClientPhone,
		CheckoutTime:   c.CheckoutTime,
		StartDate:      c.StartDate.String(),
		EndDate:        c.PlannedEndDate.String(),
		TotalNights:    c.TotalNights,
		PricePerNight:  c.PricePerNight,
		TotalPrice:     c.TotalPrice,
		Deposit:        c.Deposit,
		IsClosed:       c.IsClosed,
		EarlyCheckout:  c.EarlyCheckout,
		Initiator:      string(c.Initiator),
		EarlyReason:    c.EarlyReason,
		ManualRefund:   c.ManualRefund,
		RefundAmount:   c.RefundAmount,
		ExtraDueAmount: c.ExtraDueAmount,
	}
	if c.ActualEndDate != nil {
		dto.ActualEndDate = c.ActualEndDate.String()
	}
	if c.ClosedAt != nil {
		dto.ClosedAt = c.ClosedAt.UTC().Format(time.RFC3339)
	}
	if !c.CreatedAt.IsZero() {
		dto.CreatedAt = c.CreatedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func toContractDTOs(cs []rental.Contract) []ContractDTO {
	out := make([]ContractDTO, 0, len(cs))
	for _, c := range cs {
		out = append(out, toContractDTO(c))
	}
	return out
}

// =============================================================================
// CLOSEOUT
// =============================================================================

// CloseoutRequest is the body of both preview and close.
type CloseoutRequest struct {
	EarlyCheckout bool   `json:"early_checkout"`
	Initiator     string `json:"initiator" validate:"omitempty,oneof=tenant landlord"`
	ManualRefund  *int64 `json:"manual_refund,omitempty" validate:"omitempty,gte=0"`
	ActualEndDate string `json:"actual_end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Reason        string `json:"reason" validate:"max=500"`
}

func (r CloseoutRequest) decision() (rental.CloseoutDecision, error) {
	d := rental.CloseoutDecision{
		EarlyCheckout: r.EarlyCheckout,
		Initiator:     rental.Initiator(r.Initiator),
		ManualRefund:  r.ManualRefund,
		Reason:        r.Reason,
	}
	if r.ActualEndDate != "" {
		end, err := generic.ParseDate(r.ActualEndDate)
		if err != nil {
			return rental.CloseoutDecision{}, err
		}
		d.ActualEnd = &end
	}
	return d, d.Validate()
}

// SettlementDTO is a computed settlement.
type SettlementDTO struct {
	ContractCode string            `json:"contract_code"`
	ActualEnd    string            `json:"actual_end_date"`
	Result       settlement.Result `json:"result"`
}

func toSettlementDTO(code string, out closeout.Outcome) SettlementDTO {
	return SettlementDTO{ContractCode: code, ActualEnd: out.ActualEnd.String(), Result: out.Result}
}

// CloseResponse is returned by a successful close.
type CloseResponse struct {
	Contract   ContractDTO   `json:"contract"`
	Settlement SettlementDTO `json:"settlement"`
}

// =============================================================================
// VIOLATIONS
// =============================================================================

type AddViolationRequest struct {
	Type        string `json:"type" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
	Amount      int64  `json:"amount" validate:"gte=0"`
}

type ViolationDTO struct {
	ID           string `json:"id"`
	ContractCode string `json:"contract_code"`
	Type         string `json:"type"`
	Description  string `json:"description,omitempty"`
	Amount       int64  `json:"amount"`
	Resolved     bool   `json:"resolved"`
	CreatedAt    string `json:"created_at"`
}

func toViolationDTO(v rental.Violation) ViolationDTO {
	return ViolationDTO{
		ID:           v.ID,
		ContractCode: v.ContractCode,
		Type:         v.Type,
		Description:  v.Description,
		Amount:       v.Amount,
		Resolved:     v.Resolved,
		CreatedAt:    v.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// =============================================================================
// EXPENSES
// =============================================================================

type CreateExpenseRequest struct {
	Date          string          `json:"date" validate:"required,datetime=2006-01-02"`
	Description   string          `json:"description" validate:"required,max=300"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method" validate:"required,oneof=cash company"`
}

type ExpenseDTO struct {
	ID            string `json:"id"`
	Date          string `json:"date"`
	Description   string `json:"description"`
	Amount        string `json:"amount"`
	PaymentMethod string `json:"payment_method"`
}

func toExpenseDTO(e rental.Expense) ExpenseDTO {
	return ExpenseDTO{
		ID:            e.ID,
		Date:          e.Date.String(),
		Description:   e.Description,
		Amount:        e.Amount.StringFixed(2),
		PaymentMethod: string(e.PaymentMethod),
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

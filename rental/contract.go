package rental

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/stay-engine/generic"
)

// ContractInput is the intake form. TotalPrice is optional: when nil the
// price is computed from nights, when set the contract is "manual" and the
// value is stored verbatim.
type ContractInput struct {
	Code           string
	UnitID         string
	ClientName     string
	ClientDocument string
	ClientAddress  string
	ClientEmail    string
	ClientPhone    string
	CheckoutTime   string
	StartDate      generic.Date
	PlannedEndDate generic.Date
	PricePerNight  int64
	TotalPrice     *int64
	Deposit        int64
}

// NewContract validates the intake form and fixes TotalNights and TotalPrice.
func NewContract(in ContractInput) (Contract, error) {
	code := strings.TrimSpace(in.Code)
	unit := strings.TrimSpace(in.UnitID)

	switch {
	case code == "":
		return Contract{}, &generic.ValidationError{Field: "code", Message: "required"}
	case unit == "":
		return Contract{}, &generic.ValidationError{Field: "unit_id", Message: "required"}
	case in.StartDate.IsZero() || in.PlannedEndDate.IsZero():
		return Contract{}, &generic.ValidationError{Field: "dates", Message: "start and end date required"}
	case !in.StartDate.Before(in.PlannedEndDate):
		return Contract{}, &generic.ValidationError{Field: "end_date", Message: "must be after start_date"}
	case in.PricePerNight < 0:
		return Contract{}, &generic.ValidationError{Field: "price_per_night", Message: "must not be negative"}
	case in.Deposit < 0:
		return Contract{}, &generic.ValidationError{Field: "deposit", Message: "must not be negative"}
	case in.TotalPrice != nil && *in.TotalPrice < 0:
		return Contract{}, &generic.ValidationError{Field: "total_price", Message: "must not be negative"}
	}

	nights := generic.DaysBetween(in.StartDate, in.PlannedEndDate)
	total := int64(nights) * in.PricePerNight
	if in.TotalPrice != nil {
		total = *in.TotalPrice
	}

	return Contract{
		Code:           code,
		UnitID:         unit,
		ClientName:     strings.TrimSpace(in.ClientName),
		ClientDocument: strings.TrimSpace(in.ClientDocument),
		ClientAddress:  strings.TrimSpace(in.ClientAddress),
		ClientEmail:    strings.TrimSpace(in.ClientEmail),
		ClientPhone:    NormalizePhone(in.ClientPhone),
		CheckoutTime:   strings.TrimSpace(in.CheckoutTime),
		StartDate:      in.StartDate,
		PlannedEndDate: in.PlannedEndDate,
		TotalNights:    nights,
		PricePerNight:  in.PricePerNight,
		TotalPrice:     total,
		Deposit:        in.Deposit,
	}, nil
}

// NormalizePhone strips spaces and dashes.
func NormalizePhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
}

// Validate enforces the closeout input rules before anything is computed:
//   - manual refund is a non-negative amount
//   - an early checkout names who initiated it
//   - a manual refund is only meaningful when the landlord ended the lease early
//   - a regular checkout has no initiator
func (d CloseoutDecision) Validate() error {
	if !d.Initiator.Valid() {
		return &generic.ValidationError{Field: "initiator", Message: "must be tenant or landlord"}
	}
	if d.ManualRefund != nil && *d.ManualRefund < 0 {
		return &generic.ValidationError{Field: "manual_refund", Message: "must not be negative"}
	}
	if !d.EarlyCheckout {
		if d.Initiator != InitiatorNone {
			return &generic.ValidationError{Field: "initiator", Message: "only allowed for early checkout"}
		}
		if d.ManualRefund != nil {
			return &generic.ValidationError{Field: "manual_refund", Message: "only allowed for early checkout"}
		}
		return nil
	}
	if d.Initiator == InitiatorNone {
		return &generic.ValidationError{Field: "initiator", Message: "required for early checkout"}
	}
	if d.ManualRefund != nil && d.Initiator != InitiatorLandlord {
		return &generic.ValidationError{Field: "manual_refund", Message: "only allowed when the landlord ends the lease"}
	}
	return nil
}

// NewExpense validates an expense. The caller assigns the ID.
func NewExpense(date generic.Date, description string, amount decimal.Decimal, method PaymentMethod) (Expense, error) {
	switch {
	case date.IsZero():
		return Expense{}, &generic.ValidationError{Field: "date", Message: "required"}
	case amount.IsNegative():
		return Expense{}, &generic.ValidationError{Field: "amount", Message: "must not be negative"}
	case method != PaymentCash && method != PaymentCompany:
		return Expense{}, &generic.ValidationError{Field: "payment_method", Message: "must be cash or company"}
	}
	return Expense{
		Date:          date,
		Description:   strings.TrimSpace(description),
		Amount:        amount,
		PaymentMethod: method,
	}, nil
}

/*
Package settlement computes what is owed when a lease ends.

PURPOSE:
  Given one contract, its open violations and the checkout decision, returns
  the refund due to the tenant and any extra amount the tenant still owes.
  Pure and stateless: no I/O, no clock, no shared state. Safe to call any
  number of times as a preview; persisting the result is the caller's job.

ALGORITHM:
  1. lived    = max(0, actual_end - start)        (no clamp to total_nights)
  2. unused   = max(0, total_nights - lived)
  3. used$    = lived * price_per_night
  4. unused$  = max(0, total_price - used$)       (stored total is trusted)
  5. penalty  = sum of unresolved violations of this contract
  6. refund / extra_due from the case table in refund.go

CASES:
  CaseNormal               regular checkout
  CaseEarlyTenant          tenant left early
  CaseEarlyLandlordAuto    landlord ended the lease, refund computed
  CaseEarlyLandlordManual  landlord ended the lease, refund set by hand

SEE ALSO:
  - refund.go: The case table
  - closeout/service.go: Loads records and commits the result
*/
package settlement

import (
	"github.com/warp/stay-engine/generic"
	"github.com/warp/stay-engine/rental"
)

// Request is one fully formed settlement question.
type Request struct {
	Contract   rental.Contract
	Violations []rental.Violation
	ActualEnd  generic.Date
	Decision   rental.CloseoutDecision
}

// Result is the computed settlement. Every field is >= 0.
type Result struct {
	Case           Case  `json:"case"`
	LivedNights    int   `json:"lived_nights"`
	UnusedNights   int   `json:"unused_nights"`
	UsedAmount     int64 `json:"used_amount"`
	UnusedAmount   int64 `json:"unused_amount"`
	PenaltiesTotal int64 `json:"penalties_total"`
	RefundAmount   int64 `json:"refund_amount"`
	ExtraDueAmount int64 `json:"extra_due_amount"`
}

// Compute runs the settlement. It only fails on a decision that does not
// map to one of the four cases.
func Compute(req Request) (Result, error) {
	c, err := Classify(req.Decision)
	if err != nil {
		return Result{}, err
	}

	contract := req.Contract
	lived := max(0, generic.DaysBetween(contract.StartDate, req.ActualEnd))
	unused := max(0, contract.TotalNights-lived)
	used := int64(lived) * contract.PricePerNight
	unusedAmount := max(0, contract.TotalPrice-used)
	penalties := PenaltiesTotal(contract.Code, req.Violations)

	var manual int64
	if req.Decision.ManualRefund != nil {
		manual = *req.Decision.ManualRefund
	}

	refund, extraDue := Refund(c, Inputs{
		Deposit:      contract.Deposit,
		Penalties:    penalties,
		UnusedAmount: unusedAmount,
		ManualRefund: manual,
	})

	return Result{
		Case:           c,
		LivedNights:    lived,
		UnusedNights:   unused,
		UsedAmount:     used,
		UnusedAmount:   unusedAmount,
		PenaltiesTotal: penalties,
		RefundAmount:   refund,
		ExtraDueAmount: extraDue,
	}, nil
}

// PenaltiesTotal sums unresolved violations belonging to the contract.
// Violations of other contracts are ignored.
func PenaltiesTotal(code string, violations []rental.Violation) int64 {
	var total int64
	for _, v := range rental.OpenViolations(code, violations) {
		total += v.Amount
	}
	return total
}

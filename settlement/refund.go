package settlement

import "github.com/warp/stay-engine/rental"

// Case selects a row of the refund table.
type Case string

const (
	CaseNormal              Case = "normal"
	CaseEarlyTenant         Case = "early_tenant"
	CaseEarlyLandlordAuto   Case = "early_landlord_auto"
	CaseEarlyLandlordManual Case = "early_landlord_manual"
)

// Classify maps a checkout decision to its case. Invalid decisions are
// rejected with the same rules as rental.CloseoutDecision.Validate.
func Classify(d rental.CloseoutDecision) (Case, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	switch {
	case !d.EarlyCheckout:
		return CaseNormal, nil
	case d.Initiator == rental.InitiatorTenant:
		return CaseEarlyTenant, nil
	case d.ManualRefund != nil:
		return CaseEarlyLandlordManual, nil
	default:
		return CaseEarlyLandlordAuto, nil
	}
}

// Inputs are the amounts the refund table is defined over.
type Inputs struct {
	Deposit      int64
	Penalties    int64
	UnusedAmount int64
	ManualRefund int64 // only read for CaseEarlyLandlordManual
}

// Refund returns (refund, extraDue) for a case:
//
//	case                   refund                          extra due
//	normal                 max(0, D-P)                     max(0, P-D)
//	early tenant           U + max(0, D-P)                 max(0, P-D)
//	early landlord auto    U + max(0, D-P)                 max(0, P-(D+U))
//	early landlord manual  R                               max(0, P-(D+U)+R)
//
// D deposit, P penalties, U unused nights amount, R manual refund. D+U is the
// pool a landlord-initiated termination may draw penalties from.
func Refund(c Case, in Inputs) (refund, extraDue int64) {
	depositLeft := max(0, in.Deposit-in.Penalties)
	shortfall := max(0, in.Penalties-in.Deposit)
	pool := in.Deposit + in.UnusedAmount

	switch c {
	case CaseEarlyTenant:
		return in.UnusedAmount + depositLeft, shortfall
	case CaseEarlyLandlordAuto:
		return in.UnusedAmount + depositLeft, max(0, in.Penalties-pool)
	case CaseEarlyLandlordManual:
		return max(0, in.ManualRefund), max(0, in.Penalties-pool+in.ManualRefund)
	default:
		return depositLeft, shortfall
	}
}

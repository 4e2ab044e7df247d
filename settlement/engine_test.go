package settlement_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stay-engine/generic"
	"github.com/warp/stay-engine/rental"
	"github.com/warp/stay-engine/settlement"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var start = generic.NewDate(2024, 3, 1)

// tenNights is the reference contract: 10 nights at 20, deposit 100.
func tenNights() rental.Contract {
	return rental.Contract{
		Code:           "C-1",
		UnitID:         "A-12",
		StartDate:      start,
		PlannedEndDate: start.AddDays(10),
		TotalNights:    10,
		PricePerNight:  20,
		TotalPrice:     200,
		Deposit:        100,
	}
}

func penalty(amount int64) rental.Violation {
	return rental.Violation{ContractCode: "C-1", Type: "damage", Amount: amount}
}

func amount(n int64) *int64 { return &n }

func compute(t *testing.T, req settlement.Request) settlement.Result {
	t.Helper()
	res, err := settlement.Compute(req)
	require.NoError(t, err)
	return res
}

var (
	regular        = rental.CloseoutDecision{}
	earlyTenant    = rental.CloseoutDecision{EarlyCheckout: true, Initiator: rental.InitiatorTenant}
	earlyLandlord  = rental.CloseoutDecision{EarlyCheckout: true, Initiator: rental.InitiatorLandlord}
	manualLandlord = func(r int64) rental.CloseoutDecision {
		return rental.CloseoutDecision{EarlyCheckout: true, Initiator: rental.InitiatorLandlord, ManualRefund: amount(r)}
	}
)

// =============================================================================
// REFERENCE SCENARIOS
// =============================================================================

func TestCompute_NormalClose_NoViolations(t *testing.T) {
	res := compute(t, settlement.Request{Contract: tenNights(), ActualEnd: start.AddDays(10), Decision: regular})

	assert.Equal(t, settlement.CaseNormal, res.Case)
	assert.Equal(t, 10, res.LivedNights)
	assert.Equal(t, 0, res.UnusedNights)
	assert.Equal(t, int64(100), res.RefundAmount)
	assert.Equal(t, int64(0), res.ExtraDueAmount)
}

func TestCompute_NormalClose_PenaltiesWithinDeposit(t *testing.T) {
	res := compute(t, settlement.Request{
		Contract:   tenNights(),
		Violations: []rental.Violation{penalty(10), penalty(20)},
		ActualEnd:  start.AddDays(10),
		Decision:   regular,
	})

	assert.Equal(t, int64(30), res.PenaltiesTotal)
	assert.Equal(t, int64(70), res.RefundAmount)
	assert.Equal(t, int64(0), res.ExtraDueAmount)
}

func TestCompute_NormalClose_PenaltiesExceedDeposit(t *testing.T) {
	res := compute(t, settlement.Request{
		Contract:   tenNights(),
		Violations: []rental.Violation{penalty(150)},
		ActualEnd:  start.AddDays(10),
		Decision:   regular,
	})

	assert.Equal(t, int64(0), res.RefundAmount)
	assert.Equal(t, int64(50), res.ExtraDueAmount)
}

func TestCompute_EarlyTenant(t *testing.T) {
	res := compute(t, settlement.Request{Contract: tenNights(), ActualEnd: start.AddDays(6), Decision: earlyTenant})

	assert.Equal(t, settlement.CaseEarlyTenant, res.Case)
	assert.Equal(t, 6, res.LivedNights)
	assert.Equal(t, 4, res.UnusedNights)
	assert.Equal(t, int64(120), res.UsedAmount)
	assert.Equal(t, int64(80), res.UnusedAmount)
	assert.Equal(t, int64(180), res.RefundAmount)
	assert.Equal(t, int64(0), res.ExtraDueAmount)
}

func TestCompute_EarlyLandlordAuto(t *testing.T) {
	res := compute(t, settlement.Request{Contract: tenNights(), ActualEnd: start.AddDays(6), Decision: earlyLandlord})

	assert.Equal(t, settlement.CaseEarlyLandlordAuto, res.Case)
	assert.Equal(t, int64(180), res.RefundAmount)
	assert.Equal(t, int64(0), res.ExtraDueAmount)
}

func TestCompute_EarlyLandlordManual(t *testing.T) {
	res := compute(t, settlement.Request{
		Contract:   tenNights(),
		Violations: []rental.Violation{penalty(30)},
		ActualEnd:  start.AddDays(6),
		Decision:   manualLandlord(50),
	})

	assert.Equal(t, settlement.CaseEarlyLandlordManual, res.Case)
	assert.Equal(t, int64(80), res.UnusedAmount)
	assert.Equal(t, int64(50), res.RefundAmount)
	assert.Equal(t, int64(0), res.ExtraDueAmount)
}

// =============================================================================
// CASE TABLE
// =============================================================================

func TestRefund_ShortfallBillingDiffersByInitiator(t *testing.T) {
	// GIVEN: Penalties of 150 against a deposit of 100 and 80 of unused nights
	// WHEN: The tenant vs the landlord ends the lease early
	// THEN: Both refund the unused nights, but only the tenant is billed the
	//       plain deposit shortfall; the landlord case absorbs it in the pool

	in := settlement.Inputs{Deposit: 100, Penalties: 150, UnusedAmount: 80}

	refund, extra := settlement.Refund(settlement.CaseEarlyTenant, in)
	assert.Equal(t, int64(80), refund)
	assert.Equal(t, int64(50), extra)

	refund, extra = settlement.Refund(settlement.CaseEarlyLandlordAuto, in)
	assert.Equal(t, int64(80), refund)
	assert.Equal(t, int64(0), extra)

	in.Penalties = 230
	_, extra = settlement.Refund(settlement.CaseEarlyLandlordAuto, in)
	assert.Equal(t, int64(50), extra, "only penalties beyond deposit+unused are billed")
}

func TestRefund_ManualOverride(t *testing.T) {
	in := settlement.Inputs{Deposit: 100, Penalties: 170, UnusedAmount: 80, ManualRefund: 40}

	refund, extra := settlement.Refund(settlement.CaseEarlyLandlordManual, in)
	assert.Equal(t, int64(40), refund)
	assert.Equal(t, int64(30), extra, "170 - 180 + 40")

	in.ManualRefund = 0
	refund, extra = settlement.Refund(settlement.CaseEarlyLandlordManual, in)
	assert.Equal(t, int64(0), refund)
	assert.Equal(t, int64(0), extra)
}

func TestClassify(t *testing.T) {
	c, err := settlement.Classify(regular)
	require.NoError(t, err)
	assert.Equal(t, settlement.CaseNormal, c)

	c, err = settlement.Classify(manualLandlord(0))
	require.NoError(t, err)
	assert.Equal(t, settlement.CaseEarlyLandlordManual, c)

	_, err = settlement.Classify(rental.CloseoutDecision{EarlyCheckout: true})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = settlement.Compute(settlement.Request{Contract: tenNights(), ActualEnd: start, Decision: manualLandlord(-5)})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

// =============================================================================
// EDGE CASES
// =============================================================================

func TestCompute_CheckoutBeforeStartClampsToZero(t *testing.T) {
	res := compute(t, settlement.Request{Contract: tenNights(), ActualEnd: start.AddDays(-3), Decision: earlyTenant})

	assert.Equal(t, 0, res.LivedNights)
	assert.Equal(t, 10, res.UnusedNights)
	assert.Equal(t, int64(200), res.UnusedAmount)
	assert.Equal(t, int64(300), res.RefundAmount)
}

func TestCompute_LateCheckoutIsNotClamped(t *testing.T) {
	res := compute(t, settlement.Request{Contract: tenNights(), ActualEnd: start.AddDays(12), Decision: regular})

	assert.Equal(t, 12, res.LivedNights)
	assert.Equal(t, 0, res.UnusedNights)
	assert.Equal(t, int64(240), res.UsedAmount)
	assert.Equal(t, int64(0), res.UnusedAmount)
}

func TestCompute_ManualTotalPriceIsTrusted(t *testing.T) {
	c := tenNights()
	c.TotalPrice = 150 // discounted by hand

	res := compute(t, settlement.Request{Contract: c, ActualEnd: start.AddDays(6), Decision: earlyTenant})
	assert.Equal(t, int64(30), res.UnusedAmount, "150 - 6*20")
}

func TestCompute_OnlyOpenViolationsOfThisContractCount(t *testing.T) {
	resolved := penalty(40)
	resolved.Resolved = true
	other := penalty(500)
	other.ContractCode = "C-2"

	res := compute(t, settlement.Request{
		Contract:   tenNights(),
		Violations: []rental.Violation{penalty(25), resolved, other},
		ActualEnd:  start.AddDays(10),
		Decision:   regular,
	})

	assert.Equal(t, int64(25), res.PenaltiesTotal)
	assert.Equal(t, int64(75), res.RefundAmount)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestCompute_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	decisions := []rental.CloseoutDecision{regular, earlyTenant, earlyLandlord, manualLandlord(0)}

	for i := 0; i < 2000; i++ {
		nights := 1 + rng.Intn(40)
		price := int64(rng.Intn(100))
		c := rental.Contract{
			Code:           "C-1",
			StartDate:      start,
			PlannedEndDate: start.AddDays(nights),
			TotalNights:    nights,
			PricePerNight:  price,
			TotalPrice:     int64(nights)*price + int64(rng.Intn(50)) - 25,
			Deposit:        int64(rng.Intn(300)),
		}
		if c.TotalPrice < 0 {
			c.TotalPrice = 0
		}
		var vs []rental.Violation
		for j := rng.Intn(4); j > 0; j-- {
			vs = append(vs, penalty(int64(rng.Intn(200))))
		}
		d := decisions[rng.Intn(len(decisions))]
		if d.ManualRefund != nil {
			d = manualLandlord(int64(rng.Intn(400)))
		}
		actual := start.AddDays(rng.Intn(nights+10) - 5)

		res := compute(t, settlement.Request{Contract: c, Violations: vs, ActualEnd: actual, Decision: d})

		require.GreaterOrEqual(t, res.RefundAmount, int64(0))
		require.GreaterOrEqual(t, res.ExtraDueAmount, int64(0))
		require.GreaterOrEqual(t, res.LivedNights, 0)
		require.GreaterOrEqual(t, res.UnusedNights, 0)
		require.GreaterOrEqual(t, res.UnusedAmount, int64(0))

		if !actual.Before(c.StartDate) && !actual.After(c.PlannedEndDate) {
			require.Equal(t, c.TotalNights, res.LivedNights+res.UnusedNights)
		}
		if res.Case == settlement.CaseNormal {
			require.Equal(t, c.Deposit-res.PenaltiesTotal, res.RefundAmount-res.ExtraDueAmount)
		}
	}
}

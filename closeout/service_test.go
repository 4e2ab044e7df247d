package closeout_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stay-engine/closeout"
	"github.com/warp/stay-engine/generic"
	"github.com/warp/stay-engine/rental"
	"github.com/warp/stay-engine/rental/store"
	"github.com/warp/stay-engine/settlement"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(s string) generic.Date { return generic.MustParseDate(s) }

func amount(n int64) *int64 { return &n }

// newService seeds C-1: 2024-03-01 → 2024-03-11, 20 per night, deposit 100.
// The clock is fixed at 2024-03-07.
func newService(t *testing.T) (*closeout.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	c, err := rental.NewContract(rental.ContractInput{
		Code:           "C-1",
		UnitID:         "A-12",
		StartDate:      date("2024-03-01"),
		PlannedEndDate: date("2024-03-11"),
		PricePerNight:  20,
		Deposit:        100,
	})
	require.NoError(t, err)
	require.NoError(t, mem.CreateContract(context.Background(), c))

	svc := closeout.NewService(mem, nil)
	svc.Now = func() time.Time { return time.Date(2024, 3, 7, 15, 0, 0, 0, time.UTC) }
	return svc, mem
}

func addViolation(t *testing.T, mem *store.Memory, id string, amt int64) {
	t.Helper()
	require.NoError(t, mem.AddViolation(context.Background(), rental.Violation{
		ID: id, ContractCode: "C-1", Type: "damage", Amount: amt,
	}))
}

// =============================================================================
// PREVIEW
// =============================================================================

func TestPreview_DefaultsToPlannedEnd(t *testing.T) {
	svc, mem := newService(t)
	addViolation(t, mem, "v1", 30)

	out, err := svc.Preview(context.Background(), "C-1", rental.CloseoutDecision{})
	require.NoError(t, err)

	assert.Equal(t, "2024-03-11", out.ActualEnd.String())
	assert.Equal(t, settlement.CaseNormal, out.Result.Case)
	assert.Equal(t, int64(70), out.Result.RefundAmount)

	c, err := mem.GetContract(context.Background(), "C-1")
	require.NoError(t, err)
	assert.False(t, c.IsClosed, "preview must not write")
}

func TestPreview_EarlyDefaultsToToday(t *testing.T) {
	svc, _ := newService(t)

	out, err := svc.Preview(context.Background(), "C-1", rental.CloseoutDecision{
		EarlyCheckout: true,
		Initiator:     rental.InitiatorTenant,
	})
	require.NoError(t, err)

	assert.Equal(t, "2024-03-07", out.ActualEnd.String())
	assert.Equal(t, 6, out.Result.LivedNights)
	assert.Equal(t, int64(180), out.Result.RefundAmount)
}

func TestPreview_ExplicitActualEnd(t *testing.T) {
	svc, _ := newService(t)
	end := date("2024-03-04")

	out, err := svc.Preview(context.Background(), "C-1", rental.CloseoutDecision{
		EarlyCheckout: true,
		Initiator:     rental.InitiatorLandlord,
		ActualEnd:     &end,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Result.LivedNights)
	assert.Equal(t, settlement.CaseEarlyLandlordAuto, out.Result.Case)
}

func TestPreview_Errors(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Preview(context.Background(), "nope", rental.CloseoutDecision{})
	assert.ErrorIs(t, err, generic.ErrContractNotFound)

	_, err = svc.Preview(context.Background(), "C-1", rental.CloseoutDecision{
		EarlyCheckout: true,
		Initiator:     rental.InitiatorLandlord,
		ManualRefund:  amount(-1),
	})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

// =============================================================================
// CLOSE
// =============================================================================

func TestClose_PersistsSettlement(t *testing.T) {
	svc, mem := newService(t)
	addViolation(t, mem, "v1", 30)

	var hooked string
	svc.OnClosed = func(_ context.Context, c rental.Contract) { hooked = c.Code }

	closed, out, err := svc.Close(context.Background(), "C-1", rental.CloseoutDecision{
		EarlyCheckout: true,
		Initiator:     rental.InitiatorLandlord,
		ManualRefund:  amount(50),
		Reason:        "renovation",
	})
	require.NoError(t, err)

	assert.Equal(t, settlement.CaseEarlyLandlordManual, out.Result.Case)
	assert.True(t, closed.IsClosed)
	assert.Equal(t, "C-1", hooked)

	stored, err := mem.GetContract(context.Background(), "C-1")
	require.NoError(t, err)
	assert.True(t, stored.IsClosed)
	assert.Equal(t, int64(50), stored.RefundAmount)
	assert.Equal(t, int64(0), stored.ExtraDueAmount)
	assert.Equal(t, rental.InitiatorLandlord, stored.Initiator)
	assert.Equal(t, "renovation", stored.EarlyReason)
	require.NotNil(t, stored.ActualEndDate)
	assert.Equal(t, "2024-03-07", stored.ActualEndDate.String())
	require.NotNil(t, stored.ClosedAt)
}

func TestClose_SecondCloseIsConflict(t *testing.T) {
	// GIVEN: A contract closed with a refund of 100
	// WHEN: Someone tries to close it again with different inputs
	// THEN: Conflict, and the stored settlement is unchanged

	svc, mem := newService(t)
	_, _, err := svc.Close(context.Background(), "C-1", rental.CloseoutDecision{})
	require.NoError(t, err)

	_, _, err = svc.Close(context.Background(), "C-1", rental.CloseoutDecision{
		EarlyCheckout: true,
		Initiator:     rental.InitiatorTenant,
	})
	require.Error(t, err)
	assert.True(t, generic.IsConflict(err))

	var closedErr *generic.ContractClosedError
	require.ErrorAs(t, err, &closedErr)
	assert.Equal(t, "C-1", closedErr.Code)

	stored, err := mem.GetContract(context.Background(), "C-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), stored.RefundAmount)
	assert.False(t, stored.EarlyCheckout)
}

func TestClose_ConcurrentClosesExactlyOneWins(t *testing.T) {
	svc, _ := newService(t)

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Close(context.Background(), "C-1", rental.CloseoutDecision{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case generic.IsConflict(err):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
}

func TestClose_PreviewStillWorksAfterClose(t *testing.T) {
	svc, _ := newService(t)
	_, _, err := svc.Close(context.Background(), "C-1", rental.CloseoutDecision{})
	require.NoError(t, err)

	out, err := svc.Preview(context.Background(), "C-1", rental.CloseoutDecision{})
	require.NoError(t, err)
	assert.True(t, out.Contract.IsClosed)
	assert.Equal(t, int64(100), out.Result.RefundAmount)
}

// racingStore records a new violation right before each of the first
// `races` close writes, as a concurrent operator would.
type racingStore struct {
	*store.Memory
	races  int
	closes int
}

func (r *racingStore) CloseContract(ctx context.Context, code string, rec rental.CloseRecord) error {
	r.closes++
	if r.closes <= r.races {
		if err := r.Memory.AddViolation(ctx, rental.Violation{
			ID: fmt.Sprintf("late-%d", r.closes), ContractCode: code, Type: "damage", Amount: 15,
		}); err != nil {
			return err
		}
	}
	return r.Memory.CloseContract(ctx, code, rec)
}

func TestClose_RecomputesWhenViolationLandsMidClose(t *testing.T) {
	// GIVEN: A violation of 30 at preview time
	// WHEN: A second violation of 15 is recorded between the settlement read
	//       and the close write
	// THEN: The close is recomputed and the stored refund covers both

	svc, mem := newService(t)
	addViolation(t, mem, "v1", 30)
	rs := &racingStore{Memory: mem, races: 1}
	svc.Store = rs

	closed, out, err := svc.Close(context.Background(), "C-1", rental.CloseoutDecision{})
	require.NoError(t, err)

	assert.Equal(t, 2, rs.closes)
	assert.Equal(t, int64(45), out.Result.PenaltiesTotal)
	assert.Equal(t, int64(55), closed.RefundAmount)

	stored, err := mem.GetContract(context.Background(), "C-1")
	require.NoError(t, err)
	assert.True(t, stored.IsClosed)
	assert.Equal(t, int64(55), stored.RefundAmount)
}

func TestClose_GivesUpWhenViolationsKeepChanging(t *testing.T) {
	svc, mem := newService(t)
	rs := &racingStore{Memory: mem, races: 10}
	svc.Store = rs

	_, _, err := svc.Close(context.Background(), "C-1", rental.CloseoutDecision{})
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrViolationsChanged)
	assert.True(t, generic.IsConflict(err))

	stored, err := mem.GetContract(context.Background(), "C-1")
	require.NoError(t, err)
	assert.False(t, stored.IsClosed)
}

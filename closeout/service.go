// Package closeout ends leases. It loads a contract and its violations,
// runs the settlement engine, and for a commit persists the result with a
// single guarded write.
package closeout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/stay-engine/generic"
	"github.com/warp/stay-engine/rental"
	"github.com/warp/stay-engine/settlement"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store rental.Store
	Now   func() time.Time

	// OnClosed runs after a successful commit. Optional.
	OnClosed func(ctx context.Context, c rental.Contract)
	Logger   *slog.Logger
}

func NewService(store rental.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Store: store, Now: time.Now, Logger: logger}
}

// Outcome is a computed settlement together with the inputs it was computed
// from.
type Outcome struct {
	Contract   rental.Contract    `json:"-"`
	Violations []rental.Violation `json:"-"`
	ActualEnd  generic.Date       `json:"actual_end"`
	Result     settlement.Result  `json:"result"`
}

// Preview computes the settlement without writing anything. Closed contracts
// can be previewed too; the figures are recomputed from current data.
func (s *Service) Preview(ctx context.Context, code string, d rental.CloseoutDecision) (Outcome, error) {
	return s.compute(ctx, code, d)
}

// =============================================================================
// CLOSE - The one write after intake
// =============================================================================

// closeAttempts bounds how often Close recomputes after the contract's
// violations changed under it.
const closeAttempts = 3

// Close computes the settlement and commits it. The write is conditional on
// the contract still being open, so of two concurrent closes exactly one
// succeeds and the other gets a *generic.ContractClosedError. It is also
// conditional on the open violations being the ones the settlement used;
// when they changed, the settlement is recomputed.
func (s *Service) Close(ctx context.Context, code string, d rental.CloseoutDecision) (rental.Contract, Outcome, error) {
	var err error
	for attempt := 1; attempt <= closeAttempts; attempt++ {
		var (
			closed rental.Contract
			out    Outcome
		)
		closed, out, err = s.closeOnce(ctx, code, d)
		if !errors.Is(err, generic.ErrViolationsChanged) {
			return closed, out, err
		}
		s.Logger.Warn("violations changed during close, recomputing", "code", code, "attempt", attempt)
	}
	return rental.Contract{}, Outcome{}, err
}

func (s *Service) closeOnce(ctx context.Context, code string, d rental.CloseoutDecision) (rental.Contract, Outcome, error) {
	out, err := s.compute(ctx, code, d)
	if err != nil {
		return rental.Contract{}, Outcome{}, err
	}
	if out.Contract.IsClosed {
		return rental.Contract{}, Outcome{}, &generic.ContractClosedError{Code: code}
	}

	openCount, penalties := rental.OpenViolationTotals(code, out.Violations)
	rec := rental.CloseRecord{
		ActualEnd:      out.ActualEnd,
		EarlyCheckout:  d.EarlyCheckout,
		Initiator:      d.Initiator,
		EarlyReason:    d.Reason,
		ManualRefund:   d.ManualRefund,
		RefundAmount:   out.Result.RefundAmount,
		ExtraDueAmount: out.Result.ExtraDueAmount,
		ClosedAt:       s.Now().UTC(),
		OpenViolations: openCount,
		PenaltiesTotal: penalties,
	}
	if err := s.Store.CloseContract(ctx, code, rec); err != nil {
		return rental.Contract{}, Outcome{}, fmt.Errorf("close contract %s: %w", code, err)
	}

	closed := out.Contract
	rec.Apply(&closed)

	s.Logger.Info("contract closed",
		"code", code,
		"case", out.Result.Case,
		"refund", out.Result.RefundAmount,
		"extra_due", out.Result.ExtraDueAmount,
	)
	if s.OnClosed != nil {
		s.OnClosed(ctx, closed)
	}
	return closed, out, nil
}

func (s *Service) compute(ctx context.Context, code string, d rental.CloseoutDecision) (Outcome, error) {
	if err := d.Validate(); err != nil {
		return Outcome{}, err
	}

	contract, err := s.Store.GetContract(ctx, code)
	if err != nil {
		return Outcome{}, fmt.Errorf("load contract %s: %w", code, err)
	}
	violations, err := s.Store.ListViolations(ctx, code)
	if err != nil {
		return Outcome{}, fmt.Errorf("load violations of %s: %w", code, err)
	}

	actualEnd := s.actualEnd(contract, d)
	res, err := settlement.Compute(settlement.Request{
		Contract:   contract,
		Violations: violations,
		ActualEnd:  actualEnd,
		Decision:   d,
	})
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Contract:   contract,
		Violations: violations,
		ActualEnd:  actualEnd,
		Result:     res,
	}, nil
}

// actualEnd is the explicit checkout date when given, otherwise the planned
// end for a regular close and today for an early one.
func (s *Service) actualEnd(c rental.Contract, d rental.CloseoutDecision) generic.Date {
	if d.ActualEnd != nil && !d.ActualEnd.IsZero() {
		return *d.ActualEnd
	}
	if d.EarlyCheckout {
		return generic.DateOf(s.Now())
	}
	return c.PlannedEndDate
}

/*
Package report turns stored contracts and expenses into finance, stats and
expense reports.

PURPOSE:
  Loads one snapshot of contracts per request, runs the revenue allocator,
  and renders the result as JSON or xlsx. Finance reports are cached in
  Redis under a versioned key; closing a contract bumps the version.

CONCURRENCY:
  Concurrent identical finance requests share one build through
  singleflight. The shared build runs detached from the caller that started
  it; each caller only stops waiting when its own context ends. The
  allocator itself is pure, so the only shared state is the cache.

SEE ALSO:
  - revenue/allocator.go: The allocation itself
  - excel.go: Workbook layouts
  - cache.go: Versioned Redis cache
*/
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/warp/stay-engine/generic"
	"github.com/warp/stay-engine/rental"
	"github.com/warp/stay-engine/revenue"
	"golang.org/x/sync/singleflight"
)

// DefaultFixedCostPerStay is charged once per stay, in its check-in month.
const DefaultFixedCostPerStay = 10

// buildTimeout bounds a shared finance build. The build does not follow any
// one caller's context, since other callers may be waiting on it.
const buildTimeout = 30 * time.Second

type Service struct {
	Contracts        rental.ContractStore
	Expenses         rental.ExpenseStore
	Cache            *Cache
	FixedCostPerStay int64
	Now              func() time.Time
	Logger           *slog.Logger

	group singleflight.Group
}

func NewService(contracts rental.ContractStore, expenses rental.ExpenseStore, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Contracts:        contracts,
		Expenses:         expenses,
		Cache:            cache,
		FixedCostPerStay: DefaultFixedCostPerStay,
		Now:              time.Now,
		Logger:           logger,
	}
}

// =============================================================================
// FINANCE
// =============================================================================

// Finance allocates every contract as of asOf (today when zero).
func (s *Service) Finance(ctx context.Context, asOf generic.Date) (FinanceReport, error) {
	if asOf.IsZero() {
		asOf = generic.DateOf(s.Now())
	}

	key, err := s.Cache.BuildKey(ctx, "stay", "finance", asOf.String(), strconv.FormatInt(s.FixedCostPerStay, 10))
	if err != nil {
		s.Logger.Warn("report cache unavailable", "error", err)
		return s.buildFinance(ctx, asOf)
	}

	resultChan := s.group.DoChan(key, func() (any, error) {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), buildTimeout)
		defer cancel()

		var report FinanceReport
		err := s.Cache.FetchJSON(bctx, key, &report, func(ctx context.Context) (any, error) {
			return s.buildFinance(ctx, asOf)
		})
		return report, err
	})

	select {
	case <-ctx.Done():
		return FinanceReport{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return FinanceReport{}, res.Err
		}
		return res.Val.(FinanceReport), nil
	}
}

func (s *Service) buildFinance(ctx context.Context, asOf generic.Date) (FinanceReport, error) {
	contracts, err := s.Contracts.ListContracts(ctx)
	if err != nil {
		return FinanceReport{}, fmt.Errorf("load contracts: %w", err)
	}
	stays := revenue.StaysFromContracts(contracts, s.FixedCostPerStay)
	alloc := revenue.Allocate(stays, asOf)

	s.Logger.Debug("finance report built", "as_of", asOf.String(), "contracts", len(contracts))
	return NewFinanceReport(alloc, s.FixedCostPerStay), nil
}

// =============================================================================
// STATS AND EXPENSES
// =============================================================================

// Stats returns the headline summary and the contracts it was computed from.
func (s *Service) Stats(ctx context.Context) (revenue.Summary, []rental.Contract, error) {
	contracts, err := s.Contracts.ListContracts(ctx)
	if err != nil {
		return revenue.Summary{}, nil, fmt.Errorf("load contracts: %w", err)
	}
	return revenue.Summarize(contracts, generic.DateOf(s.Now())), contracts, nil
}

func (s *Service) ExpenseList(ctx context.Context) ([]rental.Expense, error) {
	expenses, err := s.Expenses.ListExpenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("load expenses: %w", err)
	}
	return expenses, nil
}

// Invalidate drops every cached report. Failures are logged, not returned:
// the write that triggered it has already committed.
func (s *Service) Invalidate(ctx context.Context) {
	if err := s.Cache.Bump(ctx); err != nil {
		s.Logger.Warn("report cache bump failed", "error", err)
	}
}

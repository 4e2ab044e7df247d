// Package store provides rental.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/stay-engine/generic"
	"github.com/warp/stay-engine/rental"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	contracts  map[string]rental.Contract
	violations map[string]rental.Violation
	order      []string // violation ids in insertion order
	expenses   []rental.Expense
}

var _ rental.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		contracts:  make(map[string]rental.Contract),
		violations: make(map[string]rental.Violation),
	}
}

// =============================================================================
// CONTRACTS
// =============================================================================

func (m *Memory) CreateContract(_ context.Context, c rental.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.contracts[c.Code]; ok {
		return generic.ErrDuplicateContract
	}
	m.contracts[c.Code] = c
	return nil
}

func (m *Memory) GetContract(_ context.Context, code string) (rental.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contracts[code]
	if !ok {
		return rental.Contract{}, generic.ErrContractNotFound
	}
	return c, nil
}

func (m *Memory) ListContracts(_ context.Context) ([]rental.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]rental.Contract, 0, len(m.contracts))
	for _, c := range m.contracts {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].StartDate.After(result[j].StartDate)
		}
		return result[i].Code < result[j].Code
	})
	return result, nil
}

// CloseContract checks is_closed and the open violations and flips is_closed
// under one lock, the in-memory equivalent of the conditional UPDATE.
func (m *Memory) CloseContract(_ context.Context, code string, rec rental.CloseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contracts[code]
	if !ok {
		return generic.ErrContractNotFound
	}
	if c.IsClosed {
		return &generic.ContractClosedError{Code: code}
	}
	var vs []rental.Violation
	for _, v := range m.violations {
		vs = append(vs, v)
	}
	if n, total := rental.OpenViolationTotals(code, vs); n != rec.OpenViolations || total != rec.PenaltiesTotal {
		return generic.ErrViolationsChanged
	}
	rec.Apply(&c)
	m.contracts[code] = c
	return nil
}

// =============================================================================
// VIOLATIONS
// =============================================================================

func (m *Memory) AddViolation(_ context.Context, v rental.Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.openContractLocked(v.ContractCode); err != nil {
		return err
	}
	m.violations[v.ID] = v
	m.order = append(m.order, v.ID)
	return nil
}

func (m *Memory) GetViolation(_ context.Context, id string) (rental.Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.violations[id]
	if !ok {
		return rental.Violation{}, generic.ErrViolationNotFound
	}
	return v, nil
}

func (m *Memory) ListViolations(_ context.Context, contractCode string) ([]rental.Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []rental.Violation
	for _, id := range m.order {
		if v, ok := m.violations[id]; ok && v.ContractCode == contractCode {
			result = append(result, v)
		}
	}
	return result, nil
}

func (m *Memory) DeleteViolation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.violations[id]
	if !ok {
		return generic.ErrViolationNotFound
	}
	if err := m.openContractLocked(v.ContractCode); err != nil {
		return err
	}
	delete(m.violations, id)
	return nil
}

func (m *Memory) ResolveViolation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.violations[id]
	if !ok {
		return generic.ErrViolationNotFound
	}
	if err := m.openContractLocked(v.ContractCode); err != nil {
		return err
	}
	v.Resolved = true
	m.violations[id] = v
	return nil
}

func (m *Memory) openContractLocked(code string) error {
	c, ok := m.contracts[code]
	if !ok {
		return generic.ErrContractNotFound
	}
	if c.IsClosed {
		return &generic.ContractClosedError{Code: code}
	}
	return nil
}

// =============================================================================
// EXPENSES
// =============================================================================

func (m *Memory) AddExpense(_ context.Context, e rental.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expenses = append(m.expenses, e)
	return nil
}

func (m *Memory) ListExpenses(_ context.Context) ([]rental.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := append([]rental.Expense(nil), m.expenses...)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Date.After(result[j].Date)
	})
	return result, nil
}

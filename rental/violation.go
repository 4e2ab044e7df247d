package rental

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/stay-engine/generic"
)

// ViolationInput is a penalty as entered by the operator.
type ViolationInput struct {
	ContractCode string
	Type         string
	Description  string
	Amount       int64
}

// ViolationService records, rescinds and resolves violations. The closed
// contract guard is enforced by the store.
type ViolationService struct {
	Store ViolationStore
	NewID func() string
	Now   func() time.Time
}

func NewViolationService(store ViolationStore) *ViolationService {
	return &ViolationService{
		Store: store,
		NewID: uuid.NewString,
		Now:   time.Now,
	}
}

// Add records a violation against an open contract.
func (s *ViolationService) Add(ctx context.Context, in ViolationInput) (Violation, error) {
	if strings.TrimSpace(in.ContractCode) == "" {
		return Violation{}, &generic.ValidationError{Field: "contract_code", Message: "required"}
	}
	if strings.TrimSpace(in.Type) == "" {
		return Violation{}, &generic.ValidationError{Field: "type", Message: "required"}
	}
	if in.Amount < 0 {
		return Violation{}, &generic.ValidationError{Field: "amount", Message: "must not be negative"}
	}

	v := Violation{
		ID:           s.NewID(),
		ContractCode: strings.TrimSpace(in.ContractCode),
		Type:         strings.TrimSpace(in.Type),
		Description:  strings.TrimSpace(in.Description),
		Amount:       in.Amount,
		CreatedAt:    s.Now().UTC(),
	}
	if err := s.Store.AddViolation(ctx, v); err != nil {
		return Violation{}, fmt.Errorf("add violation: %w", err)
	}
	return v, nil
}

// Rescind deletes a violation recorded in error.
func (s *ViolationService) Rescind(ctx context.Context, id string) error {
	if err := s.Store.DeleteViolation(ctx, id); err != nil {
		return fmt.Errorf("rescind violation %s: %w", id, err)
	}
	return nil
}

// Resolve marks a violation as settled outside the deposit.
func (s *ViolationService) Resolve(ctx context.Context, id string) error {
	if err := s.Store.ResolveViolation(ctx, id); err != nil {
		return fmt.Errorf("resolve violation %s: %w", id, err)
	}
	return nil
}

// OpenViolations keeps the unresolved violations of one contract.
func OpenViolations(code string, vs []Violation) []Violation {
	var open []Violation
	for _, v := range vs {
		if v.ContractCode == code && !v.Resolved {
			open = append(open, v)
		}
	}
	return open
}

// OpenViolationTotals counts and sums the unresolved violations of code.
func OpenViolationTotals(code string, vs []Violation) (count int, total int64) {
	for _, v := range OpenViolations(code, vs) {
		count++
		total += v.Amount
	}
	return count, total
}

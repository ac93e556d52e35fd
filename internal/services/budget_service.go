package services

import (
	"context"
	"fmt"
	"log/slog"

	"ledgerd/internal/core"
)

// BudgetStore is the persistence surface for budget management.
type BudgetStore interface {
	CategoryExists(ctx context.Context, categoryID int64) (bool, error)
	HasWalletAccess(ctx context.Context, walletID, userID int64) (bool, error)
	CreateBudget(ctx context.Context, b *core.Budget) error
}

// BudgetGuard runs the duplicate and overlap checks for a new budget.
type BudgetGuard interface {
	CheckNewBudget(ctx context.Context, b core.Budget) (overlaps bool, err error)
}

type BudgetService struct {
	store BudgetStore
	guard BudgetGuard
}

func NewBudgetService(store BudgetStore, guard BudgetGuard) *BudgetService {
	return &BudgetService{store: store, guard: guard}
}

// CreateBudget persists a new budget. An exact duplicate of an existing
// budget's scope and date range is rejected; a mere range overlap is allowed
// and reported back so callers can warn.
func (s *BudgetService) CreateBudget(ctx context.Context, b *core.Budget) (overlaps bool, err error) {
	if err := b.Validate(); err != nil {
		return false, err
	}

	ok, err := s.store.CategoryExists(ctx, b.CategoryID)
	if err != nil {
		return false, fmt.Errorf("check category: %w", err)
	}
	if !ok {
		return false, fmt.Errorf("category %d: %w", b.CategoryID, core.ErrInvalidReference)
	}
	if b.WalletID != nil {
		ok, err := s.store.HasWalletAccess(ctx, *b.WalletID, b.OwnerID)
		if err != nil {
			return false, fmt.Errorf("check wallet access: %w", err)
		}
		if !ok {
			return false, core.ErrForbidden
		}
	}

	overlaps, err = s.guard.CheckNewBudget(ctx, *b)
	if err != nil {
		return false, err
	}

	if err := s.store.CreateBudget(ctx, b); err != nil {
		return false, err
	}
	if overlaps {
		slog.InfoContext(ctx, "Budget overlaps an existing one",
			"budget_id", b.ID,
			"category_id", b.CategoryID)
	}
	return overlaps, nil
}

// Package budget classifies candidate spending against the owner's budgets.
// Evaluation is a pure computation over rows fetched through Store; it takes
// no locks and tolerates running outside the ledger's critical section.
package budget

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"ledgerd/internal/core"
)

const (
	None     Classification = "none"
	Warning  Classification = "warning"
	Exceeded Classification = "exceeded"
)

type Classification string

// warningRatio is the fraction of the limit at which spending starts to warn.
var warningRatio = decimal.RequireFromString("0.8")

// Store is the read surface the evaluator needs, plus the single write used
// to annotate a persisted transaction with the budget it exceeded.
type Store interface {
	// ApplicableBudgets returns budgets for the owner and category whose date
	// range contains the given date and whose wallet scope is either the
	// given wallet or all wallets.
	ApplicableBudgets(ctx context.Context, ownerID, categoryID, walletID int64, date core.Date) ([]core.Budget, error)

	// SpentInWindow sums committed expense amounts for the owner and category
	// inside [start, end], both ends inclusive. A nil walletID sums across
	// all wallets.
	SpentInWindow(ctx context.Context, ownerID, categoryID int64, walletID *int64, start, end core.Date) (decimal.Decimal, error)

	MarkTransactionExceeded(ctx context.Context, transactionID, budgetID int64, overage decimal.Decimal) error

	// DuplicateBudgetExists reports an existing budget with identical owner,
	// category, wallet scope, start and end.
	DuplicateBudgetExists(ctx context.Context, b core.Budget) (bool, error)

	// OverlappingBudgetExists reports an existing budget whose range
	// intersects the candidate's. A wallet-specific and an all-wallets budget
	// count as overlapping scope.
	OverlappingBudgetExists(ctx context.Context, b core.Budget) (bool, error)
}

// Result is the outcome of evaluating one candidate spend. Budget is the
// exceeded budget chosen for marking (the most recently created one) and is
// nil unless Classification is Exceeded.
type Result struct {
	Classification Classification
	Budget         *core.Budget
	ExceededAmount decimal.Decimal
}

type Evaluator struct {
	store Store
}

func NewEvaluator(store Store) *Evaluator {
	return &Evaluator{store: store}
}

// Preview classifies a candidate expense before it is committed. The
// candidate amount counts toward every applicable budget's spent-to-date.
func (e *Evaluator) Preview(ctx context.Context, ownerID, categoryID, walletID int64, amount decimal.Decimal, date core.Date) (Result, error) {
	return e.evaluate(ctx, ownerID, categoryID, walletID, amount, date)
}

// EvaluateAndMark classifies an already persisted expense transaction and,
// when it exceeded a budget, records the budget id and overage on the
// transaction row. Income transactions always classify as None.
func (e *Evaluator) EvaluateAndMark(ctx context.Context, tx *core.Transaction) (Result, error) {
	if tx.Direction != core.Expense {
		return Result{Classification: None}, nil
	}

	// The committed row is already part of the stored sums, so no candidate
	// amount is added here.
	res, err := e.evaluate(ctx, tx.UserID, tx.CategoryID, tx.WalletID, decimal.Zero, core.DateOf(tx.OccurredAt))
	if err != nil {
		return Result{}, err
	}

	if res.Classification == Exceeded && res.Budget != nil {
		if err := e.store.MarkTransactionExceeded(ctx, tx.ID, res.Budget.ID, res.ExceededAmount); err != nil {
			return Result{}, fmt.Errorf("mark transaction %d exceeded: %w", tx.ID, err)
		}
		budgetID := res.Budget.ID
		tx.ExceededBudgetID = &budgetID
		tx.ExceededAmount = res.ExceededAmount

		slog.InfoContext(ctx, "Transaction exceeded budget",
			"transaction_id", tx.ID,
			"budget_id", budgetID,
			"overage", res.ExceededAmount)
	}

	return res, nil
}

// CheckNewBudget validates a budget against existing ones. An exact duplicate
// of owner, category, wallet scope and date range is an error; a mere range
// overlap is reported back as a warning flag.
func (e *Evaluator) CheckNewBudget(ctx context.Context, b core.Budget) (overlaps bool, err error) {
	if err := b.Validate(); err != nil {
		return false, err
	}

	dup, err := e.store.DuplicateBudgetExists(ctx, b)
	if err != nil {
		return false, fmt.Errorf("check duplicate budget: %w", err)
	}
	if dup {
		return false, core.ErrDuplicateBudget
	}

	overlaps, err = e.store.OverlappingBudgetExists(ctx, b)
	if err != nil {
		return false, fmt.Errorf("check overlapping budget: %w", err)
	}
	return overlaps, nil
}

func (e *Evaluator) evaluate(ctx context.Context, ownerID, categoryID, walletID int64, addend decimal.Decimal, date core.Date) (Result, error) {
	budgets, err := e.store.ApplicableBudgets(ctx, ownerID, categoryID, walletID, date)
	if err != nil {
		return Result{}, fmt.Errorf("load applicable budgets: %w", err)
	}

	res := Result{Classification: None}
	for i := range budgets {
		b := budgets[i]
		spent, err := e.store.SpentInWindow(ctx, ownerID, categoryID, b.WalletID, b.StartDate, b.EndDate)
		if err != nil {
			return Result{}, fmt.Errorf("sum spending for budget %d: %w", b.ID, err)
		}
		spent = spent.Add(addend)

		switch Classify(spent, b.Limit) {
		case Exceeded:
			res.Classification = Exceeded
			// Budgets evaluate independently; for marking, prefer the most
			// recently created exceeded budget (highest id wins ties).
			if res.Budget == nil || b.ID > res.Budget.ID {
				budget := b
				res.Budget = &budget
				res.ExceededAmount = spent.Sub(b.Limit)
			}
		case Warning:
			if res.Classification == None {
				res.Classification = Warning
			}
		}
	}

	if res.ExceededAmount.IsNegative() {
		res.ExceededAmount = decimal.Zero
	}
	return res, nil
}

// Classify maps spent-to-date against a limit: Warning in [80%, 100%) of the
// limit, Exceeded at or above 100%, None below 80%.
func Classify(spent, limit decimal.Decimal) Classification {
	switch {
	case spent.GreaterThanOrEqual(limit):
		return Exceeded
	case spent.GreaterThanOrEqual(limit.Mul(warningRatio)):
		return Warning
	default:
		return None
	}
}

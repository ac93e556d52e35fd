// Package services composes the ledger, budget evaluation, persistence and
// notification delivery into the operations callers actually invoke.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"ledgerd/internal/amqp"
	"ledgerd/internal/budget"
	"ledgerd/internal/core"
)

// TransactionStore is the persistence surface for transaction operations.
type TransactionStore interface {
	GetWallet(ctx context.Context, walletID int64) (*core.Wallet, error)
	HasWalletAccess(ctx context.Context, walletID, userID int64) (bool, error)
	CategoryExists(ctx context.Context, categoryID int64) (bool, error)
	CreateTransaction(ctx context.Context, t *core.Transaction) error
	GetTransaction(ctx context.Context, transactionID int64) (*core.Transaction, error)
	DeleteTransaction(ctx context.Context, transactionID int64) error
	UpdateTransactionDetails(ctx context.Context, transactionID int64, note string, categoryID int64) error
}

// BalanceMutator is the slice of the ledger this service drives.
type BalanceMutator interface {
	ApplyMovement(ctx context.Context, walletID int64, signed decimal.Decimal) (decimal.Decimal, error)
	ReverseMovement(ctx context.Context, walletID int64, originalSigned decimal.Decimal) (decimal.Decimal, error)
	Transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error)
}

// BudgetChecker classifies spending against budgets.
type BudgetChecker interface {
	Preview(ctx context.Context, ownerID, categoryID, walletID int64, amount decimal.Decimal, date core.Date) (budget.Result, error)
	EvaluateAndMark(ctx context.Context, tx *core.Transaction) (budget.Result, error)
}

// Notifier publishes notifications to the delivery queue.
type Notifier interface {
	Publish(ctx context.Context, n *amqp.Notification) error
}

type TransactionService struct {
	store    TransactionStore
	ledger   BalanceMutator
	budgets  BudgetChecker
	notifier Notifier
}

func NewTransactionService(store TransactionStore, ledger BalanceMutator, budgets BudgetChecker, notifier Notifier) *TransactionService {
	return &TransactionService{
		store:    store,
		ledger:   ledger,
		budgets:  budgets,
		notifier: notifier,
	}
}

type CreateTransactionInput struct {
	WalletID   int64
	UserID     int64
	Direction  core.Direction
	CategoryID int64
	Amount     decimal.Decimal
	OccurredAt time.Time
	Note       string
}

// CreateResult carries the committed transaction, the budget classification
// of the spend, and the wallet balance after the movement.
type CreateResult struct {
	Transaction  *core.Transaction
	Budget       budget.Result
	BalanceAfter decimal.Decimal
}

// CreateTransaction records a movement: it mutates the wallet balance under
// the ledger's lock, persists the transaction row, and classifies the spend
// against the owner's budgets. When the row insert fails after the balance
// already moved, the movement is reversed before the error is returned.
func (s *TransactionService) CreateTransaction(ctx context.Context, in CreateTransactionInput) (*CreateResult, error) {
	if in.OccurredAt.IsZero() {
		in.OccurredAt = time.Now()
	}
	tx := &core.Transaction{
		WalletID:   in.WalletID,
		UserID:     in.UserID,
		Direction:  in.Direction,
		CategoryID: in.CategoryID,
		Amount:     core.Quantize(in.Amount),
		OccurredAt: in.OccurredAt,
		Note:       in.Note,
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkAccess(ctx, in.WalletID, in.UserID); err != nil {
		return nil, err
	}
	ok, err := s.store.CategoryExists(ctx, in.CategoryID)
	if err != nil {
		return nil, fmt.Errorf("check category: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("category %d: %w", in.CategoryID, core.ErrInvalidReference)
	}

	signed := in.Direction.Signed(tx.Amount)
	balance, err := s.ledger.ApplyMovement(ctx, in.WalletID, signed)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		if _, revErr := s.ledger.ReverseMovement(ctx, in.WalletID, signed); revErr != nil {
			slog.ErrorContext(ctx, "Failed to reverse movement after insert failure",
				"wallet_id", in.WalletID,
				"amount", tx.Amount,
				"error", revErr)
		}
		return nil, fmt.Errorf("persist transaction: %w", err)
	}

	res, err := s.budgets.EvaluateAndMark(ctx, tx)
	if err != nil {
		// The transaction is committed and the balance moved; a budget
		// evaluation failure downgrades to a log line rather than undoing
		// either.
		slog.ErrorContext(ctx, "Budget evaluation failed",
			"transaction_id", tx.ID,
			"error", err)
		res = budget.Result{Classification: budget.None}
	}
	s.notifyBudget(ctx, tx, res)

	return &CreateResult{Transaction: tx, Budget: res, BalanceAfter: balance}, nil
}

// DeleteTransaction removes a committed transaction and reverses its balance
// effect. When the reversal would corrupt the balance the row is kept and
// core.ErrInvariant is returned.
func (s *TransactionService) DeleteTransaction(ctx context.Context, userID, transactionID int64) error {
	tx, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if err := s.checkAccess(ctx, tx.WalletID, userID); err != nil {
		return err
	}

	signed := tx.Direction.Signed(tx.Amount)
	if _, err := s.ledger.ReverseMovement(ctx, tx.WalletID, signed); err != nil {
		if errors.Is(err, core.ErrInvariant) {
			// Reversal going negative means the stored balance no longer
			// matches the transaction history.
			slog.ErrorContext(ctx, "Reversal refused, ledger state inconsistent",
				"transaction_id", transactionID,
				"wallet_id", tx.WalletID,
				"amount", tx.Amount)
		}
		return fmt.Errorf("reverse transaction %d: %w", transactionID, err)
	}

	if err := s.store.DeleteTransaction(ctx, transactionID); err != nil {
		if _, reErr := s.ledger.ApplyMovement(ctx, tx.WalletID, signed); reErr != nil {
			slog.ErrorContext(ctx, "Failed to re-apply movement after delete failure",
				"transaction_id", transactionID,
				"error", reErr)
		}
		return fmt.Errorf("delete transaction %d: %w", transactionID, err)
	}

	slog.InfoContext(ctx, "Transaction deleted",
		"transaction_id", transactionID,
		"wallet_id", tx.WalletID,
		"amount", tx.Amount)
	return nil
}

// CorrectTransaction updates the note and category of a committed
// transaction. Amount and direction stay immutable; correcting those means
// deleting and re-creating.
func (s *TransactionService) CorrectTransaction(ctx context.Context, userID, transactionID int64, note string, categoryID int64) error {
	if len(note) > 500 {
		return core.ErrNoteTooLong
	}
	tx, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if err := s.checkAccess(ctx, tx.WalletID, userID); err != nil {
		return err
	}
	ok, err := s.store.CategoryExists(ctx, categoryID)
	if err != nil {
		return fmt.Errorf("check category: %w", err)
	}
	if !ok {
		return fmt.Errorf("category %d: %w", categoryID, core.ErrInvalidReference)
	}
	return s.store.UpdateTransactionDetails(ctx, transactionID, note, categoryID)
}

// TransferMoney moves an amount between two wallets of the same currency as
// a paired expense and income. Cross-currency moves go through wallet merge.
func (s *TransactionService) TransferMoney(ctx context.Context, userID, fromID, toID, categoryID int64, amount decimal.Decimal, note string) error {
	if fromID == toID {
		return core.ErrInvalidReference
	}
	if !amount.IsPositive() {
		return core.ErrInvalidAmount
	}
	if err := s.checkAccess(ctx, fromID, userID); err != nil {
		return err
	}
	if err := s.checkAccess(ctx, toID, userID); err != nil {
		return err
	}

	from, err := s.store.GetWallet(ctx, fromID)
	if err != nil {
		return fmt.Errorf("load source wallet: %w", err)
	}
	to, err := s.store.GetWallet(ctx, toID)
	if err != nil {
		return fmt.Errorf("load target wallet: %w", err)
	}
	if from.Currency != to.Currency {
		return fmt.Errorf("transfer between %s and %s wallets: %w", from.Currency, to.Currency, core.ErrInvalidCurrency)
	}

	amount = core.Quantize(amount)
	if _, _, err := s.ledger.Transfer(ctx, fromID, toID, amount); err != nil {
		return err
	}

	now := time.Now()
	out := &core.Transaction{
		WalletID:   fromID,
		UserID:     userID,
		Direction:  core.Expense,
		CategoryID: categoryID,
		Amount:     amount,
		OccurredAt: now,
		Note:       note,
	}
	in := &core.Transaction{
		WalletID:   toID,
		UserID:     userID,
		Direction:  core.Income,
		CategoryID: categoryID,
		Amount:     amount,
		OccurredAt: now,
		Note:       note,
	}
	if err := s.store.CreateTransaction(ctx, out); err != nil {
		if _, _, revErr := s.ledger.Transfer(ctx, toID, fromID, amount); revErr != nil {
			slog.ErrorContext(ctx, "Failed to reverse transfer after insert failure",
				"from_wallet", fromID,
				"to_wallet", toID,
				"error", revErr)
		}
		return fmt.Errorf("persist outgoing transaction: %w", err)
	}
	if err := s.store.CreateTransaction(ctx, in); err != nil {
		// Outgoing row exists, balance effect is consistent; keep both sides
		// honest by logging the missing incoming row instead of unwinding.
		slog.ErrorContext(ctx, "Failed to persist incoming transfer row",
			"from_wallet", fromID,
			"to_wallet", toID,
			"error", err)
	}
	return nil
}

// PreviewBudgetWarning classifies a candidate expense without committing
// anything, so callers can warn before the user confirms.
func (s *TransactionService) PreviewBudgetWarning(ctx context.Context, userID, categoryID, walletID int64, amount decimal.Decimal, date core.Date) (budget.Result, error) {
	if !amount.IsPositive() {
		return budget.Result{}, core.ErrInvalidAmount
	}
	if err := s.checkAccess(ctx, walletID, userID); err != nil {
		return budget.Result{}, err
	}
	return s.budgets.Preview(ctx, userID, categoryID, walletID, core.Quantize(amount), date)
}

// ExecuteScheduled runs one occurrence of a schedule. It returns the wallet
// balance before and after the movement for the execution log. A missing or
// deactivated wallet surfaces as core.ErrNotFound, which the engine records
// as a skipped occurrence.
func (s *TransactionService) ExecuteScheduled(ctx context.Context, sched core.ScheduledTransaction, now time.Time) (before, after decimal.Decimal, err error) {
	wallet, err := s.store.GetWallet(ctx, sched.WalletID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	before = wallet.Balance

	res, err := s.CreateTransaction(ctx, CreateTransactionInput{
		WalletID:   sched.WalletID,
		UserID:     sched.OwnerID,
		Direction:  sched.Direction,
		CategoryID: sched.CategoryID,
		Amount:     sched.Amount,
		OccurredAt: now,
		Note:       sched.Note,
	})
	if err != nil {
		return before, before, err
	}
	return before, res.BalanceAfter, nil
}

func (s *TransactionService) checkAccess(ctx context.Context, walletID, userID int64) error {
	ok, err := s.store.HasWalletAccess(ctx, walletID, userID)
	if err != nil {
		return fmt.Errorf("check wallet access: %w", err)
	}
	if !ok {
		// Deliberately the same answer for "no such wallet" and "not yours".
		if _, err := s.store.GetWallet(ctx, walletID); errors.Is(err, core.ErrNotFound) {
			return core.ErrNotFound
		}
		return core.ErrForbidden
	}
	return nil
}

func (s *TransactionService) notifyBudget(ctx context.Context, tx *core.Transaction, res budget.Result) {
	if s.notifier == nil {
		return
	}

	var msgType string
	payload := map[string]string{
		"transaction_id": strconv.FormatInt(tx.ID, 10),
		"category_id":    strconv.FormatInt(tx.CategoryID, 10),
		"amount":         tx.Amount.String(),
	}
	switch res.Classification {
	case budget.Warning:
		msgType = amqp.TypeBudgetWarning
	case budget.Exceeded:
		msgType = amqp.TypeBudgetExceeded
		if res.Budget != nil {
			payload["budget_id"] = strconv.FormatInt(res.Budget.ID, 10)
			payload["overage"] = res.ExceededAmount.String()
		}
	default:
		return
	}

	if err := s.notifier.Publish(ctx, amqp.NewNotification(tx.UserID, msgType, payload)); err != nil {
		slog.WarnContext(ctx, "Failed to publish budget notification",
			"user_id", tx.UserID,
			"type", msgType,
			"error", err)
	}
}

// Package ledger owns wallet balances. Every balance mutation goes through
// an exclusive per-wallet lock so that two concurrent read-modify-write
// cycles on the same wallet can never interleave.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"ledgerd/internal/core"
)

// Store is the persistence surface the ledger needs. Implementations must
// make UpdateWalletBalance durable before returning.
type Store interface {
	WalletForUpdate(ctx context.Context, walletID int64) (*core.Wallet, error)
	UpdateWalletBalance(ctx context.Context, walletID int64, balance decimal.Decimal) error
}

// RecoveryHook is invoked after a successful income movement, so that funds
// waiting on the wallet for recovery can retry. Hook errors are logged and
// swallowed; they never affect the movement that triggered them.
type RecoveryHook interface {
	OnIncome(ctx context.Context, wallet *core.Wallet) error
}

const DefaultWaitTimeout = 3 * time.Second

type Ledger struct {
	store       Store
	locks       *LockMap
	waitTimeout time.Duration
	recovery    RecoveryHook
}

func New(store Store, waitTimeout time.Duration) *Ledger {
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	return &Ledger{
		store:       store,
		locks:       NewLockMap(),
		waitTimeout: waitTimeout,
	}
}

// SetRecoveryHook installs the fund auto-recovery hook.
func (l *Ledger) SetRecoveryHook(hook RecoveryHook) {
	l.recovery = hook
}

// ApplyMovement mutates a wallet balance by a signed amount: income positive,
// expense negative. It returns the new balance. Fails with
// core.ErrInsufficientFunds when an expense would take the balance below
// zero, and with core.ErrBusy when the wallet lock cannot be acquired within
// the wait timeout.
func (l *Ledger) ApplyMovement(ctx context.Context, walletID int64, signed decimal.Decimal) (decimal.Decimal, error) {
	wallet, newBalance, err := l.mutate(ctx, walletID, signed, core.ErrInsufficientFunds)
	if err != nil {
		return decimal.Zero, err
	}

	if signed.IsPositive() && l.recovery != nil {
		wallet.Balance = newBalance
		if hookErr := l.recovery.OnIncome(ctx, wallet); hookErr != nil {
			slog.WarnContext(ctx, "Fund recovery hook failed",
				"wallet_id", walletID,
				"error", hookErr)
		}
	}

	return newBalance, nil
}

// ReverseMovement applies the additive inverse of a previously committed
// movement. A reversal that would take the balance negative indicates prior
// state corruption and fails with core.ErrInvariant; the caller must keep
// the original transaction.
func (l *Ledger) ReverseMovement(ctx context.Context, walletID int64, originalSigned decimal.Decimal) (decimal.Decimal, error) {
	_, newBalance, err := l.mutate(ctx, walletID, originalSigned.Neg(), core.ErrInvariant)
	if err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

// Transfer moves an amount between two wallets as a paired debit and credit.
// Both locks are taken in a fixed global order before either balance is read.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal) (fromBalance, toBalance decimal.Decimal, err error) {
	release, err := l.LockPair(ctx, fromID, toID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	defer release()

	from, err := l.store.WalletForUpdate(ctx, fromID)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("load source wallet: %w", err)
	}
	to, err := l.store.WalletForUpdate(ctx, toID)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("load target wallet: %w", err)
	}

	fromBalance = from.Balance.Sub(amount)
	if fromBalance.IsNegative() {
		return decimal.Zero, decimal.Zero, core.ErrInsufficientFunds
	}
	toBalance = to.Balance.Add(amount)

	if err := l.store.UpdateWalletBalance(ctx, fromID, fromBalance); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("persist source balance: %w", err)
	}
	if err := l.store.UpdateWalletBalance(ctx, toID, toBalance); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("persist target balance: %w", err)
	}

	slog.InfoContext(ctx, "Transfer applied",
		"from_wallet", fromID,
		"to_wallet", toID,
		"amount", amount,
		"from_balance", fromBalance,
		"to_balance", toBalance)

	return fromBalance, toBalance, nil
}

// LockPair exposes ordered two-wallet locking for multi-row operations such
// as merge, which mutate both wallets and their transaction history under a
// single critical section.
func (l *Ledger) LockPair(ctx context.Context, a, b int64) (release func(), err error) {
	lockCtx, cancel := context.WithTimeout(ctx, l.waitTimeout)
	defer cancel()
	return l.locks.AcquirePair(lockCtx, a, b)
}

// mutate is the locked read-modify-write cycle shared by apply and reverse.
// negErr is returned when the computed balance would be negative.
func (l *Ledger) mutate(ctx context.Context, walletID int64, delta decimal.Decimal, negErr error) (*core.Wallet, decimal.Decimal, error) {
	lockCtx, cancel := context.WithTimeout(ctx, l.waitTimeout)
	release, err := l.locks.Acquire(lockCtx, walletID)
	cancel()
	if err != nil {
		return nil, decimal.Zero, err
	}
	defer release()

	wallet, err := l.store.WalletForUpdate(ctx, walletID)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("load wallet %d: %w", walletID, err)
	}

	newBalance := wallet.Balance.Add(delta)
	if newBalance.IsNegative() {
		return nil, decimal.Zero, negErr
	}

	if err := l.store.UpdateWalletBalance(ctx, walletID, newBalance); err != nil {
		return nil, decimal.Zero, fmt.Errorf("persist balance: %w", err)
	}

	slog.DebugContext(ctx, "Balance mutated",
		"wallet_id", walletID,
		"delta", delta,
		"balance", newBalance)

	return wallet, newBalance, nil
}
